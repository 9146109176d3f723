// Package uds implements the UDS (ISO 14229-1) request/response session
// layer atop one activated channel.Channel. It is grounded on the
// teacher's uds/uds.go doUdsRawReq/validatePositiveResponse, generalized
// from a fixed menu of per-service helpers (UdsReadDID, UdsReadDTCByMask,
// ...) to a single opaque-bytes request/response call: this engine's
// scope stops at the transport, and UDS application semantics beyond it
// are the caller's concern.
package uds

import (
	"context"

	"github.com/doipclient/diagclient/channel"
	"github.com/doipclient/diagclient/errs"
)

const (
	negativeResponseSID  = 0x7f
	positiveResponseMask = 0x40
	nrcResponsePending    = 0x78
)

// Client sends UDS requests over one activated channel.Channel.
type Client struct {
	ch *channel.Channel
}

// New wraps ch for UDS request/response exchange. ch must already be
// routing-activated; SendRequest surfaces an errs.KindNotConnected error
// otherwise.
func New(ch *channel.Channel) *Client {
	return &Client{ch: ch}
}

// SendRequest sends request to targetAddress and returns the UDS response
// payload. A UDS negative response with an NRC other than 0x78 (response
// pending, which the channel layer already absorbs) is surfaced as an
// *errs.Error of kind KindNegativeResponse carrying the NRC in Code; the
// response bytes are still returned alongside it so the caller can inspect
// the full negative response if it needs to.
func (c *Client) SendRequest(ctx context.Context, targetAddress uint16, request []byte) ([]byte, error) {
	response, err := c.ch.SendDiagnosticRequest(ctx, targetAddress, request)
	if err != nil {
		return nil, err
	}
	if len(response) == 0 {
		return nil, errs.New(errs.KindUnexpectedResponse)
	}
	if response[0] == negativeResponseSID {
		nrc := byte(0)
		if len(response) >= 3 {
			nrc = response[2]
		}
		return response, errs.WithCode(errs.KindNegativeResponse, nrc)
	}
	if !echoesRequestSID(request, response) {
		return response, errs.New(errs.KindUnexpectedResponse)
	}
	return response, nil
}

// echoesRequestSID checks the one format invariant every UDS positive
// response upholds regardless of service: its SID is the request's SID
// with the positive-response bit set (ISO 14229-1 §7.4).
func echoesRequestSID(request, response []byte) bool {
	if len(request) == 0 || len(response) == 0 {
		return false
	}
	return response[0] == request[0]|positiveResponseMask
}

// IsResponsePending reports whether response is a UDS "response pending"
// negative response (0x7F SID 0x78). Exported so callers building their
// own retry/backoff logic on top of raw bytes can recognize it without
// duplicating the byte layout; the channel layer already handles it for
// the purpose of extending its own response timer.
func IsResponsePending(response []byte) bool {
	return len(response) >= 3 && response[0] == negativeResponseSID && response[2] == nrcResponsePending
}
