package channel

import (
	"context"
	"errors"

	"github.com/doipclient/diagclient/doip"
	"github.com/doipclient/diagclient/errs"
	"github.com/doipclient/diagclient/transport"
)

// readLoop runs on its own goroutine for the lifetime of one TCP
// connection, decoding DoIP messages off stream and delivering them to
// msgCh. On a codec error it replies with GenericHeaderNegativeAck per
// spec §4.2/§7 before reporting the failure on errCh and exiting; on a
// transport error it reports directly and exits. It never touches
// Channel state directly, following the teacher's inputLoop separating
// reading from state mutation.
func readLoop(ctx context.Context, stream transport.Stream, opts doip.Options, msgCh chan<- doip.Message, errCh chan<- *errs.Error) {
	for {
		header, err := stream.RecvExact(ctx, doip.HeaderSize)
		if err != nil {
			reportTransportErr(ctx, errCh, err)
			return
		}
		h, decErr := doip.DecodeHeader(header)
		if decErr != nil {
			replyAndReport(ctx, stream, errCh, decErr)
			return
		}
		if lenErr := opts.CheckPayloadLength(h.PayloadLength); lenErr != nil {
			replyAndReport(ctx, stream, errCh, lenErr)
			return
		}
		var body []byte
		if h.PayloadLength > 0 {
			body, err = stream.RecvExact(ctx, int(h.PayloadLength))
			if err != nil {
				reportTransportErr(ctx, errCh, err)
				return
			}
		}
		msg, decErr := doip.DecodeBody(h.PayloadType, body)
		if decErr != nil {
			replyAndReport(ctx, stream, errCh, decErr)
			return
		}
		select {
		case msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func reportTransportErr(ctx context.Context, errCh chan<- *errs.Error, err error) {
	if ctx.Err() != nil {
		return
	}
	select {
	case errCh <- errs.Wrap(errs.KindDisconnectedDuringRequest, err):
	case <-ctx.Done():
	}
}

// replyAndReport sends a GenericHeaderNegativeAck carrying the header
// error's code (or HeaderNackInvalidPayloadLength when a payload body
// fails its decoder's length check), then reports the error so the
// channel closes the connection (spec §4.2 "on header error, NACK then
// close").
func replyAndReport(ctx context.Context, stream transport.Stream, errCh chan<- *errs.Error, decErr error) {
	code := doip.HeaderNackInvalidPayloadLength
	var hdrErr *doip.HeaderError
	if errors.As(decErr, &hdrErr) {
		code = hdrErr.Code
	}
	nack := &doip.GenericHeaderNegativeAck{NackCode: code}
	_ = stream.Send(doip.EncodeMessage(doip.ProtocolVersion2012, nack))
	select {
	case errCh <- errs.Wrap(errs.KindIncorrectPatternFormat, decErr):
	case <-ctx.Done():
	}
}
