// Package errs defines the typed error kinds surfaced by every fallible
// operation in the engine, grouped the way the specification groups them:
// init, discovery, connect, UDS transport and codec errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure, mirroring the teacher's
// doIPError/udsError enums but covering the full taxonomy the engine needs.
type Kind int

const (
	KindUnknown Kind = iota

	// Init errors.
	KindConfigNotFound
	KindConfigMalformed
	KindBindFailed
	KindAlreadyInitialized
	KindNotInitialized

	// Discovery errors.
	KindUDPSendFailed

	// Connect errors.
	KindTCPConnectFailed
	KindTCPConnectTimeout
	KindAlreadyConnected
	KindUnknownConversation
	KindRoutingActivationDenied
	KindRoutingActivationTimeout

	// UDS transport errors.
	KindBusy
	KindNotConnected
	KindAckTimeout
	KindNegativeAck
	KindResponseTimeout
	KindDisconnectedDuringRequest
	KindShutdown
	KindNegativeResponse
	KindUnexpectedResponse

	// Codec errors.
	KindIncorrectPatternFormat
	KindUnknownPayloadType
	KindInvalidPayloadLength
	KindMessageTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindConfigNotFound:
		return "config not found"
	case KindConfigMalformed:
		return "config malformed"
	case KindBindFailed:
		return "bind failed"
	case KindAlreadyInitialized:
		return "already initialized"
	case KindNotInitialized:
		return "not initialized"
	case KindUDPSendFailed:
		return "udp send failed"
	case KindTCPConnectFailed:
		return "tcp connect failed"
	case KindTCPConnectTimeout:
		return "tcp connect timeout"
	case KindAlreadyConnected:
		return "already connected"
	case KindUnknownConversation:
		return "unknown conversation"
	case KindRoutingActivationDenied:
		return "routing activation denied"
	case KindRoutingActivationTimeout:
		return "routing activation timeout"
	case KindBusy:
		return "busy"
	case KindNotConnected:
		return "not connected"
	case KindAckTimeout:
		return "ack timeout"
	case KindNegativeAck:
		return "negative ack"
	case KindResponseTimeout:
		return "response timeout"
	case KindDisconnectedDuringRequest:
		return "disconnected during request"
	case KindShutdown:
		return "shutdown"
	case KindNegativeResponse:
		return "negative response"
	case KindUnexpectedResponse:
		return "unexpected response"
	case KindIncorrectPatternFormat:
		return "incorrect pattern format"
	case KindUnknownPayloadType:
		return "unknown payload type"
	case KindInvalidPayloadLength:
		return "invalid payload length"
	case KindMessageTooLarge:
		return "message too large"
	default:
		return "unknown error"
	}
}

// Error is the engine-wide error type. It carries a Kind, an optional
// wrapped cause and, for a handful of kinds, a protocol-defined code byte
// (e.g. the routing activation response code, or the UDS NRC).
type Error struct {
	Kind Kind
	Code byte
	// HasCode distinguishes "code 0x00" from "no code carried".
	HasCode bool
	Cause   error
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithCode creates an Error carrying a protocol response/NRC code.
func WithCode(kind Kind, code byte) *Error {
	return &Error{Kind: kind, Code: code, HasCode: true}
}

func (e *Error) Error() string {
	if e == nil {
		return "diagclient: <nil>"
	}
	if e.HasCode {
		if e.Cause != nil {
			return fmt.Sprintf("diagclient: %s (code=0x%02x): %v", e.Kind, e.Code, e.Cause)
		}
		return fmt.Sprintf("diagclient: %s (code=0x%02x)", e.Kind, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("diagclient: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("diagclient: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is lets errors.Is(err, errs.New(KindX)) match regardless of Code/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsTimeout reports whether the error represents any flavour of timeout.
func (e *Error) IsTimeout() bool {
	switch e.Kind {
	case KindTCPConnectTimeout, KindRoutingActivationTimeout, KindAckTimeout, KindResponseTimeout:
		return true
	default:
		return false
	}
}

// IsDisconnected reports whether the error represents a lost/closed session.
func (e *Error) IsDisconnected() bool {
	switch e.Kind {
	case KindNotConnected, KindDisconnectedDuringRequest, KindShutdown:
		return true
	default:
		return false
	}
}

// Unrecoverable reports whether retrying the same request on the same
// channel is pointless (the channel itself is gone).
func (e *Error) Unrecoverable() bool {
	return e.IsDisconnected()
}

// Of extracts the Kind of err if it is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindUnknown, false
}
