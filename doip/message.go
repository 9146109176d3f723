package doip

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of a DoIP header in bytes.
const HeaderSize = 8

// Header is the decoded form of the 8-byte DoIP header.
// Invariants (enforced by DecodeHeader, see spec §4.2):
//
//	Inverse == ^Version
//	PayloadLength == len(Payload) once the payload has been read
type Header struct {
	Version       uint8
	Inverse       uint8
	PayloadType   PayloadType
	PayloadLength uint32
}

// EncodeHeader writes the 8-byte header for a payload of length n.
func EncodeHeader(version uint8, pt PayloadType, n int) []byte {
	b := make([]byte, HeaderSize)
	b[0] = version
	b[1] = ^version
	binary.BigEndian.PutUint16(b[2:4], uint16(pt))
	binary.BigEndian.PutUint32(b[4:8], uint32(n))
	return b
}

// DecodeHeader parses the first 8 bytes of b as a DoIP header. It performs
// only the header-shape validation described in spec §4.2 step 1; payload
// length vs. max-size is checked by the caller, which knows the configured
// limit.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, WithCode(HeaderNackIncorrectPatternFormat, fmt.Errorf("doip: short header (%d bytes)", len(b)))
	}
	h := Header{
		Version: b[0],
		Inverse: b[1],
	}
	if h.Inverse != ^h.Version || (h.Version != ProtocolVersion2012 && h.Version != ProtocolVersion2019) {
		return h, WithCode(HeaderNackIncorrectPatternFormat, fmt.Errorf("doip: bad version/inverse pair %#x/%#x", h.Version, h.Inverse))
	}
	h.PayloadType = PayloadType(binary.BigEndian.Uint16(b[2:4]))
	h.PayloadLength = binary.BigEndian.Uint32(b[4:8])
	if !h.PayloadType.known() {
		return h, WithCode(HeaderNackUnknownPayloadType, fmt.Errorf("doip: unknown payload type %#04x", h.PayloadType))
	}
	return h, nil
}

// HeaderError is returned by DecodeHeader, DecodeBody (unknown payload
// type) and CheckPayloadLength when the header itself is malformed; it
// carries the NACK code the peer should be told about.
type HeaderError struct {
	Code  uint8
	Cause error
}

func WithCode(code uint8, cause error) *HeaderError {
	return &HeaderError{Code: code, Cause: cause}
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("doip: header error code=%#02x: %v", e.Code, e.Cause)
}

func (e *HeaderError) Unwrap() error { return e.Cause }

// Message is implemented by every decoded DoIP payload.
type Message interface {
	PayloadType() PayloadType
	// Encode serializes the payload body (not including the 8-byte
	// header) to its wire form.
	Encode() []byte
}

// Options configures codec-wide behaviour overridable per spec §4.2.
type Options struct {
	// MaxPayloadSize is kMaxPayloadSize; payloads longer than this are
	// rejected with HeaderNackMessageTooLarge. Zero means
	// DefaultMaxPayloadSize.
	MaxPayloadSize uint32
}

func (o Options) maxPayloadSize() uint32 {
	if o.MaxPayloadSize == 0 {
		return DefaultMaxPayloadSize
	}
	return o.MaxPayloadSize
}

// EncodeMessage wraps m's payload with a DoIP header.
func EncodeMessage(version uint8, m Message) []byte {
	body := m.Encode()
	h := EncodeHeader(version, m.PayloadType(), len(body))
	return append(h, body...)
}

// DecodeBody decodes a payload body of the given type. The caller is
// expected to have already validated the header via DecodeHeader and to
// pass exactly PayloadLength bytes.
func DecodeBody(pt PayloadType, body []byte) (Message, error) {
	dec, ok := decoders[pt]
	if !ok {
		return nil, WithCode(HeaderNackUnknownPayloadType, fmt.Errorf("doip: no decoder for payload type %#04x", pt))
	}
	return dec(body)
}

// CheckPayloadLength validates PayloadLength against the configured max,
// per spec §4.2 step 2.
func (o Options) CheckPayloadLength(length uint32) error {
	if length > o.maxPayloadSize() {
		return WithCode(HeaderNackMessageTooLarge, fmt.Errorf("doip: payload length %d exceeds max %d", length, o.maxPayloadSize()))
	}
	return nil
}

var decoders = map[PayloadType]func([]byte) (Message, error){
	PayloadTypeGenericHeaderNegativeAck:        decodeGenericHeaderNegativeAck,
	PayloadTypeVehicleIdentificationRequest:    decodeVehicleIdentificationRequest,
	PayloadTypeVehicleIdentificationRequestEID: decodeVehicleIdentificationRequestEID,
	PayloadTypeVehicleIdentificationRequestVIN: decodeVehicleIdentificationRequestVIN,
	PayloadTypeVehicleAnnouncement:              decodeVehicleAnnouncement,
	PayloadTypeRoutingActivationRequest:        decodeRoutingActivationRequest,
	PayloadTypeRoutingActivationResponse:       decodeRoutingActivationResponse,
	PayloadTypeAliveCheckRequest:                decodeAliveCheckRequest,
	PayloadTypeAliveCheckResponse:               decodeAliveCheckResponse,
	PayloadTypeDiagnosticMessage:                decodeDiagnosticMessage,
	PayloadTypeDiagnosticMessagePositiveAck:     decodeDiagnosticMessagePositiveAck,
	PayloadTypeDiagnosticMessageNegativeAck:     decodeDiagnosticMessageNegativeAck,
}
