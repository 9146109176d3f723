// Package vehicle implements UDP-based DoIP vehicle discovery and
// peer-initiated VehicleAnnouncement listening (spec §4.5, §5 "shared
// resources"). The teacher's repo is TCP-only and has no discovery code
// at all; this package is built fresh in its idiom — the same Logger
// interface, the same error-as-value style, a single select loop
// mirroring the teacher's AliveCheckRequest handling loop in
// doip/client.go — informed by original_source/diag-client-lib's
// udp_types.h for the rx/tx buffer separation and discovery window
// boundary semantics. The actual socket ownership and send/collect logic
// live in listener.go's Listener, which is the thing the scheduler tracks
// for the shared endpoint's lifetime; this file holds the wire-agnostic
// pieces (filter selection, decoded announcement shape, window options).
package vehicle

import (
	"time"

	"github.com/doipclient/diagclient/doip"
	"github.com/doipclient/diagclient/errs"
)

// FilterKind selects which VehicleIdentificationRequest variant to send.
type FilterKind int

const (
	FilterAny FilterKind = iota
	FilterByEID
	FilterByVIN
)

// Filter is the discovery filter argument to SendVehicleIdentificationRequest.
type Filter struct {
	Kind FilterKind
	EID  [6]byte
	VIN  [17]byte
}

// Any matches every responder.
func Any() Filter { return Filter{Kind: FilterAny} }

// ByEID restricts discovery to the responder with this entity ID.
func ByEID(eid [6]byte) Filter { return Filter{Kind: FilterByEID, EID: eid} }

// ByVIN restricts discovery to the responder with this VIN.
func ByVIN(vin [17]byte) Filter { return Filter{Kind: FilterByVIN, VIN: vin} }

func (f Filter) message() doip.Message {
	switch f.Kind {
	case FilterByEID:
		return &doip.VehicleIdentificationRequestWithEID{EID: f.EID}
	case FilterByVIN:
		return &doip.VehicleIdentificationRequestWithVIN{VIN: f.VIN}
	default:
		return &doip.VehicleIdentificationRequest{}
	}
}

// Info is one discovered vehicle/ECU announcement (spec §3
// "VehicleInfoResponse collection" entry).
type Info struct {
	IP             string
	LogicalAddress uint16
	VIN            [17]byte
	EID            [6]byte
	GID            [6]byte
}

// Options configures one discovery run. Malformed replies are always
// discarded and logged rather than counted toward a limit — the
// Listener that consumes these options owns the receive loop and keeps
// running regardless (spec §4.5: a garbled reply is never fatal).
type Options struct {
	BroadcastAddress string
	Port             int
	Window           time.Duration
}

func (o Options) withDefaults() Options {
	if o.BroadcastAddress == "" {
		o.BroadcastAddress = doip.DefaultBroadcastAddress
	}
	if o.Port == 0 {
		o.Port = doip.DefaultUDPDiscoveryPort
	}
	if o.Window <= 0 {
		o.Window = doip.DefaultDiscoveryWindow
	}
	return o
}

func decodeAnnouncement(b []byte) (*doip.VehicleAnnouncement, error) {
	h, err := doip.DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	body := b[doip.HeaderSize:]
	if uint32(len(body)) < h.PayloadLength {
		return nil, errs.New(errs.KindInvalidPayloadLength)
	}
	msg, err := doip.DecodeBody(h.PayloadType, body[:h.PayloadLength])
	if err != nil {
		return nil, err
	}
	announcement, ok := msg.(*doip.VehicleAnnouncement)
	if !ok {
		return nil, errs.New(errs.KindUnknownPayloadType)
	}
	return announcement, nil
}
