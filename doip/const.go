package doip

import "time"

// Protocol version bytes, ISO 13400-2:2012 / :2019.
const (
	ProtocolVersion2012 uint8 = 0x02
	ProtocolVersion2019 uint8 = 0x03
)

// PayloadType identifies the DoIP payload carried after the 8-byte header.
// Table 12 (ISO 13400-2).
type PayloadType uint16

const (
	PayloadTypeGenericHeaderNegativeAck         PayloadType = 0x0000
	PayloadTypeVehicleIdentificationRequest     PayloadType = 0x0001
	PayloadTypeVehicleIdentificationRequestEID  PayloadType = 0x0002
	PayloadTypeVehicleIdentificationRequestVIN  PayloadType = 0x0003
	PayloadTypeVehicleAnnouncement              PayloadType = 0x0004
	PayloadTypeRoutingActivationRequest         PayloadType = 0x0005
	PayloadTypeRoutingActivationResponse        PayloadType = 0x0006
	PayloadTypeAliveCheckRequest                PayloadType = 0x0007
	PayloadTypeAliveCheckResponse               PayloadType = 0x0008
	PayloadTypeDiagnosticMessage                PayloadType = 0x8001
	PayloadTypeDiagnosticMessagePositiveAck     PayloadType = 0x8002
	PayloadTypeDiagnosticMessageNegativeAck     PayloadType = 0x8003
)

func (p PayloadType) known() bool {
	switch p {
	case PayloadTypeGenericHeaderNegativeAck,
		PayloadTypeVehicleIdentificationRequest,
		PayloadTypeVehicleIdentificationRequestEID,
		PayloadTypeVehicleIdentificationRequestVIN,
		PayloadTypeVehicleAnnouncement,
		PayloadTypeRoutingActivationRequest,
		PayloadTypeRoutingActivationResponse,
		PayloadTypeAliveCheckRequest,
		PayloadTypeAliveCheckResponse,
		PayloadTypeDiagnosticMessage,
		PayloadTypeDiagnosticMessagePositiveAck,
		PayloadTypeDiagnosticMessageNegativeAck:
		return true
	default:
		return false
	}
}

// Generic DoIP header NACK codes. Table 14 (ISO 13400-2).
const (
	HeaderNackIncorrectPatternFormat uint8 = 0x00
	HeaderNackUnknownPayloadType     uint8 = 0x01
	HeaderNackMessageTooLarge        uint8 = 0x02
	HeaderNackOutOfMemory            uint8 = 0x03
	HeaderNackInvalidPayloadLength   uint8 = 0x04
)

// Routing activation response codes. Table 25 (ISO 13400-2), abridged to
// the values this engine distinguishes.
const (
	RoutingActivationDeniedUnknownSourceAddress uint8 = 0x00
	RoutingActivationDeniedNoResources           uint8 = 0x01
	RoutingActivationDeniedSocketInvalid         uint8 = 0x02
	RoutingActivationDeniedSourceMismatch        uint8 = 0x03
	RoutingActivationDeniedSourceInUse           uint8 = 0x04
	RoutingActivationDeniedMissingAuth           uint8 = 0x05
	RoutingActivationDeniedRejected              uint8 = 0x06
	RoutingActivationDeniedUnsupportedType       uint8 = 0x07
	RoutingActivationSuccessfullyActivated       uint8 = 0x10
	RoutingActivationSuccessfullyActivatedConfirm uint8 = 0x11
)

// DefaultMaxPayloadSize is kMaxPayloadSize when the caller does not
// override it via Options.MaxPayloadSize.
const DefaultMaxPayloadSize uint32 = 65535

// DoIP timing constants and their spec-defined defaults (ISO 13400-2
// §6.3 / §7.1.1 "T_TCP_*"/"T_A_DoIP_*").
const (
	DefaultTCPInitialInactivity      = 2 * time.Second
	DefaultTCPGeneralInactivity      = 5 * time.Minute
	DefaultCtrlTimeout               = 2 * time.Second
	DefaultDiagnosticAckTimeout      = 2 * time.Second
	DefaultResponseTimeout           = 2 * time.Second
	DefaultResponsePendingTimeout    = 5 * time.Second
	DefaultDiscoveryWindow           = 2 * time.Second
	DefaultTCPConnectTimeout         = 2 * time.Second
)

// Default network endpoints, ISO 13400-2 Annex B.
const (
	DefaultUDPDiscoveryPort = 13400
	DefaultTCPPort          = 13400
	// DefaultBroadcastAddress is the conservative default discovery
	// target; see DESIGN.md "Default discovery address" open question.
	DefaultBroadcastAddress = "255.255.255.255"
)
