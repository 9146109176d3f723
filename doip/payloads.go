package doip

import (
	"encoding/binary"
	"fmt"
)

// GenericHeaderNegativeAck (payload type 0x0000).
type GenericHeaderNegativeAck struct {
	NackCode uint8
}

func (*GenericHeaderNegativeAck) PayloadType() PayloadType { return PayloadTypeGenericHeaderNegativeAck }
func (m *GenericHeaderNegativeAck) Encode() []byte          { return []byte{m.NackCode} }

func decodeGenericHeaderNegativeAck(b []byte) (Message, error) {
	if len(b) != 1 {
		return nil, fmt.Errorf("doip: GenericHeaderNegativeAck wants 1 byte, got %d", len(b))
	}
	return &GenericHeaderNegativeAck{NackCode: b[0]}, nil
}

// VehicleIdentificationRequest (payload type 0x0001), no filter.
type VehicleIdentificationRequest struct{}

func (*VehicleIdentificationRequest) PayloadType() PayloadType {
	return PayloadTypeVehicleIdentificationRequest
}
func (*VehicleIdentificationRequest) Encode() []byte { return nil }

func decodeVehicleIdentificationRequest(b []byte) (Message, error) {
	return &VehicleIdentificationRequest{}, nil
}

// VehicleIdentificationRequestWithEID (payload type 0x0002).
type VehicleIdentificationRequestWithEID struct {
	EID [6]byte
}

func (*VehicleIdentificationRequestWithEID) PayloadType() PayloadType {
	return PayloadTypeVehicleIdentificationRequestEID
}
func (m *VehicleIdentificationRequestWithEID) Encode() []byte {
	b := make([]byte, 6)
	copy(b, m.EID[:])
	return b
}

func decodeVehicleIdentificationRequestEID(b []byte) (Message, error) {
	if len(b) != 6 {
		return nil, fmt.Errorf("doip: VehicleIdentificationRequestWithEID wants 6 bytes, got %d", len(b))
	}
	m := &VehicleIdentificationRequestWithEID{}
	copy(m.EID[:], b)
	return m, nil
}

// VehicleIdentificationRequestWithVIN (payload type 0x0003).
type VehicleIdentificationRequestWithVIN struct {
	VIN [17]byte
}

func (*VehicleIdentificationRequestWithVIN) PayloadType() PayloadType {
	return PayloadTypeVehicleIdentificationRequestVIN
}
func (m *VehicleIdentificationRequestWithVIN) Encode() []byte {
	b := make([]byte, 17)
	copy(b, m.VIN[:])
	return b
}

func decodeVehicleIdentificationRequestVIN(b []byte) (Message, error) {
	if len(b) != 17 {
		return nil, fmt.Errorf("doip: VehicleIdentificationRequestWithVIN wants 17 bytes, got %d", len(b))
	}
	m := &VehicleIdentificationRequestWithVIN{}
	copy(m.VIN[:], b)
	return m, nil
}

// VehicleAnnouncement (a.k.a. VehicleIdentificationResponse), payload type
// 0x0004: 32 bytes, VIN(17) + LogicalAddress(2) + EID(6) + GID(6) +
// FurtherAction(1), or 33 with the optional SyncStatus(1).
type VehicleAnnouncement struct {
	VIN             [17]byte
	LogicalAddress  uint16
	EID             [6]byte
	GID             [6]byte
	FurtherAction   uint8
	HasSyncStatus   bool
	SyncStatus      uint8
}

func (*VehicleAnnouncement) PayloadType() PayloadType { return PayloadTypeVehicleAnnouncement }

func (m *VehicleAnnouncement) Encode() []byte {
	n := 32
	if m.HasSyncStatus {
		n = 33
	}
	b := make([]byte, n)
	copy(b[0:17], m.VIN[:])
	binary.BigEndian.PutUint16(b[17:19], m.LogicalAddress)
	copy(b[19:25], m.EID[:])
	copy(b[25:31], m.GID[:])
	b[31] = m.FurtherAction
	if m.HasSyncStatus {
		b[32] = m.SyncStatus
	}
	return b
}

func decodeVehicleAnnouncement(b []byte) (Message, error) {
	if len(b) != 32 && len(b) != 33 {
		return nil, fmt.Errorf("doip: VehicleAnnouncement wants 32 or 33 bytes, got %d", len(b))
	}
	m := &VehicleAnnouncement{}
	copy(m.VIN[:], b[0:17])
	m.LogicalAddress = binary.BigEndian.Uint16(b[17:19])
	copy(m.EID[:], b[19:25])
	copy(m.GID[:], b[25:31])
	m.FurtherAction = b[31]
	if len(b) == 33 {
		m.HasSyncStatus = true
		m.SyncStatus = b[32]
	}
	return m, nil
}

// RoutingActivationRequest (payload type 0x0005).
type RoutingActivationRequest struct {
	SourceAddress  uint16
	ActivationType uint8
	Reserved       [4]byte
	OEM            []byte // nil, or exactly 4 bytes
}

func (*RoutingActivationRequest) PayloadType() PayloadType { return PayloadTypeRoutingActivationRequest }

func (m *RoutingActivationRequest) Encode() []byte {
	n := 7
	if len(m.OEM) == 4 {
		n = 11
	}
	b := make([]byte, n)
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	b[2] = m.ActivationType
	copy(b[3:7], m.Reserved[:])
	if len(m.OEM) == 4 {
		copy(b[7:11], m.OEM)
	}
	return b
}

func decodeRoutingActivationRequest(b []byte) (Message, error) {
	if len(b) != 7 && len(b) != 11 {
		return nil, fmt.Errorf("doip: RoutingActivationRequest wants 7 or 11 bytes, got %d", len(b))
	}
	m := &RoutingActivationRequest{
		SourceAddress:  binary.BigEndian.Uint16(b[0:2]),
		ActivationType: b[2],
	}
	copy(m.Reserved[:], b[3:7])
	if len(b) == 11 {
		m.OEM = append([]byte(nil), b[7:11]...)
	}
	return m, nil
}

// RoutingActivationResponse (payload type 0x0006).
type RoutingActivationResponse struct {
	SourceAddress  uint16
	LogicalAddress uint16
	Code           uint8
	Reserved       [4]byte
	OEM            []byte // nil, or exactly 4 bytes
}

func (*RoutingActivationResponse) PayloadType() PayloadType {
	return PayloadTypeRoutingActivationResponse
}

func (m *RoutingActivationResponse) Encode() []byte {
	n := 9
	if len(m.OEM) == 4 {
		n = 13
	}
	b := make([]byte, n)
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(b[2:4], m.LogicalAddress)
	b[4] = m.Code
	copy(b[5:9], m.Reserved[:])
	if len(m.OEM) == 4 {
		copy(b[9:13], m.OEM)
	}
	return b
}

func decodeRoutingActivationResponse(b []byte) (Message, error) {
	if len(b) != 9 && len(b) != 13 {
		return nil, fmt.Errorf("doip: RoutingActivationResponse wants 9 or 13 bytes, got %d", len(b))
	}
	m := &RoutingActivationResponse{
		SourceAddress:  binary.BigEndian.Uint16(b[0:2]),
		LogicalAddress: binary.BigEndian.Uint16(b[2:4]),
		Code:           b[4],
	}
	copy(m.Reserved[:], b[5:9])
	if len(b) == 13 {
		m.OEM = append([]byte(nil), b[9:13]...)
	}
	return m, nil
}

// AliveCheckRequest (payload type 0x0007): no payload.
type AliveCheckRequest struct{}

func (*AliveCheckRequest) PayloadType() PayloadType { return PayloadTypeAliveCheckRequest }
func (*AliveCheckRequest) Encode() []byte            { return nil }

func decodeAliveCheckRequest(b []byte) (Message, error) {
	return &AliveCheckRequest{}, nil
}

// AliveCheckResponse (payload type 0x0008).
type AliveCheckResponse struct {
	SourceAddress uint16
}

func (*AliveCheckResponse) PayloadType() PayloadType { return PayloadTypeAliveCheckResponse }
func (m *AliveCheckResponse) Encode() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, m.SourceAddress)
	return b
}

func decodeAliveCheckResponse(b []byte) (Message, error) {
	if len(b) != 2 {
		return nil, fmt.Errorf("doip: AliveCheckResponse wants 2 bytes, got %d", len(b))
	}
	return &AliveCheckResponse{SourceAddress: binary.BigEndian.Uint16(b)}, nil
}

// DiagnosticMessage (payload type 0x8001).
type DiagnosticMessage struct {
	SourceAddress uint16
	TargetAddress uint16
	UserData      []byte
}

func (*DiagnosticMessage) PayloadType() PayloadType { return PayloadTypeDiagnosticMessage }

func (m *DiagnosticMessage) Encode() []byte {
	b := make([]byte, 4+len(m.UserData))
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(b[2:4], m.TargetAddress)
	copy(b[4:], m.UserData)
	return b
}

func decodeDiagnosticMessage(b []byte) (Message, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("doip: DiagnosticMessage wants at least 4 bytes, got %d", len(b))
	}
	m := &DiagnosticMessage{
		SourceAddress: binary.BigEndian.Uint16(b[0:2]),
		TargetAddress: binary.BigEndian.Uint16(b[2:4]),
	}
	if len(b) > 4 {
		m.UserData = append([]byte(nil), b[4:]...)
	}
	return m, nil
}

// DiagnosticMessagePositiveAck (payload type 0x8002).
type DiagnosticMessagePositiveAck struct {
	SourceAddress uint16
	TargetAddress uint16
	AckCode       uint8
	PreviousData  []byte
}

func (*DiagnosticMessagePositiveAck) PayloadType() PayloadType {
	return PayloadTypeDiagnosticMessagePositiveAck
}

func (m *DiagnosticMessagePositiveAck) Encode() []byte {
	b := make([]byte, 5+len(m.PreviousData))
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(b[2:4], m.TargetAddress)
	b[4] = m.AckCode
	copy(b[5:], m.PreviousData)
	return b
}

func decodeDiagnosticMessagePositiveAck(b []byte) (Message, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("doip: DiagnosticMessagePositiveAck wants at least 5 bytes, got %d", len(b))
	}
	m := &DiagnosticMessagePositiveAck{
		SourceAddress: binary.BigEndian.Uint16(b[0:2]),
		TargetAddress: binary.BigEndian.Uint16(b[2:4]),
		AckCode:       b[4],
	}
	if len(b) > 5 {
		m.PreviousData = append([]byte(nil), b[5:]...)
	}
	return m, nil
}

// DiagnosticMessageNegativeAck (payload type 0x8003).
type DiagnosticMessageNegativeAck struct {
	SourceAddress uint16
	TargetAddress uint16
	NackCode      uint8
	PreviousData  []byte
}

func (*DiagnosticMessageNegativeAck) PayloadType() PayloadType {
	return PayloadTypeDiagnosticMessageNegativeAck
}

func (m *DiagnosticMessageNegativeAck) Encode() []byte {
	b := make([]byte, 5+len(m.PreviousData))
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(b[2:4], m.TargetAddress)
	b[4] = m.NackCode
	copy(b[5:], m.PreviousData)
	return b
}

func decodeDiagnosticMessageNegativeAck(b []byte) (Message, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("doip: DiagnosticMessageNegativeAck wants at least 5 bytes, got %d", len(b))
	}
	m := &DiagnosticMessageNegativeAck{
		SourceAddress: binary.BigEndian.Uint16(b[0:2]),
		TargetAddress: binary.BigEndian.Uint16(b[2:4]),
		NackCode:      b[4],
	}
	if len(b) > 5 {
		m.PreviousData = append([]byte(nil), b[5:]...)
	}
	return m, nil
}
