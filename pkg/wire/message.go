package wire

import "fmt"

// Packet is any message that can cross the bus.
type Packet interface {
	// Kind returns the packet class.
	Kind() Kind

	// Type returns the packet sub-type within its kind.
	Type() Type
}

// Request is a packet that expects a Response with the same id.
type Request interface {
	Packet
	RequestID() uint32
	SetRequestID(id uint32)
}

// Response answers a Request.
type Response interface {
	Packet
	ResponseID() uint32
}

// Region is a memory-mapped I/O window declared by a device.
type Region struct {
	Base uint64
	Size uint64
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Contains reports whether [addr, addr+length) lies inside the region.
func (r Region) Contains(addr uint64, length uint64) bool {
	return addr >= r.Base && addr-r.Base <= r.Size && length <= r.Size-(addr-r.Base)
}

// Overlaps reports whether the two regions share at least one address.
func (r Region) Overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// String returns the region as [base, end).
func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Base, r.End())
}

// SharedRegion is a named shared-memory segment declared by a device.
type SharedRegion struct {
	Name string
	Base uint64
	Size uint64
}

// RegisterRequest is the first packet a device sends.
type RegisterRequest struct {
	ID         uint32
	BusVersion uint32
	Name       string
	Endianness Endianness
	IOMem      []Region
	SharedMem  []SharedRegion
}

// ReadRequest reads Length bytes at Address. Either side may send it.
type ReadRequest struct {
	ID      uint32
	Address uint64
	Length  uint32
}

// WriteRequest writes Data at Address. Either side may send it.
type WriteRequest struct {
	ID      uint32
	Address uint64
	Data    []byte
}

// GetTimeRequest asks the bus for the current virtual time.
type GetTimeRequest struct {
	ID uint32
}

// EndiannessResponse completes registration and announces the wire order.
type EndiannessResponse struct {
	ID         uint32
	Endianness Endianness
}

// DataResponse answers a Read.
type DataResponse struct {
	ID   uint32
	Data []byte
}

// ErrorResponse answers a Write (code 0) or reports a failure.
type ErrorResponse struct {
	ID   uint32
	Code ErrorCode
}

// TimeResponse answers GetTime.
type TimeResponse struct {
	ID     uint32
	TimeNS uint64
}

// SetIRQEvent changes the level of an interrupt line.
type SetIRQEvent struct {
	Line  uint32
	Level IRQLevel
}

// RegisterEventEvent asks the bus for a wakeup at ExpireTime.
type RegisterEventEvent struct {
	ExpireTime uint64
	EventID    uint32
	Payload    uint64
}

// TriggerEvent delivers a previously registered wakeup.
type TriggerEvent struct {
	ExpireTime uint64
	EventID    uint32
	Payload    uint64
}

// ShutdownEvent asks the bus to stop the guest.
type ShutdownEvent struct{}

// InitEvent is broadcast once all configured devices are attached.
type InitEvent struct{}

// ResetEvent is broadcast on every guest reset.
type ResetEvent struct{}

// ExitEvent is broadcast at bus shutdown.
type ExitEvent struct{}

func (*RegisterRequest) Kind() Kind { return KindRequest }
func (*RegisterRequest) Type() Type { return TypeRegister }
func (*ReadRequest) Kind() Kind { return KindRequest }
func (*ReadRequest) Type() Type { return TypeRead }
func (*WriteRequest) Kind() Kind { return KindRequest }
func (*WriteRequest) Type() Type { return TypeWrite }
func (*GetTimeRequest) Kind() Kind { return KindRequest }
func (*GetTimeRequest) Type() Type { return TypeGetTime }
func (*EndiannessResponse) Kind() Kind { return KindResponse }
func (*EndiannessResponse) Type() Type { return TypeEndianness }
func (*DataResponse) Kind() Kind { return KindResponse }
func (*DataResponse) Type() Type { return TypeData }
func (*ErrorResponse) Kind() Kind { return KindResponse }
func (*ErrorResponse) Type() Type { return TypeError }
func (*TimeResponse) Kind() Kind { return KindResponse }
func (*TimeResponse) Type() Type { return TypeTime }
func (*SetIRQEvent) Kind() Kind { return KindEvent }
func (*SetIRQEvent) Type() Type { return TypeSetIRQ }
func (*RegisterEventEvent) Kind() Kind { return KindEvent }
func (*RegisterEventEvent) Type() Type { return TypeRegisterEvent }
func (*TriggerEvent) Kind() Kind { return KindEvent }
func (*TriggerEvent) Type() Type { return TypeTriggerEvent }
func (*ShutdownEvent) Kind() Kind { return KindEvent }
func (*ShutdownEvent) Type() Type { return TypeShutdown }
func (*InitEvent) Kind() Kind { return KindEvent }
func (*InitEvent) Type() Type { return TypeInit }
func (*ResetEvent) Kind() Kind { return KindEvent }
func (*ResetEvent) Type() Type { return TypeReset }
func (*ExitEvent) Kind() Kind { return KindEvent }
func (*ExitEvent) Type() Type { return TypeExit }

func (r *RegisterRequest) RequestID() uint32 { return r.ID }
func (r *RegisterRequest) SetRequestID(id uint32) { r.ID = id }
func (r *ReadRequest) RequestID() uint32 { return r.ID }
func (r *ReadRequest) SetRequestID(id uint32) { r.ID = id }
func (r *WriteRequest) RequestID() uint32 { return r.ID }
func (r *WriteRequest) SetRequestID(id uint32) { r.ID = id }
func (r *GetTimeRequest) RequestID() uint32 { return r.ID }
func (r *GetTimeRequest) SetRequestID(id uint32) { r.ID = id }

func (r *EndiannessResponse) ResponseID() uint32 { return r.ID }
func (r *DataResponse) ResponseID() uint32 { return r.ID }
func (r *ErrorResponse) ResponseID() uint32 { return r.ID }
func (r *TimeResponse) ResponseID() uint32 { return r.ID }

// Summary returns a short human-readable description of p for logs.
func Summary(p Packet) string {
	switch m := p.(type) {
	case *RegisterRequest:
		return fmt.Sprintf("Register id=%d name=%q version=%d endianness=%s iomem=%d shm=%d",
			m.ID, m.Name, m.BusVersion, m.Endianness, len(m.IOMem), len(m.SharedMem))
	case *ReadRequest:
		return fmt.Sprintf("Read id=%d addr=%#x len=%d", m.ID, m.Address, m.Length)
	case *WriteRequest:
		return fmt.Sprintf("Write id=%d addr=%#x len=%d", m.ID, m.Address, len(m.Data))
	case *GetTimeRequest:
		return fmt.Sprintf("GetTime id=%d", m.ID)
	case *EndiannessResponse:
		return fmt.Sprintf("Endianness id=%d endianness=%s", m.ID, m.Endianness)
	case *DataResponse:
		return fmt.Sprintf("Data id=%d len=%d", m.ID, len(m.Data))
	case *ErrorResponse:
		return fmt.Sprintf("Error id=%d code=%d", m.ID, m.Code)
	case *TimeResponse:
		return fmt.Sprintf("Time id=%d time=%d", m.ID, m.TimeNS)
	case *SetIRQEvent:
		return fmt.Sprintf("SetIRQ line=%d level=%s", m.Line, m.Level)
	case *RegisterEventEvent:
		return fmt.Sprintf("RegisterEvent expire=%d event=%d payload=%#x", m.ExpireTime, m.EventID, m.Payload)
	case *TriggerEvent:
		return fmt.Sprintf("TriggerEvent expire=%d event=%d payload=%#x", m.ExpireTime, m.EventID, m.Payload)
	case nil:
		return "<nil>"
	default:
		return TypeName(p.Kind(), p.Type())
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Request  = (*RegisterRequest)(nil)
	_ Request  = (*ReadRequest)(nil)
	_ Request  = (*WriteRequest)(nil)
	_ Request  = (*GetTimeRequest)(nil)
	_ Response = (*EndiannessResponse)(nil)
	_ Response = (*DataResponse)(nil)
	_ Response = (*ErrorResponse)(nil)
	_ Response = (*TimeResponse)(nil)
	_ Packet   = (*SetIRQEvent)(nil)
	_ Packet   = (*RegisterEventEvent)(nil)
	_ Packet   = (*TriggerEvent)(nil)
	_ Packet   = (*ShutdownEvent)(nil)
	_ Packet   = (*InitEvent)(nil)
	_ Packet   = (*ResetEvent)(nil)
	_ Packet   = (*ExitEvent)(nil)
)
