// Package wire defines the binary packet format of the co-simulation bus.
//
// Every packet starts with a fixed 8-byte header followed by a
// kind-specific body. The layout is explicit and independent of Go struct
// layout:
//
//	offset  size  field
//	0       4     total_size (includes the header)
//	4       1     kind (1 event, 2 request, 3 response)
//	5       1     type (per kind)
//	6       2     reserved, zero
//
// # Bodies
//
// Requests and responses begin with a 32-bit correlation id:
//
//	Register     id u32, bus_version u32, endianness u8, reserved u8,
//	             name_len u16, iomem_count u16, shm_count u16, name,
//	             iomem_count x {base u64, size u64},
//	             shm_count x {name_len u16, name, base u64, size u64}
//	Read         id u32, address u64, length u32
//	Write        id u32, address u64, length u32, data[length]
//	GetTime      id u32
//	Endianness   id u32, endianness u8
//	Data         id u32, length u32, data[length]
//	Error        id u32, code u32
//	Time         id u32, time_ns u64
//
// Events carry no id:
//
//	SetIRQ         line u32, level u8
//	RegisterEvent  expire_time u64, event_id u32, payload u64
//	TriggerEvent   expire_time u64, event_id u32, payload u64
//	Shutdown, Init, Reset, Exit: empty
//
// # Byte Order
//
// The Register request and its Endianness response are always encoded
// little-endian. Once the Endianness response has been sent, every further
// packet on that connection uses the byte order it announced.
package wire
