// Package version provides the bus protocol version and its wire encoding.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the bus protocol version implemented by this library.
const Current = "1.0"

// BusVersion is Current in its wire form. Registration requires an exact
// match.
var BusVersion = MustParse(Current).Wire()

// SpecVersion represents a parsed "major.minor" protocol version.
type SpecVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (SpecVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SpecVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// MustParse is like Parse but panics on error. Use for constants only.
func MustParse(s string) SpecVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromWire decodes a bus_version field: major in the high 16 bits, minor in
// the low 16 bits.
func FromWire(v uint32) SpecVersion {
	return SpecVersion{Major: uint16(v >> 16), Minor: uint16(v)}
}

// Wire returns the bus_version field for v.
func (v SpecVersion) Wire() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)
}

// String returns the version as "major.minor".
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Describe formats a bus_version field for logs, e.g. "1.0 (0x00010000)".
func Describe(wire uint32) string {
	return fmt.Sprintf("%s (%#08x)", FromWire(wire), wire)
}
