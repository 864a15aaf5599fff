// Package discovery advertises bus attach points over mDNS/DNS-SD.
//
// Each TCP attach point is published as one _cosim._tcp instance named
// after the device slot. TXT records carry:
//
//	name  device slot name
//	ver   bus protocol version ("major.minor")
//
// Unix-socket attach points are local by nature and are never published.
// Devices started with a slot name instead of an address browse for the
// matching instance and dial the first address found.
package discovery
