package discovery

import (
	"context"
	"errors"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of bus attach points.
	ServiceType = "_cosim._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// TXTKeyName carries the device slot name.
	TXTKeyName = "name"

	// TXTKeyVersion carries the bus protocol version.
	TXTKeyVersion = "ver"

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// DefaultTTL is the record TTL used when none is configured.
	DefaultTTL = 120 * time.Second

	// BrowseTimeout bounds Find when the context has no deadline.
	BrowseTimeout = 10 * time.Second
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrBrowseTimeout       = errors.New("browse timeout")
)

// AttachPoint is a bus endpoint a device can dial.
type AttachPoint struct {
	// Name is the device slot name; it doubles as the instance name.
	Name string

	// Port is the TCP port the bus listens on.
	Port uint16

	// Version is the bus protocol version, "major.minor".
	Version string
}

// Service is an attach point found on the network.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Name    string
	Version string
}

// Advertiser publishes attach points.
type Advertiser interface {
	// Advertise starts publishing ap, replacing an earlier advertisement
	// with the same name.
	Advertise(ctx context.Context, ap AttachPoint) error

	// Stop withdraws the advertisement for name.
	Stop(name string) error

	// StopAll withdraws every advertisement.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}

// BrowserConfig configures browsing.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string

	// Timeout bounds Find when the context has no deadline.
	Timeout time.Duration
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{Timeout: BrowseTimeout}
}
