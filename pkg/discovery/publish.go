package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
)

// Publish advertises every TCP endpoint in endpoints (slot name to listen
// address) and returns the names it published, sorted. Non-TCP endpoints
// are skipped. On error, advertisements made so far are withdrawn.
func Publish(ctx context.Context, adv Advertiser, endpoints map[string]net.Addr, ver string) ([]string, error) {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var published []string
	for _, name := range names {
		tcp, ok := endpoints[name].(*net.TCPAddr)
		if !ok {
			continue
		}
		err := adv.Advertise(ctx, AttachPoint{Name: name, Port: uint16(tcp.Port), Version: ver})
		if err != nil {
			for _, p := range published {
				_ = adv.Stop(p)
			}
			return nil, fmt.Errorf("advertise %s: %w", name, err)
		}
		published = append(published, name)
	}
	return published, nil
}
