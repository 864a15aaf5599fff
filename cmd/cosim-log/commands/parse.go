// Package commands implements the cosim-log CLI commands.
package commands

import (
	"fmt"
	"strings"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "bus":
		return log.LayerBus, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or bus)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}

// ParseKindFlag parses a packet kind string from command-line flag (case-insensitive).
func ParseKindFlag(s string) (wire.Kind, error) {
	switch strings.ToLower(s) {
	case "event":
		return wire.KindEvent, nil
	case "request":
		return wire.KindRequest, nil
	case "response":
		return wire.KindResponse, nil
	default:
		return 0, fmt.Errorf("invalid kind: %s (must be event, request, or response)", s)
	}
}

// FilterOptions holds the string form of the filter flags shared by the
// view and filter commands.
type FilterOptions struct {
	ConnID    string
	Device    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
	Kind      string
}

// Build converts the options into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		DeviceName:   o.Device,
	}

	if o.TimeStart != "" {
		t, err := parseTime(o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := parseTime(o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := ParseLayerFlag(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirectionFlag(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := ParseCategoryFlag(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if o.Kind != "" {
		k, err := ParseKindFlag(o.Kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = &k
	}
	return filter, nil
}
