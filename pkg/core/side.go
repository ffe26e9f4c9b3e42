// pkg/core/side.go
package core

import (
	"fmt"
	"strings"
)

// Side is a coalition in the campaign.
type Side uint8

const (
	Neutral Side = iota
	Red
	Blue
)

// Sides lists every side, neutral first.
var Sides = [...]Side{Neutral, Red, Blue}

func (s Side) String() string {
	switch s {
	case Red:
		return "red"
	case Blue:
		return "blue"
	default:
		return "neutral"
	}
}

// Letter is the single letter prefix used by template naming conventions.
func (s Side) Letter() string {
	switch s {
	case Red:
		return "R"
	case Blue:
		return "B"
	default:
		return "N"
	}
}

// Opposite returns the enemy side. Neutral has no enemy and returns itself.
func (s Side) Opposite() Side {
	switch s {
	case Red:
		return Blue
	case Blue:
		return Red
	default:
		return Neutral
	}
}

// ParseSide parses a side name, case insensitive.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return Red, nil
	case "blue":
		return Blue, nil
	case "neutral", "neutrals":
		return Neutral, nil
	default:
		return Neutral, fmt.Errorf("unknown side: %q", s)
	}
}

// MarshalText encodes the side by name so it can be used as a JSON map key.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
