package coinflip

import (
	"fmt"
	"strings"
)

// Side is one face of the coin.
type Side string

const (
	SideHeads Side = "heads"
	SideTails Side = "tails"
)

// ParseSide validates and normalizes a player's chosen side.
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case SideHeads:
		return SideHeads, nil
	case SideTails:
		return SideTails, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, raw)
}

// String returns the wire representation.
func (side Side) String() string {
	return string(side)
}

// Other returns the opposite face.
func (side Side) Other() Side {
	if side == SideHeads {
		return SideTails
	}
	return SideHeads
}
