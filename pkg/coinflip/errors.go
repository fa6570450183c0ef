package coinflip

import "errors"

// Domain-level error values returned by the settlement engine.
var (
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidStake        = errors.New("invalid stake")
	ErrInvalidEngineConfig = errors.New("invalid engine config")
)
