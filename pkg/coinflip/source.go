package coinflip

import (
	"crypto/rand"
	"fmt"
)

// OutcomeSource produces one of two equiprobable, independent outcomes per
// invocation. Implementations must be safe for concurrent use and must not
// allow a prior result to be replayed.
type OutcomeSource interface {
	Draw() (Side, error)
}

// CryptoSource draws from the operating system's CSPRNG. The outcome is not
// observable or influenceable before Draw returns.
type CryptoSource struct{}

// NewCryptoSource returns the production outcome source.
func NewCryptoSource() *CryptoSource {
	return &CryptoSource{}
}

// Draw returns heads or tails with probability 0.5 each.
func (source *CryptoSource) Draw() (Side, error) {
	var buffer [1]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		return "", fmt.Errorf("outcome draw: %w", err)
	}
	if buffer[0]&1 == 0 {
		return SideHeads, nil
	}
	return SideTails, nil
}
