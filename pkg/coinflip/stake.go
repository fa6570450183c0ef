package coinflip

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

// payoutMultiplier is the fixed factor applied to a winning stake. The
// remainder below 2.0 is the house edge.
var payoutMultiplier = decimal.RequireFromString("1.9")

// currencyScale is the number of fractional digits of the minor unit.
const currencyScale = 2

// ParseStake parses a decimal stake string into minor units. The stake must
// be strictly positive with at most two fractional digits.
func ParseStake(raw string) (wallet.AmountCents, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStake, raw)
	}
	if parsed.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidStake)
	}
	shifted := parsed.Shift(currencyScale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: at most %d fractional digits", ErrInvalidStake, currencyScale)
	}
	return wallet.AmountCents(shifted.IntPart()), nil
}

// WinPayoutCents applies the payout multiplier to a winning stake,
// rounding half-up to the minor unit.
func WinPayoutCents(stake wallet.AmountCents) wallet.AmountCents {
	stakeDecimal := decimal.New(stake.Int64(), -currencyScale)
	payout := stakeDecimal.Mul(payoutMultiplier).Round(currencyScale)
	return wallet.AmountCents(payout.Shift(currencyScale).IntPart())
}

// FormatAmount renders minor units as a fixed two-digit decimal string.
func FormatAmount(amount wallet.AmountCents) string {
	return decimal.New(amount.Int64(), -currencyScale).StringFixed(currencyScale)
}
