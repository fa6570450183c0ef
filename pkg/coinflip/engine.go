package coinflip

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

// defaultSettleAttempts bounds transparent retries of a contended settlement.
const defaultSettleAttempts = 3

// Ledger is the balance authority the engine settles against.
// wallet.Service satisfies it.
type Ledger interface {
	TryDebitThenCredit(ctx context.Context, accountID wallet.AccountID, debit wallet.AmountCents, credit wallet.AmountCents, audit wallet.AuditRecords) (wallet.AmountCents, error)
}

// Engine orchestrates one wager: validate, draw, settle. It holds no state
// of its own; the ledger transaction is the only durable effect.
type Engine struct {
	ledger         Ledger
	source         OutcomeSource
	nowFn          func() int64
	settleAttempts int
}

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithSettleAttempts overrides the conflict retry budget.
func WithSettleAttempts(attempts int) EngineOption {
	return func(engine *Engine) {
		if attempts > 0 {
			engine.settleAttempts = attempts
		}
	}
}

// NewEngine wires an Engine.
func NewEngine(ledger Ledger, source OutcomeSource, now func() int64, options ...EngineOption) (*Engine, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidEngineConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: outcome source dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	engine := &Engine{ledger: ledger, source: source, nowFn: now, settleAttempts: defaultSettleAttempts}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// BetResult is the outcome of a successfully settled wager.
type BetResult struct {
	Outcome      Side
	StakeCents   wallet.AmountCents
	PayoutCents  wallet.AmountCents
	BalanceCents wallet.AmountCents
}

// PlaceBet runs one wager to settlement. Either the bet fully executes with
// a recorded stake (and payout on a win), or it is rejected with zero ledger
// effect; a draw made for a rejected bet is discarded, never recorded. A
// ledger conflict retries the whole settlement, fresh draw included, within
// a bounded budget.
func (engine *Engine) PlaceBet(ctx context.Context, accountID wallet.AccountID, choice string, stake string) (BetResult, error) {
	chosen, err := ParseSide(choice)
	if err != nil {
		return BetResult{}, err
	}
	stakeCents, err := ParseStake(stake)
	if err != nil {
		return BetResult{}, err
	}

	var settleErr error
	for attempt := 0; attempt < engine.settleAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return BetResult{}, err
		}
		outcome, err := engine.source.Draw()
		if err != nil {
			return BetResult{}, err
		}
		payoutCents := wallet.AmountCents(0)
		if chosen == outcome {
			payoutCents = WinPayoutCents(stakeCents)
		}
		audit, err := engine.buildAudit(accountID, chosen, outcome, stakeCents, payoutCents)
		if err != nil {
			return BetResult{}, err
		}
		newBalance, err := engine.ledger.TryDebitThenCredit(ctx, accountID, stakeCents, payoutCents, audit)
		if err != nil {
			if errors.Is(err, wallet.ErrConflict) {
				settleErr = err
				continue
			}
			return BetResult{}, err
		}
		return BetResult{
			Outcome:      outcome,
			StakeCents:   stakeCents,
			PayoutCents:  payoutCents,
			BalanceCents: newBalance,
		}, nil
	}
	return BetResult{}, settleErr
}

func (engine *Engine) buildAudit(accountID wallet.AccountID, chosen Side, outcome Side, stakeCents wallet.AmountCents, payoutCents wallet.AmountCents) (wallet.AuditRecords, error) {
	now := engine.nowFn()
	metadata := wallet.EntryMetadata{Chosen: chosen.String(), Outcome: outcome.String()}

	stakeEntry, err := wallet.NewEntryInput(accountID, wallet.EntryBetStake, -stakeCents.Int64(), metadata, now)
	if err != nil {
		return wallet.AuditRecords{}, err
	}
	entries := []wallet.EntryInput{stakeEntry}
	if payoutCents > 0 {
		payoutEntry, err := wallet.NewEntryInput(accountID, wallet.EntryBetPayout, payoutCents.Int64(), metadata, now)
		if err != nil {
			return wallet.AuditRecords{}, err
		}
		entries = append(entries, payoutEntry)
	}

	bet, err := wallet.NewBetInput(accountID, chosen.String(), outcome.String(), stakeCents, payoutCents, now)
	if err != nil {
		return wallet.AuditRecords{}, err
	}
	return wallet.AuditRecords{Entries: entries, Bet: &bet}, nil
}
