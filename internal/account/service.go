package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

const minPasswordLength = 8

// Service creates identities and their zero-balance wallets. The settlement
// core relies on the wallet existing before the first bet; it never creates
// wallets itself.
type Service struct {
	store      Store
	ledger     *wallet.Service
	nowFn      func() int64
	bonusCents wallet.AmountCents
}

// NewService wires a Service. bonusCents, when positive, is credited to
// every new wallet as a deposit entry.
func NewService(store Store, ledger *wallet.Service, now func() int64, bonusCents wallet.AmountCents) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if bonusCents < 0 {
		return nil, fmt.Errorf("%w: bonus must not be negative", ErrInvalidServiceConfig)
	}
	return &Service{store: store, ledger: ledger, nowFn: now, bonusCents: bonusCents}, nil
}

// Register creates a user, hashes the password, and provisions the wallet.
func (service *Service) Register(ctx context.Context, username string, email string, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidRegistration)
	}
	if len(password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		UserID:         uuid.NewString(),
		Username:       username,
		Email:          strings.TrimSpace(email),
		PasswordHash:   string(passwordHash),
		CreatedUnixUTC: service.nowFn(),
	}
	if err := service.store.CreateUser(ctx, user); err != nil {
		return User{}, err
	}

	accountID, err := wallet.NewAccountID(user.UserID)
	if err != nil {
		return User{}, err
	}
	if err := service.ledger.CreateWallet(ctx, accountID); err != nil {
		return User{}, err
	}
	if service.bonusCents > 0 {
		metadata := wallet.EntryMetadata{Reason: "signup_bonus"}
		if _, err := service.ledger.Credit(ctx, accountID, service.bonusCents, wallet.EntryDeposit, metadata); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

// Authenticate verifies a username/password pair.
func (service *Service) Authenticate(ctx context.Context, username string, password string) (User, error) {
	user, err := service.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
