package account

import "context"

// User is one registered identity.
type User struct {
	UserID         string
	Username       string
	Email          string
	PasswordHash   string
	CreatedUnixUTC int64
}

// Store is the persistence contract used by Service.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByUsername(ctx context.Context, username string) (User, error)
}
