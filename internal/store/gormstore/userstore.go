package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/coinflip/internal/account"
)

const errorSubjectUser = "user"

func (store *Store) CreateUser(ctx context.Context, user account.User) error {
	row := User{
		UserID:       user.UserID,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    time.Unix(user.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, account.ErrUsernameTaken)
	}
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetUserByUsername(ctx context.Context, username string) (account.User, error) {
	var row User
	err := store.db.WithContext(ctx).
		Where("username = ?", username).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return account.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, account.ErrUserNotFound)
		}
		return account.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return account.User{
		UserID:         row.UserID,
		Username:       row.Username,
		Email:          row.Email,
		PasswordHash:   row.PasswordHash,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}
