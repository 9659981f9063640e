package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account. Email is the primary lookup key and is unique.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash []byte
	GoogleID     *string
	DateOfBirth  *time.Time
	CreatedAt    time.Time
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return len(u.PasswordHash) > 0
}

// NewUser holds the fields needed to create a User.
type NewUser struct {
	Email        string
	Name         string
	PasswordHash []byte
	GoogleID     *string
	DateOfBirth  *time.Time
}

// Challenge is a one-time code sent to an email address.
type Challenge struct {
	ID        uuid.UUID
	Email     string
	Code      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c Challenge) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// Note is a text record owned by a user.
type Note struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Content   string
	CreatedAt time.Time
}
