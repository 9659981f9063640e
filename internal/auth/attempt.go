package auth

import (
	"time"

	"github.com/notevault/server/internal/model"
)

// Attempt is one of OTPAttempt, PasswordAttempt or OAuthAttempt.
type Attempt interface {
	attempt()
}

// OTPAttempt verifies an emailed code. Name, DateOfBirth and Password only
// fill fields the account does not have yet.
type OTPAttempt struct {
	Email       string
	Code        string
	Name        string
	DateOfBirth *time.Time
	Password    string
}

// PasswordAttempt is an email and password login.
type PasswordAttempt struct {
	Email    string
	Password string
}

// OAuthAttempt carries the profile handed back by an external provider.
type OAuthAttempt struct {
	Profile Profile
}

func (OTPAttempt) attempt()      {}
func (PasswordAttempt) attempt() {}
func (OAuthAttempt) attempt()    {}

// Result is a resolved user and the session token issued for it.
type Result struct {
	User  model.User
	Token string
}
