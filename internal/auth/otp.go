package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/notevault/server/internal/logger"
	"github.com/notevault/server/internal/mail"
	"github.com/notevault/server/internal/repo"
)

const (
	otpMin = 100000
	otpMax = 999999
	// DefaultOTPTTL is how long a sign-in code stays valid.
	DefaultOTPTTL = 10 * time.Minute

	otpSubject = "Your sign-in code"
)

// CodeSender issues one-time codes to an email address
type CodeSender interface {
	RequestCode(ctx context.Context, email string) error
}

// CodeIssuer generates a code, stores it as a challenge and mails it.
type CodeIssuer struct {
	challenges repo.ChallengeRepo
	sender     mail.Sender
	ttl        time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewCodeIssuer creates a CodeIssuer. A non-positive ttl falls back to DefaultOTPTTL.
func NewCodeIssuer(challenges repo.ChallengeRepo, sender mail.Sender, ttl time.Duration, log *slog.Logger) *CodeIssuer {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &CodeIssuer{
		challenges: challenges,
		sender:     sender,
		ttl:        ttl,
		now:        time.Now,
		log:        log,
	}
}

// RequestCode stores a fresh challenge and mails its code. Earlier challenges
// for the same email stay valid. If the mail cannot be dispatched the new
// challenge is removed again and the error wraps ErrDispatch.
func (c *CodeIssuer) RequestCode(ctx context.Context, email string) error {
	code, err := generateOTPCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	expiresAt := c.now().Add(c.ttl)
	id, err := c.challenges.Create(ctx, email, code, expiresAt)
	if err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}

	if err := c.sender.Send(ctx, codeMessage(email, code, c.ttl)); err != nil {
		// The request may have been cancelled; the rollback must still run.
		if delErr := c.challenges.Delete(context.WithoutCancel(ctx), id); delErr != nil {
			c.log.ErrorContext(ctx, "failed to remove undelivered challenge",
				logger.Email(email), logger.Error(delErr), logger.Component("code_issuer"))
		}
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	c.log.InfoContext(ctx, "sign-in code sent", logger.Email(email), logger.Component("code_issuer"))
	return nil
}

func codeMessage(email, code string, ttl time.Duration) mail.Message {
	minutes := int(ttl.Minutes())
	return mail.Message{
		To:      email,
		Subject: otpSubject,
		Text:    fmt.Sprintf("Your sign-in code is %s. It expires in %d minutes.", code, minutes),
		HTML: fmt.Sprintf("<p>Your sign-in code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>",
			code, minutes),
		Tag: "otp",
	}
}

// generateOTPCode returns a uniformly random code in [100000, 999999].
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}
