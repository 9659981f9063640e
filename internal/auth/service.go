package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/notevault/server/internal/logger"
	"github.com/notevault/server/internal/model"
	"github.com/notevault/server/internal/repo"
)

// defaultName is given to accounts created without one.
const defaultName = "User"

// CodeRequest asks for a sign-in or sign-up code.
type CodeRequest struct {
	Email string
	Name  string
}

// Service decides, for every authentication attempt, whether to create, link
// or reuse a user, and issues the session token.
type Service struct {
	codes      CodeSender
	sessions   *JWTService
	users      repo.UserRepo
	challenges repo.ChallengeRepo
	bcryptCost int
	now        func() time.Time
	log        *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithBcryptCost sets the cost used to hash new passwords.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// WithServiceClock sets the time source used to check challenge expiry.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new auth service
func NewService(
	codes CodeSender,
	sessions *JWTService,
	users repo.UserRepo,
	challenges repo.ChallengeRepo,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		codes:      codes,
		sessions:   sessions,
		users:      users,
		challenges: challenges,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCode sends a code to the email. Known emails sign in regardless of
// the name supplied; unknown emails are a signup and need a name.
func (s *Service) RequestCode(ctx context.Context, req CodeRequest) error {
	if req.Email == "" {
		return validationError("email required")
	}

	_, err := s.users.GetByEmail(ctx, req.Email)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		if strings.TrimSpace(req.Name) == "" {
			return validationError("name required")
		}
	default:
		return fmt.Errorf("lookup user: %w", err)
	}

	return s.codes.RequestCode(ctx, req.Email)
}

// Resolve authenticates an attempt and issues a session token for the user.
func (s *Service) Resolve(ctx context.Context, attempt Attempt) (*Result, error) {
	var (
		user model.User
		err  error
	)
	switch a := attempt.(type) {
	case OTPAttempt:
		user, err = s.resolveOTP(ctx, a)
	case PasswordAttempt:
		user, err = s.resolvePassword(ctx, a)
	case OAuthAttempt:
		user, err = s.resolveOAuth(ctx, a.Profile)
	default:
		return nil, fmt.Errorf("unsupported attempt %T", attempt)
	}
	if err != nil {
		return nil, err
	}

	token, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &Result{User: user, Token: token}, nil
}

// CurrentUser loads the user a session token was issued for. A token whose
// user no longer exists is ErrUnauthorized.
func (s *Service) CurrentUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrUnauthorized
		}
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *Service) resolveOTP(ctx context.Context, a OTPAttempt) (model.User, error) {
	if a.Email == "" || a.Code == "" {
		return model.User{}, validationError("email and code required")
	}
	// Checked before Consume so a rejected password does not burn the code.
	if len(a.Password) > maxPasswordLength {
		return model.User{}, validationError("password too long")
	}

	if _, err := s.challenges.Consume(ctx, a.Email, a.Code, s.now()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrInvalidChallenge
		}
		return model.User{}, fmt.Errorf("consume challenge: %w", err)
	}

	user, err := s.users.GetByEmail(ctx, a.Email)
	if err == nil {
		return s.enrich(ctx, user, a)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}

	nu := model.NewUser{
		Email:       a.Email,
		Name:        strings.TrimSpace(a.Name),
		DateOfBirth: a.DateOfBirth,
	}
	if nu.Name == "" {
		nu.Name = defaultName
	}
	if a.Password != "" {
		if nu.PasswordHash, err = hashPassword(a.Password, s.bcryptCost); err != nil {
			return model.User{}, err
		}
	}

	user, err = s.users.Create(ctx, nu)
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent signup for the same email won; continue as a sign-in.
		user, err = s.users.GetByEmail(ctx, a.Email)
		if err != nil {
			return model.User{}, fmt.Errorf("lookup user after conflict: %w", err)
		}
		return s.enrich(ctx, user, a)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.InfoContext(ctx, "user created", logger.UserID(user.ID), logger.Email(user.Email),
		slog.String("method", "otp"), logger.Component("auth"))
	return user, nil
}

// enrich fills optional fields the account does not have yet. Existing values
// are never overwritten.
func (s *Service) enrich(ctx context.Context, user model.User, a OTPAttempt) (model.User, error) {
	if a.DateOfBirth != nil && user.DateOfBirth == nil {
		applied, err := s.users.BackfillDateOfBirth(ctx, user.ID, *a.DateOfBirth)
		if err != nil {
			return model.User{}, fmt.Errorf("backfill date of birth: %w", err)
		}
		if applied {
			dob := *a.DateOfBirth
			user.DateOfBirth = &dob
		}
	}

	if a.Password != "" && !user.HasPassword() {
		hash, err := hashPassword(a.Password, s.bcryptCost)
		if err != nil {
			return model.User{}, err
		}
		applied, err := s.users.SetPasswordHash(ctx, user.ID, hash)
		if err != nil {
			return model.User{}, fmt.Errorf("attach password: %w", err)
		}
		if applied {
			user.PasswordHash = hash
		}
	}
	return user, nil
}

func (s *Service) resolvePassword(ctx context.Context, a PasswordAttempt) (model.User, error) {
	if a.Email == "" || a.Password == "" {
		return model.User{}, validationError("email and password required")
	}

	user, err := s.users.GetByEmail(ctx, a.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}
	// Accounts created through codes or Google have no password to check.
	if !user.HasPassword() {
		return model.User{}, ErrNotFound
	}
	if err := comparePassword(user.PasswordHash, a.Password); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// resolveOAuth looks the profile up by provider id, then by email (linking the
// account), and creates a user otherwise. A uniqueness conflict means another
// request created or linked the account first, so the lookup is retried once.
func (s *Service) resolveOAuth(ctx context.Context, p Profile) (model.User, error) {
	if p.ProviderID == "" || p.Email == "" {
		return model.User{}, fmt.Errorf("%w: profile is missing id or email", ErrProvider)
	}

	var lastErr error
	for i := 0; i < 2; i++ {
		user, err := s.resolveOAuthOnce(ctx, p)
		if errors.Is(err, repo.ErrDuplicate) {
			lastErr = err
			continue
		}
		return user, err
	}
	return model.User{}, fmt.Errorf("resolve oauth profile: %w", lastErr)
}

func (s *Service) resolveOAuthOnce(ctx context.Context, p Profile) (model.User, error) {
	user, err := s.users.GetByGoogleID(ctx, p.ProviderID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.User{}, fmt.Errorf("lookup user by google id: %w", err)
	}

	user, err = s.users.GetByEmail(ctx, p.Email)
	if err == nil {
		if err := s.users.SetGoogleID(ctx, user.ID, p.ProviderID); err != nil {
			return model.User{}, fmt.Errorf("link google account: %w", err)
		}
		providerID := p.ProviderID
		user.GoogleID = &providerID
		s.log.InfoContext(ctx, "google account linked", logger.UserID(user.ID), logger.Email(user.Email),
			logger.Component("auth"))
		return user, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}

	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = defaultName
	}
	providerID := p.ProviderID
	user, err = s.users.Create(ctx, model.NewUser{
		Email:    p.Email,
		Name:     name,
		GoogleID: &providerID,
	})
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.InfoContext(ctx, "user created", logger.UserID(user.ID), logger.Email(user.Email),
		slog.String("method", "google"), logger.Component("auth"))
	return user, nil
}
