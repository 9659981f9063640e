package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/notevault/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (model.User, error)
	// Create inserts a user. A taken email or google id yields ErrDuplicate.
	Create(ctx context.Context, u model.NewUser) (model.User, error)
	SetGoogleID(ctx context.Context, id uuid.UUID, googleID string) error
	// SetPasswordHash attaches a hash only if the user has none; applied is false otherwise.
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash []byte) (applied bool, err error)
	// BackfillDateOfBirth writes dob only if the user has none; applied is false otherwise.
	BackfillDateOfBirth(ctx context.Context, id uuid.UUID, dob time.Time) (applied bool, err error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new Postgres-backed UserRepo
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, name, password_hash, google_id, date_of_birth, created_at`

func scanUser(row rowScanner) (model.User, error) {
	var user model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.GoogleID,
		&user.DateOfBirth,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail retrieves a user by exact email
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetByGoogleID retrieves a user by linked Google account id
func (r *userRepo) GetByGoogleID(ctx context.Context, googleID string) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID))
}

// Create inserts a new user. The unique indexes on email and google_id decide
// concurrent signups; the loser gets ErrDuplicate.
func (r *userRepo) Create(ctx context.Context, u model.NewUser) (model.User, error) {
	query := `
		INSERT INTO users (id, email, name, password_hash, google_id, date_of_birth)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query,
		uuid.New(), u.Email, u.Name, nullBytes(u.PasswordHash), u.GoogleID, u.DateOfBirth))
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("create user: %w", ErrDuplicate)
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SetGoogleID links a Google account to the user
func (r *userRepo) SetGoogleID(ctx context.Context, id uuid.UUID, googleID string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET google_id = $2 WHERE id = $1`, id, googleID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("set google id: %w", ErrDuplicate)
		}
		return fmt.Errorf("set google id: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPasswordHash attaches a password hash if none is set
func (r *userRepo) SetPasswordHash(ctx context.Context, id uuid.UUID, hash []byte) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1 AND password_hash IS NULL`, id, string(hash))
}

// BackfillDateOfBirth sets date_of_birth if none is set
func (r *userRepo) BackfillDateOfBirth(ctx context.Context, id uuid.UUID, dob time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE users SET date_of_birth = $2 WHERE id = $1 AND date_of_birth IS NULL`, id, dob)
}

func (r *userRepo) conditionalUpdate(ctx context.Context, query string, id uuid.UUID, value any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return false, fmt.Errorf("update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update user: %w", err)
	}
	return n > 0, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
