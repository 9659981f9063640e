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

// ChallengeRepo defines the interface for one-time code storage
type ChallengeRepo interface {
	// Create stores a new challenge. Existing challenges for the email are left alone.
	Create(ctx context.Context, email, code string, expiresAt time.Time) (uuid.UUID, error)
	// Consume atomically deletes one unexpired challenge matching (email, code).
	// It returns ErrNotFound when none matches; expired matches are not touched.
	Consume(ctx context.Context, email, code string, now time.Time) (model.Challenge, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteExpired removes every challenge that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type challengeRepo struct {
	db *sql.DB
}

// NewChallengeRepo creates a new Postgres-backed ChallengeRepo
func NewChallengeRepo(db *sql.DB) ChallengeRepo {
	return &challengeRepo{db: db}
}

// Create inserts a challenge row
func (r *challengeRepo) Create(ctx context.Context, email, code string, expiresAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO challenges (id, email, code, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id, email, code, expiresAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert challenge: %w", err)
	}
	return id, nil
}

// Consume deletes and returns one live challenge for (email, code). SKIP LOCKED
// makes concurrent verifications of the same code race for a single row, so
// only one of them can succeed.
func (r *challengeRepo) Consume(ctx context.Context, email, code string, now time.Time) (model.Challenge, error) {
	query := `
		DELETE FROM challenges
		WHERE id = (
			SELECT id FROM challenges
			WHERE email = $1 AND code = $2 AND expires_at >= $3
			ORDER BY expires_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, email, code, expires_at, created_at
	`
	var c model.Challenge
	var idStr string
	err := r.db.QueryRowContext(ctx, query, email, code, now).Scan(
		&idStr,
		&c.Email,
		&c.Code,
		&c.ExpiresAt,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Challenge{}, ErrNotFound
		}
		return model.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Challenge{}, fmt.Errorf("parse challenge ID: %w", err)
	}
	return c, nil
}

// Delete removes a challenge by id
func (r *challengeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired purges challenges past their expiry
func (r *challengeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return n, nil
}
