package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/notevault/server/internal/model"
)

// NoteRepo stores notes scoped to their owner
type NoteRepo interface {
	Create(ctx context.Context, userID uuid.UUID, content string) (model.Note, error)
	// ListByUser returns the user's notes, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Note, error)
	// Delete removes the note only if userID owns it. Missing notes are not an error.
	Delete(ctx context.Context, userID, noteID uuid.UUID) error
}

type noteRepo struct {
	db *sql.DB
}

// NewNoteRepo creates a new Postgres-backed NoteRepo
func NewNoteRepo(db *sql.DB) NoteRepo {
	return &noteRepo{db: db}
}

// Create inserts a note for the user
func (r *noteRepo) Create(ctx context.Context, userID uuid.UUID, content string) (model.Note, error) {
	note := model.Note{
		ID:      uuid.New(),
		UserID:  userID,
		Content: content,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, note.ID, userID, content).Scan(&note.CreatedAt)
	if err != nil {
		return model.Note{}, fmt.Errorf("failed to create note: %w", err)
	}
	return note, nil
}

// ListByUser returns all notes owned by the user
func (r *noteRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Note, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, content, created_at
		FROM notes
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	notes := make([]model.Note, 0)
	for rows.Next() {
		var n model.Note
		var idStr, userIDStr string
		if err := rows.Scan(&idStr, &userIDStr, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if n.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("failed to parse note ID: %w", err)
		}
		if n.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("failed to parse note user ID: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

// Delete removes a note owned by the user
func (r *noteRepo) Delete(ctx context.Context, userID, noteID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, noteID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}
