package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notevault/server/internal/model"
)

var (
	_ UserRepo      = (*MemoryUserRepo)(nil)
	_ ChallengeRepo = (*MemoryChallengeRepo)(nil)
	_ NoteRepo      = (*MemoryNoteRepo)(nil)
)

// MemoryUserRepo is an in-process UserRepo for development and tests.
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]model.User
	now   func() time.Time
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users: make(map[uuid.UUID]model.User),
		now:   time.Now,
	}
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return model.User{}, ErrNotFound
}

func (r *MemoryUserRepo) GetByGoogleID(ctx context.Context, googleID string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			return cloneUser(u), nil
		}
	}
	return model.User{}, ErrNotFound
}

func (r *MemoryUserRepo) Create(ctx context.Context, nu model.NewUser) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == nu.Email {
			return model.User{}, ErrDuplicate
		}
		if nu.GoogleID != nil && u.GoogleID != nil && *u.GoogleID == *nu.GoogleID {
			return model.User{}, ErrDuplicate
		}
	}
	u := cloneUser(model.User{
		ID:           uuid.New(),
		Email:        nu.Email,
		Name:         nu.Name,
		PasswordHash: nu.PasswordHash,
		GoogleID:     nu.GoogleID,
		DateOfBirth:  nu.DateOfBirth,
		CreatedAt:    r.now().UTC(),
	})
	r.users[u.ID] = u
	return cloneUser(u), nil
}

func (r *MemoryUserRepo) SetGoogleID(ctx context.Context, id uuid.UUID, googleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, other := range r.users {
		if otherID != id && other.GoogleID != nil && *other.GoogleID == googleID {
			return ErrDuplicate
		}
	}
	u.GoogleID = &googleID
	r.users[id] = u
	return nil
}

func (r *MemoryUserRepo) SetPasswordHash(ctx context.Context, id uuid.UUID, hash []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.HasPassword() {
		return false, nil
	}
	u.PasswordHash = append([]byte(nil), hash...)
	r.users[id] = u
	return true, nil
}

func (r *MemoryUserRepo) BackfillDateOfBirth(ctx context.Context, id uuid.UUID, dob time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.DateOfBirth != nil {
		return false, nil
	}
	u.DateOfBirth = &dob
	r.users[id] = u
	return true, nil
}

// Count returns the number of stored users.
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func cloneUser(u model.User) model.User {
	if u.PasswordHash != nil {
		u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	}
	if u.GoogleID != nil {
		g := *u.GoogleID
		u.GoogleID = &g
	}
	if u.DateOfBirth != nil {
		d := *u.DateOfBirth
		u.DateOfBirth = &d
	}
	return u
}

// MemoryChallengeRepo is an in-process ChallengeRepo.
type MemoryChallengeRepo struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]model.Challenge
}

func NewMemoryChallengeRepo() *MemoryChallengeRepo {
	return &MemoryChallengeRepo{challenges: make(map[uuid.UUID]model.Challenge)}
}

func (r *MemoryChallengeRepo) Create(ctx context.Context, email, code string, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := model.Challenge{
		ID:        uuid.New(),
		Email:     email,
		Code:      code,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	r.challenges[c.ID] = c
	return c.ID, nil
}

func (r *MemoryChallengeRepo) Consume(ctx context.Context, email, code string, now time.Time) (model.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *model.Challenge
	for _, c := range r.challenges {
		if c.Email != email || c.Code != code || c.Expired(now) {
			continue
		}
		if found == nil || c.ExpiresAt.Before(found.ExpiresAt) {
			c := c
			found = &c
		}
	}
	if found == nil {
		return model.Challenge{}, ErrNotFound
	}
	delete(r.challenges, found.ID)
	return *found, nil
}

func (r *MemoryChallengeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.challenges[id]; !ok {
		return ErrNotFound
	}
	delete(r.challenges, id)
	return nil
}

func (r *MemoryChallengeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.challenges {
		if c.Expired(now) {
			delete(r.challenges, id)
			n++
		}
	}
	return n, nil
}

// ForEmail returns the stored challenges for an email, oldest first.
func (r *MemoryChallengeRepo) ForEmail(email string) []model.Challenge {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Challenge
	for _, c := range r.challenges {
		if c.Email == email {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MemoryNoteRepo is an in-process NoteRepo.
type MemoryNoteRepo struct {
	mu    sync.RWMutex
	notes []model.Note
}

func NewMemoryNoteRepo() *MemoryNoteRepo {
	return &MemoryNoteRepo{}
}

func (r *MemoryNoteRepo) Create(ctx context.Context, userID uuid.UUID, content string) (model.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := model.Note{
		ID:        uuid.New(),
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	r.notes = append(r.notes, n)
	return n, nil
}

func (r *MemoryNoteRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Note, 0)
	for i := len(r.notes) - 1; i >= 0; i-- {
		if r.notes[i].UserID == userID {
			out = append(out, r.notes[i])
		}
	}
	return out, nil
}

func (r *MemoryNoteRepo) Delete(ctx context.Context, userID, noteID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.notes[:0]
	for _, n := range r.notes {
		if n.ID == noteID && n.UserID == userID {
			continue
		}
		kept = append(kept, n)
	}
	r.notes = kept
	return nil
}
