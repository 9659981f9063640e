package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/notevault/server/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the Mongo store.
const (
	UsersCollection      = "users"
	ChallengesCollection = "challenges"
	NotesCollection      = "notes"
)

// EnsureMongoIndexes creates the indexes the Mongo repos rely on: unique
// email, unique sparse google_id, the (email, code) challenge lookup and the
// per-owner note listing.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(UsersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "google_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err = db.Collection(ChallengesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}, {Key: "code", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create challenge index: %w", err)
	}
	_, err = db.Collection(NotesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create note index: %w", err)
	}
	return nil
}

type userDoc struct {
	ID           string     `bson:"_id"`
	Email        string     `bson:"email"`
	Name         string     `bson:"name"`
	PasswordHash string     `bson:"password_hash,omitempty"`
	GoogleID     *string    `bson:"google_id,omitempty"`
	DateOfBirth  *time.Time `bson:"date_of_birth,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
}

func (d userDoc) toModel() (model.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	u := model.User{
		ID:          id,
		Email:       d.Email,
		Name:        d.Name,
		GoogleID:    d.GoogleID,
		DateOfBirth: d.DateOfBirth,
		CreatedAt:   d.CreatedAt,
	}
	if d.PasswordHash != "" {
		u.PasswordHash = []byte(d.PasswordHash)
	}
	return u, nil
}

type mongoUserRepo struct {
	col *mongo.Collection
}

// NewMongoUserRepo creates a UserRepo over the users collection
func NewMongoUserRepo(db *mongo.Database) UserRepo {
	return &mongoUserRepo{col: db.Collection(UsersCollection)}
}

func (r *mongoUserRepo) findOne(ctx context.Context, filter bson.M) (model.User, error) {
	var doc userDoc
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return doc.toModel()
}

func (r *mongoUserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *mongoUserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *mongoUserRepo) GetByGoogleID(ctx context.Context, googleID string) (model.User, error) {
	return r.findOne(ctx, bson.M{"google_id": googleID})
}

func (r *mongoUserRepo) Create(ctx context.Context, u model.NewUser) (model.User, error) {
	doc := userDoc{
		ID:           uuid.NewString(),
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: string(u.PasswordHash),
		GoogleID:     u.GoogleID,
		DateOfBirth:  u.DateOfBirth,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.User{}, fmt.Errorf("create user: %w", ErrDuplicate)
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return doc.toModel()
}

func (r *mongoUserRepo) SetGoogleID(ctx context.Context, id uuid.UUID, googleID string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"google_id": googleID}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("set google id: %w", ErrDuplicate)
		}
		return fmt.Errorf("set google id: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoUserRepo) SetPasswordHash(ctx context.Context, id uuid.UUID, hash []byte) (bool, error) {
	return r.setIfAbsent(ctx, id, "password_hash", string(hash))
}

func (r *mongoUserRepo) BackfillDateOfBirth(ctx context.Context, id uuid.UUID, dob time.Time) (bool, error) {
	return r.setIfAbsent(ctx, id, "date_of_birth", dob)
}

func (r *mongoUserRepo) setIfAbsent(ctx context.Context, id uuid.UUID, field string, value any) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id.String(), field: bson.M{"$exists": false}},
		bson.M{"$set": bson.M{field: value}},
	)
	if err != nil {
		return false, fmt.Errorf("update user %s: %w", field, err)
	}
	return res.ModifiedCount > 0, nil
}

type challengeDoc struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Code      string    `bson:"code"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

type mongoChallengeRepo struct {
	col *mongo.Collection
}

// NewMongoChallengeRepo creates a ChallengeRepo over the challenges collection
func NewMongoChallengeRepo(db *mongo.Database) ChallengeRepo {
	return &mongoChallengeRepo{col: db.Collection(ChallengesCollection)}
}

func (r *mongoChallengeRepo) Create(ctx context.Context, email, code string, expiresAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.col.InsertOne(ctx, challengeDoc{
		ID:        id.String(),
		Email:     email,
		Code:      code,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert challenge: %w", err)
	}
	return id, nil
}

// Consume relies on FindOneAndDelete being atomic for a single document.
func (r *mongoChallengeRepo) Consume(ctx context.Context, email, code string, now time.Time) (model.Challenge, error) {
	filter := bson.M{
		"email":      email,
		"code":       code,
		"expires_at": bson.M{"$gte": now},
	}
	opts := options.FindOneAndDelete().SetSort(bson.D{{Key: "expires_at", Value: 1}})

	var doc challengeDoc
	if err := r.col.FindOneAndDelete(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Challenge{}, ErrNotFound
		}
		return model.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return model.Challenge{}, fmt.Errorf("parse challenge ID: %w", err)
	}
	return model.Challenge{
		ID:        id,
		Email:     doc.Email,
		Code:      doc.Code,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (r *mongoChallengeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoChallengeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now}})
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return res.DeletedCount, nil
}

type noteDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

type mongoNoteRepo struct {
	col *mongo.Collection
}

// NewMongoNoteRepo creates a NoteRepo over the notes collection
func NewMongoNoteRepo(db *mongo.Database) NoteRepo {
	return &mongoNoteRepo{col: db.Collection(NotesCollection)}
}

func (r *mongoNoteRepo) Create(ctx context.Context, userID uuid.UUID, content string) (model.Note, error) {
	n := model.Note{
		ID:        uuid.New(),
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err := r.col.InsertOne(ctx, noteDoc{
		ID:        n.ID.String(),
		UserID:    userID.String(),
		Content:   content,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return model.Note{}, fmt.Errorf("failed to create note: %w", err)
	}
	return n, nil
}

func (r *mongoNoteRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Note, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer cur.Close(ctx)

	var docs []noteDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode notes: %w", err)
	}
	notes := make([]model.Note, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse note ID: %w", err)
		}
		notes = append(notes, model.Note{ID: id, UserID: userID, Content: d.Content, CreatedAt: d.CreatedAt})
	}
	return notes, nil
}

func (r *mongoNoteRepo) Delete(ctx context.Context, userID, noteID uuid.UUID) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"_id": noteID.String(), "user_id": userID.String()})
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}
