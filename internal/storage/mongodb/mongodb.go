package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quill/internal/domain/models"
	"quill/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const disconnectTimeout = 5 * time.Second

// disconnect closes a client with its own deadline, since the caller's
// context may already be done.
var disconnect = func(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	return client.Disconnect(ctx)
}

type Storage struct {
	client       *mongo.Client
	database     *mongo.Database
	users        *mongo.Collection
	sessions     *mongo.Collection
	textSessions *mongo.Collection
	revisions    *mongo.Collection
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Name      string    `bson:"name"`
	PassHash  []byte    `bson:"pass_hash"`
	IsPro     bool      `bson:"is_pro"`
	CreatedAt time.Time `bson:"created_at"`
}

type sessionDoc struct {
	Token     string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

type textSessionDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	Title        string    `bson:"title"`
	OriginalText string    `bson:"original_text"`
	FinalText    string    `bson:"final_text"`
	Instructions string    `bson:"instructions"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type revisionDoc struct {
	ID            string    `bson:"_id"`
	TextSessionID string    `bson:"text_session_id"`
	Text          string    `bson:"text"`
	Instructions  string    `bson:"instructions"`
	CreatedAt     time.Time `bson:"created_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = disconnect(client)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:       client,
		database:     db,
		users:        db.Collection("users"),
		sessions:     db.Collection("sessions"),
		textSessions: db.Collection("text_sessions"),
		revisions:    db.Collection("revisions"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = disconnect(client)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	// users.email unique
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	// sessions.expires_at TTL index: mongod removes rows once they expire
	_, err = s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("sessions.expires_at TTL index: %w", err)
	}

	_, err = s.textSessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("text_sessions.user_id index: %w", err)
	}

	_, err = s.revisions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "text_session_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("revisions.text_session_id index: %w", err)
	}

	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *Storage) Close() error {
	return disconnect(s.client)
}

// SaveUser saves a new user.
func (s *Storage) SaveUser(ctx context.Context, user models.User) error {
	const op = "storage.mongodb.SaveUser"

	_, err := s.users.InsertOne(ctx, userDoc{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		PassHash:  user.PassHash,
		IsPro:     user.IsPro,
		CreatedAt: user.CreatedAt,
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// User retrieves a user by email.
func (s *Storage) User(ctx context.Context, email string) (models.User, error) {
	const op = "storage.mongodb.User"

	user, err := s.findUser(ctx, bson.D{{Key: "email", Value: email}})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UserByID retrieves a user by ID.
func (s *Storage) UserByID(ctx context.Context, id string) (models.User, error) {
	const op = "storage.mongodb.UserByID"

	user, err := s.findUser(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) findUser(ctx context.Context, filter bson.D) (models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, storage.ErrUserNotFound
		}
		return models.User{}, err
	}

	return models.User{
		ID:        doc.ID,
		Email:     doc.Email,
		Name:      doc.Name,
		PassHash:  doc.PassHash,
		IsPro:     doc.IsPro,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *Storage) SaveSession(ctx context.Context, session models.Session) error {
	const op = "storage.mongodb.SaveSession"

	_, err := s.sessions.InsertOne(ctx, sessionDoc{
		Token:     session.Token,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Session(ctx context.Context, token string) (models.Session, error) {
	const op = "storage.mongodb.Session"

	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.D{{Key: "_id", Value: token}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Session{}, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.Session{
		Token:     doc.Token,
		UserID:    doc.UserID,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	const op = "storage.mongodb.DeleteSession"

	res, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: token}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	return nil
}

// DeleteExpiredSessions removes expired sessions the TTL monitor has not
// reached yet. The monitor only runs once a minute.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.mongodb.DeleteExpiredSessions"

	res, err := s.sessions.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.DeletedCount, nil
}

func (s *Storage) SaveTextSession(ctx context.Context, ts models.TextSession) error {
	const op = "storage.mongodb.SaveTextSession"

	_, err := s.textSessions.InsertOne(ctx, textSessionDoc{
		ID:           ts.ID,
		UserID:       ts.UserID,
		Title:        ts.Title,
		OriginalText: ts.OriginalText,
		FinalText:    ts.FinalText,
		Instructions: ts.Instructions,
		CreatedAt:    ts.CreatedAt,
		UpdatedAt:    ts.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) TextSession(ctx context.Context, id string) (models.TextSession, error) {
	const op = "storage.mongodb.TextSession"

	var doc textSessionDoc
	err := s.textSessions.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.TextSession{}, fmt.Errorf("%s: %w", op, storage.ErrTextSessionNotFound)
		}
		return models.TextSession{}, fmt.Errorf("%s: %w", op, err)
	}

	return doc.model(), nil
}

func (s *Storage) TextSessions(ctx context.Context, userID string) ([]models.TextSession, error) {
	const op = "storage.mongodb.TextSessions"

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.textSessions.Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []textSessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sessions := make([]models.TextSession, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, doc.model())
	}

	return sessions, nil
}

// UpdateTextSession writes the new final text, then the revision. Standalone
// mongod has no multi-document transactions, so a failed revision insert
// leaves the update in place.
func (s *Storage) UpdateTextSession(ctx context.Context, ts models.TextSession, rev *models.Revision) error {
	const op = "storage.mongodb.UpdateTextSession"

	res, err := s.textSessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: ts.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "final_text", Value: ts.FinalText},
			{Key: "instructions", Value: ts.Instructions},
			{Key: "updated_at", Value: ts.UpdatedAt},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTextSessionNotFound)
	}

	if rev != nil {
		_, err = s.revisions.InsertOne(ctx, revisionDoc{
			ID:            rev.ID,
			TextSessionID: rev.TextSessionID,
			Text:          rev.Text,
			Instructions:  rev.Instructions,
			CreatedAt:     rev.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("%s: revision: %w", op, err)
		}
	}

	return nil
}

func (s *Storage) DeleteTextSession(ctx context.Context, id string) error {
	const op = "storage.mongodb.DeleteTextSession"

	res, err := s.textSessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTextSessionNotFound)
	}

	if _, err := s.revisions.DeleteMany(ctx, bson.D{{Key: "text_session_id", Value: id}}); err != nil {
		return fmt.Errorf("%s: revisions: %w", op, err)
	}

	return nil
}

func (s *Storage) Revisions(ctx context.Context, textSessionID string) ([]models.Revision, error) {
	const op = "storage.mongodb.Revisions"

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.revisions.Find(ctx, bson.D{{Key: "text_session_id", Value: textSessionID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []revisionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	revisions := make([]models.Revision, 0, len(docs))
	for _, doc := range docs {
		revisions = append(revisions, models.Revision{
			ID:            doc.ID,
			TextSessionID: doc.TextSessionID,
			Text:          doc.Text,
			Instructions:  doc.Instructions,
			CreatedAt:     doc.CreatedAt,
		})
	}

	return revisions, nil
}

func (d textSessionDoc) model() models.TextSession {
	return models.TextSession{
		ID:           d.ID,
		UserID:       d.UserID,
		Title:        d.Title,
		OriginalText: d.OriginalText,
		FinalText:    d.FinalText,
		Instructions: d.Instructions,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
