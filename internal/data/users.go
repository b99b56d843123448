package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/normalize"
)

// UsersStore performs user DB operations against MongoDB. Email uniqueness is
// enforced by the unique index created in db.Client.CreateIndexes.
type UsersStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll, now: time.Now}
}

// CreateUser inserts a new user document. A concurrent registration of the
// same email loses on the unique index and gets apperr.ErrDuplicateEmail.
func (u *UsersStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	now := u.now().UTC()
	doc := &userDoc{
		ID:           bson.NewObjectID(),
		Email:        normalize.Email(nu.Email),
		Name:         normalize.Name(nu.Name),
		PasswordHash: nu.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := u.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("create user %q: %w", doc.Email, apperr.ErrDuplicateEmail)
		}
		return nil, apperr.Transient("insert user", err)
	}

	return doc.toUser(), nil
}

// GetUserByEmail finds a user by normalized email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var doc userDoc
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user by email: %w", apperr.ErrNotFound)
		}
		return nil, apperr.Transient("find user by email", err)
	}
	return doc.toUser(), nil
}

// GetUserByID finds a user by the hex form of its ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("user id %q: %w", id, apperr.ErrNotFound)
	}

	var doc userDoc
	err = u.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
		}
		return nil, apperr.Transient("find user by id", err)
	}
	return doc.toUser(), nil
}

// UpdateUserTimestamp refreshes updated_at. Unknown or malformed ids are ignored.
func (u *UsersStore) UpdateUserTimestamp(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	_, err = u.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"updated_at": u.now().UTC()}})
	return apperr.Transient("touch user", err)
}

// ListUsers returns every user, oldest account first.
func (u *UsersStore) ListUsers(ctx context.Context) ([]*SessionUser, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := u.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.Transient("list users", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperr.Transient("decode users", err)
	}

	users := make([]*SessionUser, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toUser().Session())
	}
	return users, nil
}
