package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
)

// MessagesStore provides message database operations against MongoDB.
type MessagesStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll, now: time.Now}
}

// SaveChatMessage appends a message with a server-assigned id and timestamp.
func (m *MessagesStore) SaveChatMessage(ctx context.Context, nm NewMessage) (*Message, error) {
	doc := &messageDoc{
		ID:        bson.NewObjectID(),
		UserID:    nm.UserID,
		Username:  nm.Username,
		Text:      nm.Text,
		CreatedAt: m.now().UTC(),
	}

	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return nil, apperr.Transient("insert message", err)
	}
	return doc.toMessage(), nil
}

// FetchRecentMessages returns the newest messages ordered oldest→newest.
func (m *MessagesStore) FetchRecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	// Newest first so the limit keeps the most recent; _id breaks ties within
	// the same millisecond.
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(ClampLimit(limit)))

	cursor, err := m.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.Transient("find messages", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperr.Transient("decode messages", err)
	}

	msgs := make([]*Message, 0, len(docs))
	for i := range docs {
		msgs = append(msgs, docs[i].toMessage())
	}
	Reverse(msgs)
	return msgs, nil
}
