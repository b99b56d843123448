package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User is a credential record. PasswordHash never leaves the server; use
// SessionUser for anything rendered to a client.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SessionUser is the client-facing projection of a User.
type SessionUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session strips the password hash.
func (u *User) Session() *SessionUser {
	return &SessionUser{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NewUser carries the fields needed to register an account.
type NewUser struct {
	Email        string
	Name         string
	PasswordHash string
}

// Message is a persisted chat message. Immutable once written.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage carries the fields needed to append a message.
type NewMessage struct {
	UserID   string
	Username string
	Text     string
}

// userDoc maps to the users collection.
type userDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	Email        string        `bson:"email"`
	Name         string        `bson:"name"`
	PasswordHash string        `bson:"password_hash"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}

func (d *userDoc) toUser() *User {
	return &User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// messageDoc maps to the messages collection.
type messageDoc struct {
	ID        bson.ObjectID `bson:"_id"`
	UserID    string        `bson:"user_id"`
	Username  string        `bson:"username"`
	Text      string        `bson:"text"`
	CreatedAt time.Time     `bson:"created_at"`
}

func (d *messageDoc) toMessage() *Message {
	return &Message{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Username:  d.Username,
		Text:      d.Text,
		CreatedAt: d.CreatedAt,
	}
}
