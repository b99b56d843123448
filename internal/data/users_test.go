package data

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/db"
)

func setupDB(t *testing.T) *db.Client {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "amana_chat_test")
	require.NoError(t, err)

	// ensure clean collections in case previous runs left data
	_ = c.UsersCollection().Drop(ctx)
	_ = c.MessagesCollection().Drop(ctx)
	require.NoError(t, c.CreateIndexes(ctx))

	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestUsersCreateAndGet(t *testing.T) {
	c := setupDB(t)
	users := NewUsersStore(c.UsersCollection())
	ctx := context.Background()

	user, err := users.CreateUser(ctx, NewUser{Email: "  Alice@Example.com ", Name: " Alice ", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, user.CreatedAt, user.UpdatedAt)

	byEmail, err := users.GetUserByEmail(ctx, "ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := users.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash", byID.PasswordHash)

	list, err := users.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, user.ID, list[0].ID)
}

func TestUsersGetUnknownOrMalformedID(t *testing.T) {
	c := setupDB(t)
	users := NewUsersStore(c.UsersCollection())
	ctx := context.Background()

	_, err := users.GetUserByID(ctx, "not-an-object-id")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = users.GetUserByID(ctx, "65a000000000000000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = users.GetUserByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.NoError(t, users.UpdateUserTimestamp(ctx, "garbage"))
	assert.NoError(t, users.UpdateUserTimestamp(ctx, "65a000000000000000000000"))
}

func TestUsersDuplicateEmailUnderConcurrency(t *testing.T) {
	c := setupDB(t)
	users := NewUsersStore(c.UsersCollection())
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		duplicate int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := users.CreateUser(ctx, NewUser{Email: "Race@Example.com", Name: "Racer", PasswordHash: "h"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, apperr.ErrDuplicateEmail):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, duplicate)
}
