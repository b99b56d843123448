package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/room"
)

type fakeAuth struct {
	calls []string
	err   error
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (*data.SessionUser, error) {
	f.calls = append(f.calls, fmt.Sprintf("login %s %s", email, password))
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	return &data.SessionUser{ID: "u1", Email: email, Name: "Alice"}, nil
}

func (f *fakeAuth) Register(_ context.Context, email, name, password string) (*data.SessionUser, error) {
	f.calls = append(f.calls, fmt.Sprintf("register %s %s %s", email, name, password))
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	return &data.SessionUser{ID: "u2", Email: email, Name: name}, nil
}

type fakeRoom struct {
	sent    []string
	typing  []bool
	sendErr error
	view    room.View
}

func (f *fakeRoom) Send(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return room.ErrEmptyMessage
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeRoom) SetTyping(_ context.Context, typing bool) error {
	f.typing = append(f.typing, typing)
	return nil
}

func (f *fakeRoom) Snapshot() room.View { return f.view }

func input(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func TestAuthenticate_LoginAfterFailure(t *testing.T) {
	var out bytes.Buffer
	api := &fakeAuth{err: fmt.Errorf("bad: %w", apperr.ErrUnauthorized)}
	con := newConsole(input(
		"",
		"dance",
		"login", "alice@example.com", "wrong",
		"l", "alice@example.com", "secret123",
	), &out)

	user, err := authenticate(context.Background(), api, con)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, []string{
		"login alice@example.com wrong",
		"login alice@example.com secret123",
	}, api.calls)
	assert.Contains(t, out.String(), "Unknown command: dance")
	assert.Contains(t, out.String(), "! Invalid email or password")
}

func TestAuthenticate_RegisterShowsValidationMessage(t *testing.T) {
	var out bytes.Buffer
	api := &fakeAuth{err: apperr.Validation("", "Password must be at least 8 characters")}
	con := newConsole(input(
		"register", "bob@example.com", "Bob", "short",
		"register", "bob@example.com", "Bob", "long-enough",
	), &out)

	user, err := authenticate(context.Background(), api, con)
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.Name)
	assert.Contains(t, out.String(), "! Password must be at least 8 characters")
}

func TestAuthenticate_QuitAndEOF(t *testing.T) {
	var out bytes.Buffer

	_, err := authenticate(context.Background(), &fakeAuth{}, newConsole(input("quit"), &out))
	assert.ErrorIs(t, err, errQuit)

	_, err = authenticate(context.Background(), &fakeAuth{}, newConsole(strings.NewReader(""), &out))
	assert.Error(t, err)
}

func TestAuthenticate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the reader never delivers a line
	r, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	_, err := authenticate(ctx, &fakeAuth{}, newConsole(r, &out))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunChat_Commands(t *testing.T) {
	var out bytes.Buffer
	r := &fakeRoom{view: room.View{Members: []room.Member{{ClientID: "u1", Name: "Alice"}}}}
	con := newConsole(input(
		"hello there",
		"   ",
		"/typing",
		"/stop",
		"/who",
		"/help",
		"/nope",
		"second",
		"/quit",
		"never sent",
	), &out)

	err := runChat(context.Background(), r, con, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello there", "second"}, r.sent)
	assert.Equal(t, []bool{true, false}, r.typing)
	assert.Contains(t, out.String(), "Online (1): Alice (you)")
	assert.Contains(t, out.String(), "/logout")
	assert.Contains(t, out.String(), "Unknown command: /nope")
}

func TestRunChat_Logout(t *testing.T) {
	var out bytes.Buffer
	err := runChat(context.Background(), &fakeRoom{}, newConsole(input("/logout"), &out), "u1", false)
	assert.ErrorIs(t, err, errLogout)
}

func TestRunChat_EndOfInput(t *testing.T) {
	var out bytes.Buffer
	r := &fakeRoom{}
	err := runChat(context.Background(), r, newConsole(strings.NewReader("last words"), &out), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"last words"}, r.sent)
}

func TestRunChat_ExpiredSession(t *testing.T) {
	var out bytes.Buffer
	r := &fakeRoom{sendErr: room.ErrReauthenticate}
	err := runChat(context.Background(), r, newConsole(input("hi", "more"), &out), "u1", false)
	assert.ErrorIs(t, err, room.ErrReauthenticate)
}

func TestRunChat_SendFailureKeepsGoing(t *testing.T) {
	var out bytes.Buffer
	r := &fakeRoom{sendErr: apperr.Transient("save", errors.New("boom"))}
	err := runChat(context.Background(), r, newConsole(input("hi", "/quit"), &out), "u1", false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "! message not sent: The server is unavailable, please try again")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Email already registered", describe(fmt.Errorf("x: %w", apperr.ErrDuplicateEmail)))
	assert.Equal(t, "Too many attempts, please try again later", describe(apperr.ErrRateLimited))
	assert.Equal(t, "The server is misconfigured", describe(apperr.ErrMisconfigured))
	assert.Equal(t, "plain", describe(errors.New("plain")))
}
