package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
)

type issuerSource struct {
	issuer *Issuer
	calls  int
}

func (s *issuerSource) RealtimeCredential(_ context.Context, clientID string) (*Credential, error) {
	s.calls++
	return s.issuer.IssueChannelAuth(clientID, clientID)
}

func TestBridge_ReusesConnectionForSameIdentity(t *testing.T) {
	b := newTestBroker(t)
	src := &issuerSource{issuer: b.issuer}
	bridge := NewBridge(b.url, src, zerolog.Nop())
	t.Cleanup(func() { _ = bridge.Release() })

	ctx := context.Background()
	first, err := bridge.Client(ctx, "alice")
	require.NoError(t, err)
	second, err := bridge.Client(ctx, "alice")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, "alice", first.ClientID())
}

func TestBridge_ClosesOldConnectionBeforeSwitchingIdentity(t *testing.T) {
	b := newTestBroker(t)
	bridge := NewBridge(b.url, &issuerSource{issuer: b.issuer}, zerolog.Nop())
	t.Cleanup(func() { _ = bridge.Release() })

	var previous *Conn
	var stateAtDial []ConnectionState
	bridge.dial = func(ctx context.Context, endpoint string, cred *Credential, log zerolog.Logger) (*Conn, error) {
		if previous != nil {
			stateAtDial = append(stateAtDial, previous.State())
		}
		return Dial(ctx, endpoint, cred, log)
	}

	ctx := context.Background()
	alice, err := bridge.Client(ctx, "alice")
	require.NoError(t, err)
	previous = alice

	bob, err := bridge.Client(ctx, "bob")
	require.NoError(t, err)

	require.Equal(t, []ConnectionState{StateClosed}, stateAtDial)
	assert.Equal(t, "bob", bob.ClientID())
	assert.Equal(t, StateConnected, bob.State())
}

func TestBridge_RedialsLostConnection(t *testing.T) {
	b := newTestBroker(t)
	bridge := NewBridge(b.url, &issuerSource{issuer: b.issuer}, zerolog.Nop())
	t.Cleanup(func() { _ = bridge.Release() })

	ctx := context.Background()
	first, err := bridge.Client(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := bridge.Client(ctx, "alice")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestBridge_Release(t *testing.T) {
	b := newTestBroker(t)
	bridge := NewBridge(b.url, &issuerSource{issuer: b.issuer}, zerolog.Nop())

	conn, err := bridge.Client(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, bridge.Release())
	assert.Equal(t, StateClosed, conn.State())
	require.NoError(t, bridge.Release())
}

type failingSource struct{ err error }

func (f failingSource) RealtimeCredential(context.Context, string) (*Credential, error) {
	return nil, f.err
}

func TestBridge_Errors(t *testing.T) {
	bridge := NewBridge("ws://127.0.0.1:1/realtime", failingSource{err: apperr.ErrUnauthorized}, zerolog.Nop())

	_, err := bridge.Client(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = bridge.Client(context.Background(), "alice")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	bridge = NewBridge("ws://127.0.0.1:1/realtime", failingSource{err: errors.New("boom")}, zerolog.Nop())
	_, err = bridge.Client(context.Background(), "alice")
	assert.Error(t, err)
}
