package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
)

// CredentialSource fetches a channel credential for clientID, normally from
// the server's /realtime-auth endpoint.
type CredentialSource interface {
	RealtimeCredential(ctx context.Context, clientID string) (*Credential, error)
}

// Bridge owns the single broker connection of a client process. It is keyed
// by identity: asking for a different client id closes the current
// connection before the new one is dialed.
type Bridge struct {
	endpoint string
	creds    CredentialSource
	log      zerolog.Logger
	dial     func(ctx context.Context, endpoint string, cred *Credential, log zerolog.Logger) (*Conn, error)

	mu       sync.Mutex
	conn     *Conn
	clientID string
}

// NewBridge returns a bridge dialing endpoint with credentials from creds.
func NewBridge(endpoint string, creds CredentialSource, log zerolog.Logger) *Bridge {
	return &Bridge{
		endpoint: endpoint,
		creds:    creds,
		log:      log,
		dial:     Dial,
	}
}

// Client returns the connection for clientID, dialing one if there is none
// or the current one belongs to another identity or has been lost.
func (b *Bridge) Client(ctx context.Context, clientID string) (*Conn, error) {
	if clientID == "" {
		return nil, fmt.Errorf("realtime client without identity: %w", apperr.ErrUnauthorized)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		if b.clientID == clientID && b.conn.State() == StateConnected {
			return b.conn, nil
		}
		if b.clientID != clientID {
			b.log.Info().Str("from", b.clientID).Str("to", clientID).Msg("Realtime identity changed")
		}
		_ = b.conn.Close()
		b.conn, b.clientID = nil, ""
	}

	cred, err := b.creds.RealtimeCredential(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("realtime credential: %w", err)
	}
	conn, err := b.dial(ctx, b.endpoint, cred, b.log)
	if err != nil {
		return nil, apperr.Transient("connect realtime", err)
	}

	b.conn, b.clientID = conn, clientID
	return conn, nil
}

// Release closes the current connection, if any.
func (b *Bridge) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn, b.clientID = nil, ""
	return err
}
