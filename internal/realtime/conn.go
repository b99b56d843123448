package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrConnectionClosed is returned by operations on a connection that has been
// closed or lost.
var ErrConnectionClosed = errors.New("realtime: connection closed")

// ConnectionState is the client's view of its transport link.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateClosed       ConnectionState = "closed"
)

// RequestError is an error frame returned by the broker.
type RequestError struct {
	Action  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("realtime %s: %s", e.Action, e.Message)
}

// Conn is a client connection to the broker for a single client id.
// Listener callbacks run on the connection's read goroutine.
type Conn struct {
	ws           *websocket.Conn
	clientID     string
	connectionID string
	log          zerolog.Logger

	writeMu sync.Mutex

	mu             sync.Mutex
	state          ConnectionState
	nextRef        uint64
	pending        map[uint64]chan *Frame
	channels       map[string]*Channel
	stateListeners map[int]func(ConnectionState)
	nextListener   int

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a broker connection at endpoint using cred and waits for the
// broker's connected frame.
func Dial(ctx context.Context, endpoint string, cred *Credential, log zerolog.Logger) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse realtime endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", cred.Token)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)

	var hello Frame
	if err := ws.ReadJSON(&hello); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("realtime handshake: %w", err)
	}
	if hello.Action != ActionConnected {
		_ = ws.Close()
		return nil, fmt.Errorf("realtime handshake: unexpected %q frame", hello.Action)
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &Conn{
		ws:             ws,
		clientID:       hello.ClientID,
		connectionID:   hello.ConnectionID,
		state:          StateConnected,
		pending:        make(map[uint64]chan *Frame),
		channels:       make(map[string]*Channel),
		stateListeners: make(map[int]func(ConnectionState)),
		done:           make(chan struct{}),
	}
	c.log = log.With().Str("client_id", c.clientID).Str("connection_id", c.connectionID).Logger()

	go c.readLoop()
	return c, nil
}

// ClientID is the identity the broker bound this connection to.
func (c *Conn) ClientID() string { return c.clientID }

// ConnectionID is the broker-assigned id of this connection.
func (c *Conn) ConnectionID() string { return c.connectionID }

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn for state transitions and returns a function
// that removes it.
func (c *Conn) OnStateChange(fn func(ConnectionState)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.stateListeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateListeners, id)
		c.mu.Unlock()
	}
}

// Channel returns the handle for name, creating it on first use.
func (c *Conn) Channel(name string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	if !ok {
		ch = newChannel(c, name)
		c.channels[name] = ch
	}
	return ch
}

// Close shuts the connection down. Pending and later requests fail with
// ErrConnectionClosed. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(StateClosed)

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	_ = c.ws.Close()
	return nil
}

func (c *Conn) shutdown(state ConnectionState) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = state
		pending := c.pending
		c.pending = make(map[uint64]chan *Frame)
		listeners := make([]func(ConnectionState), 0, len(c.stateListeners))
		for _, fn := range c.stateListeners {
			listeners = append(listeners, fn)
		}
		close(c.done)
		c.mu.Unlock()

		for _, ch := range pending {
			close(ch)
		}
		for _, fn := range listeners {
			fn(state)
		}
	})
}

func (c *Conn) readLoop() {
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn().Err(err).Msg("Realtime connection lost")
			}
			c.shutdown(StateDisconnected)
			_ = c.ws.Close()
			return
		}
		c.dispatch(&f)
	}
}

func (c *Conn) dispatch(f *Frame) {
	switch f.Action {
	case ActionAck, ActionError:
		c.mu.Lock()
		ch, ok := c.pending[f.Ref]
		delete(c.pending, f.Ref)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	case ActionMessage:
		if ch := c.lookupChannel(f.Channel); ch != nil {
			ch.deliverMessage(messageFromFrame(f))
		}
	case ActionPresence:
		if ch := c.lookupChannel(f.Channel); ch != nil && f.Member != nil {
			ch.deliverPresence(*f.Member)
		}
	}
}

func (c *Conn) lookupChannel(name string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

// request sends f and waits for the broker's reply.
func (c *Conn) request(ctx context.Context, f *Frame) (*Frame, error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	default:
	}
	c.nextRef++
	f.Ref = c.nextRef
	reply := make(chan *Frame, 1)
	c.pending[f.Ref] = reply
	c.mu.Unlock()

	if err := c.write(f); err != nil {
		c.forget(f.Ref)
		return nil, err
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if r.Action == ActionError {
			return nil, &RequestError{Action: f.Action, Message: r.Error}
		}
		return r, nil
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		c.forget(f.Ref)
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(ref uint64) {
	c.mu.Lock()
	delete(c.pending, ref)
	c.mu.Unlock()
}

func (c *Conn) write(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

func marshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
