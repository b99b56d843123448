// Package room keeps one chat room view in sync: persisted history, live
// messages and presence are reconciled into a single snapshot behind a state
// machine that only moves forward.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
)

// EventChatMessage is the only channel event the room consumes.
const EventChatMessage = "chat-message"

var (
	// ErrEmptyMessage is returned for blank text; nothing is sent.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrReauthenticate means the session expired and the user must sign in again.
	ErrReauthenticate = errors.New("session expired, sign in again")
	// ErrNotLive is returned when sending before the room has joined.
	ErrNotLive = errors.New("room is not live yet")
	// ErrClosed is returned once the room is closing or closed.
	ErrClosed = errors.New("room is closed")
	// ErrAlreadyMounted is returned by a second Mount.
	ErrAlreadyMounted = errors.New("room already mounted")
)

// State is the lifecycle phase of a Synchronizer.
type State int

const (
	StateIdle State = iota
	StateLoadingHistory
	StateJoining
	StateLive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingHistory:
		return "loading-history"
	case StateJoining:
		return "joining"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Identity is the signed-in user the room runs as.
type Identity struct {
	ID   string
	Name string
}

// View is a point-in-time copy of the room.
type View struct {
	State     State
	Connected bool
	Messages  []LiveMessage
	Members   []Member
	LastError error
}

// Config wires a Synchronizer.
type Config struct {
	Identity     Identity
	Store        MessageStore
	Connector    Connector
	HistoryLimit int
	Logger       zerolog.Logger
	// OnChange is called after every change to the view, outside any lock.
	OnChange func(View)
}

// Synchronizer owns one mounted room. It is single use: once closed, mount a
// new one.
type Synchronizer struct {
	identity     Identity
	store        MessageStore
	connector    Connector
	historyLimit int
	log          zerolog.Logger
	onChange     func(View)

	mu         sync.Mutex
	state      State
	connected  bool
	timeline   *Timeline
	roster     *Roster
	lastErr    error
	typingSent bool
	entered    bool
	session    Session
	unsubs     []func()
	cancel     context.CancelFunc
}

// New returns an idle Synchronizer.
func New(cfg Config) *Synchronizer {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = data.DefaultHistoryLimit
	}
	log := cfg.Logger.With().Str("component", "room").Str("user_id", cfg.Identity.ID).Logger()
	return &Synchronizer{
		identity:     cfg.Identity,
		store:        cfg.Store,
		connector:    cfg.Connector,
		historyLimit: limit,
		log:          log,
		onChange:     cfg.OnChange,
		timeline:     NewTimeline(),
		roster:       NewRoster(log),
	}
}

// Mount loads history, joins the channel and goes live. History and presence
// failures are recorded in the view without stopping the mount; a failure to
// connect leaves the room in Joining and is returned.
func (s *Synchronizer) Mount(ctx context.Context) error {
	if s.identity.ID == "" {
		return ErrReauthenticate
	}

	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("mount in state %s: %w", st, ErrAlreadyMounted)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateLoadingHistory
	s.mu.Unlock()
	s.notify()

	s.loadHistory(ctx)
	if err := s.advance(StateLoadingHistory, StateJoining); err != nil {
		return err
	}

	session, err := s.connector.Connect(ctx, s.identity.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			err = ErrReauthenticate
		}
		s.fail("connect", err)
		return fmt.Errorf("join room: %w", err)
	}
	if !s.adopt(session) {
		_ = s.connector.Release()
		return ErrClosed
	}

	s.join(ctx, session)
	return s.advance(StateJoining, StateLive)
}

func (s *Synchronizer) loadHistory(ctx context.Context) {
	msgs, err := s.store.FetchRecentMessages(ctx, s.historyLimit)

	s.mu.Lock()
	if s.tornDownLocked() {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, apperr.ErrUnauthorized) {
			err = ErrReauthenticate
		}
		s.fail("load history", err)
		return
	}
	live := make([]LiveMessage, 0, len(msgs))
	for _, m := range msgs {
		live = append(live, FromStored(m))
	}
	s.timeline.Merge(live...)
	s.mu.Unlock()
	s.notify()
}

func (s *Synchronizer) join(ctx context.Context, session Session) {
	s.setConnected(session.Connected())
	s.track(session.OnConnectionChange(s.setConnected))

	if unsub, err := session.SubscribePresence(ctx, s.onPresence); err != nil {
		s.fail("subscribe presence", err)
	} else {
		s.track(unsub)
	}

	if members, err := session.PresenceMembers(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to fetch presence")
	} else {
		s.seedRoster(members)
	}

	if err := session.EnterPresence(ctx, PresenceData{Name: s.identity.Name}); err != nil {
		s.fail("enter presence", err)
	} else {
		s.mu.Lock()
		s.entered = true
		s.mu.Unlock()
	}

	if unsub, err := session.SubscribeMessages(ctx, EventChatMessage, s.onLiveMessage); err != nil {
		s.fail("subscribe messages", err)
	} else {
		s.track(unsub)
	}
}

// Send persists text and, once it is durable, publishes it to the channel.
// An expired session yields ErrReauthenticate. Failed sends are not retried.
func (s *Synchronizer) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.tornDownLocked():
		s.mu.Unlock()
		return ErrClosed
	case s.state != StateLive:
		s.mu.Unlock()
		return ErrNotLive
	}
	session := s.session
	s.mu.Unlock()

	saved, err := s.store.SaveChatMessage(ctx, text)
	if errors.Is(err, apperr.ErrUnauthorized) {
		s.record(ErrReauthenticate)
		return ErrReauthenticate
	}
	if err != nil {
		s.fail("persist message", err)
		return fmt.Errorf("send message: %w", err)
	}

	live := FromStored(saved)
	s.mu.Lock()
	if s.tornDownLocked() {
		s.mu.Unlock()
		return nil
	}
	s.timeline.Merge(live)
	s.mu.Unlock()
	s.notify()

	pubErr := session.Publish(ctx, EventChatMessage, live)
	if pubErr != nil {
		s.fail("publish message", pubErr)
		pubErr = fmt.Errorf("publish message: %w", pubErr)
	}
	_ = s.SetTyping(ctx, false)
	return pubErr
}

// SetTyping broadcasts the typing flag when it differs from the last value
// sent. Repeated calls with the same value do nothing.
func (s *Synchronizer) SetTyping(ctx context.Context, typing bool) error {
	s.mu.Lock()
	if s.state != StateLive || s.typingSent == typing {
		s.mu.Unlock()
		return nil
	}
	s.typingSent = typing
	session := s.session
	s.mu.Unlock()

	if err := session.UpdatePresence(ctx, PresenceData{Name: s.identity.Name, Typing: typing}); err != nil {
		s.mu.Lock()
		if s.typingSent == typing {
			s.typingSent = !typing
		}
		s.mu.Unlock()
		s.log.Warn().Err(err).Bool("typing", typing).Msg("Failed to update typing state")
		return fmt.Errorf("update typing: %w", err)
	}
	return nil
}

// Close tears the room down: listeners are removed first, then presence is
// left and the transport released. Calling Close again is a no-op.
func (s *Synchronizer) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.tornDownLocked() {
		s.mu.Unlock()
		return nil
	}
	mounted := s.state != StateIdle
	s.state = StateClosing
	if s.cancel != nil {
		s.cancel()
	}
	unsubs := s.unsubs
	s.unsubs = nil
	session, entered := s.session, s.entered
	s.mu.Unlock()
	s.notify()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}

	if session != nil && entered {
		err := session.LeavePresence(ctx)
		if err != nil && !errors.Is(err, realtime.ErrConnectionClosed) {
			s.log.Warn().Err(err).Msg("Failed to leave presence")
		}
	}

	var err error
	if mounted {
		if err = s.connector.Release(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to release realtime connection")
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.session = nil
	s.mu.Unlock()
	s.notify()
	return err
}

// Snapshot returns a copy of the current view.
func (s *Synchronizer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		State:     s.state,
		Connected: s.connected,
		Messages:  s.timeline.Messages(),
		Members:   s.roster.Members(),
		LastError: s.lastErr,
	}
}

func (s *Synchronizer) onLiveMessage(m realtime.Message) {
	var live LiveMessage
	if err := json.Unmarshal(m.Data, &live); err != nil {
		s.log.Debug().Err(err).Msg("Ignoring malformed chat message")
		return
	}
	// the broker stamps the publisher's identity; a payload claiming another
	// author was not persisted by that author
	if live.UserID != m.ClientID {
		s.log.Debug().
			Str("client_id", m.ClientID).
			Str("claimed_user_id", live.UserID).
			Str("message_id", live.MessageID).
			Msg("Ignoring chat message from another publisher")
		return
	}
	if live.Timestamp == 0 {
		live.Timestamp = m.Timestamp
	}

	s.mu.Lock()
	if s.tornDownLocked() {
		s.mu.Unlock()
		return
	}
	added := s.timeline.Merge(live)
	s.mu.Unlock()
	if added > 0 {
		s.notify()
	}
}

func (s *Synchronizer) onPresence(m realtime.PresenceMember) {
	s.mu.Lock()
	if s.tornDownLocked() {
		s.mu.Unlock()
		return
	}
	changed := s.roster.Apply(m)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Synchronizer) seedRoster(members []realtime.PresenceMember) {
	s.mu.Lock()
	if s.tornDownLocked() {
		s.mu.Unlock()
		return
	}
	for _, m := range members {
		if m.Action == "" {
			m.Action = realtime.PresencePresent
		}
		s.roster.Apply(m)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Synchronizer) setConnected(up bool) {
	s.mu.Lock()
	if s.tornDownLocked() || s.connected == up {
		s.mu.Unlock()
		return
	}
	s.connected = up
	s.mu.Unlock()
	s.notify()
}

// track keeps unsubscribe for Close, or runs it at once if Close has begun.
func (s *Synchronizer) track(unsubscribe func()) {
	s.mu.Lock()
	if s.tornDownLocked() {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubs = append(s.unsubs, unsubscribe)
	s.mu.Unlock()
}

func (s *Synchronizer) adopt(session Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDownLocked() {
		return false
	}
	s.session = session
	return true
}

func (s *Synchronizer) advance(from, to State) error {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = to
	s.mu.Unlock()
	s.notify()
	return nil
}

// fail logs and records err. Once Close has begun, failures are expected
// from the closing connection and are only logged at debug.
func (s *Synchronizer) fail(op string, err error) {
	s.mu.Lock()
	closing := s.tornDownLocked()
	s.mu.Unlock()
	if closing {
		s.log.Debug().Err(err).Str("op", op).Msg("Room operation failed after close")
		return
	}
	s.log.Error().Err(err).Str("op", op).Msg("Room operation failed")
	s.record(err)
}

func (s *Synchronizer) record(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.notify()
}

func (s *Synchronizer) tornDownLocked() bool {
	return s.state == StateClosing || s.state == StateClosed
}

func (s *Synchronizer) notify() {
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
}
