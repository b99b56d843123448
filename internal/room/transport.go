package room

import (
	"context"

	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
)

// MessageStore is the durable history the room reads from and writes to.
type MessageStore interface {
	FetchRecentMessages(ctx context.Context, limit int) ([]*data.Message, error)
	// SaveChatMessage persists text as the signed-in user. An expired
	// session is reported as apperr.ErrUnauthorized.
	SaveChatMessage(ctx context.Context, text string) (*data.Message, error)
}

// Connector hands out the transport session for an identity and releases it.
type Connector interface {
	Connect(ctx context.Context, clientID string) (Session, error)
	Release() error
}

// Session is a transport connection bound to the room's channel.
type Session interface {
	Connected() bool
	OnConnectionChange(fn func(connected bool)) (unsubscribe func())
	SubscribeMessages(ctx context.Context, event string, fn func(realtime.Message)) (unsubscribe func(), err error)
	SubscribePresence(ctx context.Context, fn func(realtime.PresenceMember)) (unsubscribe func(), err error)
	PresenceMembers(ctx context.Context) ([]realtime.PresenceMember, error)
	EnterPresence(ctx context.Context, data PresenceData) error
	UpdatePresence(ctx context.Context, data PresenceData) error
	LeavePresence(ctx context.Context) error
	Publish(ctx context.Context, event string, data any) error
}

// BridgeConnector runs the room over a realtime.Bridge.
type BridgeConnector struct {
	bridge  *realtime.Bridge
	channel string
}

// NewBridgeConnector binds bridge connections to channel.
func NewBridgeConnector(bridge *realtime.Bridge, channel string) *BridgeConnector {
	return &BridgeConnector{bridge: bridge, channel: channel}
}

func (c *BridgeConnector) Connect(ctx context.Context, clientID string) (Session, error) {
	conn, err := c.bridge.Client(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &channelSession{conn: conn, ch: conn.Channel(c.channel)}, nil
}

func (c *BridgeConnector) Release() error {
	return c.bridge.Release()
}

type channelSession struct {
	conn *realtime.Conn
	ch   *realtime.Channel
}

func (s *channelSession) Connected() bool {
	return s.conn.State() == realtime.StateConnected
}

func (s *channelSession) OnConnectionChange(fn func(bool)) func() {
	return s.conn.OnStateChange(func(st realtime.ConnectionState) {
		fn(st == realtime.StateConnected)
	})
}

func (s *channelSession) SubscribeMessages(ctx context.Context, event string, fn func(realtime.Message)) (func(), error) {
	return s.ch.Subscribe(ctx, event, fn)
}

func (s *channelSession) SubscribePresence(ctx context.Context, fn func(realtime.PresenceMember)) (func(), error) {
	return s.ch.Presence().Subscribe(ctx, fn)
}

func (s *channelSession) PresenceMembers(ctx context.Context) ([]realtime.PresenceMember, error) {
	return s.ch.Presence().Get(ctx)
}

func (s *channelSession) EnterPresence(ctx context.Context, data PresenceData) error {
	return s.ch.Presence().Enter(ctx, data)
}

func (s *channelSession) UpdatePresence(ctx context.Context, data PresenceData) error {
	return s.ch.Presence().Update(ctx, data)
}

func (s *channelSession) LeavePresence(ctx context.Context) error {
	return s.ch.Presence().Leave(ctx)
}

func (s *channelSession) Publish(ctx context.Context, event string, data any) error {
	return s.ch.Publish(ctx, event, data)
}
