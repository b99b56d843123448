package realtime

import (
	"context"
	"sync"
)

// Channel is a client handle for one broker channel. The channel attaches
// on the first subscribe.
type Channel struct {
	conn *Conn
	name string

	mu          sync.Mutex
	attached    bool
	nextID      int
	messageSubs map[int]messageSub
	presenceSub map[int]func(PresenceMember)
}

type messageSub struct {
	event string
	fn    func(Message)
}

func newChannel(c *Conn, name string) *Channel {
	return &Channel{
		conn:        c,
		name:        name,
		messageSubs: make(map[int]messageSub),
		presenceSub: make(map[int]func(PresenceMember)),
	}
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// Attach subscribes the connection to the channel's events.
func (ch *Channel) Attach(ctx context.Context) error {
	ch.mu.Lock()
	attached := ch.attached
	ch.mu.Unlock()
	if attached {
		return nil
	}

	if _, err := ch.conn.request(ctx, &Frame{Action: ActionAttach, Channel: ch.name}); err != nil {
		return err
	}
	ch.mu.Lock()
	ch.attached = true
	ch.mu.Unlock()
	return nil
}

// Detach stops delivery of the channel's events and drops any presence the
// connection holds on it.
func (ch *Channel) Detach(ctx context.Context) error {
	ch.mu.Lock()
	ch.attached = false
	ch.mu.Unlock()
	_, err := ch.conn.request(ctx, &Frame{Action: ActionDetach, Channel: ch.name})
	return err
}

// Subscribe delivers messages published under event to fn. An empty event
// matches every message. The returned function removes the listener.
func (ch *Channel) Subscribe(ctx context.Context, event string, fn func(Message)) (unsubscribe func(), err error) {
	ch.mu.Lock()
	id := ch.nextID
	ch.nextID++
	ch.messageSubs[id] = messageSub{event: event, fn: fn}
	ch.mu.Unlock()

	unsubscribe = func() {
		ch.mu.Lock()
		delete(ch.messageSubs, id)
		ch.mu.Unlock()
	}
	if err := ch.Attach(ctx); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

// Publish sends data under event to every attached connection.
func (ch *Channel) Publish(ctx context.Context, event string, data any) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	_, err = ch.conn.request(ctx, &Frame{Action: ActionPublish, Channel: ch.name, Name: event, Data: raw})
	return err
}

// Presence returns the presence API of the channel.
func (ch *Channel) Presence() *Presence {
	return &Presence{ch: ch}
}

func (ch *Channel) deliverMessage(m Message) {
	ch.mu.Lock()
	var fns []func(Message)
	for _, s := range ch.messageSubs {
		if s.event == "" || s.event == m.Name {
			fns = append(fns, s.fn)
		}
	}
	ch.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

func (ch *Channel) deliverPresence(m PresenceMember) {
	ch.mu.Lock()
	fns := make([]func(PresenceMember), 0, len(ch.presenceSub))
	for _, fn := range ch.presenceSub {
		fns = append(fns, fn)
	}
	ch.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

// Presence enters, updates and leaves the connection's presence on a channel
// and observes other members.
type Presence struct {
	ch *Channel
}

// Enter announces the connection as present with data.
func (p *Presence) Enter(ctx context.Context, data any) error {
	return p.send(ctx, ActionPresenceEnter, data)
}

// Update replaces the connection's presence data.
func (p *Presence) Update(ctx context.Context, data any) error {
	return p.send(ctx, ActionPresenceUpdate, data)
}

// Leave removes the connection's presence entry.
func (p *Presence) Leave(ctx context.Context) error {
	return p.send(ctx, ActionPresenceLeave, nil)
}

func (p *Presence) send(ctx context.Context, action string, data any) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	_, err = p.ch.conn.request(ctx, &Frame{Action: action, Channel: p.ch.name, Data: raw})
	return err
}

// Get returns the members currently present on the channel.
func (p *Presence) Get(ctx context.Context) ([]PresenceMember, error) {
	reply, err := p.ch.conn.request(ctx, &Frame{Action: ActionPresenceGet, Channel: p.ch.name})
	if err != nil {
		return nil, err
	}
	if reply.Members == nil {
		return []PresenceMember{}, nil
	}
	return reply.Members, nil
}

// Subscribe delivers enter, update and leave events to fn. The returned
// function removes the listener.
func (p *Presence) Subscribe(ctx context.Context, fn func(PresenceMember)) (unsubscribe func(), err error) {
	ch := p.ch
	ch.mu.Lock()
	id := ch.nextID
	ch.nextID++
	ch.presenceSub[id] = fn
	ch.mu.Unlock()

	unsubscribe = func() {
		ch.mu.Lock()
		delete(ch.presenceSub, id)
		ch.mu.Unlock()
	}
	if err := ch.Attach(ctx); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}
