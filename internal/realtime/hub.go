package realtime

import (
	"sort"
	"sync"
	"time"
)

// Sender is what the hub needs from an attached connection: the ability to
// queue a frame for delivery.
type Sender interface {
	Send(*Frame) error
}

// Hub tracks which connections are attached to which channels and who is
// present on them. Deliveries are best effort: a connection whose Send fails
// is detached so it cannot stall later fan-outs.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*topic
	now      func() time.Time
}

type topic struct {
	subscribers map[string]Sender
	members     map[string]PresenceMember
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]*topic),
		now:      time.Now,
	}
}

func (h *Hub) topicLocked(channel string) *topic {
	t, ok := h.channels[channel]
	if !ok {
		t = &topic{
			subscribers: make(map[string]Sender),
			members:     make(map[string]PresenceMember),
		}
		h.channels[channel] = t
	}
	return t
}

// Attach subscribes connID to every message and presence event on channel.
// Attaching twice is a no-op.
func (h *Hub) Attach(channel, connID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topicLocked(channel).subscribers[connID] = s
}

// Detach removes connID from channel. A presence entry held by the connection
// is dropped and announced as a leave to the remaining subscribers.
func (h *Hub) Detach(channel, connID string) {
	h.mu.Lock()
	t, ok := h.channels[channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(t.subscribers, connID)
	member, present := t.members[connID]
	delete(t.members, connID)
	if len(t.subscribers) == 0 && len(t.members) == 0 {
		delete(h.channels, channel)
	}
	h.mu.Unlock()

	if present {
		member.Action = PresenceLeave
		member.Timestamp = h.now().UnixMilli()
		presenceMembers.WithLabelValues(channel).Dec()
		h.broadcast(channel, presenceFrame(channel, member))
	}
}

// Disconnect detaches connID from every channel it is attached to.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	var joined []string
	for name, t := range h.channels {
		_, sub := t.subscribers[connID]
		_, member := t.members[connID]
		if sub || member {
			joined = append(joined, name)
		}
	}
	h.mu.RUnlock()

	for _, name := range joined {
		h.Detach(name, connID)
	}
}

// Publish fans msg out to every connection attached to channel, the
// publisher included.
func (h *Hub) Publish(channel string, msg Message) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = h.now().UnixMilli()
	}
	messagesPublished.WithLabelValues(channel, msg.Name).Inc()
	return h.broadcast(channel, msg.frame(channel))
}

// Enter records m as present on channel. A connection that is already
// present is treated as an update.
func (h *Hub) Enter(channel string, m PresenceMember) {
	h.setPresence(channel, m, PresenceEnter)
}

// Update replaces the data of m's presence entry, entering if needed.
func (h *Hub) Update(channel string, m PresenceMember) {
	h.setPresence(channel, m, PresenceUpdate)
}

func (h *Hub) setPresence(channel string, m PresenceMember, action string) {
	m.Timestamp = h.now().UnixMilli()

	h.mu.Lock()
	t := h.topicLocked(channel)
	_, existed := t.members[m.ConnectionID]
	switch {
	case existed:
		action = PresenceUpdate
	case action == PresenceUpdate:
		action = PresenceEnter
	}
	m.Action = PresencePresent
	t.members[m.ConnectionID] = m
	h.mu.Unlock()

	if !existed {
		presenceMembers.WithLabelValues(channel).Inc()
	}
	m.Action = action
	h.broadcast(channel, presenceFrame(channel, m))
}

// Leave removes connID's presence entry. It reports whether one existed.
func (h *Hub) Leave(channel, connID string) bool {
	h.mu.Lock()
	t, ok := h.channels[channel]
	if !ok {
		h.mu.Unlock()
		return false
	}
	member, present := t.members[connID]
	delete(t.members, connID)
	h.mu.Unlock()

	if !present {
		return false
	}
	member.Action = PresenceLeave
	member.Timestamp = h.now().UnixMilli()
	presenceMembers.WithLabelValues(channel).Dec()
	h.broadcast(channel, presenceFrame(channel, member))
	return true
}

// Members returns the current presence set ordered by client id and then
// connection id.
func (h *Hub) Members(channel string) []PresenceMember {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.channels[channel]
	if !ok {
		return []PresenceMember{}
	}
	out := make([]PresenceMember, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// broadcast sends f to every subscriber of channel and returns the first
// delivery error. Failed subscribers are detached after the fan-out.
func (h *Hub) broadcast(channel string, f *Frame) error {
	h.mu.RLock()
	t, ok := h.channels[channel]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	targets := make(map[string]Sender, len(t.subscribers))
	for id, s := range t.subscribers {
		targets[id] = s
	}
	h.mu.RUnlock()

	var firstErr error
	var failedIDs []string
	for id, s := range targets {
		if err := s.Send(f); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}

	for _, id := range failedIDs {
		deliveryFailures.Inc()
		h.Detach(channel, id)
	}
	return firstErr
}

func presenceFrame(channel string, m PresenceMember) *Frame {
	return &Frame{
		Action:       ActionPresence,
		Channel:      channel,
		ClientID:     m.ClientID,
		ConnectionID: m.ConnectionID,
		Timestamp:    m.Timestamp,
		Member:       &m,
	}
}
