package room

import (
	"sort"

	"github.com/PaulBabatuyi/amana-chat/internal/data"
)

// LiveMessage is the payload of a chat-message event and the unit the
// timeline holds. History rows are converted to the same shape.
type LiveMessage struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// FromStored converts a persisted message.
func FromStored(m *data.Message) LiveMessage {
	return LiveMessage{
		MessageID: m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Text:      m.Text,
		Timestamp: m.CreatedAt.UnixMilli(),
	}
}

// Timeline is an ordered set of messages keyed by id.
type Timeline struct {
	ids   map[string]struct{}
	items []LiveMessage
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[string]struct{})}
}

// Merge inserts every message whose id is not already present, keeping the
// timeline sorted by timestamp. Messages with equal timestamps keep arrival
// order. It returns the number of messages added.
func (t *Timeline) Merge(msgs ...LiveMessage) int {
	added := 0
	for _, m := range msgs {
		if m.MessageID == "" {
			continue
		}
		if _, ok := t.ids[m.MessageID]; ok {
			continue
		}
		t.ids[m.MessageID] = struct{}{}

		i := sort.Search(len(t.items), func(i int) bool {
			return t.items[i].Timestamp > m.Timestamp
		})
		t.items = append(t.items, LiveMessage{})
		copy(t.items[i+1:], t.items[i:])
		t.items[i] = m
		added++
	}
	return added
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.items) }

// Messages returns a copy of the timeline, oldest first.
func (t *Timeline) Messages() []LiveMessage {
	out := make([]LiveMessage, len(t.items))
	copy(out, t.items)
	return out
}
