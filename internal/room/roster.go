package room

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
)

// departedTTL bounds how long a leave is remembered, in milliseconds. A
// snapshot older than that is long superseded by live events.
const departedTTL = 60_000

// PresenceData is what each member attaches to its presence entry.
type PresenceData struct {
	Name   string `json:"name"`
	Typing bool   `json:"typing"`
}

// Member is one identity in the roster, however many connections it has.
type Member struct {
	ClientID    string
	Name        string
	Typing      bool
	Connections int
}

// Roster collapses per-connection presence into one entry per client id.
// The newest data wins; the entry disappears with its last connection.
type Roster struct {
	entries map[string]*rosterEntry
	// departed holds the leave time per connection so a presence snapshot
	// fetched before the leave cannot resurrect it.
	departed map[string]int64
	log      zerolog.Logger
}

type rosterEntry struct {
	data    PresenceData
	updated int64
	conns   map[string]struct{}
}

// NewRoster returns an empty roster.
func NewRoster(log zerolog.Logger) *Roster {
	return &Roster{
		entries:  make(map[string]*rosterEntry),
		departed: make(map[string]int64),
		log:      log,
	}
}

// Apply folds one presence event or snapshot entry into the roster and
// reports whether the roster changed.
func (r *Roster) Apply(m realtime.PresenceMember) bool {
	if m.ClientID == "" {
		return false
	}

	if m.Action == realtime.PresenceLeave {
		if m.Timestamp > r.departed[m.ConnectionID] {
			r.departed[m.ConnectionID] = m.Timestamp
		}
		r.pruneDeparted(m.Timestamp)
		e, ok := r.entries[m.ClientID]
		if !ok {
			return false
		}
		if _, ok := e.conns[m.ConnectionID]; !ok {
			return false
		}
		delete(e.conns, m.ConnectionID)
		if len(e.conns) == 0 {
			delete(r.entries, m.ClientID)
		}
		return true
	}

	if left, ok := r.departed[m.ConnectionID]; ok && m.Timestamp <= left {
		return false
	}

	var pd PresenceData
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &pd); err != nil {
			r.log.Debug().Err(err).
				Str("client_id", m.ClientID).
				Str("connection_id", m.ConnectionID).
				Msg("Ignoring malformed presence data")
		}
	}

	e, ok := r.entries[m.ClientID]
	if !ok {
		e = &rosterEntry{conns: make(map[string]struct{})}
		r.entries[m.ClientID] = e
	}
	e.conns[m.ConnectionID] = struct{}{}
	if !ok || m.Timestamp >= e.updated {
		e.data = pd
		e.updated = m.Timestamp
	}
	return true
}

func (r *Roster) pruneDeparted(now int64) {
	for conn, left := range r.departed {
		if now-left > departedTTL {
			delete(r.departed, conn)
		}
	}
}

// Members returns the roster ordered by name, then client id.
func (r *Roster) Members() []Member {
	out := make([]Member, 0, len(r.entries))
	for id, e := range r.entries {
		name := e.data.Name
		if name == "" {
			name = id
		}
		out = append(out, Member{
			ClientID:    id,
			Name:        name,
			Typing:      e.data.Typing,
			Connections: len(e.conns),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}
