// Package realtime is the pub/sub transport behind the chat room: a channel
// credential issuer, an in-process websocket broker with presence, and the
// client connection the room synchronizer runs on.
package realtime

import "encoding/json"

// Frame actions. Requests sent by clients carry a Ref and are answered with
// an ack or an error frame holding the same Ref.
const (
	ActionConnected      = "connected"
	ActionAttach         = "attach"
	ActionDetach         = "detach"
	ActionPublish        = "publish"
	ActionMessage        = "message"
	ActionPresenceEnter  = "presence.enter"
	ActionPresenceUpdate = "presence.update"
	ActionPresenceLeave  = "presence.leave"
	ActionPresenceGet    = "presence.get"
	ActionPresence       = "presence"
	ActionAck            = "ack"
	ActionError          = "error"
)

// Presence member actions.
const (
	PresenceEnter   = "enter"
	PresenceUpdate  = "update"
	PresenceLeave   = "leave"
	PresencePresent = "present"
)

// Frame is the single JSON envelope exchanged over the websocket.
type Frame struct {
	Action       string           `json:"action"`
	Ref          uint64           `json:"ref,omitempty"`
	Channel      string           `json:"channel,omitempty"`
	Name         string           `json:"name,omitempty"`
	Data         json.RawMessage  `json:"data,omitempty"`
	ClientID     string           `json:"clientId,omitempty"`
	ConnectionID string           `json:"connectionId,omitempty"`
	Timestamp    int64            `json:"timestamp,omitempty"`
	Member       *PresenceMember  `json:"member,omitempty"`
	Members      []PresenceMember `json:"members,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// PresenceMember is one connection's presence on a channel. Data is opaque
// to the broker.
type PresenceMember struct {
	Action       string          `json:"action,omitempty"`
	ClientID     string          `json:"clientId"`
	ConnectionID string          `json:"connectionId"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// Message is a published channel message as delivered to subscribers.
type Message struct {
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data,omitempty"`
	ClientID     string          `json:"clientId"`
	ConnectionID string          `json:"connectionId"`
	Timestamp    int64           `json:"timestamp"`
}

func (m Message) frame(channel string) *Frame {
	return &Frame{
		Action:       ActionMessage,
		Channel:      channel,
		Name:         m.Name,
		Data:         m.Data,
		ClientID:     m.ClientID,
		ConnectionID: m.ConnectionID,
		Timestamp:    m.Timestamp,
	}
}

func messageFromFrame(f *Frame) Message {
	return Message{
		Name:         f.Name,
		Data:         f.Data,
		ClientID:     f.ClientID,
		ConnectionID: f.ConnectionID,
		Timestamp:    f.Timestamp,
	}
}
