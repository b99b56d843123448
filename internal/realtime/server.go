package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	sendBufferSize = 256
)

var (
	errPeerClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Server upgrades credentialed requests to broker connections.
type Server struct {
	hub      *Hub
	issuer   *Issuer
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewServer returns an http.Handler serving the broker on hub. Connections
// authenticate with a ?token= credential from issuer.
func NewServer(hub *Hub, issuer *Issuer, log zerolog.Logger) *Server {
	return &Server{
		hub:    hub,
		issuer: issuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred, err := s.issuer.Verify(r.URL.Query().Get("token"))
	if err != nil {
		status := apperr.HTTPStatus(err)
		if errors.Is(err, apperr.ErrMisconfigured) {
			s.log.Error().Err(err).Bool("misconfigured", true).Msg("Realtime connection refused")
		} else {
			s.log.Debug().Err(err).Msg("Realtime credential rejected")
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	p := &peer{
		id:   uuid.NewString(),
		cred: cred,
		hub:  s.hub,
		ws:   ws,
		send: make(chan *Frame, sendBufferSize),
		done: make(chan struct{}),
	}
	p.log = s.log.With().Str("connection_id", p.id).Str("client_id", cred.ClientID).Logger()

	activeConnections.Inc()
	p.log.Debug().Msg("Realtime connection opened")

	_ = p.Send(&Frame{Action: ActionConnected, ClientID: cred.ClientID, ConnectionID: p.id})

	go p.writePump()
	go p.readPump()
}

// peer is the broker side of one websocket connection.
type peer struct {
	id   string
	cred *Credential
	hub  *Hub
	ws   *websocket.Conn
	log  zerolog.Logger

	send      chan *Frame
	done      chan struct{}
	closeOnce sync.Once
}

// Send queues f without blocking. A full buffer is reported so the hub drops
// the slow connection.
func (p *peer) Send(f *Frame) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.send <- f:
		return nil
	case <-p.done:
		return errPeerClosed
	default:
		p.close()
		return errSendBufferFull
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

func (p *peer) readPump() {
	defer func() {
		p.hub.Disconnect(p.id)
		p.close()
		activeConnections.Dec()
		p.log.Debug().Msg("Realtime connection closed")
	}()

	p.ws.SetReadLimit(maxFrameSize)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.log.Warn().Err(err).Msg("Websocket read error")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			p.log.Debug().Err(err).Msg("Dropping malformed frame")
			continue
		}
		p.handle(&f)
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case f := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			_ = p.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (p *peer) handle(f *Frame) {
	switch f.Action {
	case ActionAttach:
		if !p.cred.Can(f.Channel, OpSubscribe) {
			p.reject(f, errNotPermitted)
			return
		}
		p.hub.Attach(f.Channel, p.id, p)
		p.ack(f, nil)

	case ActionDetach:
		p.hub.Detach(f.Channel, p.id)
		p.ack(f, nil)

	case ActionPublish:
		if !p.cred.Can(f.Channel, OpPublish) {
			p.reject(f, errNotPermitted)
			return
		}
		// the publisher gets its ack before its own echo
		p.ack(f, nil)
		_ = p.hub.Publish(f.Channel, Message{
			Name:         f.Name,
			Data:         f.Data,
			ClientID:     p.cred.ClientID,
			ConnectionID: p.id,
		})

	case ActionPresenceEnter, ActionPresenceUpdate:
		if !p.cred.Can(f.Channel, OpPresence) {
			p.reject(f, errNotPermitted)
			return
		}
		p.hub.Attach(f.Channel, p.id, p)
		m := PresenceMember{ClientID: p.cred.ClientID, ConnectionID: p.id, Data: f.Data}
		p.ack(f, nil)
		if f.Action == ActionPresenceEnter {
			p.hub.Enter(f.Channel, m)
		} else {
			p.hub.Update(f.Channel, m)
		}

	case ActionPresenceLeave:
		p.ack(f, nil)
		p.hub.Leave(f.Channel, p.id)

	case ActionPresenceGet:
		if !p.cred.Can(f.Channel, OpSubscribe) && !p.cred.Can(f.Channel, OpPresence) {
			p.reject(f, errNotPermitted)
			return
		}
		p.ack(f, p.hub.Members(f.Channel))

	default:
		p.reject(f, errors.New("unknown action "+f.Action))
	}
}

func (p *peer) ack(f *Frame, members []PresenceMember) {
	if f.Ref == 0 {
		return
	}
	_ = p.Send(&Frame{Action: ActionAck, Ref: f.Ref, Channel: f.Channel, Members: members})
}

func (p *peer) reject(f *Frame, err error) {
	p.log.Debug().Err(err).Str("action", f.Action).Str("channel", f.Channel).Msg("Rejected frame")
	_ = p.Send(&Frame{Action: ActionError, Ref: f.Ref, Channel: f.Channel, Error: err.Error()})
}
