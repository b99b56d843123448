package room

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
)

// recorder keeps the order of external calls across the fakes.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recorder) count(op string) int {
	n := 0
	for _, o := range r.list() {
		if o == op {
			n++
		}
	}
	return n
}

func (r *recorder) index(op string) int {
	for i, o := range r.list() {
		if o == op {
			return i
		}
	}
	return -1
}

type fakeStore struct {
	rec      *recorder
	history  []*data.Message
	fetchErr error
	saveErr  error
	// gate, when set, blocks FetchRecentMessages until closed.
	gate chan struct{}
	next int
}

func (f *fakeStore) FetchRecentMessages(_ context.Context, limit int) ([]*data.Message, error) {
	f.rec.add("fetch:" + strconv.Itoa(limit))
	if f.gate != nil {
		<-f.gate
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.history, nil
}

func (f *fakeStore) SaveChatMessage(_ context.Context, text string) (*data.Message, error) {
	f.rec.add("persist:" + text)
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.next++
	return &data.Message{
		ID:        fmt.Sprintf("saved-%d", f.next),
		UserID:    "alice-id",
		Username:  "Alice",
		Text:      text,
		CreatedAt: time.UnixMilli(int64(10_000 + f.next)),
	}, nil
}

type fakeConnector struct {
	rec        *recorder
	session    *fakeSession
	connectErr error
}

func (f *fakeConnector) Connect(_ context.Context, clientID string) (Session, error) {
	f.rec.add("connect:" + clientID)
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.session, nil
}

func (f *fakeConnector) Release() error {
	f.rec.add("release")
	return nil
}

type fakeSession struct {
	rec *recorder

	mu        sync.Mutex
	connected bool
	nextID    int
	stateFns  map[int]func(bool)
	msgFns    map[int]func(realtime.Message)
	presFns   map[int]func(realtime.PresenceMember)
	members   []realtime.PresenceMember

	getErr     error
	publishErr error
	leaveErr   error
	// onSubscribePresence, when set, runs first and the subscription then
	// fails with a closed connection.
	onSubscribePresence func()
}

func newFakeSession(rec *recorder) *fakeSession {
	return &fakeSession{
		rec:       rec,
		connected: true,
		stateFns:  map[int]func(bool){},
		msgFns:    map[int]func(realtime.Message){},
		presFns:   map[int]func(realtime.PresenceMember){},
	}
}

func (f *fakeSession) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) OnConnectionChange(fn func(bool)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.stateFns[id] = fn
	f.mu.Unlock()
	return func() {
		f.rec.add("unsubscribe:state")
		f.mu.Lock()
		delete(f.stateFns, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) SubscribeMessages(_ context.Context, event string, fn func(realtime.Message)) (func(), error) {
	f.rec.add("subscribe:" + event)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.msgFns[id] = fn
	f.mu.Unlock()
	return func() {
		f.rec.add("unsubscribe:messages")
		f.mu.Lock()
		delete(f.msgFns, id)
		f.mu.Unlock()
	}, nil
}

func (f *fakeSession) SubscribePresence(_ context.Context, fn func(realtime.PresenceMember)) (func(), error) {
	f.rec.add("subscribe:presence")
	if f.onSubscribePresence != nil {
		f.onSubscribePresence()
		return nil, realtime.ErrConnectionClosed
	}
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.presFns[id] = fn
	f.mu.Unlock()
	return func() {
		f.rec.add("unsubscribe:presence")
		f.mu.Lock()
		delete(f.presFns, id)
		f.mu.Unlock()
	}, nil
}

func (f *fakeSession) PresenceMembers(context.Context) ([]realtime.PresenceMember, error) {
	f.rec.add("presence:get")
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.members, nil
}

func (f *fakeSession) EnterPresence(_ context.Context, pd PresenceData) error {
	f.rec.add(fmt.Sprintf("enter:%s:%t", pd.Name, pd.Typing))
	return nil
}

func (f *fakeSession) UpdatePresence(_ context.Context, pd PresenceData) error {
	f.rec.add(fmt.Sprintf("update:typing=%t", pd.Typing))
	return nil
}

func (f *fakeSession) LeavePresence(context.Context) error {
	f.rec.add("leave")
	return f.leaveErr
}

func (f *fakeSession) Publish(_ context.Context, event string, payload any) error {
	lm := payload.(LiveMessage)
	f.rec.add("publish:" + event + ":" + lm.MessageID)
	return f.publishErr
}

// emitMessage delivers a live event to the current message listeners.
func (f *fakeSession) emitMessage(lm LiveMessage) {
	raw, _ := json.Marshal(lm)
	f.mu.Lock()
	var fns []func(realtime.Message)
	for _, fn := range f.msgFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(realtime.Message{Name: EventChatMessage, Data: raw, ClientID: lm.UserID, Timestamp: lm.Timestamp})
	}
}

func (f *fakeSession) emitPresence(m realtime.PresenceMember) {
	f.mu.Lock()
	var fns []func(realtime.PresenceMember)
	for _, fn := range f.presFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (f *fakeSession) setConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	var fns []func(bool)
	for _, fn := range f.stateFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(up)
	}
}

func (f *fakeSession) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stateFns) + len(f.msgFns) + len(f.presFns)
}

func presence(action, clientID, connID, name string, typing bool, ts int64) realtime.PresenceMember {
	raw, _ := json.Marshal(PresenceData{Name: name, Typing: typing})
	return realtime.PresenceMember{
		Action:       action,
		ClientID:     clientID,
		ConnectionID: connID,
		Data:         raw,
		Timestamp:    ts,
	}
}

func stored(id string, ms int64) *data.Message {
	return &data.Message{ID: id, UserID: "u-" + id, Username: "User " + id, Text: "text " + id, CreatedAt: time.UnixMilli(ms)}
}
