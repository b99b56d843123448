package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/amana-chat/internal/apiclient"
	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/auth"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/data/sqlstore"
	"github.com/PaulBabatuyi/amana-chat/internal/middleware"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
	"github.com/PaulBabatuyi/amana-chat/internal/room"
)

type testApp struct {
	url   string
	app   *Server
	store *sqlstore.Store
}

type appOptions struct {
	realtimeKey string
	rpm, burst  int
}

func newTestApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := auth.NewTokenManager("test-secret", auth.SessionMaxAge)
	require.NoError(t, err)

	if opts.rpm == 0 {
		opts.rpm, opts.burst = 1000, 1000
	}
	limiter := middleware.NewLimiterStore(opts.rpm, opts.burst, time.Minute)
	t.Cleanup(limiter.Stop)

	issuer := realtime.NewIssuer(opts.realtimeKey, "global-chat")
	broker := realtime.NewServer(realtime.NewHub(), issuer, zerolog.Nop())
	sessions := auth.NewSessionManager(tokens, store, false)

	app := newServer(store, store, sessions, issuer, broker, limiter, "amana-chat-test")
	srv := httptest.NewServer(app.routes())
	t.Cleanup(srv.Close)

	return &testApp{url: srv.URL, app: app, store: store}
}

// browser is a cookie-keeping HTTP client.
func browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func call(t *testing.T, c *http.Client, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func register(email, name, password string) map[string]string {
	return map[string]string{"email": email, "name": name, "password": password}
}

func TestAuthFlow(t *testing.T) {
	ta := newTestApp(t, appOptions{realtimeKey: "k"})
	c := browser(t)

	status, body := call(t, c, http.MethodGet, ta.url+"/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "user")
	assert.Nil(t, body["user"])

	status, body = call(t, c, http.MethodPost, ta.url+"/auth/register", register(" Alice@Example.com ", "  Alice ", "secret123"))
	require.Equal(t, http.StatusCreated, status)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "Alice", user["name"])
	assert.NotContains(t, user, "passwordHash")

	status, body = call(t, c, http.MethodGet, ta.url+"/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, user["id"], body["user"].(map[string]any)["id"])

	status, body = call(t, c, http.MethodPost, ta.url+"/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = call(t, c, http.MethodGet, ta.url+"/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// logout without a session still succeeds
	status, _ = call(t, c, http.MethodPost, ta.url+"/auth/logout", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = call(t, c, http.MethodPost, ta.url+"/auth/login", map[string]string{"email": "ALICE@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, user["id"], body["user"].(map[string]any)["id"])

	status, _ = call(t, c, http.MethodGet, ta.url+"/auth/me", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSessionCookieAttributes(t *testing.T) {
	ta := newTestApp(t, appOptions{})

	buf, _ := json.Marshal(register("bob@example.com", "Bob", "secret123"))
	resp, err := http.Post(ta.url+"/auth/register", "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer resp.Body.Close()

	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.SessionCookieName {
			session = ck
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, "/", session.Path)
	assert.Equal(t, int(auth.SessionMaxAge/time.Second), session.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)
}

func TestRegisterValidation(t *testing.T) {
	ta := newTestApp(t, appOptions{})

	tests := []struct {
		name string
		body map[string]string
		want string
	}{
		{"missing email", register("", "Al", "secret123"), "Email is required"},
		{"bad email", register("not-an-email", "Al", "secret123"), "Please provide a valid email address"},
		{"long email", register("user@"+strings.Repeat("abcdefghij.", 25)+"io", "Al", "secret123"), "Email is too long"},
		{"short password", register("a@x.io", "Al", "short"), "Password must be at least 8 characters"},
		{"long password", register("a@x.io", "Al", strings.Repeat("p", 73)), "Password must be 72 characters or fewer"},
		{"short name after trim", register("a@x.io", "  A  ", "secret123"), "Name must be at least 2 characters"},
		{"long name", register("a@x.io", strings.Repeat("n", 51), "secret123"), "Name must be 50 characters or fewer"},
		{"first failing rule wins", register("", "", ""), "Email is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, browser(t), http.MethodPost, ta.url+"/auth/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.want, body["error"])
		})
	}

	status, body := call(t, browser(t), http.MethodPost, ta.url+"/auth/register", "not an object")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request body", body["error"])
}

func TestRegisterMultibytePassword(t *testing.T) {
	ta := newTestApp(t, appOptions{})
	// 40 characters but 80 bytes
	password := strings.Repeat("é", 40)

	status, body := call(t, browser(t), http.MethodPost, ta.url+"/auth/register", register("accent@example.com", "Élodie", password))
	require.Equal(t, http.StatusCreated, status, body)

	status, _ = call(t, browser(t), http.MethodPost, ta.url+"/auth/login", map[string]string{"email": "accent@example.com", "password": password})
	assert.Equal(t, http.StatusOK, status)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ta := newTestApp(t, appOptions{})

	status, _ := call(t, browser(t), http.MethodPost, ta.url+"/auth/register", register("dup@example.com", "First", "secret123"))
	require.Equal(t, http.StatusCreated, status)

	status, body := call(t, browser(t), http.MethodPost, ta.url+"/auth/register", register("DUP@example.com ", "Second", "secret456"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Email already registered", body["error"])
}

func TestLoginDoesNotRevealWhichPartFailed(t *testing.T) {
	ta := newTestApp(t, appOptions{})
	status, _ := call(t, browser(t), http.MethodPost, ta.url+"/auth/register", register("carol@example.com", "Carol", "secret123"))
	require.Equal(t, http.StatusCreated, status)

	c := browser(t)
	s1, wrongPass := call(t, c, http.MethodPost, ta.url+"/auth/login", map[string]string{"email": "carol@example.com", "password": "wrong-pass"})
	s2, unknown := call(t, c, http.MethodPost, ta.url+"/auth/login", map[string]string{"email": "nobody@example.com", "password": "secret123"})

	assert.Equal(t, http.StatusUnauthorized, s1)
	assert.Equal(t, http.StatusUnauthorized, s2)
	assert.Equal(t, "Invalid email or password", wrongPass["error"])
	assert.Equal(t, wrongPass, unknown)

	status, _ = call(t, c, http.MethodGet, ta.url+"/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMessagesRequireSession(t *testing.T) {
	ta := newTestApp(t, appOptions{})
	c := browser(t)

	status, _ := call(t, c, http.MethodGet, ta.url+"/messages", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, c, http.MethodPost, ta.url+"/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, c, http.MethodGet, ta.url+"/realtime-auth", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMessages(t *testing.T) {
	ta := newTestApp(t, appOptions{})
	c := browser(t)

	status, body := call(t, c, http.MethodPost, ta.url+"/auth/register", register("dan@example.com", "Dan", "secret123"))
	require.Equal(t, http.StatusCreated, status)
	userID := body["user"].(map[string]any)["id"]

	status, body = call(t, c, http.MethodGet, ta.url+"/messages", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["messages"])

	status, body = call(t, c, http.MethodPost, ta.url+"/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Message cannot be empty", body["error"])

	status, body = call(t, c, http.MethodPost, ta.url+"/messages", map[string]string{"text": strings.Repeat("x", 1001)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Message must be 1000 characters or fewer", body["error"])

	for _, text := range []string{" first ", "<b>second</b>", "third"} {
		status, body = call(t, c, http.MethodPost, ta.url+"/messages", map[string]string{"text": text})
		require.Equal(t, http.StatusCreated, status)
		msg := body["message"].(map[string]any)
		assert.Equal(t, userID, msg["userId"])
		assert.Equal(t, "Dan", msg["username"])
	}

	status, body = call(t, c, http.MethodGet, ta.url+"/messages?limit=abc", nil)
	require.Equal(t, http.StatusOK, status)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].(map[string]any)["text"])
	assert.Equal(t, "<b>second</b>", msgs[1].(map[string]any)["text"])
	assert.Equal(t, "third", msgs[2].(map[string]any)["text"])

	status, body = call(t, c, http.MethodGet, ta.url+"/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	msgs = body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "<b>second</b>", msgs[0].(map[string]any)["text"])

	status, body = call(t, c, http.MethodGet, ta.url+"/messages?limit=0", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["messages"].([]any), 1)
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int{
		"":     data.DefaultHistoryLimit,
		"abc":  data.DefaultHistoryLimit,
		"1.5":  data.DefaultHistoryLimit,
		"10":   10,
		"0":    1,
		"-4":   1,
		"5000": data.MaxHistoryLimit,
	}
	for raw, want := range tests {
		assert.Equal(t, want, parseLimit(raw), "limit=%q", raw)
	}
}

func TestRealtimeAuth(t *testing.T) {
	ta := newTestApp(t, appOptions{realtimeKey: "service-key"})
	c := browser(t)

	status, body := call(t, c, http.MethodPost, ta.url+"/auth/register", register("erin@example.com", "Erin", "secret123"))
	require.Equal(t, http.StatusCreated, status)
	userID := body["user"].(map[string]any)["id"].(string)

	status, body = call(t, c, http.MethodGet, ta.url+"/realtime-auth?clientId="+userID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, userID, body["clientId"])
	assert.NotEmpty(t, body["token"])

	status, body = call(t, c, http.MethodGet, ta.url+"/realtime-auth", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, userID, body["clientId"])

	status, body = call(t, c, http.MethodGet, ta.url+"/realtime-auth?clientId=someone-else", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Forbidden", body["error"])
}

func TestRealtimeAuthMisconfigured(t *testing.T) {
	ta := newTestApp(t, appOptions{realtimeKey: ""})
	c := browser(t)

	status, _ := call(t, c, http.MethodPost, ta.url+"/auth/register", register("fay@example.com", "Fay", "secret123"))
	require.Equal(t, http.StatusCreated, status)

	status, body := call(t, c, http.MethodGet, ta.url+"/realtime-auth", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Server misconfiguration", body["error"])
}

func TestLoginRateLimited(t *testing.T) {
	ta := newTestApp(t, appOptions{rpm: 1, burst: 2})
	c := browser(t)
	creds := map[string]string{"email": "gus@example.com", "password": "secret123"}

	for i := 0; i < 2; i++ {
		status, _ := call(t, c, http.MethodPost, ta.url+"/auth/login", creds)
		require.Equal(t, http.StatusUnauthorized, status)
	}
	status, _ := call(t, c, http.MethodPost, ta.url+"/auth/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestReadinessAndMetrics(t *testing.T) {
	ta := newTestApp(t, appOptions{})
	c := browser(t)

	status, _ := call(t, c, http.MethodGet, ta.url+"/health", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, c, http.MethodGet, ta.url+"/ready", nil)
	assert.Equal(t, http.StatusOK, status)

	ta.app.isShuttingDown.Store(true)
	status, body := call(t, c, http.MethodGet, ta.url+"/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "shutting_down", body["status"])
	status, _ = call(t, c, http.MethodGet, ta.url+"/health", nil)
	assert.Equal(t, http.StatusOK, status)

	resp, err := c.Get(ta.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRealtimeEndpointRejectsBadCredential(t *testing.T) {
	ta := newTestApp(t, appOptions{realtimeKey: "service-key"})

	resp, err := http.Get(ta.url + "/realtime?token=forged")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestChatOverHTTP runs two terminal-client rooms against the full server.
func TestChatOverHTTP(t *testing.T) {
	ta := newTestApp(t, appOptions{realtimeKey: "service-key"})
	ctx := context.Background()

	join := func(email, name string) (*room.Synchronizer, *apiclient.Client) {
		client, err := apiclient.New(ta.url, zerolog.Nop())
		require.NoError(t, err)
		user, err := client.Register(ctx, email, name, "secret123")
		require.NoError(t, err)

		bridge := realtime.NewBridge(client.RealtimeURL(), client, zerolog.Nop())
		s := room.New(room.Config{
			Identity:  room.Identity{ID: user.ID, Name: user.Name},
			Store:     client,
			Connector: room.NewBridgeConnector(bridge, "global-chat"),
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, s.Mount(ctx))
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s, client
	}

	alice, aliceClient := join("alice@example.com", "Alice")
	bob, _ := join("bob@example.com", "Bob")

	require.Eventually(t, func() bool {
		return len(alice.Snapshot().Members) == 2 && len(bob.Snapshot().Members) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Send(ctx, "  hi bob  "))
	require.Eventually(t, func() bool {
		msgs := bob.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Text == "hi bob" && msgs[0].Username == "Alice"
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := ta.store.FetchRecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, bob.Snapshot().Messages[0].MessageID, stored[0].ID)

	// an expired session surfaces as a reauthentication request
	require.NoError(t, aliceClient.Logout(ctx))
	err = alice.Send(ctx, "after logout")
	assert.ErrorIs(t, err, room.ErrReauthenticate)
	_, err = aliceClient.Me(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
