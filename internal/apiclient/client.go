// Package apiclient talks to the chat server's HTTP API on behalf of the
// terminal client. It keeps the session cookie in a jar, so every call after
// Login or Register runs as that user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
)

const defaultTimeout = 10 * time.Second

// Client is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

// New returns a client for the server at baseURL (e.g. http://localhost:8080).
func New(baseURL string, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	return &Client{
		base: u,
		http: &http.Client{Jar: jar, Timeout: defaultTimeout},
		log:  log,
	}, nil
}

// RealtimeURL is the broker websocket endpoint on the same host.
func (c *Client) RealtimeURL() string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	return u.String()
}

type userEnvelope struct {
	User *data.SessionUser `json:"user"`
}

// Register creates an account and signs in as it.
func (c *Client) Register(ctx context.Context, email, name, password string) (*data.SessionUser, error) {
	var out userEnvelope
	body := map[string]string{"email": email, "name": name, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Login signs in. Wrong credentials are apperr.ErrUnauthorized.
func (c *Client) Login(ctx context.Context, email, password string) (*data.SessionUser, error) {
	var out userEnvelope
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Logout clears the session on both ends.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Me returns the signed-in user, or apperr.ErrUnauthorized.
func (c *Client) Me(ctx context.Context) (*data.SessionUser, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, apperr.ErrUnauthorized
	}
	return out.User, nil
}

// FetchRecentMessages returns up to limit messages, oldest first.
func (c *Client) FetchRecentMessages(ctx context.Context, limit int) ([]*data.Message, error) {
	var out struct {
		Messages []*data.Message `json:"messages"`
	}
	path := "/messages?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SaveChatMessage persists text as the signed-in user.
func (c *Client) SaveChatMessage(ctx context.Context, text string) (*data.Message, error) {
	var out struct {
		Message *data.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// RealtimeCredential requests a broker credential for clientID.
func (c *Client) RealtimeCredential(ctx context.Context, clientID string) (*realtime.Credential, error) {
	var cred realtime.Credential
	path := "/realtime-auth?clientId=" + url.QueryEscape(clientID)
	if err := c.do(ctx, http.MethodGet, path, nil, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path %q: %w", path, err)
	}
	target := c.base.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, ref.Path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, ref.Path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Transient(method+" "+ref.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Transient("read "+ref.Path, err)
	}

	if resp.StatusCode >= 300 {
		err := statusError(resp.StatusCode, raw)
		c.log.Debug().
			Str("method", method).
			Str("path", ref.Path).
			Int("status", resp.StatusCode).
			Err(err).
			Msg("API request failed")
		return err
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, ref.Path, err)
	}
	return nil
}

// statusError turns a non-2xx response into the apperr taxonomy.
func statusError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusBadRequest:
		return apperr.Validation("", msg)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", msg, apperr.ErrUnauthorized)
	case status == http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, apperr.ErrForbidden)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, apperr.ErrNotFound)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, apperr.ErrDuplicateEmail)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", msg, apperr.ErrRateLimited)
	case status == http.StatusInternalServerError && strings.EqualFold(msg, "Server misconfiguration"):
		return fmt.Errorf("%s: %w", msg, apperr.ErrMisconfigured)
	case status >= 500:
		return apperr.Transient("server", errors.New(msg))
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg)
	}
}
