package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
)

// Channel operations granted by a credential.
const (
	OpPublish   = "publish"
	OpSubscribe = "subscribe"
	OpPresence  = "presence"
)

// CredentialTTL is how long an issued channel credential stays valid.
const CredentialTTL = time.Hour

// Credential lets one client id connect to the broker with the listed
// per-channel capabilities.
type Credential struct {
	Token      string              `json:"token"`
	ClientID   string              `json:"clientId"`
	Capability map[string][]string `json:"capability"`
	Expires    time.Time           `json:"expires"`
}

// Can reports whether the credential allows op on channel. A "*" channel
// entry applies to every channel.
func (c *Credential) Can(channel, op string) bool {
	for _, key := range []string{channel, "*"} {
		for _, granted := range c.Capability[key] {
			if granted == op || granted == "*" {
				return true
			}
		}
	}
	return false
}

type credentialClaims struct {
	ClientID   string              `json:"clientId"`
	Capability map[string][]string `json:"capability"`
	jwt.RegisteredClaims
}

// Issuer signs channel credentials with the realtime service key.
type Issuer struct {
	key     []byte
	channel string
	ttl     time.Duration
	now     func() time.Time
}

// NewIssuer returns an issuer scoped to channel. A missing apiKey does not
// fail here; every issue and verify call reports apperr.ErrMisconfigured
// instead so the endpoint fails closed.
func NewIssuer(apiKey, channel string) *Issuer {
	return &Issuer{
		key:     []byte(apiKey),
		channel: channel,
		ttl:     CredentialTTL,
		now:     time.Now,
	}
}

// Channel is the channel credentials are scoped to.
func (i *Issuer) Channel() string {
	return i.channel
}

// IssueChannelAuth issues a credential for identity. requestedClientID may be
// empty; any other value must equal identity.
func (i *Issuer) IssueChannelAuth(identity, requestedClientID string) (*Credential, error) {
	if len(i.key) == 0 {
		return nil, fmt.Errorf("realtime service key: %w", apperr.ErrMisconfigured)
	}
	if identity == "" {
		return nil, apperr.ErrUnauthorized
	}
	if requestedClientID != "" && requestedClientID != identity {
		return nil, fmt.Errorf("client id %q for identity %q: %w", requestedClientID, identity, apperr.ErrForbidden)
	}

	issuedAt := i.now()
	expires := issuedAt.Add(i.ttl)
	capability := map[string][]string{
		i.channel: {OpPublish, OpSubscribe, OpPresence},
	}

	claims := credentialClaims{
		ClientID:   identity,
		Capability: capability,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign channel credential: %w", err)
	}

	return &Credential{
		Token:      token,
		ClientID:   identity,
		Capability: capability,
		Expires:    expires,
	}, nil
}

// Verify parses a credential token issued by IssueChannelAuth.
func (i *Issuer) Verify(token string) (*Credential, error) {
	if len(i.key) == 0 {
		return nil, fmt.Errorf("realtime service key: %w", apperr.ErrMisconfigured)
	}
	if token == "" {
		return nil, fmt.Errorf("missing credential: %w", apperr.ErrUnauthorized)
	}

	claims := &credentialClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w: %w", apperr.ErrUnauthorized, err)
	}
	if claims.ClientID == "" {
		return nil, fmt.Errorf("credential has no client id: %w", apperr.ErrUnauthorized)
	}

	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return &Credential{
		Token:      token,
		ClientID:   claims.ClientID,
		Capability: claims.Capability,
		Expires:    expires,
	}, nil
}

var errNotPermitted = errors.New("operation not permitted by credential")
