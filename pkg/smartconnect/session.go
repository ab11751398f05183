package smartconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

// Credentials are what a password+TOTP login needs. TOTPSecret is the base32
// seed shown when the authenticator was enrolled.
type Credentials struct {
	ClientCode string
	Password   string
	TOTPSecret string
}

// Session is the token set returned by a successful login.
type Session struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// GenerateSession logs in with an already computed TOTP code.
func (c *Client) GenerateSession(ctx context.Context, clientCode, password, code string) (*Session, error) {
	data, err := c.post(ctx, routeLogin, map[string]string{
		"clientcode": clientCode,
		"password":   password,
		"totp":       code,
	})
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", clientCode, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("login %s: unexpected response: %w", clientCode, err)
	}
	if s.JWTToken == "" {
		return nil, fmt.Errorf("login %s: empty jwt token", clientCode)
	}
	c.setTokens(s.JWTToken, s.RefreshToken, s.FeedToken)
	return &s, nil
}

// Login generates the current TOTP code from creds and opens a session. The
// credentials are remembered so an expired token can be renewed transparently.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	code, err := totp.GenerateCode(creds.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}
	if _, err := c.GenerateSession(ctx, creds.ClientCode, creds.Password, code); err != nil {
		return err
	}
	c.mu.Lock()
	cp := creds
	c.creds = &cp
	c.mu.Unlock()
	return nil
}

// relogin renews the session unless another goroutine already did so after
// stale was observed.
func (c *Client) relogin(ctx context.Context, stale string) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.mu.RLock()
	creds := c.creds
	current := c.accessToken
	c.mu.RUnlock()

	if current != stale {
		return nil
	}
	if creds == nil {
		return ErrTokenExpired
	}
	return c.Login(ctx, *creds)
}

// TerminateSession logs the client code out and clears local tokens.
func (c *Client) TerminateSession(ctx context.Context, clientCode string) error {
	_, err := c.post(ctx, routeLogout, map[string]string{"clientcode": clientCode})
	c.setTokens("", "", "")
	return err
}

// withSession runs call, renewing the session once on token expiry.
func (c *Client) withSession(ctx context.Context, call func() error) error {
	tok := c.AccessToken()
	err := call()
	if !errors.Is(err, ErrTokenExpired) {
		return err
	}
	if lerr := c.relogin(ctx, tok); lerr != nil {
		return fmt.Errorf("%w (relogin: %v)", err, lerr)
	}
	return call()
}
