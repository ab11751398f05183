// Package smartconnect is a minimal Angel One SmartAPI client: password+TOTP
// login and historical candle retrieval.
//
// Usage:
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: "your_api_key"})
//	if err := sc.Login(ctx, smartconnect.Credentials{ClientCode: "C1", Password: "pin", TOTPSecret: "BASE32"}); err != nil {
//	    log.Fatal(err)
//	}
//	candles, err := sc.GetCandleData(ctx, smartconnect.CandleRequest{
//	    Exchange: "NSE", SymbolToken: "1333", Interval: smartconnect.OneMinute,
//	    From: time.Now().Add(-24 * time.Hour), To: time.Now(),
//	})
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey  string
	RootURL string        // default: https://apiconnect.angelone.in
	Timeout time.Duration // default: 7s

	Accept         string // default: application/json
	UserType       string // default: USER
	SourceID       string // default: WEB
	ClientPublicIP string // default: ClientLocalIP
	ClientLocalIP  string // default resolved, else 127.0.0.1
	ClientMAC      string // default from interface MAC

	// HTTPClient overrides the default transport (tests).
	HTTPClient *http.Client
}

// Client talks to the SmartAPI REST endpoints. Safe for concurrent use; the
// session tokens are guarded by mu.
type Client struct {
	apiKey  string
	rootURL string

	httpClient *http.Client

	accept         string
	userType       string
	sourceID       string
	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	creds        *Credentials

	// loginMu serialises re-logins so a burst of expired-token failures
	// produces a single new session.
	loginMu sync.Mutex
}

const defaultRoot = "https://apiconnect.angelone.in"

const (
	routeLogin   = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeLogout  = "/rest/secure/angelbroking/user/v1/logout"
	routeCandles = "/rest/secure/angelbroking/historical/v1/getCandleData"
)

// ErrTokenExpired is returned when the API rejects the session token.
var ErrTokenExpired = errors.New("smartconnect: session token expired")

// APIError is a non-success SmartAPI response.
type APIError struct {
	HTTPStatus int
	ErrorCode  string
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	code := e.ErrorCode
	if code == "" {
		code = e.ErrorType
	}
	return fmt.Sprintf("smartconnect: %s (%s, http %d)", e.Message, code, e.HTTPStatus)
}

// Is lets errors.Is(err, ErrTokenExpired) match token rejections.
func (e *APIError) Is(target error) bool {
	if target != ErrTokenExpired {
		return false
	}
	switch e.ErrorCode {
	case "AG8001", "AG8002", "AG8003":
		return true
	}
	return e.ErrorType == "TokenException"
}

// New builds a client with SmartAPI defaults filled in.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = localIP()
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = cfg.ClientLocalIP
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}

	return &Client{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		httpClient:     hc,
		accept:         cfg.Accept,
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", c.accept)
	h.Set("Accept", c.accept)
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", c.userType)
	h.Set("X-SourceID", c.sourceID)
	if tok := c.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// envelope is the common SmartAPI response shape.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// post sends a JSON body and returns the data member of a successful response.
func (c *Client) post(ctx context.Context, route string, params any) (json.RawMessage, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL+route, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header = c.requestHeaders()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smartconnect: POST %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("smartconnect: read %s: %w", route, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{HTTPStatus: resp.StatusCode, Message: "couldn't parse JSON response: " + truncate(string(raw), 120)}
	}
	if !env.Status || env.ErrorType != "" || resp.StatusCode >= 400 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{
			HTTPStatus: resp.StatusCode,
			ErrorCode:  env.ErrorCode,
			ErrorType:  env.ErrorType,
			Message:    msg,
		}
	}
	return env.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ---- Session tokens ----

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

func (c *Client) setTokens(jwt, refresh, feed string) {
	c.mu.Lock()
	c.accessToken = jwt
	c.refreshToken = refresh
	c.feedToken = feed
	c.mu.Unlock()
}
