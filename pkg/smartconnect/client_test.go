package smartconnect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testSecret = "JBSWY3DPEHPK3PXP"

// fakeAPI serves login and candle routes. The first candle call after a login
// can be made to fail with an expired token.
type fakeAPI struct {
	logins    atomic.Int32
	candles   atomic.Int32
	expireOne atomic.Bool
	lastBody  map[string]string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(routeLogin, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["clientcode"] != "C1" || len(body["totp"]) != 6 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"status":false,"message":"Invalid totp","errorcode":"AB1050","data":null}`))
			return
		}
		n := f.logins.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"status": true, "message": "SUCCESS",
			"data": map[string]string{"jwtToken": "jwt-" + string(rune('0'+n)), "refreshToken": "r", "feedToken": "f"},
		})
	})
	mux.HandleFunc(routeCandles, func(w http.ResponseWriter, r *http.Request) {
		f.candles.Add(1)
		if r.Header.Get("X-PrivateKey") != "key" {
			t.Errorf("missing api key header")
		}
		if f.expireOne.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"status":false,"message":"Invalid Token","errorcode":"AG8001","data":null}`))
			return
		}
		if r.Header.Get("Authorization") == "" {
			t.Errorf("candle request without bearer token")
		}
		json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":[
			["2026-10-19T09:15:00+05:30",1600.0,1601.5,1599.0,1600.5,1200],
			["2026-10-19T09:16:00+05:30",1600.5,1602.0,1600.0,1601.25,900]
		]}`))
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "key", RootURL: srv.URL, HTTPClient: srv.Client()}), api
}

func TestLoginAndCandles(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	if err := c.Login(ctx, Credentials{ClientCode: "C1", Password: "1234", TOTPSecret: testSecret}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.AccessToken() != "jwt-1" || c.FeedToken() != "f" {
		t.Fatalf("tokens not stored: %q %q", c.AccessToken(), c.FeedToken())
	}

	ist := time.FixedZone("IST", 5*3600+30*60)
	from := time.Date(2026, 10, 19, 9, 15, 0, 0, ist)
	candles, err := c.GetCandleData(ctx, CandleRequest{
		Exchange: "NSE", SymbolToken: "1333", Interval: OneMinute,
		From: from.UTC(), To: from.Add(time.Hour).UTC(),
	})
	if err != nil {
		t.Fatalf("GetCandleData: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if candles[1].Close != 1601.25 || candles[1].Timestamp != "2026-10-19T09:16:00+05:30" {
		t.Errorf("second candle = %+v", candles[1])
	}
	if api.lastBody["fromdate"] != "2026-10-19 09:15" || api.lastBody["todate"] != "2026-10-19 10:15" {
		t.Errorf("dates sent in wrong zone/format: %v", api.lastBody)
	}
}

func TestCandles_ReloginOnExpiredToken(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()
	if err := c.Login(ctx, Credentials{ClientCode: "C1", Password: "1234", TOTPSecret: testSecret}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	api.expireOne.Store(true)
	candles, err := c.GetCandleData(ctx, CandleRequest{Exchange: "NSE", SymbolToken: "1333", Interval: OneMinute})
	if err != nil {
		t.Fatalf("GetCandleData after expiry: %v", err)
	}
	if len(candles) != 2 {
		t.Errorf("got %d candles", len(candles))
	}
	if got := api.logins.Load(); got != 2 {
		t.Errorf("logins = %d, want 2", got)
	}
	if got := api.candles.Load(); got != 2 {
		t.Errorf("candle calls = %d, want 2", got)
	}
}

func TestCandles_ExpiredWithoutCredentials(t *testing.T) {
	c, api := newTestClient(t)
	api.expireOne.Store(true)

	_, err := c.GetCandleData(context.Background(), CandleRequest{Exchange: "NSE", SymbolToken: "1333", Interval: OneMinute})
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestLogin_Rejected(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.Login(context.Background(), Credentials{ClientCode: "nobody", Password: "x", TOTPSecret: testSecret})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.ErrorCode != "AB1050" || errors.Is(err, ErrTokenExpired) {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestInterval(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1m", OneMinute, true},
		{"1h", OneHour, true},
		{"FIVE_MINUTE", FiveMinute, true},
		{"2m", "", false},
	}
	for _, tt := range tests {
		got, err := Interval(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("Interval(%q) = %q, %v", tt.in, got, err)
		}
	}
}
