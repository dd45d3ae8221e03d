// Package creds manages the broker's OAuth2 client-credentials token: it
// fetches, caches in Store, and transparently refreshes the bearer token
// used by every REST call. Grounded on
// original_source/python/kiwoom/login.py's fn_au10001/load_token_from_db/
// save_token_to_db flow, reworked into a single-flight Go service the way
// SynapseStrike/trader/alpaca_trader.go shapes its doRequest auth plumbing.
package creds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kiwoom-bot/daytrader/internal/logger"
)

// expiryBuffer mirrors the Python implementation's 10 minute safety margin:
// a cached token within this window of expiring is treated as already dead.
const expiryBuffer = 10 * time.Minute

// defaultTTL is used when the token endpoint's response carries neither
// expires_in nor expires_dt.
const defaultTTL = 24 * time.Hour

// tokenRecord is the cached shape, stored verbatim in Store's kv table.
type tokenRecord struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"` // "2006-01-02 15:04:05"
}

// TokenStore is the subset of store.Store a Service needs, kept as an
// interface so tests can supply an in-memory stand-in.
type TokenStore interface {
	SetJSON(key string, value any)
	GetJSON(key string, dest any) bool
}

// Service obtains and caches a single account's bearer token.
type Service struct {
	httpClient *http.Client
	store      TokenStore

	hostURL   string
	appKey    string
	secret    string
	cacheKey  string // "token_mock" or "token_real"

	mu          sync.Mutex
	cachedToken string
	cachedExp   time.Time
}

// New builds a Service for one account. cacheKey should be "token_mock" for
// paper trading and "token_real" for live, matching the two independent
// caches the original bot keeps so switching MOCK_TRADE never reuses a
// stale token from the other mode.
func New(store TokenStore, hostURL, appKey, secret, cacheKey string) *Service {
	return &Service{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		store:      store,
		hostURL:    hostURL,
		appKey:     appKey,
		secret:     secret,
		cacheKey:   cacheKey,
	}
}

// Token returns a valid bearer token, fetching a fresh one if the cached
// copy is missing, expired, or within expiryBuffer of expiring. Concurrent
// callers serialize on the single mutex so only one refresh request is ever
// in flight.
func (s *Service) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedToken == "" {
		s.loadFromStoreLocked()
	}
	if s.cachedToken != "" && time.Now().Before(s.cachedExp.Add(-expiryBuffer)) {
		return s.cachedToken, nil
	}

	return s.refreshLocked(ctx)
}

// Invalidate drops the cached token, forcing the next Token call to fetch a
// fresh one. Called by restclient after a 401/403 response.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedToken = ""
	s.cachedExp = time.Time{}
	s.store.SetJSON(s.cacheKey, tokenRecord{})
}

func (s *Service) loadFromStoreLocked() {
	var rec tokenRecord
	if !s.store.GetJSON(s.cacheKey, &rec) || rec.Token == "" {
		return
	}
	exp, err := time.ParseInLocation("2006-01-02 15:04:05", rec.ExpiresAt, time.Local)
	if err != nil {
		return
	}
	s.cachedToken = rec.Token
	s.cachedExp = exp
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	ExpiresIn   any    `json:"expires_in"` // number or numeric string
	ExpiresDt   string `json:"expires_dt"` // "20060102150405"
}

// refreshLocked calls the broker's OAuth endpoint. Caller must hold s.mu.
func (s *Service) refreshLocked(ctx context.Context) (string, error) {
	if s.appKey == "" || s.secret == "" {
		return "", fmt.Errorf("creds: app key or secret not configured")
	}

	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     s.appKey,
		"secretkey":  s.secret,
	})
	if err != nil {
		return "", fmt.Errorf("creds: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hostURL+"/oauth2/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creds: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("creds: token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("creds: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Errorf("creds: token endpoint status %d: %s", resp.StatusCode, string(raw))
		return "", fmt.Errorf("creds: token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("creds: decode response: %w", err)
	}

	token := tr.AccessToken
	if token == "" {
		token = tr.Token
	}
	if token == "" {
		return "", fmt.Errorf("creds: response carried neither access_token nor token")
	}

	exp := resolveExpiry(tr, token)

	s.cachedToken = token
	s.cachedExp = exp
	s.store.SetJSON(s.cacheKey, tokenRecord{
		Token:     token,
		ExpiresAt: exp.Format("2006-01-02 15:04:05"),
	})
	logger.Infof("creds: new token issued, expires %s", exp.Format(time.RFC3339))
	return token, nil
}

// resolveExpiry applies the fallback chain original_source/login.py uses:
// expires_in (seconds, int or numeric string) first, then expires_dt
// ("20060102150405"), then a locally-decoded JWT exp claim, then
// defaultTTL.
func resolveExpiry(tr tokenResponse, token string) time.Time {
	now := time.Now()

	switch v := tr.ExpiresIn.(type) {
	case float64:
		return now.Add(time.Duration(v) * time.Second)
	case string:
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	if tr.ExpiresDt != "" {
		if t, err := time.ParseInLocation("20060102150405", tr.ExpiresDt, time.Local); err == nil {
			return t
		}
		logger.Warnf("creds: unparseable expires_dt %q, falling back", tr.ExpiresDt)
	}

	if exp, ok := expFromJWT(token); ok {
		return exp
	}

	return now.Add(defaultTTL)
}

// expFromJWT opportunistically decodes an unverified JWT's exp claim. The
// broker's bearer token is opaque in the common case; this only kicks in
// when the token happens to be a JWT and the endpoint omitted both expiry
// fields.
func expFromJWT(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	expVal, err := claims.GetExpirationTime()
	if err != nil || expVal == nil {
		return time.Time{}, false
	}
	return expVal.Time, true
}
