package creds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) SetJSON(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := json.Marshal(value)
	m.data[key] = string(b)
}

func (m *memStore) GetJSON(key string, dest any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

func TestTokenFetchesAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc123","expires_in":3600}`))
	}))
	defer srv.Close()

	store := newMemStore()
	svc := New(store, srv.URL, "key", "secret", "token_mock")

	tok, err := svc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	tok2, err := svc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "second call should hit the in-memory cache, not the endpoint")
}

func TestTokenMissingCredentials(t *testing.T) {
	svc := New(newMemStore(), "http://example.invalid", "", "", "token_mock")
	_, err := svc.Token(context.Background())
	assert.Error(t, err)
}

func TestTokenExpiresDtFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"xyz","expires_dt":"20991231235959"}`))
	}))
	defer srv.Close()

	svc := New(newMemStore(), srv.URL, "key", "secret", "token_real")
	tok, err := svc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer srv.Close()

	svc := New(newMemStore(), srv.URL, "key", "secret", "token_mock")
	_, err := svc.Token(context.Background())
	require.NoError(t, err)

	svc.Invalidate()
	_, err = svc.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestTokenEndpointFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	svc := New(newMemStore(), srv.URL, "key", "secret", "token_mock")
	_, err := svc.Token(context.Background())
	assert.Error(t, err)
}
