package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestSafeInt(t *testing.T) {
	assert.Equal(t, int64(0), SafeInt(nil))
	assert.Equal(t, int64(1234), SafeInt("1,234"))
	assert.Equal(t, int64(5), SafeInt("+5"))
	assert.Equal(t, int64(-5), SafeInt("-5"))
	assert.Equal(t, int64(0), SafeInt("not-a-number"))
	assert.Equal(t, int64(7), SafeInt(float64(7)))
}

func TestRouteEndpoint(t *testing.T) {
	assert.Equal(t, "/api/dostk/ordr", routeEndpoint("kt10000"))
	assert.Equal(t, "/api/dostk/ordr", routeEndpoint("kt5000abc"))
	assert.Equal(t, "/api/dostk/acnt", routeEndpoint("kt00018"))
	assert.Equal(t, "/api/dostk/acnt", routeEndpoint("ka10075"))
	assert.Equal(t, "/api/dostk/chart", routeEndpoint("ka10080"))
	assert.Equal(t, "/api/dostk/stkinfo", routeEndpoint("ka10001"))
	assert.Equal(t, "/api/dostk/mrkcond", routeEndpoint("ka10004"))
	assert.Equal(t, "/api/dostk/acnt", routeEndpoint("ka10074"))
	assert.Equal(t, "/api/dostk/stkinfo", routeEndpoint("unknown"))
}

type fakeTokens struct {
	invalidated int32
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) { return "tok", nil }
func (f *fakeTokens) Invalidate()                               { atomic.AddInt32(&f.invalidated, 1) }

func TestCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("authorization"))
		assert.Equal(t, "kt00018", r.Header.Get("api-id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tot_pur_amt":"1,000,000"}`))
	}))
	defer srv.Close()

	c := New(&fakeTokens{}, srv.URL, "123", true)
	data, _, err := c.Call(context.Background(), "kt00018", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), SafeInt(data["tot_pur_amt"]))
}

func TestCallRetriesOn401ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ord_no":"123"}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	c := New(tokens, srv.URL, "123", true)

	data, _, err := c.Call(context.Background(), "kt10000", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "123", data["ord_no"])
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokens.invalidated))
}

func TestGetMinuteChartStopsOnMissingContinuation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("cont-yn", "N")
		_, _ = w.Write([]byte(`{"stk_min_pole_chart_qry":[{"cur_prc":"100"}]}`))
	}))
	defer srv.Close()

	c := New(&fakeTokens{}, srv.URL, "123", true)
	rows, err := c.GetMinuteChart(context.Background(), "005930", "3")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRateLimiterWaitsAtLeastMinInterval(t *testing.T) {
	rl := newRateLimiter()
	rl.minInterval = 30 * time.Millisecond
	rl.currentInterval = rl.minInterval
	rl.limiter.SetLimit(rate.Every(rl.minInterval))

	start := time.Now()
	rl.wait(context.Background())
	rl.wait(context.Background())
	assert.True(t, time.Since(start) >= rl.minInterval)
}

func TestRateLimiterReport429WidensInterval(t *testing.T) {
	rl := newRateLimiter()
	before := rl.currentInterval

	after := rl.report429()

	assert.Greater(t, after, before)
	assert.LessOrEqual(t, after, rl.maxInterval)
}

func TestRateLimiterReportSuccessDecaysTowardMin(t *testing.T) {
	rl := newRateLimiter()
	rl.currentInterval = rl.maxInterval

	rl.reportSuccess()

	assert.Less(t, rl.currentInterval, rl.maxInterval)
	assert.GreaterOrEqual(t, rl.currentInterval, rl.minInterval)
}
