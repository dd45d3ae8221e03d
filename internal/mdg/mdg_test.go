package mdg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwoom-bot/daytrader/internal/models"
)

type fakeTokens struct{}

func (fakeTokens) Token(ctx context.Context) (string, error) { return "tok", nil }
func (fakeTokens) Invalidate()                               {}

func TestNormalizeCondID(t *testing.T) {
	assert.Equal(t, "0", normalizeCondID("0"))
	assert.Equal(t, "3", normalizeCondID("03"))
	assert.Equal(t, "abc", normalizeCondID("abc"))
}

func TestHandleConditionList(t *testing.T) {
	g := New("ws://example.invalid", fakeTokens{})
	g.handleConditionList(map[string]any{
		"data": []any{
			[]any{"0", "golden-cross"},
			[]any{"1", "pullback"},
		},
	})
	name, ok := g.ConditionName("0")
	require.True(t, ok)
	assert.Equal(t, "golden-cross", name)
}

func TestHandleConditionHitStripsExchangePrefixAndParsesPrice(t *testing.T) {
	g := New("ws://example.invalid", fakeTokens{})
	g.handleConditionHit("0", map[string]string{
		"9001": "A005930",
		"843":  "I",
		"9007": "0",
		"10":   "+70000",
	})

	select {
	case ev := <-g.ConditionEvents():
		assert.Equal(t, "005930", ev.Code)
		assert.Equal(t, models.ConditionInsert, ev.Type)
		assert.Equal(t, "0", ev.ScannerID)
		assert.Equal(t, 70000.0, ev.Price)
	default:
		t.Fatal("expected a condition event")
	}
}

func TestHandleRealDispatchesAccountAndTick(t *testing.T) {
	g := New("ws://example.invalid", fakeTokens{})
	g.handleReal(map[string]any{
		"data": []any{
			map[string]any{"item": "", "type": "00", "values": map[string]any{"913": "filled"}},
			map[string]any{"item": "005930", "type": "10", "values": map[string]any{"10": "71000"}},
		},
	})

	select {
	case acc := <-g.AccountEvents():
		assert.Equal(t, "00", acc.Type)
		assert.Equal(t, "filled", acc.Values["913"])
	default:
		t.Fatal("expected an account event")
	}

	select {
	case tick := <-g.Ticks():
		assert.Equal(t, "005930", tick.Code)
		assert.Equal(t, "71000", tick.Values["10"])
	default:
		t.Fatal("expected a tick event")
	}
}

func TestLatestSnapshotPopulatedByTicksAndAccountEvents(t *testing.T) {
	g := New("ws://example.invalid", fakeTokens{})
	g.handleReal(map[string]any{
		"data": []any{
			map[string]any{"item": "", "type": "00", "values": map[string]any{"913": "filled"}},
			map[string]any{"item": "005930", "type": "0B", "values": map[string]any{"10": "71000"}},
		},
	})
	<-g.AccountEvents()
	<-g.Ticks()

	snap, ok := g.Latest("005930", "0B")
	require.True(t, ok)
	assert.Equal(t, "71000", snap["10"])

	acc, ok := g.Latest("ACCOUNT_00", "00")
	require.True(t, ok)
	assert.Equal(t, "filled", acc["913"])

	_, ok = g.Latest("005930", "99")
	assert.False(t, ok)
}

func TestSubscriptionBookkeeping(t *testing.T) {
	g := New("ws://example.invalid", fakeTokens{})
	g.AddSubscription("005930", "0B")
	g.mu.Lock()
	_, ok := g.subs[Subscription{Code: "005930", Type: "0B"}]
	g.mu.Unlock()
	assert.True(t, ok)

	g.RemoveSubscription("005930", "0B")
	g.mu.Lock()
	_, ok = g.subs[Subscription{Code: "005930", Type: "0B"}]
	g.mu.Unlock()
	assert.False(t, ok)
}
