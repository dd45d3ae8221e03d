// Package mdg is the Market Data Gateway: the WebSocket connection manager
// for the broker's real-time feed. It owns the login handshake, the
// subscription registry (re-applied on every reconnect), a 5s ping
// heartbeat, and demuxes incoming frames into three typed streams —
// condition-hit events, per-symbol tick snapshots, and account/fill
// events.
//
// Grounded on original_source/python/kiwoom/websocket_manager.py's
// KiwoomWebSocketManager, translated from its asyncio task-group shape
// into goroutines + channels the way SynapseStrike structures its
// long-running component loops (stop channel + sync.WaitGroup).
package mdg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/models"
)

// State is the gateway's connection lifecycle.
type State string

const (
	StateDisconnected  State = "DISCONNECTED"
	StateAuthenticating State = "AUTHENTICATING"
	StateActive        State = "ACTIVE"
)

// TokenSource supplies the bearer token used for the LOGIN frame and can
// be told to drop a stale one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Subscription is one active item/type registration, re-sent on reconnect.
type Subscription struct {
	Code string // "" for an account-wide subscription
	Type string // real-time field-group code, e.g. "0B", "00", "04"
}

// TickUpdate is one decoded REAL frame entry for a subscribed symbol.
type TickUpdate struct {
	Code   string
	Type   string
	Values map[string]string
}

// AccountEvent is a decoded fill/order-status push (data type "00"/"04"
// with an empty item code).
type AccountEvent struct {
	Type   string
	Values map[string]string
}

// Gateway manages one WebSocket connection to the broker's real-time feed.
type Gateway struct {
	url    string
	tokens TokenSource

	mu            sync.Mutex
	state         State
	subs          map[Subscription]struct{}
	conditionName map[string]string // scanner id -> name, from CNSRLST
	lastCondIdx   string            // re-requested automatically after reconnect

	conditionEvents chan models.ConditionEvent
	ticks           chan TickUpdate
	accountEvents   chan AccountEvent
	commands        chan command

	latestMu sync.RWMutex
	latest   map[string]map[string]string // "{code}_{type}" -> field values

	dialer *websocket.Dialer
}

type commandKind int

const (
	cmdAdd commandKind = iota
	cmdRemove
	cmdRequestCondition
)

type command struct {
	kind    commandKind
	sub     Subscription
	condIdx string
}

// New builds a Gateway. url is the broker's WebSocket endpoint.
func New(url string, tokens TokenSource) *Gateway {
	return &Gateway{
		url:             url,
		tokens:          tokens,
		state:           StateDisconnected,
		subs:            map[Subscription]struct{}{},
		conditionName:   map[string]string{},
		conditionEvents: make(chan models.ConditionEvent, 256),
		ticks:           make(chan TickUpdate, 1024),
		accountEvents:   make(chan AccountEvent, 256),
		commands:        make(chan command, 64),
		latest:          map[string]map[string]string{},
		dialer:          &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// ConditionEvents returns the channel of scanner hit/miss events.
func (g *Gateway) ConditionEvents() <-chan models.ConditionEvent { return g.conditionEvents }

// Ticks returns the channel of per-symbol real-time field updates.
func (g *Gateway) Ticks() <-chan TickUpdate { return g.ticks }

// AccountEvents returns the channel of fill/order-status pushes.
func (g *Gateway) AccountEvents() <-chan AccountEvent { return g.accountEvents }

// Latest returns the most recent field snapshot pulled under key
// "{code}_{type}", for consumers that poll instead of reading the tick
// channel (the Position Manager's "0B then 00 fallback" price lookup).
func (g *Gateway) Latest(code, subType string) (map[string]string, bool) {
	g.latestMu.RLock()
	defer g.latestMu.RUnlock()
	v, ok := g.latest[code+"_"+subType]
	return v, ok
}

func (g *Gateway) setLatest(code, subType string, values map[string]string) {
	g.latestMu.Lock()
	defer g.latestMu.Unlock()
	g.latest[code+"_"+subType] = values
}

// State reports the current connection lifecycle state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// AddSubscription registers a symbol/type pair, applied immediately if
// connected and replayed on every future reconnect.
func (g *Gateway) AddSubscription(code, subType string) {
	sub := Subscription{Code: code, Type: subType}
	g.mu.Lock()
	g.subs[sub] = struct{}{}
	g.mu.Unlock()
	select {
	case g.commands <- command{kind: cmdAdd, sub: sub}:
	default:
		logger.Warnf("mdg: command queue full, dropping add subscription %s/%s", code, subType)
	}
}

// RemoveSubscription unregisters a symbol/type pair.
func (g *Gateway) RemoveSubscription(code, subType string) {
	sub := Subscription{Code: code, Type: subType}
	g.mu.Lock()
	delete(g.subs, sub)
	g.mu.Unlock()
	select {
	case g.commands <- command{kind: cmdRemove, sub: sub}:
	default:
		logger.Warnf("mdg: command queue full, dropping remove subscription %s/%s", code, subType)
	}
}

// RequestConditionSnapshot asks the broker to push the current members of
// scanner condIdx (a CNSRREQ), and remembers condIdx so it's re-requested
// automatically after a reconnect.
func (g *Gateway) RequestConditionSnapshot(condIdx string) {
	select {
	case g.commands <- command{kind: cmdRequestCondition, condIdx: condIdx}:
	default:
		logger.Warnf("mdg: command queue full, dropping condition request %s", condIdx)
	}
}

// ConditionName returns the human-readable name for a scanner id, if the
// broker has pushed a CNSRLST frame naming it.
func (g *Gateway) ConditionName(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.conditionName[id]
	return name, ok
}

// Run drives the connect/listen/reconnect loop until ctx is cancelled.
// Every disconnect (including a login failure) is followed by a 5s pause
// before the next attempt, per §7's WebSocket disconnect policy.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.setState(StateDisconnected)
			return
		default:
		}

		if err := g.runOnce(ctx); err != nil {
			logger.Warnf("mdg: connection attempt failed: %v", err)
		}
		g.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (g *Gateway) runOnce(ctx context.Context) error {
	g.setState(StateAuthenticating)

	tokenCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	token, err := g.tokens.Token(tokenCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("mdg: token acquisition: %w", err)
	}

	conn, _, err := g.dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("mdg: dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"trnm": "LOGIN", "token": token}); err != nil {
		return fmt.Errorf("mdg: send login: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); g.readLoop(runCtx, conn, cancelRun) }()
	go func() { defer wg.Done(); g.writeLoop(runCtx, conn) }()
	go func() { defer wg.Done(); g.pingLoop(runCtx, conn) }()
	wg.Wait()

	return nil
}

func (g *Gateway) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				logger.Warnf("mdg: ping failed: %v", err)
				return
			}
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-g.commands:
			g.applyCommand(ctx, conn, cmd)
		}
	}
}

func (g *Gateway) applyCommand(ctx context.Context, conn *websocket.Conn, cmd command) {
	switch cmd.kind {
	case cmdAdd:
		g.sendSubscribe(conn, []Subscription{cmd.sub}, "2")
	case cmdRemove:
		g.sendUnsubscribe(conn, []Subscription{cmd.sub})
	case cmdRequestCondition:
		g.mu.Lock()
		g.lastCondIdx = cmd.condIdx
		g.mu.Unlock()
		g.sendConditionRequest(conn, cmd.condIdx)
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, stop func()) {
	defer stop()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Warnf("mdg: read error: %v", err)
			return
		}
		g.handleFrame(ctx, conn, raw)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, conn *websocket.Conn, raw []byte) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	trnm, _ := frame["trnm"].(string)

	switch trnm {
	case "LOGIN":
		g.handleLogin(conn, frame)
	case "CNSRLST":
		g.handleConditionList(frame)
	case "CNSRREQ":
		g.handleConditionSnapshot(frame)
	case "REAL":
		g.handleReal(frame)
	case "PING":
		_ = conn.WriteJSON(map[string]any{"trnm": "PONG"})
	}
}

func (g *Gateway) handleLogin(conn *websocket.Conn, frame map[string]any) {
	code := asFloat(frame["return_code"])
	if code != 0 {
		logger.Warnf("mdg: login rejected: %v", frame["return_msg"])
		g.tokens.Invalidate()
		_ = conn.Close()
		return
	}

	g.setState(StateActive)
	logger.Infof("mdg: login accepted, resubscribing")

	g.mu.Lock()
	subs := make([]Subscription, 0, len(g.subs))
	for s := range g.subs {
		subs = append(subs, s)
	}
	condIdx := g.lastCondIdx
	g.mu.Unlock()

	g.requestConditionList(conn)
	if len(subs) > 0 {
		g.sendSubscribe(conn, subs, "2")
	}
	if condIdx != "" {
		g.sendConditionRequest(conn, condIdx)
	}
}

func (g *Gateway) requestConditionList(conn *websocket.Conn) {
	_ = conn.WriteJSON(map[string]any{"trnm": "CNSRLST"})
}

func (g *Gateway) sendSubscribe(conn *websocket.Conn, subs []Subscription, grpNo string) {
	if len(subs) == 0 {
		return
	}
	data := make([]map[string]any, 0, len(subs))
	for _, s := range subs {
		data = append(data, map[string]any{"item": []string{s.Code}, "type": []string{s.Type}})
	}
	_ = conn.WriteJSON(map[string]any{"trnm": "REG", "grp_no": grpNo, "refresh": "1", "data": data})
}

func (g *Gateway) sendUnsubscribe(conn *websocket.Conn, subs []Subscription) {
	if len(subs) == 0 {
		return
	}
	data := make([]map[string]any, 0, len(subs))
	for _, s := range subs {
		data = append(data, map[string]any{"item": []string{s.Code}, "type": []string{s.Type}})
	}
	_ = conn.WriteJSON(map[string]any{"trnm": "REMOVE", "grp_no": "2", "data": data})
}

func (g *Gateway) sendConditionRequest(conn *websocket.Conn, condIdx string) {
	_ = conn.WriteJSON(map[string]any{"trnm": "CNSRREQ", "seq": condIdx, "search_type": "1", "stex_tp": "K"})
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
