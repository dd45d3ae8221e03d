package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/logger"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram sends messages via the Bot API's sendMessage endpoint with
// parse_mode=HTML, matching test_telegram.py's request shape.
type Telegram struct {
	httpClient *http.Client
	apiBase    string // overridable in tests
	botToken   string
	chatID     string
}

// NewTelegram builds a Telegram notifier. botToken/chatID empty disables
// sending (Send becomes a no-op) so callers don't need to branch on
// config presence.
func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		apiBase:    telegramAPIBase,
		botToken:   botToken,
		chatID:     chatID,
	}
}

// Send posts message to the configured chat. Errors are returned to the
// caller (who is expected to log-and-swallow, per §7) rather than
// retried here.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	params := url.Values{
		"chat_id":    {t.chatID},
		"text":       {message},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warnf("notify: telegram returned %d", resp.StatusCode)
		return fmt.Errorf("notify: telegram status %d", resp.StatusCode)
	}
	return nil
}
