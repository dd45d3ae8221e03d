// Package config loads process-wide configuration from the environment
// (.env via godotenv, the way every repo in the retrieval pack does it) and
// then lets Store-persisted Settings override the env defaults, mirroring
// original_source/python/kiwoom/config.py's "DB > .env" priority.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/models"
)

// Env is the broker/vision/telegram/account configuration sourced from the
// environment. Two parallel sets (paper/real) exist because mock_trade
// routes to different broker endpoints and credentials.
type Env struct {
	DataDir string

	MockTrade bool
	DebugMode bool

	PaperHostURL   string
	PaperSocketURL string
	PaperAppKey    string
	PaperSecret    string
	PaperAccountNo string

	RealHostURL   string
	RealSocketURL string
	RealAppKey    string
	RealSecret    string
	RealAccountNo string

	VisionAPIKeys []string // comma-separated pool

	TelegramBotToken string
	TelegramChatID   string

	PresetsFile string // JSON array of models.StrategyPreset, optional
}

// Load reads .env (if present) and the process environment into an Env.
// Missing optional files are not an error — godotenv.Load fails silently
// when no .env exists.
func Load() Env {
	if err := godotenv.Load(); err != nil {
		logger.Debugf("no .env file loaded: %v", err)
	}

	e := Env{
		DataDir:   getEnv("DATA_DIR", "/data"),
		MockTrade: strToBool(getEnv("MOCK_TRADE", "true")),
		DebugMode: strToBool(getEnv("DEBUG_MODE", "false")),

		PaperHostURL:   os.Getenv("MOCK_KIWOOM_HOST_URL"),
		PaperSocketURL: os.Getenv("MOCK_KIWOOM_SOCKET_URL"),
		PaperAppKey:    os.Getenv("MOCK_KIWOOM_REST_API_KEY"),
		PaperSecret:    os.Getenv("MOCK_KIWOOM_SECRET"),
		PaperAccountNo: os.Getenv("MOCK_KIWOOM_ACCOUNT_NO"),

		RealHostURL:   os.Getenv("REAL_KIWOOM_HOST_URL"),
		RealSocketURL: os.Getenv("REAL_KIWOOM_SOCKET_URL"),
		RealAppKey:    os.Getenv("REAL_KIWOOM_REST_API_KEY"),
		RealSecret:    os.Getenv("REAL_KIWOOM_SECRET"),
		RealAccountNo: os.Getenv("REAL_KIWOOM_ACCOUNT_NO"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		PresetsFile: getEnv("STRATEGY_PRESETS_FILE", ""),
	}

	if pool := os.Getenv("VISION_API_KEYS"); pool != "" {
		for _, k := range strings.Split(pool, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				e.VisionAPIKeys = append(e.VisionAPIKeys, k)
			}
		}
	}

	return e
}

// HostURL returns the active broker REST base URL for the current mode.
func (e Env) HostURL() string {
	if e.MockTrade {
		return e.PaperHostURL
	}
	return e.RealHostURL
}

// SocketURL returns the active broker WebSocket URL for the current mode.
func (e Env) SocketURL() string {
	if e.MockTrade {
		return e.PaperSocketURL
	}
	return e.RealSocketURL
}

// AppKey and Secret return the active OAuth client credentials.
func (e Env) AppKey() string {
	if e.MockTrade {
		return e.PaperAppKey
	}
	return e.RealAppKey
}

func (e Env) Secret() string {
	if e.MockTrade {
		return e.PaperSecret
	}
	return e.RealSecret
}

func (e Env) AccountNo() string {
	if e.MockTrade {
		return e.PaperAccountNo
	}
	return e.RealAccountNo
}

// LoadPresets reads the optional Strategy Preset table from PresetsFile.
// A missing or empty path yields no presets; the scheduler rotation gate
// simply no-ops for any condition id without a matching preset, so this is
// safe to leave unconfigured outside of use_scheduler deployments.
func (e Env) LoadPresets() []models.StrategyPreset {
	if e.PresetsFile == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Clean(e.PresetsFile))
	if err != nil {
		logger.Warnf("config: no strategy presets loaded from %s: %v", e.PresetsFile, err)
		return nil
	}
	var presets []models.StrategyPreset
	if err := json.Unmarshal(data, &presets); err != nil {
		logger.Warnf("config: malformed strategy presets file %s: %v", e.PresetsFile, err)
		return nil
	}
	return presets
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func strToBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "t", "yes", "on":
		return true
	default:
		return false
	}
}
