package config

import (
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	// InitialFEN overrides the standard starting position for decode runs.
	InitialFEN string

	// ConfidenceThreshold is the soft-review cutoff for accepted moves.
	ConfidenceThreshold float64

	// TagMapFile optionally overrides the embedded tag table.
	TagMapFile string

	// DebugDir, when set, receives occupancy maps, diff heatmaps and
	// per-move board renders.
	DebugDir string

	// Prefetch bounds the grid normalization read-ahead queue.
	Prefetch int

	ListenAddr string

	RedisURL    string
	DatabaseURL string

	// WebhookURL receives correction opened/resolved events.
	WebhookURL     string
	WebhookHeaders map[string]string
}

// Load reads configuration from the environment. Everything has a usable
// default; serve mode only needs OTBRECON_LISTEN_ADDR when the default
// port is taken.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ConfidenceThreshold: 0.6,
		Prefetch:            8,
		ListenAddr:          ":8712",
	}

	cfg.InitialFEN = strings.TrimSpace(os.Getenv("OTBRECON_INITIAL_FEN"))
	cfg.TagMapFile = strings.TrimSpace(os.Getenv("OTBRECON_TAGMAP_FILE"))
	cfg.DebugDir = strings.TrimSpace(os.Getenv("OTBRECON_DEBUG_DIR"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("OTBRECON_WEBHOOK_URL"))

	if v := strings.TrimSpace(os.Getenv("OTBRECON_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("OTBRECON_CONFIDENCE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.ConfidenceThreshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("OTBRECON_PREFETCH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Prefetch = n
		}
	}

	// Static headers for the webhook, "Name: value" pairs split on ";".
	if v := strings.TrimSpace(os.Getenv("OTBRECON_WEBHOOK_HEADERS")); v != "" {
		cfg.WebhookHeaders = map[string]string{}
		for _, pair := range strings.Split(v, ";") {
			name, value, ok := strings.Cut(pair, ":")
			name = strings.TrimSpace(name)
			value = strings.TrimSpace(value)
			if ok && name != "" && value != "" {
				cfg.WebhookHeaders[name] = value
			}
		}
	}

	return cfg, nil
}
