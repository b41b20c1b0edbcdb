package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	WSUrl       string
	AccessToken string
	DatabaseURL string
	LogLevel    string

	// AdminIDs is the host's designated admin list; the first valid entry
	// is treated as the primary admin.
	AdminIDs []string

	CallTimeoutSeconds int
	ReconnectSeconds   int

	SponsorThreshold int
}

func Load() (Config, error) {
	callTimeout, err := getInt("CALL_TIMEOUT_SECONDS", 15)
	if err != nil {
		return Config{}, err
	}

	reconnect, err := getInt("RECONNECT_SECONDS", 5)
	if err != nil {
		return Config{}, err
	}

	threshold, err := getInt("SPONSOR_THRESHOLD", 10)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		WSUrl:              getString("ONEBOT_WS_URL", "ws://127.0.0.1:3001"),
		AccessToken:        strings.TrimSpace(os.Getenv("ONEBOT_ACCESS_TOKEN")),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:           getString("LOG_LEVEL", "info"),
		AdminIDs:           getList("ADMIN_IDS"),
		CallTimeoutSeconds: callTimeout,
		ReconnectSeconds:   reconnect,
		SponsorThreshold:   threshold,
	}

	if cfg.CallTimeoutSeconds <= 0 {
		cfg.CallTimeoutSeconds = 15
	}
	if cfg.ReconnectSeconds <= 0 {
		cfg.ReconnectSeconds = 5
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

// getList parses a comma-separated list, keeping digit-only entries.
func getList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, part)
		}
	}
	return out
}
