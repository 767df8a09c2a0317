// Package config handles Beanbot configuration loading.
//
// Configuration is environment-style: every knob is a single variable,
// read once at startup. A .env file in the working directory is loaded
// by the command entry point before FromEnv runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all Beanbot configuration.
type Config struct {
	// Model settings
	GeminiAPIKey string
	GeminiModel  string
	Temperature  float64

	// Context window management
	MaxContextTurns int // turns kept visible to the model per invocation

	// Truncation of retained-but-old content
	TruncateThreshold  int // only bother truncating text longer than this
	ToolResultLimit    int // prefix kept for old tool results
	HumanMessageLimit  int // prefix kept for old user messages

	// Agent loop
	TurnTimeout time.Duration // wall clock budget for one whole turn

	// Checkpoint store
	DBPath string

	// Retention compactor
	PruneTime          string // "HH:MM", local time
	RetentionDays      int    // ephemeral thread retention window
	MaxThreadRevisions int    // checkpoint revisions kept per persistent thread

	// Knowledge library
	KnowledgeDir string

	// Weather (OpenWeatherMap)
	WeatherAPIKey string
	WeatherLat    string
	WeatherLon    string

	// Web search. Brave is preferred when both are configured; a
	// self-hosted SearXNG instance is the fallback provider.
	BraveAPIKey string
	SearXNGURL  string

	LogLevel string
}

// FromEnv reads configuration from the process environment, applying
// defaults for everything optional. Only the Gemini API key is
// required.
func FromEnv() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        envString("GEMINI_MODEL", "gemini-2.5-flash"),
		Temperature:        envFloat("LLM_TEMPERATURE", 0),
		MaxContextTurns:    envInt("MAX_CONTEXT_TURNS", 4),
		TruncateThreshold:  envInt("SUMMARIZE_THRESHOLD", 500),
		ToolResultLimit:    envInt("SUMMARIZE_TOOL_LIMIT", 200),
		HumanMessageLimit:  envInt("SUMMARIZE_HUMAN_LIMIT", 300),
		TurnTimeout:        time.Duration(envInt("LLM_TIMEOUT", 120)) * time.Second,
		DBPath:             envString("DB_PATH", "data/conversations.db"),
		PruneTime:          envString("DB_PRUNE_TIME", "03:00"),
		RetentionDays:      envInt("DB_PRUNE_RETENTION_DAYS", 7),
		MaxThreadRevisions: envInt("DB_PRUNE_MAX_CHECKPOINTS", 20),
		KnowledgeDir:       envString("KNOWLEDGE_DIR", "data"),
		WeatherAPIKey:      os.Getenv("OPENWEATHER_API_KEY"),
		WeatherLat:         os.Getenv("OPENWEATHER_LAT"),
		WeatherLon:         os.Getenv("OPENWEATHER_LON"),
		BraveAPIKey:        os.Getenv("BRAVE_API_KEY"),
		SearXNGURL:         os.Getenv("SEARXNG_URL"),
		LogLevel:           envString("LOG_LEVEL", "info"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if cfg.MaxContextTurns < 1 {
		return nil, fmt.Errorf("MAX_CONTEXT_TURNS must be >= 1, got %d", cfg.MaxContextTurns)
	}
	if cfg.ToolResultLimit >= cfg.TruncateThreshold || cfg.HumanMessageLimit >= cfg.TruncateThreshold {
		return nil, fmt.Errorf("truncation limits must be below SUMMARIZE_THRESHOLD (%d)", cfg.TruncateThreshold)
	}
	if _, _, err := ParseClockTime(cfg.PruneTime); err != nil {
		return nil, fmt.Errorf("DB_PRUNE_TIME: %w", err)
	}

	return cfg, nil
}

// ParseClockTime parses an "HH:MM" wall-clock string into hour and
// minute components.
func ParseClockTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
