// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable of the service. All values are read from
// environment variables; an optional .env file is loaded by main before
// Load is called.
type Config struct {
	// HTTP
	HTTPAddr    string
	CORSOrigins []string
	SecretKey   string

	// Persistence and broker
	DatabaseURL string
	BrokerURL   string
	CacheDir    string // badger evaluation cache; empty disables caching

	// Engine budget
	EnginePath        string
	EngineDepth       int
	EngineTimeLimitMS int

	// Queue concurrency
	ImportsQueueConcurrency  int
	AnalysisQueueConcurrency int

	// Providers
	ChessComUserAgent string
	LichessMaxGames   int

	// Coach commentary
	CoachEnabled  bool
	CoachProvider string // external_api or local_llm
	CoachEndpoint string
	CoachModel    string
	CoachAPIKey   string

	LogLevel string
}

// Load reads configuration from the environment with sane defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("BROKER_URL", "redis://localhost:6379/0")
	v.SetDefault("CACHE_DIR", "")
	v.SetDefault("ENGINE_PATH", "/usr/games/stockfish")
	v.SetDefault("ENGINE_DEPTH", 18)
	v.SetDefault("ENGINE_TIME_LIMIT_MS", 800)
	v.SetDefault("IMPORTS_QUEUE_CONCURRENCY", 1)
	v.SetDefault("ANALYSIS_QUEUE_CONCURRENCY", 2)
	v.SetDefault("CHESSCOM_USER_AGENT", "blunderlab/1.0")
	v.SetDefault("LICHESS_MAX_GAMES", 200)
	v.SetDefault("COACH_ENABLED", false)
	v.SetDefault("COACH_PROVIDER", "local_llm")
	v.SetDefault("COACH_ENDPOINT", "http://localhost:11434")
	v.SetDefault("COACH_MODEL", "llama3.1")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		HTTPAddr:                 v.GetString("HTTP_ADDR"),
		CORSOrigins:              splitList(v.GetString("CORS_ORIGINS")),
		SecretKey:                v.GetString("SECRET_KEY"),
		DatabaseURL:              v.GetString("DATABASE_URL"),
		BrokerURL:                v.GetString("BROKER_URL"),
		CacheDir:                 v.GetString("CACHE_DIR"),
		EnginePath:               v.GetString("ENGINE_PATH"),
		EngineDepth:              v.GetInt("ENGINE_DEPTH"),
		EngineTimeLimitMS:        v.GetInt("ENGINE_TIME_LIMIT_MS"),
		ImportsQueueConcurrency:  v.GetInt("IMPORTS_QUEUE_CONCURRENCY"),
		AnalysisQueueConcurrency: v.GetInt("ANALYSIS_QUEUE_CONCURRENCY"),
		ChessComUserAgent:        v.GetString("CHESSCOM_USER_AGENT"),
		LichessMaxGames:          v.GetInt("LICHESS_MAX_GAMES"),
		CoachEnabled:             v.GetBool("COACH_ENABLED"),
		CoachProvider:            v.GetString("COACH_PROVIDER"),
		CoachEndpoint:            v.GetString("COACH_ENDPOINT"),
		CoachModel:               v.GetString("COACH_MODEL"),
		CoachAPIKey:              v.GetString("COACH_API_KEY"),
		LogLevel:                 v.GetString("LOG_LEVEL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.EngineDepth <= 0 && c.EngineTimeLimitMS <= 0 {
		return fmt.Errorf("config: at least one of ENGINE_DEPTH and ENGINE_TIME_LIMIT_MS must be positive")
	}
	if c.ImportsQueueConcurrency < 1 {
		return fmt.Errorf("config: IMPORTS_QUEUE_CONCURRENCY must be >= 1")
	}
	if c.AnalysisQueueConcurrency < 1 {
		return fmt.Errorf("config: ANALYSIS_QUEUE_CONCURRENCY must be >= 1")
	}
	switch c.CoachProvider {
	case "external_api", "local_llm":
	default:
		return fmt.Errorf("config: unknown COACH_PROVIDER %q", c.CoachProvider)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
