package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration for the checker.
type Config struct {
	APIKeys        []string
	Models         []string `validate:"min=1"`
	BaseURL        string
	ProxyURL       string
	GraderTag      string
	MinDelay       time.Duration `validate:"gt=0"`
	MaxDelay       time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int `validate:"gt=0"`
	BackoffBase    time.Duration
	RetryHintPad   time.Duration
	ShortRetryWait time.Duration
	Concurrency    int `validate:"gt=0"`

	// OfflineEval replaces model calls with a deterministic length check,
	// for running the pipeline without external access.
	OfflineEval      bool
	OfflineThreshold int
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHECKER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("models", "gemini-2.0-flash,gemini-2.0-flash-lite")
	v.SetDefault("grader_tag", "SFEDU")
	v.SetDefault("min_delay", "10s")
	v.SetDefault("max_delay", "20s")
	v.SetDefault("request_timeout", "120s")
	v.SetDefault("max_attempts", 10)
	v.SetDefault("backoff_base", "60s")
	v.SetDefault("retry_hint_pad", "10s")
	v.SetDefault("short_retry_wait", "5s")
	v.SetDefault("concurrency", 1)
	v.SetDefault("offline_threshold", 400)

	cfg := Config{
		APIKeys:          splitList(v.GetString("api_keys")),
		Models:           splitList(v.GetString("models")),
		BaseURL:          v.GetString("base_url"),
		ProxyURL:         v.GetString("proxy_url"),
		GraderTag:        v.GetString("grader_tag"),
		MinDelay:         v.GetDuration("min_delay"),
		MaxDelay:         v.GetDuration("max_delay"),
		RequestTimeout:   v.GetDuration("request_timeout"),
		MaxAttempts:      v.GetInt("max_attempts"),
		BackoffBase:      v.GetDuration("backoff_base"),
		RetryHintPad:     v.GetDuration("retry_hint_pad"),
		ShortRetryWait:   v.GetDuration("short_retry_wait"),
		Concurrency:      v.GetInt("concurrency"),
		OfflineEval:      v.GetBool("offline_eval"),
		OfflineThreshold: v.GetInt("offline_threshold"),
	}

	if cfg.MaxDelay < cfg.MinDelay {
		return Config{}, fmt.Errorf("max delay %s is below min delay %s", cfg.MaxDelay, cfg.MinDelay)
	}

	if !cfg.OfflineEval && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("at least one api key must be provided")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
