// Package config resolves the engine's runtime configuration from the
// environment variables in §6, with an optional YAML override file for
// operators who prefer a file to an env block.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajeenkya/openclaw-state-consistency/internal/classifier"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	RootDir      string `yaml:"root_dir"`
	EntityID     string `yaml:"entity_id"`
	GogAccount   string `yaml:"gog_account"`
	PollerCron   string `yaml:"poller_cron_expr"`

	Review ReviewConfig `yaml:"review"`

	TelegramTarget         string        `yaml:"telegram_target"`
	TelegramThreadID       string        `yaml:"telegram_thread_id"`
	TelegramReviewInterval time.Duration `yaml:"telegram_review_interval"`

	IntentExtractorMode Mode   `yaml:"intent_extractor_mode"`
	IntentExtractorCmd  string `yaml:"intent_extractor_cmd"`

	AdaptiveMode string `yaml:"adaptive_mode"`

	Ingest IngestConfig `yaml:"ingest"`
}

// Mode aliases the classifier package's mode type so config stays
// dependency-light for callers that only need to read the env var.
type Mode = classifier.Mode

// ReviewConfig holds the review-queue promotion knobs (§4.8).
type ReviewConfig struct {
	MaxPending    int     `yaml:"max_pending"`
	Limit         int     `yaml:"limit"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// IngestConfig holds Hook B's channel/sender/threshold knobs (§4.11).
type IngestConfig struct {
	Channels       []string `yaml:"channels"`
	AllowedSenders []string `yaml:"allowed_senders"`
	MinChars       int      `yaml:"min_chars"`
	MaxPending     int      `yaml:"max_pending"`
	SourceType     string   `yaml:"source_type"`
}

// Defaults mirrors the env-var default values named throughout §4 and §6.
func Defaults() Config {
	return Config{
		RootDir:                "memory",
		PollerCron:             "*/15 * * * *",
		Review: ReviewConfig{
			MaxPending:    25,
			Limit:         10,
			MinConfidence: 0.0,
		},
		TelegramReviewInterval: 5 * time.Minute,
		IntentExtractorMode:    classifier.ModeRule,
		AdaptiveMode:           "shadow",
		Ingest: IngestConfig{
			MinChars:   12,
			MaxPending: 10,
			SourceType: "conversation_planning",
		},
	}
}

// Load resolves configuration in three layers: Defaults, then the non-zero
// values of the optional YAML file at yamlOverridePath, then environment
// variables. A variable that is set therefore wins over the same value in
// the file, and the file fills in whatever the environment leaves unset.
func Load(yamlOverridePath string) (Config, error) {
	cfg := Defaults()

	if yamlOverridePath != "" {
		if data, err := os.ReadFile(yamlOverridePath); err == nil {
			var override Config
			if err := yaml.Unmarshal(data, &override); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", yamlOverridePath, err)
			}
			mergeOverride(&cfg, override)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", yamlOverridePath, err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STATE_ROOT_DIR"); v != "" {
		cfg.RootDir = v
	}
	if v := os.Getenv("STATE_ENTITY_ID"); v != "" {
		cfg.EntityID = v
	}
	if v := os.Getenv("STATE_GOG_ACCOUNT"); v != "" {
		cfg.GogAccount = v
	}
	if v := os.Getenv("STATE_POLLER_CRON_EXPR"); v != "" {
		cfg.PollerCron = v
	}
	if v, ok := envInt("STATE_REVIEW_MAX_PENDING"); ok {
		cfg.Review.MaxPending = v
	}
	if v, ok := envInt("STATE_REVIEW_LIMIT"); ok {
		cfg.Review.Limit = v
	}
	if v, ok := envFloat("STATE_REVIEW_MIN_CONFIDENCE"); ok {
		cfg.Review.MinConfidence = v
	}
	if v := os.Getenv("STATE_TELEGRAM_TARGET"); v != "" {
		cfg.TelegramTarget = v
	}
	if v := os.Getenv("STATE_TELEGRAM_THREAD_ID"); v != "" {
		cfg.TelegramThreadID = v
	}
	if v, ok := envDuration("STATE_TELEGRAM_REVIEW_INTERVAL"); ok {
		cfg.TelegramReviewInterval = v
	}
	if v := os.Getenv("STATE_INTENT_EXTRACTOR_MODE"); v != "" {
		cfg.IntentExtractorMode = classifier.Mode(strings.ToLower(v))
	}
	if v := os.Getenv("STATE_INTENT_EXTRACTOR_CMD"); v != "" {
		cfg.IntentExtractorCmd = v
	}
	if v := os.Getenv("STATE_ADAPTIVE_MODE"); v != "" {
		cfg.AdaptiveMode = v
	}
	if v := os.Getenv("STATE_INGEST_CHANNELS"); v != "" {
		cfg.Ingest.Channels = splitCSV(v)
	}
	if v := os.Getenv("STATE_INGEST_ALLOWED_SENDERS"); v != "" {
		cfg.Ingest.AllowedSenders = splitCSV(v)
	}
	if v, ok := envInt("STATE_INGEST_MIN_CHARS"); ok {
		cfg.Ingest.MinChars = v
	}
	if v, ok := envInt("STATE_INGEST_MAX_PENDING"); ok {
		cfg.Ingest.MaxPending = v
	}
	if v := os.Getenv("STATE_INGEST_SOURCE_TYPE"); v != "" {
		cfg.Ingest.SourceType = v
	}
}

// mergeOverride copies non-zero fields from override onto cfg; zero fields
// in the file leave cfg's defaults in place. Load applies the environment
// afterwards, so set variables take precedence over the file.
func mergeOverride(cfg *Config, override Config) {
	if override.RootDir != "" {
		cfg.RootDir = override.RootDir
	}
	if override.EntityID != "" {
		cfg.EntityID = override.EntityID
	}
	if override.GogAccount != "" {
		cfg.GogAccount = override.GogAccount
	}
	if override.PollerCron != "" {
		cfg.PollerCron = override.PollerCron
	}
	if override.Review.MaxPending != 0 {
		cfg.Review.MaxPending = override.Review.MaxPending
	}
	if override.Review.Limit != 0 {
		cfg.Review.Limit = override.Review.Limit
	}
	if override.Review.MinConfidence != 0 {
		cfg.Review.MinConfidence = override.Review.MinConfidence
	}
	if override.TelegramTarget != "" {
		cfg.TelegramTarget = override.TelegramTarget
	}
	if override.TelegramThreadID != "" {
		cfg.TelegramThreadID = override.TelegramThreadID
	}
	if override.TelegramReviewInterval != 0 {
		cfg.TelegramReviewInterval = override.TelegramReviewInterval
	}
	if override.IntentExtractorMode != "" {
		cfg.IntentExtractorMode = override.IntentExtractorMode
	}
	if override.IntentExtractorCmd != "" {
		cfg.IntentExtractorCmd = override.IntentExtractorCmd
	}
	if override.AdaptiveMode != "" {
		cfg.AdaptiveMode = override.AdaptiveMode
	}
	if len(override.Ingest.Channels) > 0 {
		cfg.Ingest.Channels = override.Ingest.Channels
	}
	if len(override.Ingest.AllowedSenders) > 0 {
		cfg.Ingest.AllowedSenders = override.Ingest.AllowedSenders
	}
	if override.Ingest.MinChars != 0 {
		cfg.Ingest.MinChars = override.Ingest.MinChars
	}
	if override.Ingest.MaxPending != 0 {
		cfg.Ingest.MaxPending = override.Ingest.MaxPending
	}
	if override.Ingest.SourceType != "" {
		cfg.Ingest.SourceType = override.Ingest.SourceType
	}
}

// Validate checks the configuration for errors and returns user-friendly
// hint messages, the way the engine's config layer always has.
func (c Config) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("configuration error: missing required field 'entity_id'\n\nHint: set STATE_ENTITY_ID or entity_id in state-config.yaml")
	}
	if c.RootDir == "" {
		return fmt.Errorf("configuration error: empty 'root_dir'\n\nHint: set STATE_ROOT_DIR or root_dir in state-config.yaml")
	}
	switch c.IntentExtractorMode {
	case classifier.ModeRule, classifier.ModeCommand, classifier.ModeSDK:
	default:
		return fmt.Errorf("configuration error: invalid 'intent_extractor_mode' value: %q\n\nHint: STATE_INTENT_EXTRACTOR_MODE must be one of rule, command, sdk", c.IntentExtractorMode)
	}
	if c.IntentExtractorMode == classifier.ModeCommand && c.IntentExtractorCmd == "" {
		return fmt.Errorf("configuration error: intent_extractor_mode=command requires STATE_INTENT_EXTRACTOR_CMD\n\nHint: set STATE_INTENT_EXTRACTOR_CMD to the classifier binary's argv")
	}
	if c.Review.MinConfidence < 0 || c.Review.MinConfidence > 1 {
		return fmt.Errorf("configuration error: 'review.min_confidence' out of range: %v\n\nHint: STATE_REVIEW_MIN_CONFIDENCE must be between 0 and 1", c.Review.MinConfidence)
	}
	return nil
}

// CommandArgv splits the configured classifier command into argv, the way
// an external process's invocation string is always split before exec.
func (c Config) CommandArgv() []string {
	if c.IntentExtractorCmd == "" {
		return nil
	}
	return strings.Fields(c.IntentExtractorCmd)
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
