package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajeenkya/openclaw-state-consistency/internal/classifier"
)

func clearStateEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"STATE_ROOT_DIR", "STATE_ENTITY_ID", "STATE_GOG_ACCOUNT", "STATE_POLLER_CRON_EXPR",
		"STATE_REVIEW_MAX_PENDING", "STATE_REVIEW_LIMIT", "STATE_REVIEW_MIN_CONFIDENCE",
		"STATE_TELEGRAM_TARGET", "STATE_TELEGRAM_THREAD_ID", "STATE_TELEGRAM_REVIEW_INTERVAL",
		"STATE_INTENT_EXTRACTOR_MODE", "STATE_INTENT_EXTRACTOR_CMD", "STATE_ADAPTIVE_MODE",
		"STATE_INGEST_CHANNELS", "STATE_INGEST_ALLOWED_SENDERS", "STATE_INGEST_MIN_CHARS",
		"STATE_INGEST_MAX_PENDING", "STATE_INGEST_SOURCE_TYPE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "memory", cfg.RootDir)
	assert.Equal(t, classifier.ModeRule, cfg.IntentExtractorMode)
	assert.Equal(t, 10, cfg.Ingest.MaxPending)
	assert.Equal(t, 12, cfg.Ingest.MinChars)
	assert.Equal(t, "conversation_planning", cfg.Ingest.SourceType)
}

func TestLoadRequiresEntityID(t *testing.T) {
	clearStateEnv(t)
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_id")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearStateEnv(t)
	t.Setenv("STATE_ENTITY_ID", "user:amy")
	t.Setenv("STATE_ROOT_DIR", "/tmp/state-memory")
	t.Setenv("STATE_REVIEW_MAX_PENDING", "50")
	t.Setenv("STATE_INGEST_CHANNELS", "general, travel ,")
	t.Setenv("STATE_INTENT_EXTRACTOR_MODE", "SDK")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "user:amy", cfg.EntityID)
	assert.Equal(t, "/tmp/state-memory", cfg.RootDir)
	assert.Equal(t, 50, cfg.Review.MaxPending)
	assert.Equal(t, []string{"general", "travel"}, cfg.Ingest.Channels)
	assert.Equal(t, classifier.ModeSDK, cfg.IntentExtractorMode)
}

func TestLoadRejectsCommandModeWithoutCmd(t *testing.T) {
	clearStateEnv(t)
	t.Setenv("STATE_ENTITY_ID", "user:amy")
	t.Setenv("STATE_INTENT_EXTRACTOR_MODE", "command")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STATE_INTENT_EXTRACTOR_CMD")
}

func TestLoadYAMLOverrideFillsEnvGaps(t *testing.T) {
	clearStateEnv(t)
	t.Setenv("STATE_ENTITY_ID", "user:amy")

	dir := t.TempDir()
	path := filepath.Join(dir, "state-config.yaml")
	err := os.WriteFile(path, []byte("gog_account: amy@example.com\nreview:\n  limit: 5\n"), 0600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "amy@example.com", cfg.GogAccount)
	assert.Equal(t, 5, cfg.Review.Limit)
}

func TestLoadEnvWinsOverYAMLOverride(t *testing.T) {
	clearStateEnv(t)
	t.Setenv("STATE_ENTITY_ID", "user:amy")
	t.Setenv("STATE_GOG_ACCOUNT", "from-env@example.com")

	dir := t.TempDir()
	path := filepath.Join(dir, "state-config.yaml")
	err := os.WriteFile(path, []byte("gog_account: from-yaml@example.com\n"), 0600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env@example.com", cfg.GogAccount)
}

func TestCommandArgvSplitsWhitespace(t *testing.T) {
	cfg := Config{IntentExtractorCmd: "python3 /opt/classify.py --mode fast"}
	assert.Equal(t, []string{"python3", "/opt/classify.py", "--mode", "fast"}, cfg.CommandArgv())
}

func TestValidateRejectsConfidenceOutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.EntityID = "user:amy"
	cfg.Review.MinConfidence = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_confidence")
}

func TestTelegramReviewIntervalEnvParses(t *testing.T) {
	clearStateEnv(t)
	t.Setenv("STATE_ENTITY_ID", "user:amy")
	t.Setenv("STATE_TELEGRAM_REVIEW_INTERVAL", "10m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.TelegramReviewInterval)
}
