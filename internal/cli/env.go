package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajeenkya/openclaw-state-consistency/internal/classifier"
	"github.com/ajeenkya/openclaw-state-consistency/internal/config"
	"github.com/ajeenkya/openclaw-state-consistency/internal/confirmloop"
	"github.com/ajeenkya/openclaw-state-consistency/internal/dlqretry"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/learning"
	"github.com/ajeenkya/openclaw-state-consistency/internal/pending"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/ajeenkya/openclaw-state-consistency/internal/signal"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

// env bundles every wired dependency a subcommand needs.
type env struct {
	Config     config.Config
	Logger     *slog.Logger
	Store      *store.Store
	DLQ        *schema.DLQ
	Ingest     *ingest.Pipeline
	Pending    *pending.Manager
	Signal     *signal.Adapter
	Learning   *learning.Learner
	DLQRetry   *dlqretry.Scheduler
	Classifier classifier.Classifier
}

func newLogger() *slog.Logger {
	format := os.Getenv("STATE_LOG_FORMAT")
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func bootstrap(cmd *cobra.Command) (*env, error) {
	logger := newLogger()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		if root := os.Getenv("STATE_ROOT_DIR"); root != "" {
			candidate := filepath.Join(root, "state-config.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				configPath = candidate
			}
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, err
	}

	now := func() time.Time { return time.Now().UTC() }

	s := store.New(cfg.RootDir)
	dlq := schema.NewDLQ(s.Layout().DLQPath())
	pipeline := ingest.New(s, dlq, now)
	learningLog := learning.NewEventLog(s.Layout().LearningEventsPath())
	pendingMgr := pending.New(s, pipeline, learningLog, now)
	signalAdapter := signal.New(pipeline)
	learner := learning.NewLearner(learningLog, now)
	retrier := dlqretry.New(dlq, pipeline, pendingMgr, signalAdapter, now)
	cls := classifier.NewClassifier(cfg.IntentExtractorMode, cfg.CommandArgv(), os.Getenv("ANTHROPIC_API_KEY"), "")

	return &env{
		Config:     cfg,
		Logger:     logger,
		Store:      s,
		DLQ:        dlq,
		Ingest:     pipeline,
		Pending:    pendingMgr,
		Signal:     signalAdapter,
		Learning:   learner,
		DLQRetry:   retrier,
		Classifier: cls,
	}, nil
}

// sessionsDir returns the directory beneath the document root that holds
// host-chat session transcripts, named <target>.ndjson.
func sessionsDir(rootDir string) string {
	return filepath.Join(rootDir, "sessions")
}

// locateSession implements confirmloop.SessionLocator by looking for a
// file named after target under rootDir/sessions (§4.10 step 2: "discovery
// is implementation-defined"). A bare target match wins; otherwise the
// most recently modified file whose name contains target is used.
func locateSession(rootDir string) confirmloop.SessionLocator {
	return func(target string) (sessionID, sessionFile string, ok bool) {
		dir := sessionsDir(rootDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", "", false
		}

		exact := filepath.Join(dir, target+".ndjson")
		if info, statErr := os.Stat(exact); statErr == nil && !info.IsDir() {
			return target, exact, true
		}

		var bestName string
		var bestMod time.Time
		for _, entry := range entries {
			if entry.IsDir() || !strings.Contains(entry.Name(), target) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if bestName == "" || info.ModTime().After(bestMod) {
				bestName = entry.Name()
				bestMod = info.ModTime()
			}
		}
		if bestName == "" {
			return "", "", false
		}
		id := strings.TrimSuffix(bestName, filepath.Ext(bestName))
		return id, filepath.Join(dir, bestName), true
	}
}
