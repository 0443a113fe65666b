package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ajeenkya/openclaw-state-consistency/internal/checksum"
	"github.com/ajeenkya/openclaw-state-consistency/internal/classifier"
	"github.com/ajeenkya/openclaw-state-consistency/internal/telemetry"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report document health (pending count, DLQ backlog, adaptive mode) and optionally serve /metrics",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().String("metrics-addr", "", "if set, serve Prometheus /metrics on this address until interrupted (e.g. :9090)")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	e, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	doc, err := e.Store.Load()
	if err != nil {
		return fmt.Errorf("doctor: load document: %w", err)
	}

	fold, err := e.DLQ.Fold()
	if err != nil {
		return fmt.Errorf("doctor: fold dlq: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	metrics.SetPendingPrompts(len(doc.PendingConfirmations))

	fmt.Fprintf(cmd.OutOrStdout(), "entity:             %s\n", e.Config.EntityID)
	fmt.Fprintf(cmd.OutOrStdout(), "root dir:           %s\n", e.Config.RootDir)
	fmt.Fprintf(cmd.OutOrStdout(), "pending prompts:    %d (max %d)\n", len(doc.PendingConfirmations), e.Config.Review.MaxPending)
	fmt.Fprintf(cmd.OutOrStdout(), "tentative queue:    %d\n", len(doc.TentativeObservations))
	fmt.Fprintf(cmd.OutOrStdout(), "processed events:   %d\n", len(doc.ProcessedEventIDs))
	fmt.Fprintf(cmd.OutOrStdout(), "dlq entries:        %d (malformed lines: %d)\n", len(fold.Entries), fold.MalformedLines)
	fmt.Fprintf(cmd.OutOrStdout(), "projection mode:    %s\n", doc.Runtime.ProjectionMode)
	fmt.Fprintf(cmd.OutOrStdout(), "adaptive mode:      %s (enabled=%v)\n", doc.Runtime.AdaptiveMode, doc.Runtime.AdaptiveLearningEnabled)
	fmt.Fprintf(cmd.OutOrStdout(), "intent classifier:  %s\n", e.Config.IntentExtractorMode)
	if e.Config.IntentExtractorMode == classifier.ModeCommand && e.Config.IntentExtractorCmd != "" {
		argv := e.Config.CommandArgv()
		if len(argv) > 0 {
			if sum, err := checksum.SHA256File(argv[0]); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  classifier binary: %s (unreadable: %v)\n", argv[0], err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "  classifier binary: %s (%s)\n", argv[0], sum)
			}
		}
	}

	pendingByStatus := map[string]int{}
	for _, entry := range fold.Entries {
		pendingByStatus[string(entry.Status)]++
	}
	for status, count := range pendingByStatus {
		fmt.Fprintf(cmd.OutOrStdout(), "  dlq[%s]:          %d\n", status, count)
	}

	addr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return err
	}
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(reg))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	e.Logger.Info("serving metrics", "addr", addr)
	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
