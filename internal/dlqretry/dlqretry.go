// Package dlqretry implements C8: re-dispatching quarantined payloads back
// through the ingestion pipeline, the confirmation lifecycle, or the signal
// adapter, with the DLQ's fixed backoff table governing the next attempt.
package dlqretry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/pending"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/ajeenkya/openclaw-state-consistency/internal/signal"
)

// Options configures one retry pass (§4.8).
type Options struct {
	Limit          int
	MaxRetries     int
	IncludeNotDue  bool
	ForceCommit    bool
}

// ItemResult is the per-entry outcome of one retry pass.
type ItemResult struct {
	DLQID        string
	SchemaName   schema.Name
	ResultStatus string
}

// Summary aggregates a retry pass.
type Summary struct {
	Attempted int
	Resolved  int
	Retried   int
	Permanent int
	Items     []ItemResult
}

// Scheduler bundles the dependencies the retry dispatcher needs.
type Scheduler struct {
	DLQ      *schema.DLQ
	Ingest   *ingest.Pipeline
	Pending  *pending.Manager
	Signal   *signal.Adapter
	Now      func() time.Time
}

// New builds a dlqretry.Scheduler.
func New(dlq *schema.DLQ, ingestPipeline *ingest.Pipeline, pendingMgr *pending.Manager, signalAdapter *signal.Adapter, now func() time.Time) *Scheduler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{DLQ: dlq, Ingest: ingestPipeline, Pending: pendingMgr, Signal: signalAdapter, Now: now}
}

var permanentFailureStatuses = map[string]bool{
	"unsupported_schema": true,
	"not_found":          true,
	"mismatch":           true,
}

// Retry runs one retry pass per §4.8.
func (s *Scheduler) Retry(opts Options) (Summary, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = schema.DefaultMaxRetries
	}

	fold, err := s.DLQ.Fold()
	if err != nil {
		return Summary{}, fmt.Errorf("dlqretry: fold dlq: %w", err)
	}

	now := s.Now()
	entries := fold.PendingRetryable(now, opts.IncludeNotDue)
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	var summary Summary
	for _, entry := range entries {
		summary.Attempted++
		resultStatus, err := s.dispatch(entry, opts.ForceCommit)
		if err != nil {
			resultStatus = "dispatch_error"
		}

		entry.LastResultStatus = resultStatus
		entry.LastRetryTS = timePtr(now)
		entry.RetryCount++

		switch {
		case isResolvedStatus(entry.SchemaName, resultStatus):
			entry.Status = schema.StatusResolved
			summary.Resolved++
		case permanentFailureStatuses[resultStatus] || entry.RetryCount >= opts.MaxRetries:
			entry.Status = schema.StatusFailedPermanent
			summary.Permanent++
		default:
			entry.Status = schema.StatusPendingRetry
			entry.NextRetryTS = now.Add(schema.IntervalForRetryCount(entry.RetryCount))
			summary.Retried++
		}

		if err := s.DLQ.Update(entry); err != nil {
			return summary, fmt.Errorf("dlqretry: update entry %s: %w", entry.DLQID, err)
		}

		summary.Items = append(summary.Items, ItemResult{
			DLQID:        entry.DLQID,
			SchemaName:   entry.SchemaName,
			ResultStatus: resultStatus,
		})
	}

	return summary, nil
}

func isResolvedStatus(name schema.Name, status string) bool {
	switch name {
	case schema.Observation:
		switch status {
		case string(ingest.StatusCommitted), string(ingest.StatusPendingConfirmation), string(ingest.StatusTentative), string(ingest.StatusDuplicate):
			return true
		}
	case schema.Confirmation:
		switch status {
		case "committed", "rejected":
			return true
		}
	case schema.Signal:
		return status == "ok"
	}
	return false
}

func (s *Scheduler) dispatch(entry schema.DLQEntry, forceCommit bool) (string, error) {
	switch entry.SchemaName {
	case schema.Observation:
		var obs model.StateObservation
		if err := json.Unmarshal(entry.Payload, &obs); err != nil {
			return "unsupported_schema", nil
		}
		res, err := s.Ingest.Ingest(obs, ingest.Options{ForceCommit: forceCommit})
		if err != nil {
			return "", err
		}
		return string(res.Status), nil

	case schema.Confirmation:
		var c model.UserConfirmation
		if err := json.Unmarshal(entry.Payload, &c); err != nil {
			return "unsupported_schema", nil
		}
		res, err := s.Pending.ApplyConfirmation(c)
		if errors.Is(err, model.ErrNotFound) {
			return "not_found", nil
		}
		if errors.Is(err, model.ErrMismatch) {
			return "mismatch", nil
		}
		if err != nil {
			return "", err
		}
		return res.Status, nil

	case schema.Signal:
		var sig model.SignalEvent
		if err := json.Unmarshal(entry.Payload, &sig); err != nil {
			return "unsupported_schema", nil
		}
		if _, err := s.Signal.Ingest(sig, ingest.Options{ForceCommit: forceCommit}); err != nil {
			return "", err
		}
		return "ok", nil

	default:
		return "unsupported_schema", nil
	}
}

func timePtr(t time.Time) *time.Time { return &t }
