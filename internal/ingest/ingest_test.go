package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

func newPipeline(t *testing.T, now time.Time) (*Pipeline, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s := store.New(dir)
	dlq := schema.NewDLQ(filepath.Join(dir, "dlq.jsonl"))
	return New(s, dlq, func() time.Time { return now }), s
}

func assertiveObs(eventID string, ts time.Time) model.StateObservation {
	return model.StateObservation{
		EventID:        eventID,
		EventTS:        ts,
		Domain:         model.DomainTravel,
		EntityID:       "user:amy",
		Field:          "destination",
		CandidateValue: "Lisbon",
		Intent:         model.IntentAssertive,
		Source:         model.SourceRef{Type: "conversation_assertive"},
	}
}

func TestIngestAutoCommit(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p, s := newPipeline(t, now)

	res, err := p.Ingest(assertiveObs("11111111-1111-1111-1111-111111111111", now), Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("status = %v, want committed", res.Status)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := store.GetRecord(doc, "user:amy", model.DomainTravel, "destination")
	if !ok || rec.Value != "Lisbon" {
		t.Fatalf("expected committed record, got %+v (ok=%v)", rec, ok)
	}
	if doc.LearningStats.AutoCommits != 1 {
		t.Errorf("auto_commits = %d, want 1", doc.LearningStats.AutoCommits)
	}
}

func TestIngestDuplicateEventIsNoop(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p, s := newPipeline(t, now)

	obs := assertiveObs("22222222-2222-2222-2222-222222222222", now)
	if _, err := p.Ingest(obs, Options{}); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	res, err := p.Ingest(obs, Options{})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if res.Status != StatusDuplicate {
		t.Fatalf("status = %v, want duplicate", res.Status)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.LearningStats.AutoCommits != 1 {
		t.Errorf("auto_commits = %d, want 1 (duplicate must not recommit)", doc.LearningStats.AutoCommits)
	}
}

func TestIngestAskUser(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p, s := newPipeline(t, now)

	obs := model.StateObservation{
		EventID:        "33333333-3333-3333-3333-333333333333",
		EventTS:        now,
		Domain:         model.DomainTravel,
		EntityID:       "user:amy",
		Field:          "destination",
		CandidateValue: "Porto",
		Intent:         model.IntentAssertive,
		Source:         model.SourceRef{Type: "email_poll"},
	}

	res, err := p.Ingest(obs, Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != StatusPendingConfirmation {
		t.Fatalf("status = %v, want pending_confirmation (confidence=%v)", res.Status, res.Confidence)
	}
	if res.Prompt == nil {
		t.Fatal("expected a pending prompt")
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := doc.PendingConfirmations[res.Prompt.PromptID]; !ok {
		t.Error("expected prompt persisted in pending_confirmations")
	}
}

func TestIngestTentativeReject(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p, s := newPipeline(t, now)

	obs := model.StateObservation{
		EventID:        "44444444-4444-4444-4444-444444444444",
		EventTS:        now.Add(-300 * time.Hour),
		Domain:         model.DomainGeneral,
		EntityID:       "user:amy",
		Field:          "note",
		CandidateValue: "maybe visiting someday",
		Intent:         model.IntentHypothetical,
		Source:         model.SourceRef{Type: "conversation_planning"},
	}

	res, err := p.Ingest(obs, Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != StatusTentative {
		t.Fatalf("status = %v, want tentative (confidence=%v)", res.Status, res.Confidence)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.TentativeObservations) != 1 {
		t.Fatalf("expected 1 tentative observation, got %d", len(doc.TentativeObservations))
	}
	if doc.LearningStats.TentativeRejects != 1 {
		t.Errorf("tentative_rejects = %d, want 1", doc.LearningStats.TentativeRejects)
	}
}

func TestIngestValidationFailedQuarantines(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p, _ := newPipeline(t, now)

	obs := assertiveObs("not-a-uuid", now)
	res, err := p.Ingest(obs, Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != StatusValidationFailed {
		t.Fatalf("status = %v, want validation_failed", res.Status)
	}
	if res.DLQID == "" {
		t.Error("expected a DLQ id for the quarantined payload")
	}

	fold, err := p.DLQ.Fold()
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if len(fold.Entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(fold.Entries))
	}
}

func TestIngestForceCommitOverridesLowConfidence(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p, s := newPipeline(t, now)

	obs := model.StateObservation{
		EventID:        "55555555-5555-5555-5555-555555555555",
		EventTS:        now.Add(-500 * time.Hour),
		Domain:         model.DomainGeneral,
		EntityID:       "user:amy",
		Field:          "note",
		CandidateValue: "forced value",
		Intent:         model.IntentHypothetical,
		Source:         model.SourceRef{Type: "cli"},
	}

	res, err := p.Ingest(obs, Options{ForceCommit: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("status = %v, want committed", res.Status)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := store.GetRecord(doc, "user:amy", model.DomainGeneral, "note")
	if !ok || rec.Value != "forced value" {
		t.Fatalf("expected forced commit, got %+v (ok=%v)", rec, ok)
	}
}
