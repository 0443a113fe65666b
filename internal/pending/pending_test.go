package pending

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/learning"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

func newManager(t *testing.T, now time.Time) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s := store.New(dir)
	dlq := schema.NewDLQ(filepath.Join(dir, "dlq.jsonl"))
	p := ingest.New(s, dlq, func() time.Time { return now })
	l := learning.NewEventLog(filepath.Join(dir, "learning.jsonl"))
	return New(s, p, l, func() time.Time { return now }), s
}

func makePendingObservation(now time.Time) model.StateObservation {
	return model.StateObservation{
		EventID:        "66666666-6666-6666-6666-666666666666",
		EventTS:        now,
		Domain:         model.DomainTravel,
		EntityID:       "user:amy",
		Field:          "destination",
		CandidateValue: "Porto",
		Intent:         model.IntentAssertive,
		Source:         model.SourceRef{Type: "email_poll"},
	}
}

func seedPendingPrompt(t *testing.T, m *Manager, obs model.StateObservation) model.PendingPrompt {
	t.Helper()
	prompt := model.PendingPrompt{
		PromptID:         "77777777-7777-7777-7777-777777777777",
		EntityID:         obs.EntityID,
		Domain:           obs.Domain,
		ProposedChange:   "destination -> Porto",
		Confidence:       0.7,
		ReasonSummary:    []string{"confidence 0.700 >= ask_threshold 0.650"},
		ObservationEvent: obs,
		Source:           obs.Source,
		CreatedAt:        obs.EventTS,
	}
	if _, err := m.Store.Mutate(func(doc *model.Document) error {
		doc.PendingConfirmations[prompt.PromptID] = prompt
		return nil
	}); err != nil {
		t.Fatalf("seed pending prompt: %v", err)
	}
	return prompt
}

func TestApplyConfirmationConfirm(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m, s := newManager(t, now)
	obs := makePendingObservation(now)
	prompt := seedPendingPrompt(t, m, obs)

	res, err := m.ApplyConfirmation(model.UserConfirmation{
		PromptID: prompt.PromptID,
		EntityID: prompt.EntityID,
		Domain:   prompt.Domain,
		Action:   model.ActionConfirm,
		TS:       now,
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != "committed" {
		t.Fatalf("status = %v, want committed", res.Status)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := doc.PendingConfirmations[prompt.PromptID]; ok {
		t.Error("expected prompt to be removed")
	}
	rec, ok := store.GetRecord(doc, "user:amy", model.DomainTravel, "destination")
	if !ok || rec.Value != "Porto" {
		t.Fatalf("expected committed record Porto, got %+v (ok=%v)", rec, ok)
	}
	if doc.LearningStats.UserConfirms != 1 {
		t.Errorf("user_confirms = %d, want 1", doc.LearningStats.UserConfirms)
	}
}

func TestApplyConfirmationEdit(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m, s := newManager(t, now)
	obs := makePendingObservation(now)
	prompt := seedPendingPrompt(t, m, obs)

	res, err := m.ApplyConfirmation(model.UserConfirmation{
		PromptID:    prompt.PromptID,
		EntityID:    prompt.EntityID,
		Domain:      prompt.Domain,
		Action:      model.ActionEdit,
		EditedValue: "Madrid",
		TS:          now,
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != "committed" {
		t.Fatalf("status = %v, want committed", res.Status)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := store.GetRecord(doc, "user:amy", model.DomainTravel, "destination")
	if !ok || rec.Value != "Madrid" {
		t.Fatalf("expected edited value Madrid, got %+v (ok=%v)", rec, ok)
	}
	if doc.LearningStats.UserEdits != 1 {
		t.Errorf("user_edits = %d, want 1", doc.LearningStats.UserEdits)
	}
}

func TestApplyConfirmationReject(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m, s := newManager(t, now)
	obs := makePendingObservation(now)
	prompt := seedPendingPrompt(t, m, obs)

	res, err := m.ApplyConfirmation(model.UserConfirmation{
		PromptID: prompt.PromptID,
		EntityID: prompt.EntityID,
		Domain:   prompt.Domain,
		Action:   model.ActionReject,
		TS:       now,
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != "rejected" {
		t.Fatalf("status = %v, want rejected", res.Status)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := store.GetRecord(doc, "user:amy", model.DomainTravel, "destination"); ok {
		t.Error("reject must not mutate committed state")
	}
	if doc.LearningStats.UserRejects != 1 {
		t.Errorf("user_rejects = %d, want 1", doc.LearningStats.UserRejects)
	}
}

func TestApplyConfirmationNotFound(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m, _ := newManager(t, now)

	_, err := m.ApplyConfirmation(model.UserConfirmation{
		PromptID: "88888888-8888-8888-8888-888888888888",
		EntityID: "user:amy",
		Domain:   model.DomainTravel,
		Action:   model.ActionConfirm,
		TS:       now,
	})
	if err != model.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyConfirmationMismatch(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m, _ := newManager(t, now)
	obs := makePendingObservation(now)
	prompt := seedPendingPrompt(t, m, obs)

	_, err := m.ApplyConfirmation(model.UserConfirmation{
		PromptID: prompt.PromptID,
		EntityID: "user:someone-else",
		Domain:   prompt.Domain,
		Action:   model.ActionConfirm,
		TS:       now,
	})
	if err != model.ErrMismatch {
		t.Errorf("err = %v, want ErrMismatch", err)
	}
}

func TestPromoteReviewQueue(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m, _ := newManager(t, now)

	_, err := m.Store.Mutate(func(doc *model.Document) error {
		doc.TentativeObservations = []model.TentativeObservation{
			{
				StateObservation: model.StateObservation{
					EventID:  "aaaaaaaa-0000-0000-0000-000000000001",
					EntityID: "user:amy", Domain: model.DomainTravel, Field: "destination", CandidateValue: "Rome",
				},
				ObservedAt: now.Add(-time.Hour), Confidence: 0.6,
			},
			{
				StateObservation: model.StateObservation{
					EventID:  "aaaaaaaa-0000-0000-0000-000000000002",
					EntityID: "user:amy", Domain: model.DomainTravel, Field: "dates", CandidateValue: "Sept",
				},
				ObservedAt: now.Add(-2 * time.Hour), Confidence: 0.55,
			},
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed tentatives: %v", err)
	}

	res, err := m.PromoteReviewQueue(PromoteFilter{MinConfidence: 0.5, Limit: 10, MaxPending: 10})
	if err != nil {
		t.Fatalf("PromoteReviewQueue: %v", err)
	}
	if len(res.Promoted) != 2 {
		t.Fatalf("expected 2 promotions, got %d", len(res.Promoted))
	}
	if res.Promoted[0].Confidence < res.Promoted[1].Confidence {
		t.Errorf("expected descending confidence order, got %+v", res.Promoted)
	}
}

func TestPromoteReviewQueuePendingLimitReached(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m, _ := newManager(t, now)

	_, err := m.Store.Mutate(func(doc *model.Document) error {
		doc.PendingConfirmations["existing"] = model.PendingPrompt{PromptID: "existing", EntityID: "user:amy", Domain: model.DomainTravel}
		doc.TentativeObservations = []model.TentativeObservation{
			{StateObservation: model.StateObservation{EventID: "e1", EntityID: "user:amy", Domain: model.DomainTravel, Field: "x"}, Confidence: 0.9},
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := m.PromoteReviewQueue(PromoteFilter{MinConfidence: 0.5, Limit: 10, MaxPending: 1})
	if err != nil {
		t.Fatalf("PromoteReviewQueue: %v", err)
	}
	if res.Reason != "pending_limit_reached" {
		t.Errorf("reason = %q, want pending_limit_reached", res.Reason)
	}
	if len(res.Promoted) != 0 {
		t.Errorf("expected no promotions, got %d", len(res.Promoted))
	}
}
