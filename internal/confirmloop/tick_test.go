package confirmloop

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/learning"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/pending"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

type fakeTransport struct {
	dispatched []model.PendingPrompt
	sent       []string
}

func (f *fakeTransport) transport() Transport {
	return Transport{
		DispatchPrompt: func(target string, p model.PendingPrompt) (string, error) {
			f.dispatched = append(f.dispatched, p)
			return "msg-" + p.PromptID[:8], nil
		},
		SendText: func(target, text string) error {
			f.sent = append(f.sent, text)
			return nil
		},
	}
}

func seedPendingPrompt(t *testing.T, s *store.Store, now time.Time) model.PendingPrompt {
	t.Helper()
	p := model.PendingPrompt{
		PromptID:       "11111111-1111-1111-1111-111111111111",
		EntityID:       "user:amy",
		Domain:         model.DomainTravel,
		ProposedChange: "destination -> Lisbon",
		Confidence:     0.7,
		ReasonSummary:  []string{"ask band"},
		ObservationEvent: model.StateObservation{
			EventID:        "22222222-2222-2222-2222-222222222222",
			EventTS:        now,
			Domain:         model.DomainTravel,
			EntityID:       "user:amy",
			Field:          "destination",
			CandidateValue: "Lisbon",
			Intent:         model.IntentAssertive,
			Source:         model.SourceRef{Type: "email_poll"},
		},
		Source:    model.SourceRef{Type: "email_poll"},
		CreatedAt: now,
	}
	if _, err := s.Mutate(func(doc *model.Document) error {
		doc.PendingConfirmations = map[string]model.PendingPrompt{p.PromptID: p}
		return nil
	}); err != nil {
		t.Fatalf("seed prompt: %v", err)
	}
	return p
}

func writeSession(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open session file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("write session file: %v", err)
	}
}

func newWorker(t *testing.T, now time.Time, transport Transport, sessionFile string) (*Worker, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s := store.New(dir)
	dlq := schema.NewDLQ(filepath.Join(dir, "dlq.jsonl"))
	ip := ingest.New(s, dlq, func() time.Time { return now })
	lg := learning.NewEventLog(filepath.Join(dir, "learning.jsonl"))
	pm := pending.New(s, ip, lg, func() time.Time { return now })

	locate := func(target string) (string, string, bool) {
		if sessionFile == "" {
			return "", "", false
		}
		return "sess-1", sessionFile, true
	}
	statePath := filepath.Join(dir, "worker-state.json")
	w := NewWorker(s, pm, transport, locate, statePath, func() time.Time { return now }, nil)
	return w, s
}

func TestTickDispatchesFirstPendingPrompt(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	ft := &fakeTransport{}
	w, s := newWorker(t, now, ft.transport(), "")
	p := seedPendingPrompt(t, s, now)

	result, err := w.Tick("chat-1", "user:amy")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !result.NewPromptSent {
		t.Fatal("expected a new prompt to be dispatched")
	}
	if len(ft.dispatched) != 1 || ft.dispatched[0].PromptID != p.PromptID {
		t.Fatalf("unexpected dispatch: %+v", ft.dispatched)
	}

	st, err := LoadRuntimeState(w.StatePath)
	if err != nil {
		t.Fatalf("LoadRuntimeState: %v", err)
	}
	if st.ActivePromptID != p.PromptID {
		t.Errorf("expected active_prompt_id to be set, got %+v", st)
	}
}

func TestTickResolvesActivePromptFromReply(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	sessionFile := filepath.Join(dir, "session.ndjson")
	ft := &fakeTransport{}
	w, s := newWorker(t, now, ft.transport(), sessionFile)
	p := seedPendingPrompt(t, s, now)

	if _, err := w.Tick("chat-1", "user:amy"); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	writeSession(t, sessionFile, fmt.Sprintf(`{"id":"m1","role":"user","ts":"2026-07-30T12:01:00Z","text":"confirm %s"}`, p.PromptID))

	result, err := w.Tick("chat-1", "user:amy")
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if !result.PromptResolved {
		t.Fatalf("expected prompt to resolve, got %+v", result)
	}

	st, err := LoadRuntimeState(w.StatePath)
	if err != nil {
		t.Fatalf("LoadRuntimeState: %v", err)
	}
	if st.ActivePromptID != "" {
		t.Errorf("expected active_prompt_id cleared, got %q", st.ActivePromptID)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := doc.PendingConfirmations[p.PromptID]; ok {
		t.Error("expected prompt removed from pending confirmations")
	}
	rec, ok := store.GetRecord(doc, "user:amy", model.DomainTravel, "destination")
	if !ok || rec.Value != "Lisbon" {
		t.Errorf("expected committed record, got %+v ok=%v", rec, ok)
	}
}

func TestTickIgnoresReplyNamingDifferentPrompt(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	sessionFile := filepath.Join(dir, "session.ndjson")
	ft := &fakeTransport{}
	w, s := newWorker(t, now, ft.transport(), sessionFile)
	seedPendingPrompt(t, s, now)

	if _, err := w.Tick("chat-1", "user:amy"); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	writeSession(t, sessionFile, `{"id":"m1","role":"user","ts":"2026-07-30T12:01:00Z","text":"confirm 99999999-0000-0000-0000-000000000000"}`)

	result, err := w.Tick("chat-1", "user:amy")
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if result.PromptResolved {
		t.Fatal("expected mismatched prompt reference to be ignored")
	}
}

func TestTickEditHelpDoesNotResolve(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	sessionFile := filepath.Join(dir, "session.ndjson")
	ft := &fakeTransport{}
	w, s := newWorker(t, now, ft.transport(), sessionFile)
	seedPendingPrompt(t, s, now)

	if _, err := w.Tick("chat-1", "user:amy"); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	writeSession(t, sessionFile, `{"id":"m1","role":"user","ts":"2026-07-30T12:01:00Z","text":"edit"}`)

	result, err := w.Tick("chat-1", "user:amy")
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if !result.EditHelpSent || result.PromptResolved {
		t.Fatalf("expected edit_help without resolution, got %+v", result)
	}
	if len(ft.sent) == 0 {
		t.Error("expected a usage hint to be sent")
	}
}
