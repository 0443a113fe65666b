package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

func TestLoadBootstraps(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Domains) != len(model.AllDomains) {
		t.Fatalf("expected %d domain configs, got %d", len(model.AllDomains), len(doc.Domains))
	}
	if doc.Runtime.ProjectionMode != model.ProjectionModeLegacyString {
		t.Errorf("projection mode = %q, want legacy_string", doc.Runtime.ProjectionMode)
	}
	if doc.Runtime.AdaptiveLearningEnabled {
		t.Error("adaptive learning should default to disabled")
	}

	if _, err := s.Load(); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one persisted file after bootstrap, got %v", entries)
	}
}

func TestMutateRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Mutate(func(doc *model.Document) error {
		PutRecord(doc, "user:amy", model.DomainTravel, "destination", model.StateRecord{
			Value:      "Lisbon",
			LastUpdate: time.Now().UTC(),
			Source:     "conversation_assertive",
			Confidence: 0.95,
			EventID:    "11111111-1111-1111-1111-111111111111",
		}, "Lisbon", false)
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := GetRecord(doc, "user:amy", model.DomainTravel, "destination")
	if !ok {
		t.Fatal("expected record to be present")
	}
	if rec.Value != "Lisbon" {
		t.Errorf("value = %v, want Lisbon", rec.Value)
	}
}

func TestPutRecordRetract(t *testing.T) {
	doc := DefaultDocument()
	PutRecord(doc, "user:amy", model.DomainTravel, "destination", model.StateRecord{Value: "Lisbon"}, "Lisbon", false)
	if _, ok := GetRecord(doc, "user:amy", model.DomainTravel, "destination"); !ok {
		t.Fatal("expected record present before retract")
	}

	PutRecord(doc, "user:amy", model.DomainTravel, "destination", model.StateRecord{}, nil, true)
	if _, ok := GetRecord(doc, "user:amy", model.DomainTravel, "destination"); ok {
		t.Fatal("expected record removed after retract")
	}
}

func TestMarkEventProcessedEviction(t *testing.T) {
	doc := DefaultDocument()
	for i := 0; i < model.MaxProcessedEventIDs+10; i++ {
		MarkEventProcessed(doc, ids_fixture(i))
	}
	if len(doc.ProcessedEventIDs) != model.MaxProcessedEventIDs {
		t.Errorf("len = %d, want %d", len(doc.ProcessedEventIDs), model.MaxProcessedEventIDs)
	}
	if !IsEventProcessed(doc, ids_fixture(model.MaxProcessedEventIDs+9)) {
		t.Error("expected most recent event id retained")
	}
	if IsEventProcessed(doc, ids_fixture(0)) {
		t.Error("expected oldest event id evicted")
	}
}

func ids_fixture(i int) string {
	return time.Unix(int64(i), 0).UTC().Format(time.RFC3339Nano)
}

func TestAppendAuditAndRead(t *testing.T) {
	s := New(t.TempDir())
	if err := s.AppendAudit("committed user:amy/travel.destination = Lisbon"); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if err := s.AppendAudit("committed user:amy/travel.dates = 2026-09-01"); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	lines, err := s.ReadAuditLines()
	if err != nil {
		t.Fatalf("ReadAuditLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
}

func TestSortedRecordKeys(t *testing.T) {
	doc := DefaultDocument()
	PutRecord(doc, "user:bob", model.DomainTravel, "dates", model.StateRecord{Value: "x"}, "x", false)
	PutRecord(doc, "user:amy", model.DomainTravel, "destination", model.StateRecord{Value: "y"}, "y", false)
	PutRecord(doc, "user:amy", model.DomainFamily, "anniversary", model.StateRecord{Value: "z"}, "z", false)

	keys := SortedRecordKeys(doc)
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[0].EntityID != "user:amy" || keys[1].EntityID != "user:amy" || keys[2].EntityID != "user:bob" {
		t.Errorf("expected amy's keys before bob's, got %+v", keys)
	}
	if keys[0].Domain != model.DomainFamily {
		t.Errorf("expected family domain to sort before travel, got %+v", keys[0])
	}
}

func TestSortedPendingPrompts(t *testing.T) {
	doc := DefaultDocument()
	now := time.Now().UTC()
	doc.PendingConfirmations["p2"] = model.PendingPrompt{PromptID: "p2", CreatedAt: now.Add(time.Minute)}
	doc.PendingConfirmations["p1"] = model.PendingPrompt{PromptID: "p1", CreatedAt: now}

	sorted := SortedPendingPrompts(doc)
	if len(sorted) != 2 || sorted[0].PromptID != "p1" || sorted[1].PromptID != "p2" {
		t.Errorf("unexpected order: %+v", sorted)
	}
}
