// Package store implements C2: the single-writer canonical document that
// holds per-entity/domain/field state records, pending prompts, tentative
// observations, the processed-event-id set, runtime config, and learning
// counters. Every mutation path loads, mutates in memory, and saves via an
// atomic tempfile-and-rename (§4.2, §5).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/fsutil"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

// Layout names the sibling files the store and its neighbors persist to,
// per §6's "Files (persisted state)" table.
type Layout struct {
	Root string
}

func (l Layout) DocumentPath() string       { return filepath.Join(l.Root, "state-tracker.json") }
func (l Layout) AuditLogPath() string       { return filepath.Join(l.Root, "state-changes.md") }
func (l Layout) DLQPath() string            { return filepath.Join(l.Root, "state-dlq.jsonl") }
func (l Layout) LearningEventsPath() string { return filepath.Join(l.Root, "state-learning-events.jsonl") }
func (l Layout) ConfirmWorkerStatePath() string {
	return filepath.Join(l.Root, "state-telegram-review-state.json")
}

// Store is the single-writer canonical document manager. A process must
// only ever construct one Store per document path (§5: single-writer by
// design); concurrent Stores over the same path are a deployment error the
// engine does not attempt to detect.
type Store struct {
	layout Layout
	mu     sync.Mutex
}

// New creates a Store rooted at dir (the "memory/" directory of §6).
func New(dir string) *Store {
	return &Store{layout: Layout{Root: dir}}
}

func (s *Store) Layout() Layout { return s.layout }

// Load reads the canonical document, bootstrapping it with defaults on
// first run (§4.2 "Bootstrap").
func (s *Store) Load() (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*model.Document, error) {
	path := s.layout.DocumentPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		doc := DefaultDocument()
		if err := s.saveLocked(doc); err != nil {
			return nil, fmt.Errorf("store: bootstrap document: %w", err)
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read document: %w", err)
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse document: %w", err)
	}
	return &doc, nil
}

// Save atomically persists doc, stamping LastConsistencyCheck to now
// (§3 invariant: "Every persisted mutation writes last_consistency_check to
// now").
func (s *Store) Save(doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(doc)
}

func (s *Store) saveLocked(doc *model.Document) error {
	doc.LastConsistencyCheck = time.Now().UTC()
	return fsutil.AtomicWriteJSON(s.layout.DocumentPath(), doc)
}

// Mutate loads the document, applies fn, and saves the result — the engine's
// standard load-mutate-save path (§4.2 contract). fn returning an error
// aborts the save.
func (s *Store) Mutate(fn func(doc *model.Document) error) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.saveLocked(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// AppendAudit appends one audit bullet line ("- <iso> | <message>") to the
// human-readable change log (§4.2, §6).
func (s *Store) AppendAudit(message string) error {
	line := fmt.Sprintf("- %s | %s", time.Now().UTC().Format(time.RFC3339), message)
	return fsutil.AppendLine(s.layout.AuditLogPath(), line)
}

// ReadAuditLines reads every audit bullet line currently on disk, in file
// order (oldest first). Used by the projection engine (C7) to render the
// last 20 entries.
func (s *Store) ReadAuditLines() ([]string, error) {
	data, err := os.ReadFile(s.layout.AuditLogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read audit log: %w", err)
	}
	var lines []string
	for _, raw := range splitLines(string(data)) {
		if raw == "" {
			continue
		}
		lines = append(lines, raw)
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// DefaultDocument returns a freshly bootstrapped Document with all seven
// domain configs, baseline source reliability, and runtime defaults
// (projection_mode=legacy_string, adaptive learning off), per §4.2.
func DefaultDocument() *model.Document {
	domains := map[model.Domain]model.DomainConfig{}
	for _, d := range model.AllDomains {
		domains[d] = model.DomainConfig{
			AskThreshold:    0.65,
			AutoThreshold:   0.90,
			MarginThreshold: 0.15,
		}
	}

	return &model.Document{
		Version:              "1",
		LastConsistencyCheck: time.Now().UTC(),
		Runtime: model.Runtime{
			ProjectionMode:          model.ProjectionModeLegacyString,
			AdaptiveLearningEnabled: false,
			AdaptiveMode:            model.AdaptiveModeOff,
			AdaptiveLearning: model.AdaptiveLearningConfig{
				MinSamples:           12,
				LookbackDays:         14,
				MaxDailyStep:         0.02,
				TargetCorrectionRate: 0.08,
				LowConfirmationRate:  0.55,
				HighConfirmationRate: 0.85,
				MinIntervalHours:     20,
			},
			ProjectionHashes: map[string]string{},
		},
		Domains:               domains,
		SourceReliability:     DefaultSourceReliability(),
		Entities:              map[string]*model.EntityState{},
		TentativeObservations: nil,
		ActiveConflicts:       nil,
		PendingConfirmations:  map[string]model.PendingPrompt{},
		ProcessedEventIDs:     nil,
		LearningStats:         model.LearningStats{},
	}
}

// DefaultSourceReliability is the module-level configuration table from §9
// Design Notes ("SOURCE_RELIABILITY_DEFAULTS... lift into a struct loaded at
// startup"). Unknown source types default to 0.5 at lookup time (§4.3), not
// by being present here.
func DefaultSourceReliability() map[string]float64 {
	return map[string]float64{
		"conversation_assertive": 0.85,
		"conversation_planning":  0.55,
		"static_markdown":        0.60,
		"calendar_poll":          0.75,
		"calendar_webhook":       0.80,
		"email_poll":             0.65,
		"email_webhook":          0.70,
		"user_confirmation":      0.95,
		"cli":                    0.80,
	}
}

// GetRecord returns the committed record for (entityID, domain, field), if any.
func GetRecord(doc *model.Document, entityID string, domain model.Domain, field string) (model.StateRecord, bool) {
	ent, ok := doc.Entities[entityID]
	if !ok {
		return model.StateRecord{}, false
	}
	byField, ok := ent.State[domain]
	if !ok {
		return model.StateRecord{}, false
	}
	rec, ok := byField[field]
	return rec, ok
}

// PutRecord commits or deletes a record depending on whether value is nil
// (nil means the field is being retracted, §4.3 edge case).
func PutRecord(doc *model.Document, entityID string, domain model.Domain, field string, rec model.StateRecord, value any, isRetract bool) {
	ent, ok := doc.Entities[entityID]
	if !ok {
		ent = &model.EntityState{State: map[model.Domain]map[string]model.StateRecord{}}
		doc.Entities[entityID] = ent
	}
	byField, ok := ent.State[domain]
	if !ok {
		byField = map[string]model.StateRecord{}
		ent.State[domain] = byField
	}

	if isRetract {
		delete(byField, field)
		return
	}
	byField[field] = rec
}

// MarkEventProcessed appends eventID to the bounded processed-event set,
// evicting the oldest entries beyond model.MaxProcessedEventIDs (§3).
func MarkEventProcessed(doc *model.Document, eventID string) {
	doc.ProcessedEventIDs = append(doc.ProcessedEventIDs, eventID)
	if over := len(doc.ProcessedEventIDs) - model.MaxProcessedEventIDs; over > 0 {
		doc.ProcessedEventIDs = doc.ProcessedEventIDs[over:]
	}
}

// IsEventProcessed reports whether eventID is present in the processed set.
func IsEventProcessed(doc *model.Document, eventID string) bool {
	for _, id := range doc.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// PushTentative appends a TentativeObservation, evicting the oldest entries
// beyond model.MaxTentativeObservations (§3).
func PushTentative(doc *model.Document, t model.TentativeObservation) {
	doc.TentativeObservations = append(doc.TentativeObservations, t)
	if over := len(doc.TentativeObservations) - model.MaxTentativeObservations; over > 0 {
		doc.TentativeObservations = doc.TentativeObservations[over:]
	}
}

// SortedRecordKeys returns (entityID, domain, field) triples for every
// committed record, sorted entity_id asc, domain asc, field asc — the order
// required by §4.7's canonical-state rendering and §4.11's context
// injection.
type RecordKey struct {
	EntityID string
	Domain   model.Domain
	Field    string
}

func SortedRecordKeys(doc *model.Document) []RecordKey {
	var keys []RecordKey
	for entityID, ent := range doc.Entities {
		for domain, byField := range ent.State {
			for field := range byField {
				keys = append(keys, RecordKey{EntityID: entityID, Domain: domain, Field: field})
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EntityID != keys[j].EntityID {
			return keys[i].EntityID < keys[j].EntityID
		}
		if keys[i].Domain != keys[j].Domain {
			return keys[i].Domain < keys[j].Domain
		}
		return keys[i].Field < keys[j].Field
	})
	return keys
}

// SortedPendingPrompts returns pending prompts sorted by CreatedAt ascending
// (§4.7, §4.10 ordering guarantees).
func SortedPendingPrompts(doc *model.Document) []model.PendingPrompt {
	out := make([]model.PendingPrompt, 0, len(doc.PendingConfirmations))
	for _, p := range doc.PendingConfirmations {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PromptID < out[j].PromptID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
