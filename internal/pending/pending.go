// Package pending implements C6: resolving a PendingPrompt against a user's
// confirm/reject/edit decision, and promoting eligible tentative
// observations into new pending prompts for review.
package pending

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/learning"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/resolver"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

// Manager bundles the dependencies apply/promote need: the canonical store,
// the ingestion pipeline (for re-running C1-C3 on the synthesized
// observation), the DLQ, and the learning-event log.
type Manager struct {
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Learning *learning.EventLog
	Now      func() time.Time
}

// New builds a pending.Manager.
func New(s *store.Store, p *ingest.Pipeline, l *learning.EventLog, now func() time.Time) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{Store: s, Pipeline: p, Learning: l, Now: now}
}

// ApplyResult is the outcome of ApplyConfirmation.
type ApplyResult struct {
	Status  string // committed | rejected | validation_failed
	Ingest  *ingest.Result
	DLQID   string
}

// ApplyConfirmation resolves a pending prompt per §4.6.
func (m *Manager) ApplyConfirmation(c model.UserConfirmation) (ApplyResult, error) {
	if res := schema.ValidateConfirmation(&c); !res.OK {
		entry, err := m.Pipeline.DLQ.Create(m.Now(), schema.Confirmation, mustMarshal(c), res.Errors)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("pending: quarantine invalid confirmation: %w", err)
		}
		return ApplyResult{Status: "validation_failed", DLQID: entry.DLQID}, nil
	}

	doc, err := m.Store.Load()
	if err != nil {
		return ApplyResult{}, err
	}
	prompt, ok := doc.PendingConfirmations[c.PromptID]
	if !ok {
		return ApplyResult{}, model.ErrNotFound
	}
	if prompt.EntityID != c.EntityID || prompt.Domain != c.Domain {
		return ApplyResult{}, model.ErrMismatch
	}

	if c.Action == model.ActionReject {
		if _, err := m.Store.Mutate(func(doc *model.Document) error {
			delete(doc.PendingConfirmations, c.PromptID)
			doc.LearningStats.AskUserConfirmations++
			doc.LearningStats.UserRejects++
			return nil
		}); err != nil {
			return ApplyResult{}, err
		}
		_ = m.Store.AppendAudit(fmt.Sprintf("prompt=%s | action=reject | no state mutation", c.PromptID))
		if err := m.emitLearningEvent(prompt, c, learning.OutcomeCorrected); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Status: "rejected"}, nil
	}

	// confirm or edit: delete the prompt first so the synthesized observation
	// below is computed against a document that no longer double-counts it.
	if _, err := m.Store.Mutate(func(doc *model.Document) error {
		delete(doc.PendingConfirmations, c.PromptID)
		doc.LearningStats.AskUserConfirmations++
		return nil
	}); err != nil {
		return ApplyResult{}, err
	}

	value := prompt.ObservationEvent.CandidateValue
	if c.Action == model.ActionEdit {
		value = c.EditedValue
	}
	ts := c.TS
	if ts.IsZero() {
		ts = m.Now()
	}
	synthesized := model.StateObservation{
		EventID:        ids.New(),
		EventTS:        ts,
		Domain:         prompt.Domain,
		EntityID:       prompt.EntityID,
		Field:          prompt.ObservationEvent.Field,
		CandidateValue: value,
		Intent:         model.IntentAssertive,
		Source:         model.SourceRef{Type: "user_confirmation", Ref: fmt.Sprintf("prompt:%s", c.PromptID)},
	}

	ingestResult, err := m.Pipeline.Ingest(synthesized, ingest.Options{})
	if err != nil {
		return ApplyResult{}, err
	}
	if ingestResult.Status == ingest.StatusValidationFailed {
		return ApplyResult{Status: "validation_failed", DLQID: ingestResult.DLQID}, nil
	}

	outcome := learning.OutcomeAccepted
	if _, err := m.Store.Mutate(func(doc *model.Document) error {
		if c.Action == model.ActionEdit {
			doc.LearningStats.UserEdits++
			outcome = learning.OutcomeCorrected
		} else {
			doc.LearningStats.UserConfirms++
		}
		return nil
	}); err != nil {
		return ApplyResult{}, err
	}

	if err := m.emitLearningEvent(prompt, c, outcome); err != nil {
		return ApplyResult{}, err
	}

	return ApplyResult{Status: "committed", Ingest: &ingestResult}, nil
}

func (m *Manager) emitLearningEvent(prompt model.PendingPrompt, c model.UserConfirmation, outcome learning.Outcome) error {
	return m.Learning.Append(model.LearningEvent{
		TS:         m.Now(),
		EntityID:   prompt.EntityID,
		Domain:     prompt.Domain,
		Field:      prompt.ObservationEvent.Field,
		Decision:   "ask_user",
		Action:     string(c.Action),
		Outcome:    string(outcome),
		Confidence: prompt.Confidence,
		Intent:     prompt.ObservationEvent.Intent,
		SourceType: prompt.Source.Type,
		SourceRef:  prompt.Source.Ref,
		PromptID:   prompt.PromptID,
	})
}

// PromoteFilter narrows which tentatives/pending prompts are considered.
type PromoteFilter struct {
	EntityID      string
	Domain        model.Domain
	MinConfidence float64
	Limit         int
	MaxPending    int
}

// PromoteResult is the outcome of PromoteReviewQueue.
type PromoteResult struct {
	Promoted []model.PendingPrompt
	Reason   string // set to "pending_limit_reached" when remaining capacity is 0
}

// PromoteReviewQueue promotes eligible tentative observations into new
// pending prompts, per §4.6.
func (m *Manager) PromoteReviewQueue(filter PromoteFilter) (PromoteResult, error) {
	var result PromoteResult

	_, err := m.Store.Mutate(func(doc *model.Document) error {
		currentPending := countPending(doc.PendingConfirmations, filter)
		remaining := filter.MaxPending - currentPending
		if remaining <= 0 {
			result.Reason = "pending_limit_reached"
			return nil
		}

		referenced := referencedEventIDs(doc.PendingConfirmations)
		eligible := eligibleTentatives(doc.TentativeObservations, filter, referenced)

		take := filter.Limit
		if remaining < take {
			take = remaining
		}
		if take > len(eligible) {
			take = len(eligible)
		}

		now := m.Now()
		for i := 0; i < take; i++ {
			idx := eligible[i].index
			t := doc.TentativeObservations[idx]

			p := model.PendingPrompt{
				PromptID:         ids.New(),
				EntityID:         t.EntityID,
				Domain:           t.Domain,
				ProposedChange:   fmt.Sprintf("%s -> %v", t.Field, t.CandidateValue),
				Confidence:       t.Confidence,
				ReasonSummary:    firstN(t.Reasons, model.MaxReasonSummary),
				ObservationEvent: t.StateObservation,
				Source:           t.Source,
				CreatedAt:        now,
			}
			if doc.PendingConfirmations == nil {
				doc.PendingConfirmations = map[string]model.PendingPrompt{}
			}
			doc.PendingConfirmations[p.PromptID] = p

			promotedAt := now
			doc.TentativeObservations[idx].PromotedAt = &promotedAt
			doc.TentativeObservations[idx].PromptID = p.PromptID

			result.Promoted = append(result.Promoted, p)
		}
		return nil
	})
	if err != nil {
		return PromoteResult{}, err
	}
	return result, nil
}

type indexedTentative struct {
	index int
	t     model.TentativeObservation
}

func eligibleTentatives(tentatives []model.TentativeObservation, filter PromoteFilter, referenced map[string]bool) []indexedTentative {
	var out []indexedTentative
	for i, t := range tentatives {
		if t.PromotedAt != nil {
			continue
		}
		if filter.EntityID != "" && t.EntityID != filter.EntityID {
			continue
		}
		if filter.Domain != "" && t.Domain != filter.Domain {
			continue
		}
		if t.Confidence < filter.MinConfidence {
			continue
		}
		if referenced[t.EventID] {
			continue
		}
		out = append(out, indexedTentative{index: i, t: t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].t.Confidence != out[j].t.Confidence {
			return out[i].t.Confidence > out[j].t.Confidence
		}
		return out[i].t.ObservedAt.Before(out[j].t.ObservedAt)
	})
	return out
}

func referencedEventIDs(pending map[string]model.PendingPrompt) map[string]bool {
	out := map[string]bool{}
	for _, p := range pending {
		out[p.ObservationEvent.EventID] = true
	}
	return out
}

func countPending(pending map[string]model.PendingPrompt, filter PromoteFilter) int {
	if filter.EntityID == "" && filter.Domain == "" {
		return len(pending)
	}
	n := 0
	for _, p := range pending {
		if filter.EntityID != "" && p.EntityID != filter.EntityID {
			continue
		}
		if filter.Domain != "" && p.Domain != filter.Domain {
			continue
		}
		n++
	}
	return n
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
