// Package ingest implements C4: the single entrypoint that turns a validated
// StateObservation into a committed record, a pending confirmation, or a
// tentative rejection, with event-id based idempotency guarding every path.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/resolver"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

// Status is the closed set of outcomes the ingest pipeline can report (§4.4).
type Status string

const (
	StatusCommitted          Status = "committed"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusTentative          Status = "tentative"
	StatusDuplicate          Status = "duplicate"
	StatusValidationFailed   Status = "validation_failed"
)

// Options carries the optional force_commit flag from the caller (§4.3).
type Options struct {
	ForceCommit bool
}

// Result is the full shape of an ingest call: status plus the resolver's
// confidence/margin/reasons and, for ask_user, the prompt it created (§4.4
// step 6).
type Result struct {
	Status         Status
	Confidence     float64
	Margin         float64
	Reasons        []string
	Prompt         *model.PendingPrompt
	ValidationErrs []string
	DLQID          string
}

// Pipeline bundles the dependencies the ingest entrypoint needs: the
// canonical store and the DLQ quarantine for validation failures.
type Pipeline struct {
	Store *store.Store
	DLQ   *schema.DLQ
	Now   func() time.Time
}

// New builds a Pipeline. now defaults to time.Now if nil, letting tests
// inject a fixed clock.
func New(s *store.Store, dlq *schema.DLQ, now func() time.Time) *Pipeline {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{Store: s, DLQ: dlq, Now: now}
}

// Ingest runs the full §4.4 pipeline for a single observation.
func (p *Pipeline) Ingest(obs model.StateObservation, opts Options) (Result, error) {
	payload, err := json.Marshal(obs)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: marshal observation: %w", err)
	}

	if res := schema.ValidateObservation(&obs); !res.OK {
		entry, err := p.DLQ.Create(p.Now(), schema.Observation, payload, res.Errors)
		if err != nil {
			return Result{}, fmt.Errorf("ingest: quarantine invalid observation: %w", err)
		}
		return Result{Status: StatusValidationFailed, ValidationErrs: res.Errors, DLQID: entry.DLQID}, nil
	}

	var result Result
	_, err = p.Store.Mutate(func(doc *model.Document) error {
		if store.IsEventProcessed(doc, obs.EventID) {
			result = Result{Status: StatusDuplicate}
			return errSkipSave
		}
		store.MarkEventProcessed(doc, obs.EventID)

		cfg, ok := doc.Domains[obs.Domain]
		if !ok {
			cfg = model.DomainConfig{AskThreshold: 0.65, AutoThreshold: 0.90, MarginThreshold: 0.15}
		}

		now := p.Now()
		nCorrob := len(obs.Corroborators)
		confidence := resolver.Confidence(doc.SourceReliability, obs.Source.Type, obs.Intent, obs.EventTS, now, nCorrob)

		current, _ := store.GetRecord(doc, obs.EntityID, obs.Domain, obs.Field)
		outcome := resolver.Decide(cfg, confidence, current.Confidence, opts.ForceCommit)

		result = Result{
			Status:     "",
			Confidence: outcome.Confidence,
			Margin:     outcome.Margin,
			Reasons:    outcome.Reasons,
		}

		switch outcome.Decision {
		case resolver.DecisionAutoCommit:
			isRetract := obs.Intent == model.IntentRetract && obs.CandidateValue == nil
			rec := model.StateRecord{
				Value:      obs.CandidateValue,
				LastUpdate: now,
				Source:     obs.Source.Type,
				Confidence: outcome.Confidence,
				EventID:    obs.EventID,
			}
			store.PutRecord(doc, obs.EntityID, obs.Domain, obs.Field, rec, obs.CandidateValue, isRetract)
			doc.LearningStats.AutoCommits++
			result.Status = StatusCommitted
			appendAuditCommit(p.Store, obs, outcome)

		case resolver.DecisionAskUser:
			prompt := model.PendingPrompt{
				PromptID:         ids.New(),
				EntityID:         obs.EntityID,
				Domain:           obs.Domain,
				ProposedChange:   formatProposedChange(obs.Field, obs.CandidateValue),
				Confidence:       outcome.Confidence,
				ReasonSummary:    firstN(outcome.Reasons, model.MaxReasonSummary),
				ObservationEvent: obs,
				Source:           obs.Source,
				CreatedAt:        now,
			}
			if doc.PendingConfirmations == nil {
				doc.PendingConfirmations = map[string]model.PendingPrompt{}
			}
			doc.PendingConfirmations[prompt.PromptID] = prompt
			doc.LearningStats.AskUserConfirmations++
			result.Status = StatusPendingConfirmation
			result.Prompt = &prompt
			appendAuditAskUser(p.Store, obs, outcome, prompt.PromptID)

		default:
			store.PushTentative(doc, model.TentativeObservation{
				StateObservation: obs,
				ObservedAt:       now,
				Confidence:       outcome.Confidence,
				Reasons:          outcome.Reasons,
			})
			doc.LearningStats.TentativeRejects++
			result.Status = StatusTentative
			appendAuditTentative(p.Store, obs, outcome)
		}

		return nil
	})
	if err != nil && err != errSkipSave {
		return Result{}, fmt.Errorf("ingest: mutate store: %w", err)
	}
	return result, nil
}

// errSkipSave is a sentinel returned from the Mutate closure to signal
// "nothing changed, abort the save" without treating a duplicate as an error.
var errSkipSave = fmt.Errorf("ingest: duplicate, skip save")

func formatProposedChange(field string, value any) string {
	if s, ok := value.(string); ok {
		return fmt.Sprintf("%s -> %s", field, s)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%s -> %v", field, value)
	}
	return fmt.Sprintf("%s -> %s", field, string(encoded))
}

func firstN(reasons []string, n int) []string {
	if len(reasons) <= n {
		return reasons
	}
	return reasons[:n]
}

func appendAuditCommit(s *store.Store, obs model.StateObservation, outcome resolver.Outcome) {
	_ = s.AppendAudit(fmt.Sprintf(
		"%s | decision=auto_commit | %s/%s.%s | value=%v | confidence=%.3f | source=%s",
		obs.EventID, obs.EntityID, obs.Domain, obs.Field, obs.CandidateValue, outcome.Confidence, obs.Source.Type,
	))
}

func appendAuditAskUser(s *store.Store, obs model.StateObservation, outcome resolver.Outcome, promptID string) {
	_ = s.AppendAudit(fmt.Sprintf(
		"%s | decision=ask_user | %s/%s.%s | value=%v | confidence=%.3f | prompt_id=%s",
		obs.EventID, obs.EntityID, obs.Domain, obs.Field, obs.CandidateValue, outcome.Confidence, promptID,
	))
}

func appendAuditTentative(s *store.Store, obs model.StateObservation, outcome resolver.Outcome) {
	_ = s.AppendAudit(fmt.Sprintf(
		"%s | decision=tentative_reject | %s/%s.%s | value=%v | confidence=%.3f",
		obs.EventID, obs.EntityID, obs.Domain, obs.Field, obs.CandidateValue, outcome.Confidence,
	))
}
