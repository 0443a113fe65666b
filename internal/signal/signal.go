// Package signal implements C5: turning batched external calendar/email
// signals into StateObservations with content-derived, idempotent event ids,
// and a fixed-keyword domain classifier for free-text titles/bodies. The
// scoring-by-keyword-match approach mirrors the deterministic heuristic
// scoring the teacher's discovery package uses for plan-file candidates.
package signal

import (
	"fmt"
	"strings"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
)

// Counters aggregates per-status outcomes across a signal batch (§4.5).
type Counters struct {
	Committed          int
	PendingConfirmation int
	Tentative          int
	Duplicate          int
	ValidationFailed   int
}

func (c *Counters) record(status ingest.Status) {
	switch status {
	case ingest.StatusCommitted:
		c.Committed++
	case ingest.StatusPendingConfirmation:
		c.PendingConfirmation++
	case ingest.StatusTentative:
		c.Tentative++
	case ingest.StatusDuplicate:
		c.Duplicate++
	case ingest.StatusValidationFailed:
		c.ValidationFailed++
	}
}

// Result is the outcome of ingesting one signal batch.
type Result struct {
	Counters Counters
	Items    []ingest.Result
}

// Adapter turns SignalEvents into per-item observations and drives them
// through the ingestion pipeline.
type Adapter struct {
	Pipeline *ingest.Pipeline
}

// New builds a signal Adapter around an ingestion pipeline.
func New(p *ingest.Pipeline) *Adapter {
	return &Adapter{Pipeline: p}
}

// Ingest validates sig, derives one observation per item, and runs each
// through the ingestion pipeline, aggregating per-status counters.
func (a *Adapter) Ingest(sig model.SignalEvent, opts ingest.Options) (Result, error) {
	if res := schema.ValidateSignal(&sig); !res.OK {
		var out Result
		out.Counters.ValidationFailed++
		return out, fmt.Errorf("signal: invalid signal %s: %v", sig.SignalID, res.Errors)
	}

	var result Result
	for i, item := range sig.Items {
		obs, err := observationFromItem(sig, item, i)
		if err != nil {
			return result, fmt.Errorf("signal: build observation for item %d: %w", i, err)
		}
		itemResult, err := a.Pipeline.Ingest(obs, opts)
		if err != nil {
			return result, fmt.Errorf("signal: ingest item %d: %w", i, err)
		}
		result.Counters.record(itemResult.Status)
		result.Items = append(result.Items, itemResult)
	}
	return result, nil
}

// sourceTypeFor derives source.type from the signal's kind/mode (§4.5).
func sourceTypeFor(kind, mode string) string {
	switch kind {
	case "calendar":
		if mode == "webhook" {
			return "calendar_webhook"
		}
		return "calendar_poll"
	case "email":
		if mode == "webhook" {
			return "email_webhook"
		}
		return "email_poll"
	default:
		return "email_poll"
	}
}

func observationFromItem(sig model.SignalEvent, item model.SignalItem, index int) (model.StateObservation, error) {
	eventID, err := ids.ContentDerivedEventID(sig.Source.Kind, sig.Source.Mode, sig.EntityID, item.Ref, item.Value)
	if err != nil {
		return model.StateObservation{}, err
	}

	return model.StateObservation{
		EventID:        eventID,
		EventTS:        sig.EventTS,
		Domain:         item.Domain,
		EntityID:       sig.EntityID,
		Field:          item.Field,
		CandidateValue: item.Value,
		Intent:         item.Intent,
		Source: model.SourceRef{
			Type: sourceTypeFor(sig.Source.Kind, sig.Source.Mode),
			Ref:  fmt.Sprintf("%s#item-%d", sig.Source.Ref, index+1),
		},
		Corroborators: item.Corroborators,
	}, nil
}

// keywordSet is a fixed domain->keyword table used by InferDomain (§4.5).
var keywordSet = map[model.Domain][]string{
	model.DomainTravel:    {"flight", "hotel", "trip", "travel", "airport", "itinerary", "booking", "vacation"},
	model.DomainFamily:    {"family", "birthday", "anniversary", "spouse", "partner", "kid", "child", "parent"},
	model.DomainSchool:    {"school", "class", "lesson", "homework", "teacher", "exam", "tuition", "semester"},
	model.DomainProject:   {"project", "deadline", "sprint", "milestone", "release", "standup", "ticket"},
	model.DomainFinancial: {"invoice", "payment", "budget", "expense", "tax", "salary", "bill", "subscription"},
	model.DomainProfile:   {"name", "address", "phone", "email", "birthday", "preference", "allergy"},
}

// InferDomain classifies free text into one of the seven domains using fixed
// keyword matching (§4.4 observation extraction, §4.5 domain inference).
// family is refined to school when a school-specific keyword also matches
// (§4.5), since family and school vocabularies otherwise overlap (e.g.
// "kid").
func InferDomain(texts ...string) model.Domain {
	joined := strings.ToLower(strings.Join(texts, " "))

	matched := map[model.Domain]bool{}
	for domain, keywords := range keywordSet {
		for _, kw := range keywords {
			if strings.Contains(joined, kw) {
				matched[domain] = true
				break
			}
		}
	}

	if matched[model.DomainSchool] {
		return model.DomainSchool
	}
	if matched[model.DomainFamily] {
		return model.DomainFamily
	}
	for _, d := range []model.Domain{model.DomainTravel, model.DomainProject, model.DomainFinancial, model.DomainProfile} {
		if matched[d] {
			return d
		}
	}
	return model.DomainGeneral
}
