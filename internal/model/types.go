// Package model defines the shared data-model types for the state-consistency
// engine: observations, signals, confirmations, and the records the canonical
// store persists. Types here are pure data — no I/O, no behavior beyond small
// helpers — so every other package can depend on them without cycles.
package model

import (
	"errors"
	"time"
)

// Sentinel errors returned across component boundaries, checked with errors.Is.
var (
	ErrNotFound       = errors.New("not_found")
	ErrMismatch       = errors.New("mismatch")
	ErrAmbiguous      = errors.New("ambiguous")
	ErrPendingLimit   = errors.New("pending_limit_reached")
	ErrUnsupported    = errors.New("unsupported_schema")
	ErrValidation     = errors.New("validation_failed")
)

// Domain is the closed set of field domains.
type Domain string

const (
	DomainTravel    Domain = "travel"
	DomainFamily    Domain = "family"
	DomainProject   Domain = "project"
	DomainFinancial Domain = "financial"
	DomainProfile   Domain = "profile"
	DomainSchool    Domain = "school"
	DomainGeneral   Domain = "general"
)

// AllDomains enumerates every domain, in the canonical sort/iteration order
// used by default-config bootstrap and by projection rendering.
var AllDomains = []Domain{
	DomainTravel, DomainFamily, DomainProject, DomainFinancial,
	DomainProfile, DomainSchool, DomainGeneral,
}

func (d Domain) Valid() bool {
	for _, v := range AllDomains {
		if v == d {
			return true
		}
	}
	return false
}

// Intent is the closed set of observation intents.
type Intent string

const (
	IntentAssertive   Intent = "assertive"
	IntentPlanning    Intent = "planning"
	IntentHypothetical Intent = "hypothetical"
	IntentHistorical  Intent = "historical"
	IntentRetract     Intent = "retract"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentAssertive, IntentPlanning, IntentHypothetical, IntentHistorical, IntentRetract:
		return true
	}
	return false
}

// SourceRef identifies the origin of a claim.
type SourceRef struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

// StateObservation is the input to the ingestion pipeline (C4).
type StateObservation struct {
	EventID        string      `json:"event_id"`
	EventTS        time.Time   `json:"event_ts"`
	Domain         Domain      `json:"domain"`
	EntityID       string      `json:"entity_id"`
	Field          string      `json:"field"`
	CandidateValue any         `json:"candidate_value"`
	Intent         Intent      `json:"intent"`
	Source         SourceRef   `json:"source"`
	Corroborators  []SourceRef `json:"corroborators"`
}

// SignalItem is one item inside a SignalEvent batch.
type SignalItem struct {
	Domain        Domain      `json:"domain"`
	Field         string      `json:"field"`
	Ref           string      `json:"ref"`
	Value         any         `json:"value"`
	Intent        Intent      `json:"intent"`
	Corroborators []SourceRef `json:"corroborators"`
}

// SignalSource describes where a signal batch originated.
type SignalSource struct {
	Kind string `json:"kind"` // calendar | email
	Mode string `json:"mode"` // poll | webhook
	Ref  string `json:"ref"`
}

// SignalEvent is the batched external input consumed by the Signal Adapter (C5).
type SignalEvent struct {
	SignalID string       `json:"signal_id"`
	EventTS  time.Time    `json:"event_ts"`
	Source   SignalSource `json:"source"`
	EntityID string       `json:"entity_id"`
	Items    []SignalItem `json:"items"`
}

// ConfirmAction is the closed set of user confirmation actions.
type ConfirmAction string

const (
	ActionConfirm ConfirmAction = "confirm"
	ActionReject  ConfirmAction = "reject"
	ActionEdit    ConfirmAction = "edit"
)

func (a ConfirmAction) Valid() bool {
	switch a {
	case ActionConfirm, ActionReject, ActionEdit:
		return true
	}
	return false
}

// UserConfirmation is the input that resolves a PendingPrompt (C6).
type UserConfirmation struct {
	PromptID      string        `json:"prompt_id"`
	EntityID      string        `json:"entity_id"`
	Domain        Domain        `json:"domain"`
	ProposedChange string       `json:"proposed_change"`
	Confidence    float64       `json:"confidence"`
	ReasonSummary []string      `json:"reason_summary"`
	Action        ConfirmAction `json:"action"`
	EditedValue   any           `json:"edited_value,omitempty"`
	TS            time.Time     `json:"ts"`
}

// StateRecord is the committed per-(entity,domain,field) fact.
type StateRecord struct {
	Value      any       `json:"value"`
	LastUpdate time.Time `json:"last_update"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	EventID    string    `json:"event_id"`
}

// PendingPrompt is an ask-user decision awaiting resolution.
type PendingPrompt struct {
	PromptID         string           `json:"prompt_id"`
	EntityID         string           `json:"entity_id"`
	Domain           Domain           `json:"domain"`
	ProposedChange   string           `json:"proposed_change"`
	Confidence       float64          `json:"confidence"`
	ReasonSummary    []string         `json:"reason_summary"`
	Action           string           `json:"action"`
	ObservationEvent StateObservation `json:"observation_event"`
	Source           SourceRef        `json:"source"`
	CreatedAt        time.Time        `json:"created_at"`
}

// TentativeObservation is a low-confidence observation stashed without
// mutating state; eligible for later promotion into a PendingPrompt.
type TentativeObservation struct {
	StateObservation
	ObservedAt time.Time  `json:"observed_at"`
	Confidence float64    `json:"confidence"`
	Reasons    []string   `json:"reasons"`
	PromotedAt *time.Time `json:"promoted_at,omitempty"`
	PromptID   string     `json:"prompt_id,omitempty"`
}

// DomainConfig holds the per-domain decision thresholds (§4.3).
type DomainConfig struct {
	AskThreshold    float64 `json:"ask_threshold"`
	AutoThreshold   float64 `json:"auto_threshold"`
	MarginThreshold float64 `json:"margin_threshold"`
}

// AdaptiveLearningConfig mirrors §4.9's tunables.
type AdaptiveLearningConfig struct {
	MinSamples            int     `json:"min_samples"`
	LookbackDays          int     `json:"lookback_days"`
	MaxDailyStep          float64 `json:"max_daily_step"`
	TargetCorrectionRate  float64 `json:"target_correction_rate"`
	LowConfirmationRate   float64 `json:"low_confirmation_rate"`
	HighConfirmationRate  float64 `json:"high_confirmation_rate"`
	MinIntervalHours      float64 `json:"min_interval_hours"`
	LastRunAt             *time.Time `json:"last_run_at,omitempty"`
}

// ProjectionMode is the closed set of projection strategies.
type ProjectionMode string

const (
	ProjectionModeLegacyString ProjectionMode = "legacy_string"
	ProjectionModeASTZone      ProjectionMode = "ast_zone"
)

// AdaptiveMode is the closed set of learner modes.
type AdaptiveMode string

const (
	AdaptiveModeOff    AdaptiveMode = "off"
	AdaptiveModeShadow AdaptiveMode = "shadow"
	AdaptiveModeApply  AdaptiveMode = "apply"
)

// Runtime holds the document's runtime configuration and cursors.
type Runtime struct {
	ProjectionMode          ProjectionMode            `json:"projection_mode"`
	AdaptiveLearningEnabled bool                      `json:"adaptive_learning_enabled"`
	AdaptiveLearning        AdaptiveLearningConfig     `json:"adaptive_learning"`
	AdaptiveMode            AdaptiveMode              `json:"adaptive_mode"`
	ProjectionHashes        map[string]string         `json:"projection_hashes"`
	LastPollAt              *time.Time                `json:"last_poll_at,omitempty"`
	LastReviewQueueAt       *time.Time                `json:"last_review_queue_at,omitempty"`
}

// LearningStats are counters used for operational telemetry and rollout review.
type LearningStats struct {
	AutoCommits          int64 `json:"auto_commits"`
	AskUserConfirmations int64 `json:"ask_user_confirmations"`
	UserConfirms         int64 `json:"user_confirms"`
	UserRejects          int64 `json:"user_rejects"`
	UserEdits            int64 `json:"user_edits"`
	TentativeRejects     int64 `json:"tentative_rejects"`
}

// EntityState holds the committed records for one entity, keyed by domain then field.
type EntityState struct {
	State map[Domain]map[string]StateRecord `json:"state"`
}

// Document is the top-level canonical store (C2).
type Document struct {
	Version              string                    `json:"version"`
	LastConsistencyCheck time.Time                 `json:"last_consistency_check"`
	Runtime              Runtime                   `json:"runtime"`
	Domains              map[Domain]DomainConfig   `json:"domains"`
	SourceReliability    map[string]float64        `json:"source_reliability"`
	Entities             map[string]*EntityState   `json:"entities"`
	TentativeObservations []TentativeObservation   `json:"tentative_observations"`
	ActiveConflicts      []any                     `json:"active_conflicts"`
	PendingConfirmations map[string]PendingPrompt  `json:"pending_confirmations"`
	ProcessedEventIDs    []string                  `json:"processed_event_ids"`
	LearningStats        LearningStats             `json:"learning_stats"`
}

// LearningEvent is appended on every ask_user outcome, consumed by C9.
type LearningEvent struct {
	LearningEventID string    `json:"learning_event_id"`
	TS              time.Time `json:"ts"`
	EntityID        string    `json:"entity_id"`
	Domain          Domain    `json:"domain"`
	Field           string    `json:"field"`
	Decision        string    `json:"decision"`
	Action          string    `json:"action"`
	Outcome         string    `json:"outcome"`
	Confidence      float64   `json:"confidence"`
	Intent          Intent    `json:"intent"`
	SourceType      string    `json:"source_type"`
	SourceRef       string    `json:"source_ref"`
	PromptID        string    `json:"prompt_id"`
}

// Limits referenced by §3's bounded-collection invariants.
const (
	MaxProcessedEventIDs     = 5000
	MaxTentativeObservations = 1000
	MaxReasonSummary         = 5
	MaxReasonLen             = 160
)

// Clamp01Round3 clamps v to [0,1] and rounds to 3 decimal places, as required
// by §3 ("All floats clamped to [0,1] and rounded to 3 decimals").
func Clamp01Round3(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return round3(v)
}

func round3(v float64) float64 {
	const scale = 1000.0
	r := v * scale
	if r >= 0 {
		r += 0.5
	} else {
		r -= 0.5
	}
	return float64(int64(r)) / scale
}
