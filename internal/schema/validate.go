// Package schema implements C1: strict payload validation for the three
// inbound schemas (observation, confirmation, signal) plus the optional
// classifier_output schema, and the dead-letter queue (DLQ) those failures
// are quarantined into.
//
// Validation is hand-written Go predicates over typed structs decoded with
// DisallowUnknownFields (the idiomatic-Go equivalent of JSON-Schema's
// additionalProperties:false), layered with go-playground/validator/v10
// struct-tag checks for the bounds and enumerations that are awkward to
// hand-roll, exactly the way the pack's larger services (jordigilh-kubernaut,
// codeready-toolchain-tarsy) use validator.v10 alongside custom checks.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

// Name is the closed set of schema names accepted by Validate.
type Name string

const (
	Observation      Name = "observation"
	Confirmation     Name = "confirmation"
	Signal           Name = "signal"
	ClassifierOutput Name = "classifier_output"
)

var entityIDPattern = regexp.MustCompile(`^(user|family|team):[a-z0-9._-]+$`)

var validSourceTypes = map[string]bool{
	"conversation_assertive": true,
	"conversation_planning":  true,
	"static_markdown":        true,
	"calendar_poll":          true,
	"calendar_webhook":       true,
	"email_poll":             true,
	"email_webhook":          true,
	"user_confirmation":      true,
	"cli":                    true,
}

var v10 = validator.New()

// Result is the outcome of Validate: either ok, or a non-empty Errors list.
type Result struct {
	OK     bool
	Errors []string
}

func ok() Result { return Result{OK: true} }

func fail(errs ...string) Result {
	return Result{OK: false, Errors: errs}
}

// Validate dispatches to the schema-specific validator named by name,
// decoding payload strictly (unknown fields rejected) before running
// field-level checks. An unrecognized schema name yields a failed Result
// whose single error starts with "unsupported_schema:"; no Go error is
// returned.
func Validate(name Name, payload []byte) Result {
	switch name {
	case Observation:
		var obs model.StateObservation
		if errs := decodeStrict(payload, &obs); errs != nil {
			return fail(errs...)
		}
		return ValidateObservation(&obs)
	case Confirmation:
		var c model.UserConfirmation
		if errs := decodeStrict(payload, &c); errs != nil {
			return fail(errs...)
		}
		return ValidateConfirmation(&c)
	case Signal:
		var s model.SignalEvent
		if errs := decodeStrict(payload, &s); errs != nil {
			return fail(errs...)
		}
		return ValidateSignal(&s)
	case ClassifierOutput:
		var c ClassifierResult
		if errs := decodeStrict(payload, &c); errs != nil {
			return fail(errs...)
		}
		return ValidateClassifierOutput(&c)
	default:
		return fail(fmt.Sprintf("unsupported_schema: %q", name))
	}
}

func decodeStrict(payload []byte, v any) []string {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return []string{fmt.Sprintf("malformed payload: %v", err)}
	}
	return nil
}

// ValidateObservation checks a StateObservation against §3/§4.1's rules.
func ValidateObservation(o *model.StateObservation) Result {
	var errs []string

	if !isUUID(o.EventID) {
		errs = append(errs, "event_id: must be an RFC-4122 uuid")
	}
	if o.EventTS.IsZero() {
		errs = append(errs, "event_ts: required RFC-3339 timestamp")
	}
	if !o.Domain.Valid() {
		errs = append(errs, fmt.Sprintf("domain: invalid value %q", o.Domain))
	}
	if !entityIDPattern.MatchString(o.EntityID) {
		errs = append(errs, "entity_id: must match ^(user|family|team):[a-z0-9._-]+$")
	}
	if strings.TrimSpace(o.Field) == "" || len(o.Field) > 200 {
		errs = append(errs, "field: required, max 200 chars")
	}
	if !o.Intent.Valid() {
		errs = append(errs, fmt.Sprintf("intent: invalid value %q", o.Intent))
	}
	if o.Intent == model.IntentRetract && o.CandidateValue != nil {
		errs = append(errs, "candidate_value: must be null when intent=retract")
	}
	errs = append(errs, validateSource(o.Source)...)
	for i, c := range o.Corroborators {
		errs = append(errs, prefixed(fmt.Sprintf("corroborators[%d]", i), validateSource(c))...)
	}

	if len(errs) > 0 {
		return fail(errs...)
	}
	return ok()
}

// ValidateConfirmation checks a UserConfirmation against §3's rules.
func ValidateConfirmation(c *model.UserConfirmation) Result {
	var errs []string

	if !isUUID(c.PromptID) {
		errs = append(errs, "prompt_id: must be an RFC-4122 uuid")
	}
	if !entityIDPattern.MatchString(c.EntityID) {
		errs = append(errs, "entity_id: must match ^(user|family|team):[a-z0-9._-]+$")
	}
	if !c.Domain.Valid() {
		errs = append(errs, fmt.Sprintf("domain: invalid value %q", c.Domain))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, "confidence: must be in [0,1]")
	}
	if len(c.ReasonSummary) > model.MaxReasonSummary {
		errs = append(errs, fmt.Sprintf("reason_summary: at most %d entries", model.MaxReasonSummary))
	}
	for _, r := range c.ReasonSummary {
		if len(r) > model.MaxReasonLen {
			errs = append(errs, fmt.Sprintf("reason_summary: entries must be <= %d chars", model.MaxReasonLen))
			break
		}
	}
	if !c.Action.Valid() {
		errs = append(errs, fmt.Sprintf("action: invalid value %q", c.Action))
	}
	if c.Action == model.ActionEdit && c.EditedValue == nil {
		errs = append(errs, "edited_value: required when action=edit")
	}
	if c.Action != model.ActionEdit && c.EditedValue != nil {
		errs = append(errs, "edited_value: must be absent unless action=edit")
	}
	if c.TS.IsZero() {
		errs = append(errs, "ts: required RFC-3339 timestamp")
	}

	if len(errs) > 0 {
		return fail(errs...)
	}
	return ok()
}

// ValidateSignal checks a SignalEvent against §3's rules.
func ValidateSignal(s *model.SignalEvent) Result {
	var errs []string

	if strings.TrimSpace(s.SignalID) == "" {
		errs = append(errs, "signal_id: required")
	}
	if s.EventTS.IsZero() {
		errs = append(errs, "event_ts: required RFC-3339 timestamp")
	}
	if s.Source.Kind != "calendar" && s.Source.Kind != "email" {
		errs = append(errs, fmt.Sprintf("source.kind: invalid value %q", s.Source.Kind))
	}
	if s.Source.Mode != "poll" && s.Source.Mode != "webhook" {
		errs = append(errs, fmt.Sprintf("source.mode: invalid value %q", s.Source.Mode))
	}
	if !entityIDPattern.MatchString(s.EntityID) {
		errs = append(errs, "entity_id: must match ^(user|family|team):[a-z0-9._-]+$")
	}
	if len(s.Items) == 0 {
		errs = append(errs, "items: must contain at least one item")
	}
	for i, item := range s.Items {
		p := fmt.Sprintf("items[%d]", i)
		if !item.Domain.Valid() {
			errs = append(errs, fmt.Sprintf("%s.domain: invalid value %q", p, item.Domain))
		}
		if strings.TrimSpace(item.Field) == "" {
			errs = append(errs, p+".field: required")
		}
		if strings.TrimSpace(item.Ref) == "" {
			errs = append(errs, p+".ref: required")
		}
		if !item.Intent.Valid() {
			errs = append(errs, fmt.Sprintf("%s.intent: invalid value %q", p, item.Intent))
		}
		for j, c := range item.Corroborators {
			errs = append(errs, prefixed(fmt.Sprintf("%s.corroborators[%d]", p, j), validateSource(c))...)
		}
	}

	if len(errs) > 0 {
		return fail(errs...)
	}
	return ok()
}

// ClassifierResult is the stdout contract of the pluggable intent classifier
// (§6: stdout = {intent, confidence, reason, domain}).
type ClassifierResult struct {
	Intent     model.Intent `json:"intent" validate:"required"`
	Confidence float64      `json:"confidence" validate:"gte=0,lte=1"`
	Reason     string       `json:"reason" validate:"max=500"`
	Domain     model.Domain `json:"domain,omitempty"`
}

// ValidateClassifierOutput validates the optional classifier's stdout
// contract. Never silently accepted (§9 Design Notes): any failure here
// must fall back to the rule-based classifier, never be treated as data.
func ValidateClassifierOutput(c *ClassifierResult) Result {
	if err := v10.Struct(c); err != nil {
		return fail(fmt.Sprintf("classifier output: %v", err))
	}
	if !c.Intent.Valid() {
		return fail(fmt.Sprintf("intent: invalid value %q", c.Intent))
	}
	if c.Domain != "" && !c.Domain.Valid() {
		return fail(fmt.Sprintf("domain: invalid value %q", c.Domain))
	}
	return ok()
}

func validateSource(s model.SourceRef) []string {
	var errs []string
	if !validSourceTypes[s.Type] {
		// Unknown source types are allowed through schema (the resolver
		// treats them as reliability 0.5, per §4.3) but must still be a
		// non-empty short token.
		if strings.TrimSpace(s.Type) == "" || len(s.Type) > 64 {
			errs = append(errs, "source.type: required, max 64 chars")
		}
	}
	if len(s.Ref) > 500 {
		errs = append(errs, "source.ref: max 500 chars")
	}
	return errs
}

func prefixed(prefix string, errs []string) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = prefix + "." + e
	}
	return out
}

func isUUID(s string) bool {
	// Shape check only (8-4-4-4-12 hex digits, any case); the version and
	// variant nibbles are not inspected.
	return uuidPattern.MatchString(strings.ToLower(s))
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ParseRFC3339 is a small helper used by callers constructing observations
// from looser input (e.g. the bridge, the signal adapter) so timestamp
// parsing failures are reported uniformly.
func ParseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
