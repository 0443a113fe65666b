// Package resolver implements C3: the pure confidence formula and the
// three-way auto_commit / ask_user / tentative_reject decision function.
// Nothing here touches disk; every function takes its inputs as arguments
// and returns a value, so it can be exercised with table tests the way the
// teacher's pack scores and classifies inline (jordigilh-kubernaut's
// severity scorer, m0n0x41d-crucible-code's move evaluator).
package resolver

import (
	"fmt"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

// IntentFactor is the §4.3 per-intent weighting table.
var IntentFactor = map[model.Intent]float64{
	model.IntentAssertive:   1.00,
	model.IntentRetract:     0.95,
	model.IntentPlanning:    0.72,
	model.IntentHistorical:  0.68,
	model.IntentHypothetical: 0.45,
}

const unknownSourceReliability = 0.5

// RecencyFactor implements §4.3's linear decay: 1.0 at age 0, floored at 0.4
// by age 168h (one week), held flat beyond.
func RecencyFactor(now, eventTS time.Time) float64 {
	ageH := now.Sub(eventTS).Hours()
	if ageH < 0 {
		ageH = 0
	}
	capped := ageH
	if capped > 168 {
		capped = 168
	}
	factor := 1 - (capped/168)*0.6
	return clamp(factor, 0.4, 1.0)
}

// CorroborationFactor implements §4.3: 1 + 0.05 per corroborator, capped at 1.2.
func CorroborationFactor(nCorroborators int) float64 {
	return clamp(1+0.05*float64(nCorroborators), 1, 1.2)
}

// SourceReliability looks sourceType up in table, defaulting to 0.5 for any
// value the table doesn't carry (§4.3, §9).
func SourceReliability(table map[string]float64, sourceType string) float64 {
	if v, ok := table[sourceType]; ok {
		return v
	}
	return unknownSourceReliability
}

// Confidence computes the §4.3 confidence formula.
func Confidence(reliabilityTable map[string]float64, sourceType string, intent model.Intent, eventTS, now time.Time, nCorroborators int) float64 {
	reliability := SourceReliability(reliabilityTable, sourceType)
	intentFactor, ok := IntentFactor[intent]
	if !ok {
		intentFactor = IntentFactor[model.IntentHypothetical]
	}
	recency := RecencyFactor(now, eventTS)
	corroboration := CorroborationFactor(nCorroborators)

	raw := reliability * intentFactor * recency * corroboration
	return model.Clamp01Round3(raw)
}

// Decision is the closed set of resolver outcomes (§4.3).
type Decision string

const (
	DecisionAutoCommit      Decision = "auto_commit"
	DecisionAskUser         Decision = "ask_user"
	DecisionTentativeReject Decision = "tentative_reject"
)

// Outcome is the full result of Decide: the chosen decision plus the reasons
// that led to it (carried into pending prompts and audit lines, §4.3/§4.6).
type Outcome struct {
	Decision   Decision
	Confidence float64
	Margin     float64
	Reasons    []string
}

// Decide applies §4.3's decision table. currentConfidence is the confidence
// of any existing committed record for the same (entity_id, domain, field),
// or 0 if none exists.
func Decide(cfg model.DomainConfig, confidence, currentConfidence float64, forceCommit bool) Outcome {
	margin := model.Clamp01Round3(confidence - currentConfidence)

	if forceCommit {
		return Outcome{
			Decision:   DecisionAutoCommit,
			Confidence: confidence,
			Margin:     margin,
			Reasons:    []string{"force_commit=true"},
		}
	}

	if confidence >= cfg.AutoThreshold && margin >= cfg.MarginThreshold {
		return Outcome{
			Decision:   DecisionAutoCommit,
			Confidence: confidence,
			Margin:     margin,
			Reasons: []string{
				formatf("confidence %.3f >= auto_threshold %.3f", confidence, cfg.AutoThreshold),
				formatf("margin %.3f >= margin_threshold %.3f", margin, cfg.MarginThreshold),
			},
		}
	}

	if confidence >= cfg.AskThreshold {
		return Outcome{
			Decision:   DecisionAskUser,
			Confidence: confidence,
			Margin:     margin,
			Reasons: []string{
				formatf("confidence %.3f >= ask_threshold %.3f", confidence, cfg.AskThreshold),
				formatf("confidence %.3f below auto_threshold %.3f or margin %.3f below margin_threshold %.3f", confidence, cfg.AutoThreshold, margin, cfg.MarginThreshold),
			},
		}
	}

	return Outcome{
		Decision:   DecisionTentativeReject,
		Confidence: confidence,
		Margin:     margin,
		Reasons: []string{
			formatf("confidence %.3f below ask_threshold %.3f", confidence, cfg.AskThreshold),
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func formatf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
