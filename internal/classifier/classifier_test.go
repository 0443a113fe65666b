package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

func TestRuleClassifierAssertive(t *testing.T) {
	r := NewRuleClassifier()
	got := r.Classify(context.Background(), "The trip to Tahoe is confirmed for Friday", model.DomainTravel)
	if got.Intent != model.IntentAssertive {
		t.Errorf("got %+v", got)
	}
}

func TestRuleClassifierPlanningDefault(t *testing.T) {
	r := NewRuleClassifier()
	got := r.Classify(context.Background(), "Tahoe sounds nice", model.DomainTravel)
	if got.Intent != model.IntentPlanning {
		t.Errorf("expected default planning, got %+v", got)
	}
}

func TestRuleClassifierRetract(t *testing.T) {
	r := NewRuleClassifier()
	got := r.Classify(context.Background(), "Actually, cancel the Tahoe trip", model.DomainTravel)
	if got.Intent != model.IntentRetract {
		t.Errorf("got %+v", got)
	}
}

func TestRuleClassifierHypothetical(t *testing.T) {
	r := NewRuleClassifier()
	got := r.Classify(context.Background(), "What if we went to Tahoe instead", model.DomainTravel)
	if got.Intent != model.IntentHypothetical {
		t.Errorf("got %+v", got)
	}
}

func TestCommandClassifierFallsBackOnMissingBinary(t *testing.T) {
	rule := NewRuleClassifier()
	c := NewCommandClassifier([]string{"/nonexistent/intent-classifier-binary"}, time.Second, rule)
	got := c.Classify(context.Background(), "The trip to Tahoe is confirmed", model.DomainTravel)
	if got.Intent != model.IntentAssertive {
		t.Errorf("expected fallback to rule classifier, got %+v", got)
	}
}

func TestCommandClassifierBreakerOpensAfterRepeatedFailures(t *testing.T) {
	rule := NewRuleClassifier()
	c := NewCommandClassifier([]string{"/nonexistent/intent-classifier-binary"}, time.Second, rule)
	for i := 0; i < 5; i++ {
		_ = c.Classify(context.Background(), "confirmed", model.DomainTravel)
	}
	// Still degrades cleanly once the breaker is open.
	got := c.Classify(context.Background(), "confirmed", model.DomainTravel)
	if got.Intent != model.IntentAssertive {
		t.Errorf("expected fallback even with open breaker, got %+v", got)
	}
}

func TestNewClassifierDefaultsToRule(t *testing.T) {
	c := NewClassifier(Mode("unknown"), nil, "", "")
	got := c.Classify(context.Background(), "confirmed", model.DomainTravel)
	if got.Intent != model.IntentAssertive {
		t.Errorf("got %+v", got)
	}
}
