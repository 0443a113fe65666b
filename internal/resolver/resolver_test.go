package resolver

import (
	"testing"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

func TestRecencyFactor(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		eventTS time.Time
		want    float64
	}{
		{"now", now, 1.0},
		{"future event clamps to now", now.Add(time.Hour), 1.0},
		{"one week old", now.Add(-168 * time.Hour), 0.4},
		{"beyond one week floors at 0.4", now.Add(-400 * time.Hour), 0.4},
		{"half week", now.Add(-84 * time.Hour), 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RecencyFactor(now, tt.eventTS)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("RecencyFactor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCorroborationFactor(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 1.0},
		{1, 1.05},
		{4, 1.2},
		{10, 1.2},
	}
	for _, tt := range tests {
		got := CorroborationFactor(tt.n)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("CorroborationFactor(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestSourceReliabilityUnknownDefaultsToHalf(t *testing.T) {
	table := map[string]float64{"conversation_assertive": 0.85}
	if got := SourceReliability(table, "smoke_signal"); got != 0.5 {
		t.Errorf("unknown source reliability = %v, want 0.5", got)
	}
	if got := SourceReliability(table, "conversation_assertive"); got != 0.85 {
		t.Errorf("known source reliability = %v, want 0.85", got)
	}
}

func TestConfidenceAssertiveFreshNoCorroborators(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	table := map[string]float64{"conversation_assertive": 0.85}
	got := Confidence(table, "conversation_assertive", model.IntentAssertive, now, now, 0)
	want := 0.85
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Confidence() = %v, want %v", got, want)
	}
}

func TestConfidenceHypotheticalOld(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	table := map[string]float64{"email_poll": 0.65}
	got := Confidence(table, "email_poll", model.IntentHypothetical, now.Add(-400*time.Hour), now, 0)
	want := model.Clamp01Round3(0.65 * 0.45 * 0.4 * 1.0)
	if got != want {
		t.Errorf("Confidence() = %v, want %v", got, want)
	}
}

func TestDecideForceCommit(t *testing.T) {
	cfg := model.DomainConfig{AskThreshold: 0.65, AutoThreshold: 0.90, MarginThreshold: 0.15}
	out := Decide(cfg, 0.1, 0, true)
	if out.Decision != DecisionAutoCommit {
		t.Errorf("Decision = %v, want auto_commit", out.Decision)
	}
	if len(out.Reasons) != 1 || out.Reasons[0] != "force_commit=true" {
		t.Errorf("Reasons = %v", out.Reasons)
	}
}

func TestDecideAutoCommit(t *testing.T) {
	cfg := model.DomainConfig{AskThreshold: 0.65, AutoThreshold: 0.90, MarginThreshold: 0.15}
	out := Decide(cfg, 0.95, 0.10, false)
	if out.Decision != DecisionAutoCommit {
		t.Errorf("Decision = %v, want auto_commit", out.Decision)
	}
}

func TestDecideAutoCommitMarginTieQualifies(t *testing.T) {
	cfg := model.DomainConfig{AskThreshold: 0.65, AutoThreshold: 0.90, MarginThreshold: 0.15}
	out := Decide(cfg, 0.95, 0.80, false)
	if out.Decision != DecisionAutoCommit {
		t.Errorf("margin exactly at threshold should auto_commit, got %v", out.Decision)
	}
}

func TestDecideAskUser(t *testing.T) {
	cfg := model.DomainConfig{AskThreshold: 0.65, AutoThreshold: 0.90, MarginThreshold: 0.15}
	out := Decide(cfg, 0.70, 0, false)
	if out.Decision != DecisionAskUser {
		t.Errorf("Decision = %v, want ask_user", out.Decision)
	}
}

func TestDecideAskUserHighConfidenceLowMargin(t *testing.T) {
	cfg := model.DomainConfig{AskThreshold: 0.65, AutoThreshold: 0.90, MarginThreshold: 0.15}
	out := Decide(cfg, 0.95, 0.90, false)
	if out.Decision != DecisionAskUser {
		t.Errorf("Decision = %v, want ask_user (insufficient margin)", out.Decision)
	}
}

func TestDecideTentativeReject(t *testing.T) {
	cfg := model.DomainConfig{AskThreshold: 0.65, AutoThreshold: 0.90, MarginThreshold: 0.15}
	out := Decide(cfg, 0.40, 0, false)
	if out.Decision != DecisionTentativeReject {
		t.Errorf("Decision = %v, want tentative_reject", out.Decision)
	}
}
