// Package classifier implements the pluggable intent classifier from §9:
// a built-in rule-based mode, a command mode that spawns an external
// process, and an sdk mode that calls the Claude API directly. Command and
// sdk modes fall back to rule on any failure — ingestion must never block
// on a broken classifier.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
	"github.com/sony/gobreaker"
)

// Mode is the closed set of classifier strategies.
type Mode string

const (
	ModeRule    Mode = "rule"
	ModeCommand Mode = "command"
	ModeSDK     Mode = "sdk"
)

// Result is the intent classification outcome, mirroring the
// classifier_output schema's fields (§6).
type Result struct {
	Intent     model.Intent
	Confidence float64
	Reason     string
	Domain     model.Domain
}

// Classifier infers intent from free text. Implementations must never
// return an error that aborts ingestion; Classify's contract is to always
// degrade to a usable Result.
type Classifier interface {
	Classify(ctx context.Context, text string, domain model.Domain) Result
}

// retractPattern/assertivePattern/planningPattern/hypotheticalPattern/
// historicalPattern are the fixed keyword patterns backing the rule-based classifier (§9 "rule-based
// keyword scoring").
var (
	retractPattern      = regexp.MustCompile(`\b(no longer|not anymore|cancel(l?ed)?|remove|undo|retract)\b`)
	assertivePattern    = regexp.MustCompile(`\b(is|are|will be|confirmed|booked|scheduled)\b`)
	planningPattern     = regexp.MustCompile(`\b(thinking about|might|considering|maybe|planning to|could)\b`)
	hypotheticalPattern = regexp.MustCompile(`\b(what if|hypothetically|imagine|suppose)\b`)
	historicalPattern   = regexp.MustCompile(`\b(used to|previously|in the past|last year|back when)\b`)
)

// RuleClassifier is the built-in, dependency-free keyword-scoring mode.
type RuleClassifier struct{}

// NewRuleClassifier builds the built-in classifier.
func NewRuleClassifier() RuleClassifier { return RuleClassifier{} }

// Classify applies fixed regex scoring over text, defaulting to planning
// when nothing matches (the least committal intent, §4.3).
func (RuleClassifier) Classify(_ context.Context, text string, domain model.Domain) Result {
	lower := strings.ToLower(text)
	switch {
	case retractPattern.MatchString(lower):
		return Result{Intent: model.IntentRetract, Confidence: 0.8, Reason: "retract keyword matched", Domain: domain}
	case hypotheticalPattern.MatchString(lower):
		return Result{Intent: model.IntentHypothetical, Confidence: 0.6, Reason: "hypothetical keyword matched", Domain: domain}
	case historicalPattern.MatchString(lower):
		return Result{Intent: model.IntentHistorical, Confidence: 0.6, Reason: "historical keyword matched", Domain: domain}
	case assertivePattern.MatchString(lower):
		return Result{Intent: model.IntentAssertive, Confidence: 0.7, Reason: "assertive keyword matched", Domain: domain}
	case planningPattern.MatchString(lower):
		return Result{Intent: model.IntentPlanning, Confidence: 0.6, Reason: "planning keyword matched", Domain: domain}
	default:
		return Result{Intent: model.IntentPlanning, Confidence: 0.5, Reason: "no keyword matched, defaulting to planning", Domain: domain}
	}
}

// commandInput is the stdin contract for command-mode (§6 "External processes").
type commandInput struct {
	Task           string   `json:"task"`
	Domain         string   `json:"domain"`
	Text           string   `json:"text"`
	AllowedIntents []string `json:"allowed_intents"`
	OutputSchema   string   `json:"output_schema"`
}

// CommandClassifier spawns an external process per invocation, guarded by a
// circuit breaker so a repeatedly-broken binary doesn't get re-spawned on
// every observation (§9 "command mode").
type CommandClassifier struct {
	Argv    []string
	Timeout time.Duration
	Fallback Classifier
	breaker *gobreaker.CircuitBreaker
}

// NewCommandClassifier builds a command-mode classifier. argv[0] is the
// executable; fallback is used whenever the breaker is open or the process
// fails.
func NewCommandClassifier(argv []string, timeout time.Duration, fallback Classifier) *CommandClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "intent-classifier-command",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &CommandClassifier{Argv: argv, Timeout: timeout, Fallback: fallback, breaker: breaker}
}

// Classify never returns an error: any command failure or breaker-open
// state falls back to Fallback.Classify (the rule-based default per §7's
// propagation policy: "classifier failure must not block ingestion").
func (c *CommandClassifier) Classify(ctx context.Context, text string, domain model.Domain) Result {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.runOnce(ctx, text, domain)
	})
	if err != nil {
		return c.Fallback.Classify(ctx, text, domain)
	}
	return out.(Result)
}

func (c *CommandClassifier) runOnce(ctx context.Context, text string, domain model.Domain) (Result, error) {
	if len(c.Argv) == 0 {
		return Result{}, fmt.Errorf("classifier: no command configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	input := commandInput{
		Task:           "classify_intent",
		Domain:         string(domain),
		Text:           text,
		AllowedIntents: allowedIntentStrings(),
		OutputSchema:   "classifier_output/v1",
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return Result{}, fmt.Errorf("classifier: marshal stdin: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("classifier: run %s: %w: %s", c.Argv[0], err, stderr.String())
	}

	var out schema.ClassifierResult
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, fmt.Errorf("classifier: unmarshal stdout: %w: %s", err, stdout.String())
	}
	if res := schema.ValidateClassifierOutput(&out); !res.OK {
		return Result{}, fmt.Errorf("classifier: invalid output: %v", res.Errors)
	}
	return Result{Intent: out.Intent, Confidence: out.Confidence, Reason: out.Reason, Domain: out.Domain}, nil
}

func allowedIntentStrings() []string {
	return []string{
		string(model.IntentAssertive), string(model.IntentPlanning),
		string(model.IntentHypothetical), string(model.IntentHistorical), string(model.IntentRetract),
	}
}

// NewClassifier builds a Classifier for the given mode, falling back to the
// rule-based classifier for ModeRule, an unrecognized mode, or whenever a
// dependent mode's own fallback is exhausted.
func NewClassifier(mode Mode, argv []string, apiKey, model_ string) Classifier {
	rule := NewRuleClassifier()
	switch mode {
	case ModeCommand:
		return NewCommandClassifier(argv, 5*time.Second, rule)
	case ModeSDK:
		return NewSDKClassifier(apiKey, model_, rule)
	default:
		return rule
	}
}
