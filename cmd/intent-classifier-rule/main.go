// Command intent-classifier-rule is a reference implementation of the
// STATE_INTENT_EXTRACTOR_CMD contract from §6: it reads the classifier's
// stdin JSON ({task, domain, text, allowed_intents, output_schema}) and
// writes the classifier_output stdout JSON ({intent, confidence, reason,
// domain}), wrapping the same built-in rule-based classifier the engine
// falls back to on any command-mode failure. It exists so operators can
// point STATE_INTENT_EXTRACTOR_CMD at a real, separately-versioned binary
// instead of always running the rule in-process — useful for testing the
// command-mode path end to end without standing up an LLM-backed one.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ajeenkya/openclaw-state-consistency/internal/classifier"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

type stdinContract struct {
	Task           string   `json:"task"`
	Domain         string   `json:"domain"`
	Text           string   `json:"text"`
	AllowedIntents []string `json:"allowed_intents"`
	OutputSchema   string   `json:"output_schema"`
}

type stdoutContract struct {
	Intent     model.Intent `json:"intent"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
	Domain     model.Domain `json:"domain,omitempty"`
}

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("intent-classifier-rule: read stdin: %w", err)
	}

	var req stdinContract
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("intent-classifier-rule: decode stdin: %w", err)
	}

	rule := classifier.NewRuleClassifier()
	result := rule.Classify(context.Background(), req.Text, model.Domain(req.Domain))

	resp := stdoutContract{
		Intent:     result.Intent,
		Confidence: result.Confidence,
		Reason:     result.Reason,
		Domain:     result.Domain,
	}
	enc := json.NewEncoder(out)
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("intent-classifier-rule: encode stdout: %w", err)
	}
	return nil
}
