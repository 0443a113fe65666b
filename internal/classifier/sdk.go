package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/schema"
)

// SDKClassifier calls the Claude API directly for intent classification
// (§9's third mode, SPEC_FULL.md's domain-stack addition). It never returns
// an error: any API or parse failure falls back to Fallback.Classify.
type SDKClassifier struct {
	client   anthropic.Client
	model    anthropic.Model
	Fallback Classifier
	Timeout  time.Duration
}

// NewSDKClassifier builds an sdk-mode classifier. An empty apiKey or
// modelName still returns a usable Classifier — every call degrades to the
// fallback, since option.WithAPIKey("") fails authentication at call time,
// not construction time.
func NewSDKClassifier(apiKey, modelName string, fallback Classifier) *SDKClassifier {
	if modelName == "" {
		modelName = "claude-sonnet-4-5"
	}
	return &SDKClassifier{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    anthropic.Model(modelName),
		Fallback: fallback,
		Timeout:  8 * time.Second,
	}
}

const classifierSystemPrompt = "You classify the intent behind one sentence of personal-assistant chat. " +
	"Respond with a single JSON object matching {intent, confidence, reason, domain} and nothing else. " +
	"intent must be one of assertive, planning, hypothetical, historical, retract."

func (c *SDKClassifier) Classify(ctx context.Context, text string, domain model.Domain) Result {
	out, err := c.runOnce(ctx, text, domain)
	if err != nil {
		return c.Fallback.Classify(ctx, text, domain)
	}
	return out
}

func (c *SDKClassifier) runOnce(ctx context.Context, text string, domain model.Domain) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	prompt := fmt.Sprintf("domain hint: %s\ntext: %s", domain, text)
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: classifierSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier: anthropic request: %w", err)
	}

	raw := extractText(msg)
	var out schema.ClassifierResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return Result{}, fmt.Errorf("classifier: parse model output: %w: %s", err, raw)
	}
	if res := schema.ValidateClassifierOutput(&out); !res.OK {
		return Result{}, fmt.Errorf("classifier: invalid model output: %v", res.Errors)
	}
	if out.Domain == "" {
		out.Domain = domain
	}
	return Result{Intent: out.Intent, Confidence: out.Confidence, Reason: out.Reason, Domain: out.Domain}, nil
}

func extractText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}
