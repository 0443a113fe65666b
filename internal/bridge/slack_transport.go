package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/ajeenkya/openclaw-state-consistency/internal/confirmloop"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

// SlackTransport implements confirmloop.Transport over the Slack Web API:
// dispatching a pending prompt posts a section block plus the two inline
// Yes/No buttons from §6; acknowledgements post a plain text reply.
type SlackTransport struct {
	api      *goslack.Client
	threadTS string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSlackTransport builds a transport bound to one channel/thread pair.
// target passed to DispatchPrompt/SendText is the Slack channel ID.
func NewSlackTransport(token, threadTS string) *SlackTransport {
	return &SlackTransport{
		api:      goslack.New(token),
		threadTS: threadTS,
		timeout:  8 * time.Second,
		logger:   slog.Default().With("component", "slack-transport"),
	}
}

// Transport adapts this client to confirmloop.Transport's two function
// fields.
func (s *SlackTransport) Transport() confirmloop.Transport {
	return confirmloop.Transport{
		DispatchPrompt: s.dispatchPrompt,
		SendText:       s.sendText,
	}
}

func (s *SlackTransport) dispatchPrompt(target string, prompt model.PendingPrompt) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	blocks := buildPromptBlocks(prompt)
	opts := []goslack.MsgOption{goslack.MsgOptionBlocks(blocks...)}
	if s.threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(s.threadTS))
	}

	_, ts, err := s.api.PostMessageContext(ctx, target, opts...)
	if err != nil {
		return "", fmt.Errorf("slack: post prompt: %w", err)
	}
	return ts, nil
}

func (s *SlackTransport) sendText(target, text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionText(text, false),
	}
	if s.threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(s.threadTS))
	}
	_, _, err := s.api.PostMessageContext(ctx, target, opts...)
	if err != nil {
		return fmt.Errorf("slack: send text: %w", err)
	}
	return nil
}

func buildPromptBlocks(prompt model.PendingPrompt) []goslack.Block {
	text := fmt.Sprintf("*State check* `%s`\n%s.%s -> %s\nconfidence %.2f",
		shortID(prompt.PromptID), prompt.Domain, prompt.ObservationEvent.Field,
		summarize(prompt.ProposedChange), prompt.Confidence)

	section := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)

	yes := goslack.NewButtonBlockElement("state_confirm_yes", fmt.Sprintf("state_confirm:%s", prompt.PromptID),
		goslack.NewTextBlockObject(goslack.PlainTextType, "Yes", false, false))
	yes.Style = goslack.StylePrimary

	no := goslack.NewButtonBlockElement("state_confirm_no", fmt.Sprintf("state_reject:%s", prompt.PromptID),
		goslack.NewTextBlockObject(goslack.PlainTextType, "No", false, false))
	no.Style = goslack.StyleDanger

	actions := goslack.NewActionBlock("state_confirm_actions", yes, no)

	return []goslack.Block{section, actions}
}
