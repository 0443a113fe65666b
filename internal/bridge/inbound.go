package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/classifier"
	"github.com/ajeenkya/openclaw-state-consistency/internal/confirmloop"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/pending"
	"github.com/ajeenkya/openclaw-state-consistency/internal/signal"
)

// DefaultIngestMinChars is Hook B's default minimum message length (§4.11).
const DefaultIngestMinChars = 12

// DefaultIngestMaxPending is Hook B's default pending-count cutoff (§4.11).
const DefaultIngestMaxPending = 10

// DefaultIngestSourceType is deliberately review-band, not auto-commit
// (§9 Open Question: raising this to conversation_assertive is a
// rollout-policy decision, not a silent default).
const DefaultIngestSourceType = "conversation_planning"

var hasAlpha = regexp.MustCompile(`[A-Za-z]`)

// InboundConfig narrows Hook B's channel/sender filter and thresholds.
type InboundConfig struct {
	EnabledChannels []string
	AllowedSenders  []string
	MinChars        int
	MaxPending      int
	SourceType      string
}

func (c InboundConfig) channelEnabled(channel string) bool {
	if len(c.EnabledChannels) == 0 {
		return true
	}
	for _, ch := range c.EnabledChannels {
		if ch == channel {
			return true
		}
	}
	return false
}

func (c InboundConfig) senderAllowed(sender string) bool {
	if len(c.AllowedSenders) == 0 {
		return true
	}
	for _, s := range c.AllowedSenders {
		if s == sender {
			return true
		}
	}
	return false
}

// InboundMessage is one inbound chat message as Hook B receives it from the
// host runtime.
type InboundMessage struct {
	Channel      string
	Conversation string
	MessageID    string
	From         string
	Timestamp    time.Time
	Text         string
}

// Hooks bundles C11's two hooks and the dependencies they share.
type Hooks struct {
	Pending       *pending.Manager
	Ingest        *ingest.Pipeline
	Classifier    classifier.Classifier
	WorkerState   string
	Config        InboundConfig
	EntityID      string
}

// InboundOutcome summarizes what Hook B did with one inbound message.
type InboundOutcome struct {
	Skipped         bool
	SkipReason      string
	ResolvedPrompt  bool
	IngestResult    *ingest.Result
}

// HandleInbound implements Hook B's five steps (§4.11).
func (h *Hooks) HandleInbound(ctx context.Context, msg InboundMessage) (InboundOutcome, error) {
	if !h.Config.channelEnabled(msg.Channel) || !h.Config.senderAllowed(msg.From) {
		return InboundOutcome{Skipped: true, SkipReason: "channel_or_sender_filtered"}, nil
	}

	// Step 1: cheap textual filters.
	minChars := h.Config.MinChars
	if minChars <= 0 {
		minChars = DefaultIngestMinChars
	}
	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "":
		return InboundOutcome{Skipped: true, SkipReason: "empty"}, nil
	case strings.HasPrefix(text, "/"):
		return InboundOutcome{Skipped: true, SkipReason: "command"}, nil
	case len(text) < minChars:
		return InboundOutcome{Skipped: true, SkipReason: "below_min_chars"}, nil
	case !hasAlpha.MatchString(text):
		return InboundOutcome{Skipped: true, SkipReason: "no_alpha"}, nil
	case strings.HasSuffix(text, "?"):
		return InboundOutcome{Skipped: true, SkipReason: "question"}, nil
	}

	// Step 2: try it as a natural yes/no answer to the active prompt first.
	st, _ := confirmloop.LoadRuntimeState(h.WorkerState)
	if st != nil && st.ActivePromptID != "" {
		d := confirmloop.ParseReplyText(text)
		if d.Kind == confirmloop.DecisionConfirm || d.Kind == confirmloop.DecisionReject || d.Kind == confirmloop.DecisionEdit {
			if d.PromptRef == "" || ids.MatchesPrefix(st.ActivePromptID, d.PromptRef, 8) {
				res, err := h.resolveViaPending(st.ActivePromptID, d)
				if err != nil {
					return InboundOutcome{}, err
				}
				return InboundOutcome{ResolvedPrompt: true, IngestResult: res}, nil
			}
		}
	}

	// Step 3: pending-count backpressure.
	maxPending := h.Config.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultIngestMaxPending
	}
	doc, err := h.Pending.Store.Load()
	if err != nil {
		return InboundOutcome{}, err
	}
	if len(doc.PendingConfirmations) >= maxPending {
		return InboundOutcome{Skipped: true, SkipReason: "pending_limit_reached"}, nil
	}

	// Step 4: synthesize a StateObservation.
	domain := signal.InferDomain(text)
	field := fmt.Sprintf("%s.current_assertion", domain)
	result := h.Classifier.Classify(ctx, text, domain)

	sourceType := h.Config.SourceType
	if sourceType == "" {
		sourceType = DefaultIngestSourceType
	}
	ref := fmt.Sprintf("message:%s:%s:%s", msg.Channel, msg.Conversation, msg.MessageID)
	eventID, err := ids.ContentDerivedEventID("chat_message", "inbound", h.EntityID, ref,
		map[string]any{"from": msg.From, "ts": msg.Timestamp.Format(time.RFC3339Nano), "text": text})
	if err != nil {
		return InboundOutcome{}, fmt.Errorf("bridge: derive event id: %w", err)
	}

	obs := model.StateObservation{
		EventID:        eventID,
		EventTS:        resolveTimestamp(msg.Timestamp),
		Domain:         domain,
		EntityID:       h.EntityID,
		Field:          field,
		CandidateValue: text,
		Intent:         result.Intent,
		Source:         model.SourceRef{Type: sourceType, Ref: ref},
	}

	// Step 5: ingest, then opportunistically update the worker's active prompt.
	ingestResult, err := h.Ingest.Ingest(obs, ingest.Options{})
	if err != nil {
		return InboundOutcome{}, err
	}
	if ingestResult.Status == ingest.StatusPendingConfirmation && ingestResult.Prompt != nil && st != nil && st.ActivePromptID == "" {
		st.ActivePromptID = ingestResult.Prompt.PromptID
		_ = confirmloop.SaveRuntimeState(h.WorkerState, st)
	}
	return InboundOutcome{IngestResult: &ingestResult}, nil
}

func (h *Hooks) resolveViaPending(activePromptID string, d confirmloop.Decision) (*ingest.Result, error) {
	doc, err := h.Pending.Store.Load()
	if err != nil {
		return nil, err
	}
	prompt, ok := doc.PendingConfirmations[activePromptID]
	if !ok {
		return nil, nil
	}
	confirmation := model.UserConfirmation{
		PromptID:       activePromptID,
		EntityID:       prompt.EntityID,
		Domain:         prompt.Domain,
		ProposedChange: prompt.ProposedChange,
		Confidence:     prompt.Confidence,
		ReasonSummary:  prompt.ReasonSummary,
		Action:         actionFor(d.Kind),
		TS:             time.Now().UTC(),
	}
	if d.Kind == confirmloop.DecisionEdit {
		confirmation.EditedValue = d.EditedText
	}
	res, err := h.Pending.ApplyConfirmation(confirmation)
	if err != nil {
		return nil, err
	}
	return res.Ingest, nil
}

func actionFor(kind confirmloop.DecisionKind) model.ConfirmAction {
	switch kind {
	case confirmloop.DecisionConfirm:
		return model.ActionConfirm
	case confirmloop.DecisionReject:
		return model.ActionReject
	case confirmloop.DecisionEdit:
		return model.ActionEdit
	}
	return ""
}

// resolveTimestamp passes a non-zero time.Time through unchanged and
// substitutes the current UTC time for a zero one (§4.11 step 4). Raw
// numeric epoch strings are converted by ParseEpoch, not here.
func resolveTimestamp(t time.Time) time.Time {
	if !t.IsZero() {
		return t
	}
	return time.Now().UTC()
}

// ParseEpoch auto-detects whether raw is a seconds or milliseconds epoch
// timestamp, for hosts that hand over a bare numeric string.
func ParseEpoch(raw string) (time.Time, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if n > 1e12 { // milliseconds since epoch
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}
