package confirmloop

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ndjson"
	"github.com/ajeenkya/openclaw-state-consistency/internal/pending"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

// Transport is the host-chat send surface the worker needs: dispatching a
// prompt with inline Yes/No buttons, and sending a plain acknowledgement or
// usage hint. Implemented by internal/bridge's slack-go/slack adapter.
type Transport struct {
	DispatchPrompt func(target string, prompt model.PendingPrompt) (messageID string, err error)
	SendText       func(target string, text string) error
}

// SessionLocator finds the most recently updated host-chat session file
// addressed to target. Implementation-defined discovery (§4.10 step 2):
// absent sessions simply skip reply parsing.
type SessionLocator func(target string) (sessionID, sessionFile string, ok bool)

// Worker drives the one-active-prompt-at-a-time confirmation loop (C10).
type Worker struct {
	Store       *store.Store
	Pending     *pending.Manager
	Transport   Transport
	LocateSession SessionLocator
	StatePath   string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewWorker builds a confirmation-loop Worker.
func NewWorker(s *store.Store, p *pending.Manager, transport Transport, locate SessionLocator, statePath string, now func() time.Time, logger *slog.Logger) *Worker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{Store: s, Pending: p, Transport: transport, LocateSession: locate, StatePath: statePath, Now: now, Logger: logger}
}

// TickResult summarizes one Tick invocation for logging/telemetry.
type TickResult struct {
	RepliesParsed   int
	PromptResolved  bool
	NewPromptSent   bool
	EditHelpSent    bool
}

// Tick runs the 7-step confirmation-loop algorithm described in §4.10.
func (w *Worker) Tick(target, entityID string) (TickResult, error) {
	var result TickResult

	// Step 1: load persistent runtime state.
	st, err := LoadRuntimeState(w.StatePath)
	if err != nil {
		return result, fmt.Errorf("confirmloop: load runtime state: %w", err)
	}
	st.Target = target
	st.EntityID = entityID
	if st.Version == "" {
		st.Version = "1"
	}

	// Step 2: locate the host-chat session file for this target.
	var replies []ndjson.HostChatMessage
	if w.LocateSession != nil {
		if sessionID, sessionFile, ok := w.LocateSession(target); ok {
			st.SessionID = sessionID
			st.SessionFile = sessionFile
			replies, err = w.readNewReplies(st)
			if err != nil {
				return result, err
			}
		}
	}
	result.RepliesParsed = len(replies)

	// Step 5: resolve the active prompt against the parsed replies.
	if st.ActivePromptID != "" {
		resolved, editHelp, err := w.resolveActive(st, replies)
		if err != nil {
			return result, err
		}
		result.PromptResolved = resolved
		result.EditHelpSent = editHelp
	}

	// Step 6: dispatch the next pending prompt, if none is active.
	if st.ActivePromptID == "" {
		sent, err := w.dispatchNext(st, entityID)
		if err != nil {
			return result, err
		}
		result.NewPromptSent = sent
	}

	// Step 7: persist runtime state atomically.
	if err := SaveRuntimeState(w.StatePath, st); err != nil {
		return result, fmt.Errorf("confirmloop: save runtime state: %w", err)
	}
	return result, nil
}

// readNewReplies reads bytes [session_cursor, EOF) of the session file and
// advances the cursor (§4.10 steps 3-4).
func (w *Worker) readNewReplies(st *RuntimeState) ([]ndjson.HostChatMessage, error) {
	info, err := os.Stat(st.SessionFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("confirmloop: stat session file: %w", err)
	}
	if st.SessionCursor > info.Size() {
		st.SessionCursor = 0 // session file was truncated/rotated underneath us
	}

	f, err := os.Open(st.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("confirmloop: open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(st.SessionCursor, 0); err != nil {
		return nil, fmt.Errorf("confirmloop: seek session file: %w", err)
	}
	messages, err := ndjson.ReadUserMessagesFrom(f, w.Logger)
	if err != nil {
		return nil, fmt.Errorf("confirmloop: read session file: %w", err)
	}
	st.SessionCursor = info.Size()
	return messages, nil
}

// resolveActive finds the most recent reply that decides the active prompt
// and applies it (§4.10 step 5).
func (w *Worker) resolveActive(st *RuntimeState, replies []ndjson.HostChatMessage) (resolved bool, editHelpSent bool, err error) {
	for i := len(replies) - 1; i >= 0; i-- {
		d := ParseReplyText(replies[i].Text)
		if d.Kind == DecisionNone {
			continue
		}
		if d.PromptRef != "" && !ids.MatchesPrefix(st.ActivePromptID, d.PromptRef, 8) {
			continue // names a different prompt; ignored per ordering guarantees
		}

		switch d.Kind {
		case DecisionEditHelp:
			if w.Transport.SendText != nil {
				_ = w.Transport.SendText(st.Target, editUsageHint(st.ActivePromptID))
			}
			return false, true, nil
		case DecisionConfirm, DecisionReject, DecisionEdit:
			now := w.Now()
			confirmation := model.UserConfirmation{
				PromptID: st.ActivePromptID,
				EntityID: st.EntityID,
				Action:   actionFor(d.Kind),
				TS:       now,
			}
			if d.Kind == DecisionEdit {
				confirmation.EditedValue = d.EditedText
			}
			// EntityID/Domain/ProposedChange/Confidence need to come from the
			// stored prompt itself; load it so the confirmation round-trips the
			// mismatch check in C6.
			doc, loadErr := w.Store.Load()
			if loadErr != nil {
				return false, false, loadErr
			}
			prompt, ok := doc.PendingConfirmations[st.ActivePromptID]
			if !ok {
				// the prompt vanished between ticks; clear and move on (§4.10
				// "Cancellation/timeout").
				st.ActivePromptID = ""
				st.ActiveMessageID = ""
				return false, false, nil
			}
			confirmation.Domain = prompt.Domain
			confirmation.ProposedChange = prompt.ProposedChange
			confirmation.Confidence = prompt.Confidence
			confirmation.ReasonSummary = prompt.ReasonSummary

			res, applyErr := w.Pending.ApplyConfirmation(confirmation)
			if applyErr != nil {
				return false, false, fmt.Errorf("confirmloop: apply confirmation: %w", applyErr)
			}
			if w.Transport.SendText != nil {
				_ = w.Transport.SendText(st.Target, acknowledgement(d.Kind, res.Status))
			}
			st.ActivePromptID = ""
			st.ActiveMessageID = ""
			st.LastDecisionAt = timePtr(now)
			return true, false, nil
		}
	}
	return false, false, nil
}

// dispatchNext sends the oldest undispatched pending prompt, if any
// (§4.10 step 6).
func (w *Worker) dispatchNext(st *RuntimeState, entityID string) (bool, error) {
	doc, err := w.Store.Load()
	if err != nil {
		return false, err
	}
	for _, p := range store.SortedPendingPrompts(doc) {
		if entityID != "" && p.EntityID != entityID {
			continue
		}
		if w.Transport.DispatchPrompt == nil {
			return false, nil
		}
		messageID, err := w.Transport.DispatchPrompt(st.Target, p)
		if err != nil {
			return false, fmt.Errorf("confirmloop: dispatch prompt: %w", err)
		}
		now := w.Now()
		st.ActivePromptID = p.PromptID
		st.ActiveMessageID = messageID
		st.LastDispatchedAt = timePtr(now)
		st.SessionCursor = sessionSizeOrZero(st.SessionFile)
		return true, nil
	}
	return false, nil
}

func sessionSizeOrZero(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func actionFor(kind DecisionKind) model.ConfirmAction {
	switch kind {
	case DecisionConfirm:
		return model.ActionConfirm
	case DecisionReject:
		return model.ActionReject
	case DecisionEdit:
		return model.ActionEdit
	}
	return ""
}

func acknowledgement(kind DecisionKind, status string) string {
	switch kind {
	case DecisionReject:
		return "Got it, discarded that change."
	case DecisionEdit:
		return fmt.Sprintf("Updated with your edit (%s).", status)
	default:
		return fmt.Sprintf("Confirmed (%s).", status)
	}
}

func editUsageHint(promptID string) string {
	return fmt.Sprintf("To edit, reply with \"edit %s: <new value>\".", shortID(promptID))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func timePtr(t time.Time) *time.Time { return &t }
