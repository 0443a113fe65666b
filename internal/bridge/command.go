package bridge

import (
	"fmt"
	"strings"

	"github.com/ajeenkya/openclaw-state-consistency/internal/confirmloop"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

// CommandReply is what the /state-confirm handler hands back to the host
// chat surface: either a message with inline buttons for the next prompt,
// or a bare error string (§4.11).
type CommandReply struct {
	Text    string
	Buttons []Button
	Err     string
}

// Button mirrors the design-level inline-button pair from §6: two per
// prompt, wired to re-invoke the command with yes/no.
type Button struct {
	Text         string
	CallbackData string
}

// HandleCommand implements the /state-confirm <args> handler (§4.11).
func (h *Hooks) HandleCommand(entityID, args string) CommandReply {
	doc, err := h.Pending.Store.Load()
	if err != nil {
		return CommandReply{Err: fmt.Sprintf("state-confirm: %v", err)}
	}

	fields := strings.Fields(strings.TrimSpace(args))
	switch {
	case len(fields) == 0:
		return h.showPrompt(doc, "", entityID)
	case len(fields) == 1 && strings.EqualFold(fields[0], "edit"):
		return CommandReply{Text: "usage: /state-confirm <prompt_ref> edit <value>"}
	case len(fields) == 1 && isDecisionWord(fields[0]):
		return h.decide(doc, "", entityID, fields[0], "")
	case len(fields) == 1:
		return h.showPrompt(doc, fields[0], entityID)
	case strings.EqualFold(fields[0], "edit"):
		return h.decide(doc, fields[1], entityID, "edit", strings.Join(fields[2:], " "))
	case len(fields) >= 2 && strings.EqualFold(fields[1], "edit"):
		return h.decide(doc, fields[0], entityID, "edit", strings.Join(fields[2:], " "))
	case isDecisionWord(fields[0]):
		return h.decide(doc, fields[1], entityID, fields[0], "")
	case isDecisionWord(fields[1]):
		return h.decide(doc, fields[0], entityID, fields[1], "")
	default:
		return h.showPrompt(doc, fields[0], entityID)
	}
}

func isDecisionWord(w string) bool {
	switch strings.ToLower(w) {
	case "yes", "no", "confirm", "reject":
		return true
	}
	return false
}

func (h *Hooks) showPrompt(doc *model.Document, ref, entityID string) CommandReply {
	prompt, err := h.resolvePrompt(doc, ref, entityID)
	if err != nil {
		return CommandReply{Err: err.Error()}
	}
	if prompt == nil {
		return CommandReply{Text: "no pending confirmations"}
	}
	return h.replyForPrompt(*prompt)
}

func (h *Hooks) decide(doc *model.Document, ref, entityID, verb, value string) CommandReply {
	prompt, err := h.resolvePrompt(doc, ref, entityID)
	if err != nil {
		return CommandReply{Err: err.Error()}
	}
	if prompt == nil {
		return CommandReply{Text: "no pending confirmations"}
	}

	action := model.ActionConfirm
	switch strings.ToLower(verb) {
	case "no", "reject":
		action = model.ActionReject
	case "edit":
		action = model.ActionEdit
	}

	confirmation := model.UserConfirmation{
		PromptID:       prompt.PromptID,
		EntityID:       prompt.EntityID,
		Domain:         prompt.Domain,
		ProposedChange: prompt.ProposedChange,
		Confidence:     prompt.Confidence,
		ReasonSummary:  prompt.ReasonSummary,
		Action:         action,
	}
	if action == model.ActionEdit {
		confirmation.EditedValue = value
	}

	res, err := h.Pending.ApplyConfirmation(confirmation)
	if err != nil {
		return CommandReply{Err: fmt.Sprintf("state-confirm: %v", err)}
	}
	if res.Status == "validation_failed" {
		return CommandReply{Err: "state-confirm: rejected by validation, see dlq " + res.DLQID}
	}

	if st, loadErr := confirmloop.LoadRuntimeState(h.WorkerState); loadErr == nil && st.ActivePromptID == prompt.PromptID {
		st.ActivePromptID = ""
		st.ActiveMessageID = ""
		_ = confirmloop.SaveRuntimeState(h.WorkerState, st)
	}

	reloaded, err := h.Pending.Store.Load()
	if err != nil {
		return CommandReply{Text: fmt.Sprintf("%s recorded", res.Status)}
	}
	next := nextPromptForEntity(reloaded, entityID)
	if next == nil {
		return CommandReply{Text: fmt.Sprintf("%s recorded. no more pending confirmations", res.Status)}
	}
	reply := h.replyForPrompt(*next)
	reply.Text = fmt.Sprintf("%s recorded. %s", res.Status, reply.Text)
	return reply
}

func (h *Hooks) resolvePrompt(doc *model.Document, ref, entityID string) (*model.PendingPrompt, error) {
	if ref == "" {
		st, _ := confirmloop.LoadRuntimeState(h.WorkerState)
		if st != nil && st.ActivePromptID != "" {
			if p, ok := doc.PendingConfirmations[st.ActivePromptID]; ok {
				return &p, nil
			}
		}
		return nextPromptForEntity(doc, entityID), nil
	}

	candidates := make([]string, 0, len(doc.PendingConfirmations))
	for id := range doc.PendingConfirmations {
		candidates = append(candidates, id)
	}
	resolved, err := confirmloop.ResolveRef(ref, candidates)
	if err != nil {
		return nil, err
	}
	p, ok := doc.PendingConfirmations[resolved]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func nextPromptForEntity(doc *model.Document, entityID string) *model.PendingPrompt {
	for _, p := range store.SortedPendingPrompts(doc) {
		if entityID == "" || p.EntityID == entityID {
			cp := p
			return &cp
		}
	}
	return nil
}

func (h *Hooks) replyForPrompt(p model.PendingPrompt) CommandReply {
	text := fmt.Sprintf("%s\n%s.%s -> %s (confidence %.2f)",
		shortID(p.PromptID), p.Domain, p.ObservationEvent.Field, summarize(p.ProposedChange), p.Confidence)
	return CommandReply{
		Text: text,
		Buttons: []Button{
			{Text: "Yes", CallbackData: fmt.Sprintf("/state-confirm %s yes", p.PromptID)},
			{Text: "No", CallbackData: fmt.Sprintf("/state-confirm %s no", p.PromptID)},
		},
	}
}
