// Package confirmloop implements C10: the one-active-prompt-at-a-time
// confirmation dispatcher, its reply parser (shared with C11's
// /state-confirm command handler), and its persisted runtime-state file.
package confirmloop

import (
	"strings"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

// DecisionKind is the closed set of things a parsed reply can mean (§4.10).
type DecisionKind string

const (
	DecisionNone    DecisionKind = "none"
	DecisionConfirm DecisionKind = "confirm"
	DecisionReject  DecisionKind = "reject"
	DecisionEdit    DecisionKind = "edit"
	DecisionEditHelp DecisionKind = "edit_help"
)

// Decision is the outcome of parsing one piece of text against the
// candidate prompt-reference sets (§4.10 "Reply parser").
type Decision struct {
	Kind       DecisionKind
	PromptRef  string // uuid or >=8-char prefix; empty means "no specific prompt named"
	EditedText string
}

var confirmWords = map[string]bool{
	"confirm": true, "approved": true, "yes": true, "y": true, "ok": true, "okay": true,
}
var rejectWords = map[string]bool{
	"reject": true, "decline": true, "no": true, "n": true,
}

// ParseCallbackData parses a callback_data string of the form
// "state_confirm:<id>" / "state_reject:<id>" / "state_edit:<id>" (§4.10).
func ParseCallbackData(data string) (Decision, bool) {
	data = strings.TrimSpace(data)
	for prefix, kind := range map[string]DecisionKind{
		"state_confirm:": DecisionConfirm,
		"state_reject:":  DecisionReject,
		"state_edit:":    DecisionEditHelp,
	} {
		if strings.HasPrefix(data, prefix) {
			return Decision{Kind: kind, PromptRef: strings.TrimPrefix(data, prefix)}, true
		}
	}
	return Decision{}, false
}

// ParseReplyText parses one line of free-form user text per §4.10's
// "Reply parser" design. Returns a Decision with Kind DecisionNone both for
// empty text and for text that is not a recognizable reply.
func ParseReplyText(text string) Decision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Decision{Kind: DecisionNone}
	}
	lower := strings.ToLower(trimmed)

	if d, ok := parseStructuredLine(lower, trimmed); ok {
		return d
	}

	switch {
	case confirmWords[lower]:
		return Decision{Kind: DecisionConfirm}
	case rejectWords[lower]:
		return Decision{Kind: DecisionReject}
	case lower == "edit":
		return Decision{Kind: DecisionEditHelp}
	}

	if value, ok := splitEditValue(trimmed); ok {
		return Decision{Kind: DecisionEdit, EditedText: value}
	}

	return Decision{Kind: DecisionNone}
}

// parseStructuredLine matches "(confirm|reject|edit) <prompt_id>[:value]" in
// either token order, with prompt_id matching >=8 chars of a uuid.
func parseStructuredLine(lower, original string) (Decision, bool) {
	fields := strings.Fields(original)
	if len(fields) < 2 {
		return Decision{}, false
	}

	verbFirst, verb1, rest1 := actionVerb(fields[0]), 0, fields[1:]
	_ = verb1
	if verbFirst != "" {
		ref, value, ok := extractRefAndValue(strings.Join(rest1, " "))
		if ok && len(ref) >= 8 {
			return decisionFor(verbFirst, ref, value), true
		}
	}

	last := fields[len(fields)-1]
	if verbLast := actionVerb(last); verbLast != "" {
		ref, value, ok := extractRefAndValue(strings.Join(fields[:len(fields)-1], " "))
		if ok && len(ref) >= 8 {
			return decisionFor(verbLast, ref, value), true
		}
	}

	_ = lower
	return Decision{}, false
}

func actionVerb(token string) string {
	switch strings.ToLower(token) {
	case "confirm":
		return string(DecisionConfirm)
	case "reject":
		return string(DecisionReject)
	case "edit":
		return string(DecisionEdit)
	}
	return ""
}

// extractRefAndValue splits "<prompt_id>[: edited value]" into its ref and
// optional edit value.
func extractRefAndValue(s string) (ref string, value string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), true
	}
	fields := strings.Fields(s)
	return fields[0], strings.TrimSpace(strings.Join(fields[1:], " ")), true
}

func decisionFor(verb, ref, value string) Decision {
	switch DecisionKind(verb) {
	case DecisionConfirm:
		return Decision{Kind: DecisionConfirm, PromptRef: ref}
	case DecisionReject:
		return Decision{Kind: DecisionReject, PromptRef: ref}
	case DecisionEdit:
		if value == "" {
			return Decision{Kind: DecisionEditHelp, PromptRef: ref}
		}
		return Decision{Kind: DecisionEdit, PromptRef: ref, EditedText: value}
	}
	return Decision{Kind: DecisionNone}
}

// splitEditValue matches "edit: <value>" or "edit - <value>" (§4.10).
func splitEditValue(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, sep := range []string{"edit:", "edit -"} {
		if strings.HasPrefix(lower, sep) {
			return strings.TrimSpace(text[len(sep):]), true
		}
	}
	return "", false
}

// ResolveRef reports whether candidatePromptIDs matches ref unambiguously,
// using ids.MatchesPrefix (full uuid or >=8 char prefix). Returns
// model.ErrNotFound when nothing matches and model.ErrAmbiguous when two or
// more candidates match the same prefix (§4.11, §8 boundary behavior).
func ResolveRef(ref string, candidatePromptIDs []string) (string, error) {
	var matches []string
	for _, id := range candidatePromptIDs {
		if ids.MatchesPrefix(id, ref, 8) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", model.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", model.ErrAmbiguous
	}
}
