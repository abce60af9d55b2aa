// ABOUTME: Heuristics deciding whether a conversation needs a human operator.
// ABOUTME: Looks at the model's answer (marker, refusals, filters) and at the visitor's own words.

package assistant

import (
	"strings"
	"unicode/utf8"
)

// HandoffMarker is the token the system prompt asks the model to emit when it
// wants a human to take over.
const HandoffMarker = "[[HANDOFF]]"

var refusalPhrases = []string{
	"i'm not able to help",
	"i am not able to help",
	"i cannot help",
	"i can't help",
	"i'm unable to",
	"i am unable to",
	"connect you with a human",
	"connect you to a human",
	"transfer you to",
	"a member of our team",
}

var humanRequestPhrases = []string{
	"talk to a human",
	"speak to a human",
	"talk to a person",
	"speak to a person",
	"real person",
	"human agent",
	"live agent",
	"live person",
	"talk to someone",
	"speak to someone",
	"representative",
	"operator",
}

// Classify cleans a model answer and decides whether it calls for a human.
func Classify(text, finishReason string, minLength int) (string, bool) {
	if finishReason == "content_filter" {
		return "", true
	}

	needsHuman := false
	if strings.Contains(text, HandoffMarker) {
		text = strings.ReplaceAll(text, HandoffMarker, "")
		needsHuman = true
	}
	text = strings.TrimSpace(text)

	if text == "" {
		return "", true
	}
	if minLength > 0 && utf8.RuneCountInString(text) < minLength {
		needsHuman = true
	}

	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			needsHuman = true
			break
		}
	}
	return text, needsHuman
}

// WantsHuman reports whether the visitor explicitly asks for a person.
func WantsHuman(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range humanRequestPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
