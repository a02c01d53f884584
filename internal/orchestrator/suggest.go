package orchestrator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// suggestionTail is how many trailing narration lines are scanned.
	suggestionTail = 6
	maxSuggestions = 4
)

var bulletLine = regexp.MustCompile(`^[-•*]\s*["“]?(.+?)["”]?\s*$`)

var (
	defaultAnalysisPrompts = []string{"Walk me through the findings", "Show the biggest risks", "Export the claim"}
	defaultChatPrompts     = []string{"What else should I check?", "Export the claim"}
)

// suggestedPrompts picks the follow-ups shown after a turn: the agent's
// explicit suggestions when it made at least two, else bullets scraped from
// the end of the narration, else a fixed default set.
func suggestedPrompts(kind turnKind, explicit []string, narration string) []string {
	if len(explicit) >= 2 {
		return explicit
	}
	return extractPrompts(kind, narration)
}

// extractPrompts scans the last non-empty narration lines for bullets.
// Analysis keeps bullets of 4 to 79 characters; chat keeps questions.
func extractPrompts(kind turnKind, narration string) []string {
	var lines []string
	for _, l := range strings.Split(narration, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > suggestionTail {
		lines = lines[len(lines)-suggestionTail:]
	}

	var found []string
	for _, l := range lines {
		m := bulletLine.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[1])
		switch kind {
		case kindChat:
			if !strings.HasSuffix(text, "?") {
				continue
			}
		default:
			if n := utf8.RuneCountInString(text); n <= 3 || n >= 80 {
				continue
			}
		}
		found = append(found, text)
	}

	if len(found) < 2 {
		if kind == kindChat {
			return append([]string(nil), defaultChatPrompts...)
		}
		return append([]string(nil), defaultAnalysisPrompts...)
	}
	if len(found) > maxSuggestions {
		found = found[:maxSuggestions]
	}
	return found
}
