package stream

import "regexp"

// Preview patterns match a string field whose value may still be cut off.
// They are for live progress display only; authoritative arguments come
// from the consolidated message.
var previewPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"query"\s*:\s*"([^"]*)`),
	regexp.MustCompile(`"code"\s*:\s*"([^"]*)`),
	regexp.MustCompile(`"action"\s*:\s*"([^"]*)`),
}

// Preview extracts the first non-empty field value matched by
// previewPatterns from a possibly truncated JSON argument buffer.
func Preview(partial string) string {
	for _, re := range previewPatterns {
		if m := re.FindStringSubmatch(partial); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return ""
}
