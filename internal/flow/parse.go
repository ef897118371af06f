package flow

import "strings"

// ParseRecipients splits text into recipient identifiers, one per line.
// Order is preserved, duplicates are kept, blank lines are dropped.
func ParseRecipients(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
