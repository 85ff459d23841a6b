package editor

import "strings"

// Synthesize combines the persisted base content captured when a note
// was opened with the text typed since, joined by newlines. It reads
// the typed text as entered, so content that has visually decayed is
// still part of the result. Pure function of its inputs.
func Synthesize(base string, typed []string) string {
	joined := strings.Join(typed, "\n")
	if base == "" {
		return joined
	}
	if joined == "" {
		return base
	}
	return base + "\n" + joined
}
