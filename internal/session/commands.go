package session

import "strings"

const (
	commandStart = "start recording"
	commandStop  = "stop recording"
)

// matchCommand recognizes a voice command inside a final transcript segment.
// Matching is case-insensitive and tolerates surrounding words, so phrases
// like "please start recording now" still trigger.
func matchCommand(text string) (string, bool) {
	norm := strings.ToLower(text)
	norm = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?':
			return -1
		}
		return r
	}, norm)

	if strings.Contains(norm, commandStop) {
		return commandStop, true
	}
	if strings.Contains(norm, commandStart) {
		return commandStart, true
	}
	return "", false
}
