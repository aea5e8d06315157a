package llm

import "strings"

// ScreenRequestMarker is the sentinel models are instructed (via the system
// prompt the orchestrator sets) to emit verbatim when they need to see the
// user's screen to answer. Detection is a literal substring match, not a
// heuristic, per the screen-capture-on-demand protocol.
const ScreenRequestMarker = "[[REQUEST_SCREEN]]"

// detectScreenRequest looks for the sentinel in a completion's text and, if
// found, strips it and returns the remaining text as the reason.
func detectScreenRequest(text string) (bool, string) {
	idx := strings.Index(text, ScreenRequestMarker)
	if idx < 0 {
		return false, ""
	}
	reason := strings.TrimSpace(text[:idx] + text[idx+len(ScreenRequestMarker):])
	if reason == "" {
		reason = "model requested a screen capture"
	}
	return true, reason
}
