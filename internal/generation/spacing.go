package generation

import "strings"

// tokens starting with one of these attach to the previous text without a space
const attachingPunctuation = ".,!?:;')"

// SpaceToken returns fragment as it should be appended after prior fragments.
// A space is inserted unless the fragment is the first one, already starts with a space
// or starts with attaching punctuation. Only the fragment itself is inspected.
func SpaceToken(fragment string, prior []string) string {
	if fragment == "" || len(prior) == 0 {
		return fragment
	}
	if attaches(fragment) {
		return fragment
	}
	return " " + fragment
}

// SpaceDelta is SpaceToken for streamed deltas. soFar is the streamed output so far;
// a delta starting with a newline also attaches directly.
func SpaceDelta(delta, soFar string) string {
	if delta == "" || soFar == "" {
		return delta
	}
	if delta[0] == '\n' || attaches(delta) {
		return delta
	}
	return " " + delta
}

func attaches(fragment string) bool {
	return fragment[0] == ' ' || strings.IndexByte(attachingPunctuation, fragment[0]) >= 0
}
