package gateway

import "regexp"

// The arrival message is free text; only a small set of phrases is
// recognized. The extracted token is presentation-only and never drives
// state transitions.
const (
	PhraseArrivingSoon = "곧 도착"
	PhraseServiceEnded = "운행종료"
)

var etaPattern = regexp.MustCompile(`\d+분\d+초후|곧 도착|운행종료`)

// ExtractETA pulls the time-remaining token out of an arrival message.
// Returns "" when the message matches none of the recognized patterns.
func ExtractETA(message string) string {
	return etaPattern.FindString(message)
}

// IsServiceEnded reports whether the arrival message says the route has
// stopped operating for the day.
func IsServiceEnded(message string) bool {
	return ExtractETA(message) == PhraseServiceEnded
}
