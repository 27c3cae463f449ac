package logging

// MaxLogFieldLength bounds string fields attached to log entries so a
// large user-data payload cannot flood the log stream.
const MaxLogFieldLength = 256

// Truncate shortens s to MaxLogFieldLength, appending an ellipsis when
// anything was cut.
func Truncate(s string) string {
	if len(s) <= MaxLogFieldLength {
		return s
	}
	return s[:MaxLogFieldLength] + "..."
}
