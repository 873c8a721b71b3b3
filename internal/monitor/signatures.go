package monitor

import "strings"

const readySignature = "lowest initial latency"

// IsReady reports whether the daemon logged that it is serving queries.
func IsReady(text string) bool {
	return strings.Contains(text, readySignature)
}

// IsFatal reports whether the daemon logged an unrecoverable failure.
func IsFatal(text string) bool {
	return strings.Contains(text, "[CRITICAL]") && strings.Contains(text, "[FATAL]")
}

// IsRecoverable reports whether the daemon logged an error it may recover
// from. A benign " OK " marker in the same text cancels the match.
func IsRecoverable(text string) bool {
	if strings.Contains(text, " OK ") {
		return false
	}
	return strings.Contains(text, "connection refused") || strings.Contains(text, "ERROR")
}

// FatalLines returns the lines of text carrying a fatal marker.
func FatalLines(text string) []string {
	return matchLines(text, func(line string) bool {
		return strings.Contains(line, "[CRITICAL]") || strings.Contains(line, "[FATAL]")
	})
}

// RecoverableLines returns the error lines of text that IsRecoverable matches.
func RecoverableLines(text string) []string {
	return matchLines(text, func(line string) bool {
		if strings.Contains(line, " OK ") {
			return false
		}
		return strings.Contains(line, "connection refused") || strings.Contains(line, "ERROR")
	})
}

func matchLines(text string, match func(string) bool) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" && match(line) {
			out = append(out, line)
		}
	}
	return out
}

// linesAfter returns the lines following the last occurrence of last. All
// lines are returned when last is empty or no longer present.
func linesAfter(lines []string, last string) []string {
	if last == "" {
		return lines
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == last {
			return lines[i+1:]
		}
	}
	return lines
}
