// Package checkers grades user outputs: built-in comparison modes, the six
// custom-checker calling conventions, and the conventional checker message
// parser they all report through.
package checkers

import (
	"fmt"
	"math"
	"strings"
)

// Outcome is a graded testcase from the checker's point of view.
type Outcome struct {
	// In [0, 100].
	Score float64
	// False when the checker itself failed; Message then explains why.
	OK      bool
	Message string
}

// ParseMessage classifies a competitive-programming checker message by its
// prefix: ok / wrong answer / wrong output format / points N / partially
// correct (N) / FAIL.
func ParseMessage(message string) Outcome {
	msg := strings.TrimSpace(message)
	lower := strings.ToLower(msg)

	switch {
	case strings.HasPrefix(lower, "ok"):
		return Outcome{Score: 100, OK: true, Message: msg}
	case strings.HasPrefix(lower, "wrong answer"),
		strings.HasPrefix(lower, "wrong output format"):
		return Outcome{Score: 0, OK: true, Message: msg}
	case strings.HasPrefix(lower, "points "):
		var points float64
		if _, err := fmt.Sscanf(lower, "points %f", &points); err == nil &&
			points >= 0 && points <= 100 {
			return Outcome{Score: points, OK: true, Message: msg}
		}
		return Outcome{OK: false, Message: "Couldn't parse the score in checker message: " + msg}
	case strings.HasPrefix(lower, "partially correct"):
		var points float64
		if _, err := fmt.Sscanf(lower, "partially correct (%f)", &points); err == nil &&
			points >= 0 && points <= 200 {
			return Outcome{Score: math.Floor(points / 2), OK: true, Message: msg}
		}
		return Outcome{OK: false, Message: "Couldn't parse the score in checker message: " + msg}
	case strings.HasPrefix(msg, "FAIL"):
		return Outcome{OK: false, Message: msg}
	}
	return Outcome{OK: false, Message: "Couldn't parse checker message: " + msg}
}
