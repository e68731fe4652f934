package caddyfile

import (
	"fmt"
	"sort"
)

// Severity ranks a content warning. Error-level warnings mark content that was
// dropped because deploying it would break a tunnel.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Warning is one non-fatal content issue found while reading a proxy document.
type Warning struct {
	Line     int
	Severity Severity
	Service  string
	Message  string
}

func (w Warning) String() string {
	prefix := ""
	if w.Severity == SeverityError {
		prefix = "error: "
	}
	if w.Line > 0 {
		return fmt.Sprintf("line %d: %s%s", w.Line, prefix, w.Message)
	}
	return prefix + w.Message
}

// SortWarnings orders warnings by line, keeping discovery order for equal lines.
func SortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		return ws[i].Line < ws[j].Line
	})
}

// HasErrors reports whether any warning is error-level.
func HasErrors(ws []Warning) bool {
	for _, w := range ws {
		if w.Severity == SeverityError {
			return true
		}
	}
	return false
}
