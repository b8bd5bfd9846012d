// Package trunc clips large user-visible strings to the dispatcher-announced
// byte caps while preserving the prefix and counting what was dropped.
package trunc

import (
	"strings"

	"github.com/lyrio-dev/judge/api"
)

// Prefix clips s to at most limit bytes. A non-positive limit means no cap.
func Prefix(s string, limit int64) api.OmittableString {
	if limit <= 0 || int64(len(s)) <= limit {
		return api.OmittableString{Data: s}
	}
	return api.OmittableString{
		Data:         s[:limit],
		OmittedBytes: len(s) - int(limit),
	}
}

// PrefixBytes is Prefix for raw file contents.
func PrefixBytes(b []byte, limit int64) api.OmittableString {
	return Prefix(string(b), limit)
}

// Preview clips s for display: rectangle-trimmed to maxHeight x maxWidth,
// then byte-capped. OmittedBytes counts everything dropped from the
// original. Non-positive rectangle dimensions disable the rectangle trim.
func Preview(s string, limit int64, maxHeight int, maxWidth int) api.OmittableString {
	trimmed := s
	if maxHeight > 0 && maxWidth > 0 {
		trimmed = Rect(s, maxHeight, maxWidth)
	}
	out := Prefix(trimmed, limit)
	if omitted := len(s) - len(out.Data); omitted > 0 {
		out.OmittedBytes = omitted
	} else {
		out.OmittedBytes = 0
	}
	return out
}

// Rect trims s to a maxHeight x maxWidth rectangle, marking every cut with
// "[...]".
func Rect(s string, maxHeight int, maxWidth int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
		lines = append(lines, "[...]")
	}
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if len(line) > maxWidth {
			sb.WriteString(line[:maxWidth])
			sb.WriteString("[...]")
		} else {
			sb.WriteString(line)
		}
	}
	return sb.String()
}
