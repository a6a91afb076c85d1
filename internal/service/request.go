package service

import (
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

type span struct {
	start, end int
	value      string
}

// BuildRequest substitutes each input's marker in text with the matching
// value. Inputs are matched in order against the first unclaimed
// occurrence of their marker; inputs whose marker is absent (after a
// freehand edit) have their value appended after the text.
func BuildRequest(text string, inputs []core.Reference, values []string) string {
	var (
		claimed  []span
		trailing []string
	)
	for i, in := range inputs {
		marker := in.Marker()
		from := 0
		placed := false
		for {
			idx := core.FindMarker(text, marker, from)
			if idx < 0 {
				break
			}
			end := idx + len(marker)
			if !overlaps(claimed, idx, end) {
				claimed = append(claimed, span{start: idx, end: end, value: values[i]})
				placed = true
				break
			}
			from = end
		}
		if !placed {
			trailing = append(trailing, values[i])
		}
	}

	sort.Slice(claimed, func(a, b int) bool { return claimed[a].start < claimed[b].start })

	var b strings.Builder
	last := 0
	for _, s := range claimed {
		b.WriteString(text[last:s.start])
		b.WriteString(s.value)
		last = s.end
	}
	b.WriteString(text[last:])
	for _, v := range trailing {
		b.WriteString("\n\n")
		b.WriteString(v)
	}
	return b.String()
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}
