package core

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// StepID uniquely identifies a step within a workflow. IDs are never reused.
type StepID string

// ReferenceKind is the kind of value a reference points at.
type ReferenceKind string

const (
	ReferenceOutput ReferenceKind = "output"
	ReferenceFile   ReferenceKind = "file"
)

// Visible markers embedded in step text.
const (
	OutputMarker = "📄"
	FileMarker   = "🗄️"
)

// IsValid reports whether k is a known reference kind.
func (k ReferenceKind) IsValid() bool {
	return k == ReferenceOutput || k == ReferenceFile
}

// Reference points a step input at an earlier step's output or an uploaded file.
type Reference struct {
	Kind     ReferenceKind `json:"kind" yaml:"kind"`
	TargetID string        `json:"targetId" yaml:"targetId"`
}

// OutputRef builds a reference to a step output.
func OutputRef(outputID string) Reference {
	return Reference{Kind: ReferenceOutput, TargetID: outputID}
}

// FileRef builds a reference to an uploaded file.
func FileRef(name string) Reference {
	return Reference{Kind: ReferenceFile, TargetID: name}
}

// Marker returns the text token that stands for this reference in step text.
func (r Reference) Marker() string {
	if r.Kind == ReferenceFile {
		return FileMarker + r.TargetID
	}
	return OutputMarker + r.TargetID
}

// String implements fmt.Stringer.
func (r Reference) String() string {
	return string(r.Kind) + ":" + r.TargetID
}

// Step is one unit of work: a prompt sent to the generation service.
type Step struct {
	ID       StepID      `json:"id"`
	Text     string      `json:"text"`
	OutputID string      `json:"outputId"`
	Inputs   []Reference `json:"inputs"`
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	c := *s
	c.Inputs = append([]Reference(nil), s.Inputs...)
	return &c
}

// MissingMarkers returns the inputs whose marker no longer appears in the
// text. This happens after freehand edits and is tolerated.
func (s *Step) MissingMarkers() []Reference {
	var missing []Reference
	for _, in := range s.Inputs {
		if FindMarker(s.Text, in.Marker(), 0) < 0 {
			missing = append(missing, in)
		}
	}
	return missing
}

// FindMarker returns the byte offset of the first complete occurrence of
// marker in text at or after from, or -1. An occurrence that continues
// into a longer identifier ("📄output-1" inside "📄output-12") is skipped.
func FindMarker(text, marker string, from int) int {
	for from <= len(text) {
		idx := strings.Index(text[from:], marker)
		if idx < 0 {
			return -1
		}
		pos := from + idx
		if markerEndsAt(text, pos+len(marker)) {
			return pos
		}
		from = pos + len(marker)
	}
	return -1
}

func markerEndsAt(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, size := utf8.DecodeRuneInString(text[end:])
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
		return false
	case r == '.':
		next, _ := utf8.DecodeRuneInString(text[end+size:])
		return end+size >= len(text) || !(unicode.IsLetter(next) || unicode.IsDigit(next))
	default:
		return true
	}
}

// appendMarker joins a marker onto text with a single separating space.
func appendMarker(text, marker string) string {
	if text == "" || strings.HasSuffix(text, " ") || strings.HasSuffix(text, "\n") {
		return text + marker
	}
	return text + " " + marker
}
