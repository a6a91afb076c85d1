package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
)

// Output receives run progress.
type Output interface {
	RunStarted(ev events.RunStartedEvent)
	StepStarted(ev events.StepEvent)
	StepCompleted(ev events.StepEvent)
	StepFailed(ev events.StepEvent)
	StepSkipped(ev events.StepEvent)
	RunFinished(ev events.RunFinishedEvent)
}

// New returns the Output for mode.
func New(mode OutputMode, w io.Writer, width int) Output {
	switch mode {
	case ModeJSON:
		return NewJSONOutput(w)
	case ModeQuiet:
		return NewQuietOutput(w)
	case ModeStyled:
		return NewTextOutput(w, true, width)
	default:
		return NewTextOutput(w, false, width)
	}
}

// Follow forwards events from ch to out until the run finishes, ch
// closes or ctx ends. It returns the final event when one was seen.
func Follow(ctx context.Context, ch <-chan events.Event, out Output) (*events.RunFinishedEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil, nil
			}
			switch e := ev.(type) {
			case events.RunStartedEvent:
				out.RunStarted(e)
			case events.StepEvent:
				switch e.EventType() {
				case events.TypeStepStarted:
					out.StepStarted(e)
				case events.TypeStepCompleted:
					out.StepCompleted(e)
				case events.TypeStepFailed:
					out.StepFailed(e)
				case events.TypeStepSkipped:
					out.StepSkipped(e)
				}
			case events.RunFinishedEvent:
				out.RunFinished(e)
				return &e, nil
			}
		}
	}
}

// TextOutput prints one line per step, then the outputs. With color on,
// outputs are rendered as markdown.
type TextOutput struct {
	w        io.Writer
	useColor bool
	width    int
	mu       sync.Mutex
	total    int
	outputs  []events.StepEvent
}

// NewTextOutput creates a text output.
func NewTextOutput(w io.Writer, useColor bool, width int) *TextOutput {
	return &TextOutput{w: w, useColor: useColor, width: width}
}

func (t *TextOutput) style(status, text string) string {
	if !t.useColor {
		return text
	}
	return statusStyle(status).Render(text)
}

func (t *TextOutput) printf(format string, args ...interface{}) {
	fmt.Fprintf(t.w, format, args...)
}

// RunStarted prints the run header.
func (t *TextOutput) RunStarted(ev events.RunStartedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = ev.TotalSteps
	header := fmt.Sprintf("Run %s (%d steps)", ev.RunID, ev.TotalSteps)
	if t.useColor {
		header = HeaderStyle.Render(header)
	}
	t.printf("%s\n", header)
}

func (t *TextOutput) stepLine(ev events.StepEvent, status, suffix string) {
	icon := t.style(status, statusIcon(status))
	t.printf("  %s [%d/%d] %s%s\n", icon, ev.Position+1, t.total, ev.StepID, suffix)
}

// StepStarted is silent; completion lines carry the timing.
func (t *TextOutput) StepStarted(events.StepEvent) {}

// StepCompleted prints the step line and keeps the output for the summary.
func (t *TextOutput) StepCompleted(ev events.StepEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepLine(ev, "completed", " "+t.muted(fmt.Sprintf("(%s)", ev.Duration.Round(time.Millisecond))))
	t.outputs = append(t.outputs, ev)
}

// StepFailed prints the error code and message.
func (t *TextOutput) StepFailed(ev events.StepEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepLine(ev, "failed", " "+t.style("failed", ev.Code)+": "+ev.Error)
}

// StepSkipped prints a skipped line.
func (t *TextOutput) StepSkipped(ev events.StepEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepLine(ev, "skipped", " "+t.muted("skipped"))
}

// RunFinished prints each output and the totals.
func (t *TextOutput) RunFinished(ev events.RunFinishedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, out := range t.outputs {
		t.printf("\n%s\n", t.muted("── "+out.OutputID+" ──"))
		if t.useColor {
			t.printf("%s\n", RenderMarkdown(out.Output, t.width))
		} else {
			t.printf("%s\n", strings.TrimRight(out.Output, "\n"))
		}
	}
	summary := fmt.Sprintf("%s %s: %d completed, %d failed, %d skipped in %s",
		statusIcon(ev.Status), ev.Status, ev.Completed, ev.Failed, ev.Skipped,
		ev.Duration.Round(time.Millisecond))
	t.printf("\n%s\n", t.style(ev.Status, summary))
}

func (t *TextOutput) muted(s string) string {
	if !t.useColor {
		return s
	}
	return MutedStyle.Render(s)
}

// QuietOutput prints only the last successful output.
type QuietOutput struct {
	w    io.Writer
	last string
	mu   sync.Mutex
}

// NewQuietOutput creates a quiet output.
func NewQuietOutput(w io.Writer) *QuietOutput {
	return &QuietOutput{w: w}
}

func (q *QuietOutput) RunStarted(events.RunStartedEvent) {}
func (q *QuietOutput) StepStarted(events.StepEvent)      {}
func (q *QuietOutput) StepFailed(events.StepEvent)       {}
func (q *QuietOutput) StepSkipped(events.StepEvent)      {}

// StepCompleted remembers the output.
func (q *QuietOutput) StepCompleted(ev events.StepEvent) {
	q.mu.Lock()
	q.last = ev.Output
	q.mu.Unlock()
}

// RunFinished prints the remembered output.
func (q *QuietOutput) RunFinished(events.RunFinishedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.last != "" {
		fmt.Fprintln(q.w, q.last)
	}
}

// JSONOutput writes each event as one JSON line.
type JSONOutput struct {
	enc *json.Encoder
	mu  sync.Mutex
}

// NewJSONOutput creates a JSON lines output.
func NewJSONOutput(w io.Writer) *JSONOutput {
	return &JSONOutput{enc: json.NewEncoder(w)}
}

func (j *JSONOutput) emit(ev events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(ev)
}

func (j *JSONOutput) RunStarted(ev events.RunStartedEvent)   { j.emit(ev) }
func (j *JSONOutput) StepStarted(ev events.StepEvent)        { j.emit(ev) }
func (j *JSONOutput) StepCompleted(ev events.StepEvent)      { j.emit(ev) }
func (j *JSONOutput) StepFailed(ev events.StepEvent)         { j.emit(ev) }
func (j *JSONOutput) StepSkipped(ev events.StepEvent)        { j.emit(ev) }
func (j *JSONOutput) RunFinished(ev events.RunFinishedEvent) { j.emit(ev) }
