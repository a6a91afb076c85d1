package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
	"github.com/hugo-lorenzo-mato/promptflow/internal/metrics"
)

func outGenerator() core.Generator {
	return core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		return "OUT:" + request, nil
	})
}

type memFiles struct {
	mu    sync.Mutex
	files map[string]string
}

func newMemFiles(kv ...string) *memFiles {
	m := &memFiles{files: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.files[kv[i]] = kv[i+1]
	}
	return m
}

func (m *memFiles) List(ctx context.Context) ([]core.FileResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.FileResource, 0, len(m.files))
	for name, content := range m.files {
		out = append(out, core.FileResource{Name: name, Size: int64(len(content))})
	}
	return out, nil
}

func (m *memFiles) Upload(ctx context.Context, name string, r io.Reader) (*core.FileResource, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = buf.String()
	return &core.FileResource{Name: name, Size: int64(buf.Len())}, nil
}

func (m *memFiles) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

func (m *memFiles) ReadContent(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.files[name]
	if !ok {
		return "", core.ErrNotFound("file", name)
	}
	return c, nil
}

func twoStepWorkflow(t *testing.T) (*core.Workflow, *core.Step, *core.Step) {
	t.Helper()
	wf := core.NewWorkflow("wf-1", "demo", "")
	a := wf.AddStep("summarize")
	b := wf.AddStep("translate")
	if err := wf.AppendOutputReference(b.ID, a.OutputID); err != nil {
		t.Fatalf("append reference: %v", err)
	}
	return wf, a, b
}

func TestExecutor_SubstitutesOutputs(t *testing.T) {
	wf, _, b := twoStepWorkflow(t)
	log := core.NewMessageLog()

	run, err := NewExecutor(outGenerator(), nil).Execute(context.Background(), wf, log)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status() != core.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status())
	}

	results := run.Results()
	want := []string{"OUT:summarize", "OUT:translate OUT:summarize"}
	for i, w := range want {
		if results[i].Output != w {
			t.Errorf("results[%d] = %q, want %q", i, results[i].Output, w)
		}
	}

	entries := log.Entries()
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(entries))
	}
	wantLog := []struct {
		role core.Role
		text string
	}{
		{core.RoleUser, "summarize"},
		{core.RoleAssistant, "OUT:summarize"},
		{core.RoleUser, b.Text},
		{core.RoleAssistant, "OUT:translate OUT:summarize"},
	}
	for i, w := range wantLog {
		if entries[i].Role != w.role || entries[i].Text != w.text {
			t.Errorf("entry %d = %s/%q, want %s/%q", i, entries[i].Role, entries[i].Text, w.role, w.text)
		}
	}
	if !strings.Contains(b.Text, core.OutputMarker) {
		t.Errorf("expected consumer text to keep its marker, got %q", b.Text)
	}
}

func TestExecutor_DanglingReferenceFailsOnlyThatStep(t *testing.T) {
	wf, a, b := twoStepWorkflow(t)
	// Break the reference without touching B.
	wf.Steps[0].OutputID = "output-gone"
	log := core.NewMessageLog()

	run, err := NewExecutor(outGenerator(), nil).Execute(context.Background(), wf, log)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status() != core.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status())
	}

	results := run.Results()
	if !results[0].OK() || results[0].Output != "OUT:"+a.Text {
		t.Errorf("expected first step to succeed, got %+v", results[0])
	}
	if results[1].Status != core.StepStatusFailed {
		t.Fatalf("expected second step to fail, got %s", results[1].Status)
	}
	if got := results[1].ErrorCode(); got != core.CodeUnresolvedReference {
		t.Errorf("error code = %s, want %s", got, core.CodeUnresolvedReference)
	}
	if results[1].StepID != b.ID {
		t.Errorf("result step = %s, want %s", results[1].StepID, b.ID)
	}
	if log.Len() != 2 {
		t.Errorf("expected only the first step's pair in the log, got %d entries", log.Len())
	}
}

func TestExecutor_ServiceErrorContinues(t *testing.T) {
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("boom")
	wf.AddStep("fine")

	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		if request == "boom" {
			return "", errors.New("upstream exploded")
		}
		return "ok", nil
	})

	run, err := NewExecutor(gen, nil).Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	results := run.Results()
	if got := results[0].ErrorCode(); got != core.CodeServiceError {
		t.Errorf("first step code = %s, want %s", got, core.CodeServiceError)
	}
	if results[1].Output != "ok" {
		t.Errorf("expected second step to run, got %+v", results[1])
	}
	if run.Status() != core.RunStatusCompleted {
		t.Errorf("status = %s, want completed", run.Status())
	}
}

func TestExecutor_FailedProducerLeavesConsumerUnresolved(t *testing.T) {
	wf, _, _ := twoStepWorkflow(t)
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		return "", errors.New("down")
	})

	run, _ := NewExecutor(gen, nil).Execute(context.Background(), wf, nil)
	results := run.Results()
	if got := results[0].ErrorCode(); got != core.CodeServiceError {
		t.Errorf("producer code = %s, want %s", got, core.CodeServiceError)
	}
	if got := results[1].ErrorCode(); got != core.CodeUnresolvedReference {
		t.Errorf("consumer code = %s, want %s", got, core.CodeUnresolvedReference)
	}
}

func TestExecutor_StopOnError(t *testing.T) {
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")
	wf.AddStep("b")
	wf.AddStep("c")
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		if request == "b" {
			return "", errors.New("nope")
		}
		return request, nil
	})

	run, _ := NewExecutor(gen, nil, WithStopOnError(true)).Execute(context.Background(), wf, nil)
	if run.Status() != core.RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status())
	}
	results := run.Results()
	if results[2].Status != core.StepStatusSkipped {
		t.Errorf("expected last step skipped, got %s", results[2].Status)
	}
}

func TestExecutor_FileReference(t *testing.T) {
	wf := core.NewWorkflow("wf-1", "demo", "")
	s := wf.AddStep("summarize")
	files := newMemFiles("notes.txt", "hello world")
	if err := wf.AppendFileReference(s.ID, "notes.txt", core.NewFileSet("notes.txt")); err != nil {
		t.Fatalf("append file reference: %v", err)
	}

	run, _ := NewExecutor(outGenerator(), files).Execute(context.Background(), wf, nil)
	got := run.Results()[0]
	if got.Output != "OUT:summarize hello world" {
		t.Errorf("output = %q", got.Output)
	}

	// Deleting the file leaves the reference dangling.
	_ = files.Delete(context.Background(), "notes.txt")
	run, _ = NewExecutor(outGenerator(), files).Execute(context.Background(), wf, nil)
	if code := run.Results()[0].ErrorCode(); code != core.CodeUnresolvedReference {
		t.Errorf("code = %s, want %s", code, core.CodeUnresolvedReference)
	}
}

func TestExecutor_RunAlreadyInProgress(t *testing.T) {
	release := make(chan struct{})
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		<-release
		return request, nil
	})
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")

	exec := NewExecutor(gen, nil)
	first, err := exec.Start(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err = exec.Start(context.Background(), wf, nil)
	if !core.IsCode(err, core.CodeRunAlreadyInProgress) {
		t.Fatalf("expected RUN_ALREADY_IN_PROGRESS, got %v", err)
	}
	if first.Status() != core.RunStatusRunning {
		t.Errorf("first run should be unaffected, got %s", first.Status())
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := first.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if _, err := exec.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("expected a new run after completion, got %v", err)
	}
}

func TestExecutor_CancelBetweenSteps(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return request, nil
	})
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")
	wf.AddStep("b")
	wf.AddStep("c")

	exec := NewExecutor(gen, nil)
	run, err := exec.Start(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started
	if !exec.Cancel(wf.ID) {
		t.Fatal("expected Cancel to find the active run")
	}
	close(release)
	<-run.Done()

	if run.Status() != core.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status())
	}
	results := run.Results()
	if !results[0].OK() {
		t.Errorf("in-flight step should complete, got %+v", results[0])
	}
	for _, r := range results[1:] {
		if r.Status != core.StepStatusSkipped {
			t.Errorf("step %s status = %s, want skipped", r.StepID, r.Status)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected no generation after cancel, got %d calls", calls.Load())
	}
}

func TestExecutor_SnapshotIsolatesEdits(t *testing.T) {
	release := make(chan struct{})
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		<-release
		return request, nil
	})
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")

	run, _ := NewExecutor(gen, nil).Start(context.Background(), wf, nil)
	wf.AddStep("added later")
	close(release)
	<-run.Done()

	if n := len(run.Results()); n != 1 {
		t.Errorf("expected run over the original snapshot, got %d results", n)
	}
}

func TestExecutor_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		if calls.Add(1) < 3 {
			return "", core.ErrRateLimit("slow down")
		}
		return "done", nil
	})
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")

	policy := NewRetryPolicy(WithMaxAttempts(3), WithBaseDelay(time.Millisecond), WithJitter(0))
	run, _ := NewExecutor(gen, nil, WithRetryPolicy(policy)).Execute(context.Background(), wf, nil)
	if got := run.Results()[0].Output; got != "done" {
		t.Errorf("output = %q, want done", got)
	}
}

func TestExecutor_StepTimeout(t *testing.T) {
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")

	run, _ := NewExecutor(gen, nil, WithStepTimeout(10*time.Millisecond)).Execute(context.Background(), wf, nil)
	res := run.Results()[0]
	if res.ErrorCode() != core.CodeServiceError {
		t.Fatalf("code = %s, want %s", res.ErrorCode(), core.CodeServiceError)
	}
	if !core.IsCategory(errors.Unwrap(res.Err), core.ErrCatTimeout) {
		t.Errorf("expected a timeout cause, got %v", res.Err)
	}
}

func TestExecutor_PublishesEvents(t *testing.T) {
	bus := events.New(64)
	defer bus.Close()
	ch := bus.SubscribeWorkflow("wf-1")

	wf, _, _ := twoStepWorkflow(t)
	rec := metrics.New()
	_, err := NewExecutor(outGenerator(), nil, WithEventBus(bus), WithMetrics(rec)).
		Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 6 {
		select {
		case ev := <-ch:
			types = append(types, ev.EventType())
		case <-timeout:
			t.Fatalf("timed out, got %v", types)
		}
	}
	want := []string{
		events.TypeRunStarted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeRunFinished,
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRun_View(t *testing.T) {
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		return "", errors.New("x")
	})
	run, _ := NewExecutor(gen, nil).Execute(context.Background(), wf, nil)

	v := run.View()
	if v.Status != core.RunStatusCompleted || len(v.Steps) != 1 {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.Steps[0].Code != core.CodeServiceError || v.Steps[0].Error == "" {
		t.Errorf("expected error fields in view, got %+v", v.Steps[0])
	}
	if v.CompletedAt == nil {
		t.Error("expected completion time")
	}
}

func TestExecutor_CallerContextDoesNotPreemptStep(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "OUT:" + request, nil
	})
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")
	wf.AddStep("b")
	log := core.NewMessageLog()

	exec := NewExecutor(gen, nil)
	ctx, cancel := context.WithCancel(context.Background())
	run, err := exec.Start(ctx, wf, log)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started
	// An interrupt cancels the caller's context and then the run.
	cancel()
	run.Cancel()
	<-run.Done()

	if run.Status() != core.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status())
	}
	results := run.Results()
	if !results[0].OK() || results[0].Output != "OUT:a" {
		t.Fatalf("in-flight step should finish, got %+v (err %v)", results[0], results[0].Err)
	}
	if results[1].Status != core.StepStatusSkipped {
		t.Errorf("second step status = %s, want skipped", results[1].Status)
	}
	if log.Len() != 2 {
		t.Errorf("expected the finished step in the log, got %d entries", log.Len())
	}
}

func TestExecutor_AbortInterruptsStep(t *testing.T) {
	started := make(chan struct{})
	gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	wf := core.NewWorkflow("wf-1", "demo", "")
	wf.AddStep("a")
	wf.AddStep("b")

	run, err := NewExecutor(gen, nil).Start(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started
	run.Abort()
	<-run.Done()

	if run.Status() != core.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status())
	}
	results := run.Results()
	if got := results[0].ErrorCode(); got != core.CodeServiceError {
		t.Errorf("aborted step code = %s, want %s", got, core.CodeServiceError)
	}
	if results[1].Status != core.StepStatusSkipped {
		t.Errorf("second step status = %s, want skipped", results[1].Status)
	}
}

func TestExecutor_CancelAllGrace(t *testing.T) {
	t.Run("in-flight step finishes within the grace period", func(t *testing.T) {
		started := make(chan struct{})
		gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
			close(started)
			select {
			case <-time.After(50 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})
		wf := core.NewWorkflow("wf-1", "demo", "")
		wf.AddStep("a")
		exec := NewExecutor(gen, nil)
		run, err := exec.Start(context.Background(), wf, nil)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exec.CancelAll(ctx); err != nil {
			t.Fatalf("CancelAll() error = %v", err)
		}
		if r := run.Results()[0]; r.Output != "done" {
			t.Errorf("expected the step to finish, got %+v", r)
		}
	})

	t.Run("grace expiry aborts", func(t *testing.T) {
		started := make(chan struct{})
		gen := core.GeneratorFunc(func(ctx context.Context, request string) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		})
		wf := core.NewWorkflow("wf-2", "demo", "")
		wf.AddStep("a")
		exec := NewExecutor(gen, nil)
		run, err := exec.Start(context.Background(), wf, nil)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := exec.CancelAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("CancelAll() error = %v, want deadline exceeded", err)
		}
		select {
		case <-run.Done():
		default:
			t.Fatal("run still active after CancelAll returned")
		}
		if run.Status() != core.RunStatusCancelled {
			t.Errorf("status = %s, want cancelled", run.Status())
		}
	})
}
