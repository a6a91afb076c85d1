package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/promptflow/internal/control"
	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
	"github.com/hugo-lorenzo-mato/promptflow/internal/logging"
	"github.com/hugo-lorenzo-mato/promptflow/internal/metrics"
)

// InstrumentationName is the tracer scope used for run spans.
const InstrumentationName = "github.com/hugo-lorenzo-mato/promptflow"

// Executor runs workflows strictly in sequence against a Generator.
// At most one run per workflow is active at a time.
type Executor struct {
	generator   core.Generator
	files       core.FileStore
	retry       *RetryPolicy
	limiter     *RateLimiter
	stepTimeout time.Duration
	stopOnError bool
	bus         *events.EventBus
	metrics     *metrics.Recorder
	logger      *logging.Logger
	tracer      trace.Tracer

	mu      sync.Mutex
	running map[core.WorkflowID]*Run
	last    map[core.WorkflowID]*Run
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRetryPolicy sets the retry policy for generation calls.
func WithRetryPolicy(p *RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		if p != nil {
			e.retry = p
		}
	}
}

// WithRateLimiter paces generation calls.
func WithRateLimiter(l *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.limiter = l
	}
}

// WithStepTimeout bounds each step's generation call, retries included.
func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.stepTimeout = d
	}
}

// WithStopOnError ends a run as failed at the first failing step.
func WithStopOnError(stop bool) ExecutorOption {
	return func(e *Executor) {
		e.stopOnError = stop
	}
}

// WithEventBus publishes run and step events.
func WithEventBus(bus *events.EventBus) ExecutorOption {
	return func(e *Executor) {
		e.bus = bus
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Recorder) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(InstrumentationName)
		}
	}
}

// NewExecutor creates an Executor. files may be nil when no step
// references files.
func NewExecutor(gen core.Generator, files core.FileStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		generator: gen,
		files:     files,
		retry:     NoRetry(),
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(InstrumentationName),
		running:   make(map[core.WorkflowID]*Run),
		last:      make(map[core.WorkflowID]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start snapshots wf and runs it in the background, appending to log.
// It fails with RUN_ALREADY_IN_PROGRESS if wf already has an active run;
// the active run is not affected.
//
// The run keeps ctx's values but not its cancellation: stop it with
// Run.Cancel, or Run.Abort to interrupt the step in flight.
func (e *Executor) Start(ctx context.Context, wf *core.Workflow, log *core.MessageLog) (*Run, error) {
	if wf == nil {
		return nil, core.ErrValidation(core.CodeInvalidRecord, "workflow is nil")
	}
	if log == nil {
		log = core.NewMessageLog()
	}
	snapshot := wf.Clone()

	e.mu.Lock()
	if _, busy := e.running[snapshot.ID]; busy {
		e.mu.Unlock()
		return nil, core.ErrRunAlreadyInProgress(snapshot.ID)
	}
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	run := newRun(snapshot, log, abort)
	if err := run.state.MarkRunning(); err != nil {
		e.mu.Unlock()
		abort()
		return nil, core.ErrState(core.CodeInvalidState, err.Error())
	}
	e.running[snapshot.ID] = run
	e.mu.Unlock()

	go func() {
		defer abort()
		e.execute(runCtx, run)
	}()
	return run, nil
}

// Execute is Start followed by waiting for the run to finish.
func (e *Executor) Execute(ctx context.Context, wf *core.Workflow, log *core.MessageLog) (*Run, error) {
	run, err := e.Start(ctx, wf, log)
	if err != nil {
		return nil, err
	}
	<-run.Done()
	return run, nil
}

// Current returns the active run of a workflow, or its most recent one.
func (e *Executor) Current(id core.WorkflowID) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.running[id]; ok {
		return r, true
	}
	r, ok := e.last[id]
	return r, ok
}

// IsRunning reports whether a workflow has an active run.
func (e *Executor) IsRunning(id core.WorkflowID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

// Cancel requests cancellation of a workflow's active run.
func (e *Executor) Cancel(id core.WorkflowID) bool {
	e.mu.Lock()
	run, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		run.Cancel()
	}
	return ok
}

// CancelAll cancels every active run and waits for them to stop. Steps
// in flight may finish until ctx ends; then the remaining runs are
// aborted and ctx's error is returned.
func (e *Executor) CancelAll(ctx context.Context) error {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.running))
	for _, r := range e.running {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.Cancel()
	}
	for _, r := range runs {
		if err := r.Wait(ctx); err != nil {
			for _, r := range runs {
				r.Abort()
			}
			for _, r := range runs {
				<-r.Done()
			}
			return err
		}
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, run *Run) {
	wf := run.workflow
	logger := e.logger.WithWorkflow(string(wf.ID)).WithRun(string(run.ID))

	ctx, span := e.tracer.Start(ctx, "promptflow.run", trace.WithAttributes(
		attribute.String("workflow.id", string(wf.ID)),
		attribute.String("run.id", string(run.ID)),
		attribute.Int("run.steps", len(wf.Steps)),
	))
	defer span.End()

	e.metrics.RunStarted()
	e.publish(events.NewRunStartedEvent(string(wf.ID), string(run.ID), len(wf.Steps)))
	logger.Info("run started", "steps", len(wf.Steps))

	values := make(map[string]string, len(wf.Steps))
	final := core.RunStatusCompleted
	for i := range wf.Steps {
		if run.ctrl.IsCancelled() || ctx.Err() != nil {
			final = core.RunStatusCancelled
			e.skipFrom(run, i)
			break
		}
		res := e.executeStep(ctx, run, i, values, logger)
		if !res.OK() && ctx.Err() != nil {
			final = core.RunStatusCancelled
			e.skipFrom(run, i+1)
			break
		}
		if !res.OK() && e.stopOnError {
			final = core.RunStatusFailed
			e.skipFrom(run, i+1)
			break
		}
	}

	if err := run.finish(final); err != nil {
		logger.Error("finishing run", "error", err)
	}

	e.mu.Lock()
	delete(e.running, wf.ID)
	e.last[wf.ID] = run
	e.mu.Unlock()

	completed, failed, skipped := run.counts()
	duration := run.duration()
	span.SetAttributes(attribute.String("run.status", string(final)))
	if final == core.RunStatusFailed {
		span.SetStatus(codes.Error, "run failed")
	}
	e.metrics.RunFinished(string(final), duration)
	e.publish(events.NewRunFinishedEvent(string(wf.ID), string(run.ID), string(final),
		completed, failed, skipped, duration))
	logger.Info("run finished",
		"status", final,
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"duration", duration,
	)

	close(run.done)
}

func (e *Executor) executeStep(ctx context.Context, run *Run, i int, values map[string]string, logger *logging.Logger) core.StepResult {
	wf := run.workflow
	step := wf.Steps[i]
	logger = logger.WithStep(string(step.ID), i)
	started := time.Now()

	run.update(i, func(r *core.StepResult) {
		r.Status = core.StepStatusRunning
		r.StartedAt = &started
	})
	e.publish(events.NewStepStartedEvent(string(wf.ID), string(run.ID), string(step.ID), step.OutputID, i))

	inputs, err := e.gatherInputs(ctx, wf, i, values)
	if err != nil {
		return e.failStep(run, i, err, logger)
	}

	request := BuildRequest(step.Text, step.Inputs, inputs)
	output, err := e.generate(ctx, step, request, logger)
	if err != nil {
		return e.failStep(run, i, err, logger)
	}

	values[step.OutputID] = output
	run.log.AppendPair(wf.ID, step.Text, output)

	done := time.Now()
	res := run.update(i, func(r *core.StepResult) {
		r.Status = core.StepStatusCompleted
		r.Output = output
		r.CompletedAt = &done
	})
	e.metrics.StepFinished(string(core.StepStatusCompleted), "")
	e.publish(events.NewStepCompletedEvent(string(wf.ID), string(run.ID), string(step.ID), step.OutputID, i,
		output, done.Sub(started)))
	logger.Debug("step completed", "duration", done.Sub(started))
	return res
}

func (e *Executor) failStep(run *Run, i int, err error, logger *logging.Logger) core.StepResult {
	step := run.workflow.Steps[i]
	done := time.Now()
	res := run.update(i, func(r *core.StepResult) {
		r.Status = core.StepStatusFailed
		r.Err = err
		r.CompletedAt = &done
	})
	code := res.ErrorCode()
	e.metrics.StepFinished(string(core.StepStatusFailed), code)
	e.publish(events.NewStepFailedEvent(string(run.workflow.ID), string(run.ID), string(step.ID), step.OutputID, i, code, err))
	logger.Warn("step failed", "code", code, "error", err)
	return res
}

func (e *Executor) skipFrom(run *Run, from int) {
	for i := from; i < len(run.workflow.Steps); i++ {
		step := run.workflow.Steps[i]
		run.update(i, func(r *core.StepResult) {
			r.Status = core.StepStatusSkipped
		})
		e.metrics.StepFinished(string(core.StepStatusSkipped), "")
		e.publish(events.NewStepSkippedEvent(string(run.workflow.ID), string(run.ID), string(step.ID), step.OutputID, i))
	}
}

// gatherInputs resolves the step at position i and returns one value per
// input. Output values come only from earlier steps of this run; files
// are read concurrently.
func (e *Executor) gatherInputs(ctx context.Context, wf *core.Workflow, i int, values map[string]string) ([]string, error) {
	step := wf.Steps[i]
	if len(step.Inputs) == 0 {
		return nil, nil
	}

	var catalog core.FileCatalog = core.FileSet(nil)
	if e.files != nil && hasFileInputs(step) {
		list, err := e.files.List(ctx)
		if err != nil {
			return nil, core.ErrExecution("FILE_STORE_ERROR", "listing files").WithCause(err)
		}
		catalog = core.FileSetOf(list)
	}

	sr := ResolveStep(wf, i, catalog)
	if err := sr.Err(); err != nil {
		return nil, err
	}

	out := make([]string, len(sr.Inputs))
	var missing []error
	g, gctx := errgroup.WithContext(ctx)
	for j, in := range sr.Inputs {
		switch in.Ref.Kind {
		case core.ReferenceOutput:
			v, ok := values[in.Ref.TargetID]
			if !ok {
				missing = append(missing, core.ErrUnresolvedReference(step.ID, in.Ref).
					WithDetail("reason", "producer did not complete in this run"))
				continue
			}
			out[j] = v
		case core.ReferenceFile:
			g.Go(func() error {
				content, err := e.files.ReadContent(gctx, in.FileName)
				if err != nil {
					return core.ErrUnresolvedReference(step.ID, in.Ref).WithCause(err)
				}
				out[j] = content
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		missing = append(missing, err)
	}
	if len(missing) > 0 {
		return nil, core.ErrValidation(core.CodeUnresolvedReference,
			fmt.Sprintf("step %s has %d unavailable input(s)", step.ID, len(missing))).
			WithCause(errors.Join(missing...)).
			WithDetail("step_id", string(step.ID))
	}
	return out, nil
}

func hasFileInputs(step *core.Step) bool {
	for _, in := range step.Inputs {
		if in.Kind == core.ReferenceFile {
			return true
		}
	}
	return false
}

// generate calls the generation service with retries, pacing and the
// step timeout. Any failure becomes a SERVICE_ERROR for the step.
func (e *Executor) generate(ctx context.Context, step *core.Step, request string, logger *logging.Logger) (string, error) {
	name := e.generator.Name()
	ctx, span := e.tracer.Start(ctx, "promptflow.generate", trace.WithAttributes(
		attribute.String("step.id", string(step.ID)),
		attribute.String("generator", name),
		attribute.Int("request.length", len(request)),
	))
	defer span.End()

	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	var output string
	start := time.Now()
	err := e.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx); err != nil {
				return err
			}
		}
		out, err := e.generator.Generate(ctx, request)
		if err != nil {
			return err
		}
		output = out
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		e.metrics.GenerationRetried(name)
		logger.Warn("retrying generation", "attempt", attempt, "delay", delay, "error", err)
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && e.stepTimeout > 0 {
			err = core.ErrTimeout(fmt.Sprintf("step exceeded %s", e.stepTimeout)).WithCause(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		e.metrics.Generation(name, "error", time.Since(start))
		return "", core.ErrService(step.ID, err)
	}
	e.metrics.Generation(name, "ok", time.Since(start))
	span.SetAttributes(attribute.Int("response.length", len(output)))
	return output, nil
}

func (e *Executor) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// Run is one execution of a workflow snapshot.
type Run struct {
	ID         core.RunID
	WorkflowID core.WorkflowID

	workflow *core.Workflow
	log      *core.MessageLog
	ctrl     *control.ControlPlane
	abort    context.CancelFunc
	done     chan struct{}

	mu      sync.RWMutex
	state   core.RunState
	results []core.StepResult
}

func newRun(wf *core.Workflow, log *core.MessageLog, abort context.CancelFunc) *Run {
	results := make([]core.StepResult, len(wf.Steps))
	for i, s := range wf.Steps {
		results[i] = core.StepResult{
			StepID:   s.ID,
			OutputID: s.OutputID,
			Status:   core.StepStatusPending,
		}
	}
	return &Run{
		ID:         core.RunID(uuid.NewString()),
		WorkflowID: wf.ID,
		workflow:   wf,
		log:        log,
		ctrl:       control.New(),
		abort:      abort,
		done:       make(chan struct{}),
		state:      core.RunState{Status: core.RunStatusIdle},
		results:    results,
	}
}

// Status returns the current run status.
func (r *Run) Status() core.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Status
}

// Results returns a snapshot of per-step results, aligned with the steps
// as they were when the run started.
func (r *Run) Results() []core.StepResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.StepResult, len(r.results))
	copy(out, r.results)
	return out
}

// Log returns the message log this run appends to.
func (r *Run) Log() *core.MessageLog {
	return r.log
}

// Workflow returns the snapshot being executed.
func (r *Run) Workflow() *core.Workflow {
	return r.workflow
}

// Cancel stops the run before its next step. The step in flight finishes.
func (r *Run) Cancel() {
	r.ctrl.Cancel("cancelled by user")
}

// Abort cancels the run and interrupts the step in flight, which fails
// with SERVICE_ERROR.
func (r *Run) Abort() {
	r.ctrl.Cancel("aborted")
	r.abort()
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) update(i int, fn func(*core.StepResult)) core.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.results[i])
	return r.results[i]
}

func (r *Run) finish(status core.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Finish(status)
}

func (r *Run) counts() (completed, failed, skipped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.results {
		switch res.Status {
		case core.StepStatusCompleted:
			completed++
		case core.StepStatusFailed:
			failed++
		case core.StepStatusSkipped:
			skipped++
		}
	}
	return completed, failed, skipped
}

func (r *Run) duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if r.state.CompletedAt != nil {
		end = *r.state.CompletedAt
	}
	return end.Sub(*r.state.StartedAt)
}

// RunView is the JSON shape of a run.
type RunView struct {
	ID          core.RunID      `json:"id"`
	WorkflowID  core.WorkflowID `json:"workflow_id"`
	Status      core.RunStatus  `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Steps       []StepView      `json:"steps"`
}

// StepView is the JSON shape of a step result.
type StepView struct {
	StepID   core.StepID     `json:"step_id"`
	OutputID string          `json:"output_id"`
	Status   core.StepStatus `json:"status"`
	Output   string          `json:"output,omitempty"`
	Code     string          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// View returns a consistent snapshot of the run for serialization.
func (r *Run) View() RunView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := RunView{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		Status:      r.state.Status,
		StartedAt:   r.state.StartedAt,
		CompletedAt: r.state.CompletedAt,
		Steps:       make([]StepView, len(r.results)),
	}
	for i, res := range r.results {
		sv := StepView{
			StepID:   res.StepID,
			OutputID: res.OutputID,
			Status:   res.Status,
			Output:   res.Output,
		}
		if res.Err != nil {
			sv.Code = res.ErrorCode()
			sv.Error = res.Err.Error()
		}
		v.Steps[i] = sv
	}
	return v
}
