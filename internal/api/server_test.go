package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
	"github.com/hugo-lorenzo-mato/promptflow/internal/metrics"
	"github.com/hugo-lorenzo-mato/promptflow/internal/service"
	"github.com/hugo-lorenzo-mato/promptflow/internal/testutil"
)

type testEnv struct {
	server    *Server
	handler   http.Handler
	generator *testutil.MockGenerator
	files     *testutil.MockFileStore
	threads   *testutil.MockThreadStore
	bus       *events.EventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := events.New(100)
	t.Cleanup(bus.Close)

	gen := testutil.NewMockGenerator()
	files := testutil.NewMockFileStore("notes.txt", "NOTES")
	threadStore := testutil.NewMockThreadStore()

	svc := Services{
		Workflows: service.NewWorkflowService(testutil.NewMockWorkflowStore(), files, service.WithWorkflowEvents(bus)),
		Threads:   service.NewThreadService(threadStore, gen, service.WithThreadEvents(bus)),
		Executor:  service.NewExecutor(gen, files, service.WithEventBus(bus)),
		Files:     files,
	}
	srv := NewServer(svc, bus, WithMetrics(metrics.New()), WithSSEKeepAlive(0))
	return &testEnv{server: srv, handler: srv.Handler(), generator: gen, files: files, threads: threadStore, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func (e *testEnv) createWorkflow(t *testing.T, texts ...string) *core.WorkflowRecord {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/workflows", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wf := decode[core.WorkflowRecord](t, rec)
	for _, text := range texts {
		rec = e.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps", StepTextRequest{Text: text})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		wf = *decode[AddStepResponse](t, rec).Workflow
	}
	return &wf
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "promptflow_")
}

func TestServer_WorkflowAuthoring(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, "Summarize the notes", "Translate the summary")
	require.Len(t, wf.Steps, 2)

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[1].ID+"/references",
		core.OutputRef(wf.Steps[0].OutputID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[core.WorkflowRecord](t, rec)
	assert.Contains(t, updated.Steps[1].Text, "📄"+wf.Steps[0].OutputID)

	rec = env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[0].ID+"/references",
		core.FileRef("notes.txt"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[WorkflowResponse](t, rec)
	assert.Equal(t, "demo", got.Name)
	assert.Empty(t, got.Dangling)
	assert.False(t, got.Running)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]core.WorkflowSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].StepCount)

	rec = env.do(t, http.MethodPut, "/api/v1/workflows/"+wf.ID, UpdateWorkflowRequest{Name: "renamed", Description: "d"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", decode[core.WorkflowRecord](t, rec).Name)

	rec = env.do(t, http.MethodPatch, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[0].ID, StepTextRequest{Text: "Shorten"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Shorten", decode[core.WorkflowRecord](t, rec).Steps[0].Text)
}

func TestServer_InvalidReferenceRejected(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, "first", "second")

	// A step may only reference strictly earlier outputs.
	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[0].ID+"/references",
		core.OutputRef(wf.Steps[1].OutputID))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, core.CodeInvalidReference, body.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[1].ID+"/references",
		core.FileRef("missing.pdf"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
	got := decode[WorkflowResponse](t, rec)
	assert.Equal(t, "second", got.Steps[1].Text, "failed mutation must leave the workflow unchanged")
}

func TestServer_ReorderViolation(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, "first", "second")
	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[1].ID+"/references",
		core.OutputRef(wf.Steps[0].OutputID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/workflows/"+wf.ID+"/order",
		ReorderRequest{Order: []core.StepID{core.StepID(wf.Steps[1].ID), core.StepID(wf.Steps[0].ID)}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, core.CodeOrderViolation, decode[ErrorResponse](t, rec).Code)
}

func TestServer_DeleteStepLeavesDangling(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, "first", "second")
	env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[1].ID+"/references",
		core.OutputRef(wf.Steps[0].OutputID))

	rec := env.do(t, http.MethodDelete, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
	got := decode[WorkflowResponse](t, rec)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, []core.Reference{core.OutputRef(wf.Steps[0].OutputID)}, got.Dangling[core.StepID(wf.Steps[1].ID)])
}

func TestServer_Graph(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, "first", "second")
	env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[1].ID+"/references",
		core.OutputRef(wf.Steps[0].OutputID))

	rec := env.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[service.Graph](t, rec)
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/graph?format=dot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "digraph"))
}

func TestServer_WorkflowNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/workflows/nope"},
		{http.MethodDelete, "/api/v1/workflows/nope"},
		{http.MethodPost, "/api/v1/workflows/nope/runs"},
	} {
		rec := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestServer_BadJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, rec).Code)
}

func TestServer_RunAndWait(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, "Say hi", "Translate")
	env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/steps/"+wf.Steps[1].ID+"/references",
		core.OutputRef(wf.Steps[0].OutputID))

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/runs", StartRunRequest{Wait: true, ThreadID: "t1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[service.RunView](t, rec)
	assert.Equal(t, core.RunStatusCompleted, view.Status)
	require.Len(t, view.Steps, 2)
	assert.Equal(t, "OUT:Say hi", view.Steps[0].Output)
	assert.Contains(t, view.Steps[1].Output, "OUT:Say hi")

	rec = env.do(t, http.MethodGet, "/api/v1/threads/t1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	thread := decode[ThreadResponse](t, rec)
	require.Len(t, thread.Messages, 4)
	assert.Equal(t, core.RoleUser, thread.Messages[0].Role)
	assert.Equal(t, "Say hi", thread.Messages[0].Text)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/runs/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, view.ID, decode[service.RunView](t, rec).ID)
}

func TestServer_RunConflictAndCancel(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	env.generator.WithFunc(func(ctx context.Context, req string) (string, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	})
	wf := env.createWorkflow(t, "one", "two")

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	<-started

	rec = env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/runs", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, core.CodeRunAlreadyInProgress, decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/workflows/"+wf.ID+"/runs/current", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	close(release)

	run, ok := env.server.executor.Current(core.WorkflowID(wf.ID))
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run.Wait(ctx))
	assert.Equal(t, core.RunStatusCancelled, run.Status())

	rec = env.do(t, http.MethodDelete, "/api/v1/workflows/"+wf.ID+"/runs/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Files(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "report.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("quarterly numbers"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "report.txt", decode[core.FileResource](t, rec).Name)

	rec = env.do(t, http.MethodGet, "/api/v1/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.FileResource](t, rec), 2)

	rec = env.do(t, http.MethodDelete, "/api/v1/files/report.txt", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/v1/files/report.txt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader("plain"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_SubmitAndPrompts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/threads/default/submit", SubmitRequest{Prompt: "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	msg := decode[core.Message](t, rec)
	assert.Equal(t, core.RoleAssistant, msg.Role)
	assert.Equal(t, "OUT:hello", msg.Text)

	env.generator.WithError(errors.New("backend down"))
	rec = env.do(t, http.MethodPost, "/api/v1/threads/default/submit", SubmitRequest{Prompt: "again"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, core.CodeServiceError, decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/v1/threads/default/messages", nil)
	assert.Len(t, decode[ThreadResponse](t, rec).Messages, 2, "failed submit must not be logged")

	rec = env.do(t, http.MethodDelete, "/api/v1/threads/default/messages", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/threads/default/messages", nil)
	assert.Empty(t, decode[ThreadResponse](t, rec).Messages)

	rec = env.do(t, http.MethodPost, "/api/v1/prompts", SavePromptRequest{Text: "Summarize"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/prompts", SavePromptRequest{Text: "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/prompts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.SavedPrompt](t, rec), 1)
}

func TestServer_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/workflows", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
