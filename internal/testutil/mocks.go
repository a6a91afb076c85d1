package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// MockGenerator implements core.Generator for testing. By default it
// answers "OUT:" + request.
type MockGenerator struct {
	name         string
	generateFunc func(context.Context, string) (string, error)
	calls        []MockCall
	mu           sync.Mutex
}

// MockCall records a call to the mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// NewMockGenerator creates a new mock generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		name:  "mock",
		calls: make([]MockCall, 0),
	}
}

// Name returns the mock name.
func (m *MockGenerator) Name() string {
	return m.name
}

// Generate records the request and returns the configured response.
func (m *MockGenerator) Generate(ctx context.Context, request string) (string, error) {
	m.recordCall("Generate", request)
	m.mu.Lock()
	fn := m.generateFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, request)
	}
	return "OUT:" + request, nil
}

// WithFunc sets a custom generate function.
func (m *MockGenerator) WithFunc(fn func(context.Context, string) (string, error)) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = fn
	return m
}

// WithError configures the mock to fail every call.
func (m *MockGenerator) WithError(err error) *MockGenerator {
	return m.WithFunc(func(context.Context, string) (string, error) {
		return "", err
	})
}

// WithResponse configures a fixed response.
func (m *MockGenerator) WithResponse(output string) *MockGenerator {
	return m.WithFunc(func(context.Context, string) (string, error) {
		return output, nil
	})
}

// Requests returns every request received, in order.
func (m *MockGenerator) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		if s, ok := c.Args.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockGenerator) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// MockWorkflowStore is an in-memory core.WorkflowStore.
type MockWorkflowStore struct {
	records  map[core.WorkflowID]*core.WorkflowRecord
	updated  map[core.WorkflowID]time.Time
	saveFunc func(*core.WorkflowRecord) error
	mu       sync.Mutex
}

// NewMockWorkflowStore creates an empty store.
func NewMockWorkflowStore() *MockWorkflowStore {
	return &MockWorkflowStore{
		records: make(map[core.WorkflowID]*core.WorkflowRecord),
		updated: make(map[core.WorkflowID]time.Time),
	}
}

// Save stores a deep copy of rec.
func (m *MockWorkflowStore) Save(ctx context.Context, rec *core.WorkflowRecord) (core.WorkflowID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveFunc != nil {
		if err := m.saveFunc(rec); err != nil {
			return "", err
		}
	}
	cp := copyRecord(rec)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	id := core.WorkflowID(cp.ID)
	m.records[id] = cp
	m.updated[id] = time.Now()
	return id, nil
}

// Load returns a copy of a stored record.
func (m *MockWorkflowStore) Load(ctx context.Context, id core.WorkflowID) (*core.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	return copyRecord(rec), nil
}

// List returns summaries ordered by id.
func (m *MockWorkflowStore) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.WorkflowSummary, 0, len(m.records))
	for id, rec := range m.records {
		out = append(out, rec.Summarize(m.updated[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes a record.
func (m *MockWorkflowStore) Delete(ctx context.Context, id core.WorkflowID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return core.ErrNotFound("workflow", string(id))
	}
	delete(m.records, id)
	delete(m.updated, id)
	return nil
}

// WithSaveError configures Save to fail.
func (m *MockWorkflowStore) WithSaveError(err error) *MockWorkflowStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveFunc = func(*core.WorkflowRecord) error { return err }
	return m
}

func copyRecord(rec *core.WorkflowRecord) *core.WorkflowRecord {
	cp := *rec
	cp.Steps = make([]core.StepRecord, len(rec.Steps))
	for i, s := range rec.Steps {
		s.Inputs = append([]core.Reference(nil), s.Inputs...)
		cp.Steps[i] = s
	}
	return &cp
}

// MockThreadStore is an in-memory core.ThreadStore.
type MockThreadStore struct {
	messages map[string][]core.Message
	prompts  []core.SavedPrompt
	mu       sync.Mutex
}

// NewMockThreadStore creates an empty store.
func NewMockThreadStore() *MockThreadStore {
	return &MockThreadStore{messages: make(map[string][]core.Message)}
}

// AppendMessage stores msg at the end of a thread.
func (m *MockThreadStore) AppendMessage(ctx context.Context, threadID string, msg core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[threadID] = append(m.messages[threadID], msg)
	return nil
}

// ListMessages returns a thread's messages.
func (m *MockThreadStore) ListMessages(ctx context.Context, threadID string) ([]core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Message(nil), m.messages[threadID]...), nil
}

// ClearMessages empties a thread.
func (m *MockThreadStore) ClearMessages(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, threadID)
	return nil
}

// SavePrompt stores a prompt.
func (m *MockThreadStore) SavePrompt(ctx context.Context, text string) (*core.SavedPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := core.SavedPrompt{ID: uuid.NewString(), Text: text, CreatedAt: time.Now()}
	m.prompts = append(m.prompts, p)
	return &p, nil
}

// ListPrompts returns saved prompts in insertion order.
func (m *MockThreadStore) ListPrompts(ctx context.Context) ([]core.SavedPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.SavedPrompt(nil), m.prompts...), nil
}

// MockFileStore is an in-memory core.FileStore whose content is the raw
// uploaded bytes.
type MockFileStore struct {
	files map[string][]byte
	mu    sync.Mutex
}

// NewMockFileStore creates a store holding name/content pairs.
func NewMockFileStore(kv ...string) *MockFileStore {
	m := &MockFileStore{files: make(map[string][]byte)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.files[kv[i]] = []byte(kv[i+1])
	}
	return m
}

// List returns files ordered by name.
func (m *MockFileStore) List(ctx context.Context) ([]core.FileResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.FileResource, 0, len(m.files))
	for name, data := range m.files {
		out = append(out, core.FileResource{Name: name, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Upload stores a file, rejecting duplicates.
func (m *MockFileStore) Upload(ctx context.Context, name string, r io.Reader) (*core.FileResource, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		return nil, core.ErrConflict(core.CodeFileExists, "file already exists: "+name)
	}
	m.files[name] = buf.Bytes()
	return &core.FileResource{Name: name, Size: int64(buf.Len()), UploadedAt: time.Now()}, nil
}

// Delete removes a file.
func (m *MockFileStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return core.ErrNotFound("file", name)
	}
	delete(m.files, name)
	return nil
}

// ReadContent returns a file's content.
func (m *MockFileStore) ReadContent(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return "", core.ErrNotFound("file", name)
	}
	return string(data), nil
}

// Ensure interfaces are implemented
var _ core.Generator = (*MockGenerator)(nil)
var _ core.WorkflowStore = (*MockWorkflowStore)(nil)
var _ core.ThreadStore = (*MockThreadStore)(nil)
var _ core.FileStore = (*MockFileStore)(nil)
