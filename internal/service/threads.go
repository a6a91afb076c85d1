package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
	"github.com/hugo-lorenzo-mato/promptflow/internal/logging"
)

// DefaultThreadID is the thread used when none is given.
const DefaultThreadID = "default"

// ThreadService keeps one message log per conversation thread and writes
// every appended entry through to the thread store.
type ThreadService struct {
	store     core.ThreadStore
	generator core.Generator
	retry     *RetryPolicy
	bus       *events.EventBus
	logger    *logging.Logger

	mu   sync.Mutex
	logs map[string]*core.MessageLog
}

// ThreadServiceOption configures a ThreadService.
type ThreadServiceOption func(*ThreadService)

// WithThreadEvents publishes message events.
func WithThreadEvents(bus *events.EventBus) ThreadServiceOption {
	return func(s *ThreadService) {
		s.bus = bus
	}
}

// WithThreadLogger sets the logger.
func WithThreadLogger(l *logging.Logger) ThreadServiceOption {
	return func(s *ThreadService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithThreadRetry sets the retry policy for single prompt submissions.
func WithThreadRetry(p *RetryPolicy) ThreadServiceOption {
	return func(s *ThreadService) {
		if p != nil {
			s.retry = p
		}
	}
}

// NewThreadService creates a ThreadService.
func NewThreadService(store core.ThreadStore, gen core.Generator, opts ...ThreadServiceOption) *ThreadService {
	s := &ThreadService{
		store:     store,
		generator: gen,
		retry:     NoRetry(),
		logger:    logging.NewNop(),
		logs:      make(map[string]*core.MessageLog),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log returns the live message log of a thread, loading it on first use.
func (s *ThreadService) Log(ctx context.Context, threadID string) (*core.MessageLog, error) {
	if threadID == "" {
		threadID = DefaultThreadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.logs[threadID]; ok {
		return log, nil
	}
	existing, err := s.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	log := core.NewMessageLog(
		core.WithInitialMessages(existing),
		core.WithMessageSink(s.sink(threadID)),
	)
	s.logs[threadID] = log
	return log, nil
}

func (s *ThreadService) sink(threadID string) func(core.Message) {
	return func(msg core.Message) {
		if err := s.store.AppendMessage(context.Background(), threadID, msg); err != nil {
			s.logger.Error("persisting message", "thread_id", threadID, "error", err)
		}
		if s.bus != nil {
			s.bus.Publish(events.NewMessageAddedEvent(string(msg.WorkflowID), threadID, string(msg.Role), msg.Text))
		}
	}
}

// Messages returns a snapshot of a thread's entries.
func (s *ThreadService) Messages(ctx context.Context, threadID string) ([]core.Message, error) {
	log, err := s.Log(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return log.Entries(), nil
}

// Clear empties a thread.
func (s *ThreadService) Clear(ctx context.Context, threadID string) error {
	log, err := s.Log(ctx, threadID)
	if err != nil {
		return err
	}
	if err := s.store.ClearMessages(ctx, threadID); err != nil {
		return fmt.Errorf("clearing thread %s: %w", threadID, err)
	}
	log.Clear()
	return nil
}

// Submit sends a single prompt and records the exchange in the thread.
// Nothing is recorded when generation fails.
func (s *ThreadService) Submit(ctx context.Context, threadID, prompt string) (core.Message, error) {
	if err := validateStepText(prompt); err != nil {
		return core.Message{}, err
	}
	log, err := s.Log(ctx, threadID)
	if err != nil {
		return core.Message{}, err
	}

	var output string
	err = s.retry.Execute(ctx, func(ctx context.Context) error {
		out, err := s.generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	if err != nil {
		return core.Message{}, core.ErrExecution(core.CodeServiceError, "generation failed").WithCause(err)
	}

	_, reply := log.AppendPair("", prompt, output)
	return reply, nil
}

// SavePrompt stores a reusable prompt.
func (s *ThreadService) SavePrompt(ctx context.Context, text string) (*core.SavedPrompt, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrValidation(core.CodeEmptyPrompt, "prompt cannot be empty")
	}
	return s.store.SavePrompt(ctx, text)
}

// Prompts lists saved prompts.
func (s *ThreadService) Prompts(ctx context.Context) ([]core.SavedPrompt, error) {
	return s.store.ListPrompts(ctx)
}
