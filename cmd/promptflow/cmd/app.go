package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hugo-lorenzo-mato/promptflow/internal/adapters/chat"
	"github.com/hugo-lorenzo-mato/promptflow/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/promptflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/promptflow/internal/attachments"
	"github.com/hugo-lorenzo-mato/promptflow/internal/config"
	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
	"github.com/hugo-lorenzo-mato/promptflow/internal/logging"
	"github.com/hugo-lorenzo-mato/promptflow/internal/metrics"
	"github.com/hugo-lorenzo-mato/promptflow/internal/service"
)

// app holds the wired components shared by commands.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	bus     *events.EventBus
	metrics *metrics.Recorder

	store       core.WorkflowStore
	files       *attachments.Store
	threadStore core.ThreadStore
	generator   core.Generator

	workflows *service.WorkflowService
	threads   *service.ThreadService
	executor  *service.Executor
}

// appOptions selects which parts a command needs.
type appOptions struct {
	generator bool // generation backend, threads and executor
}

// openApp loads configuration and wires the components. The caller must
// call close.
func openApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if opts.generator {
		if err := config.ValidateConfig(cfg); err != nil {
			return nil, err
		}
	}

	logger, err := logging.Open(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	a = &app{
		cfg:     cfg,
		logger:  logger,
		bus:     events.New(256),
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.store, err = state.NewWorkflowStore(ctx, state.Options{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		URL:     cfg.Store.URL,
		Prefix:  cfg.Store.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("opening workflow store: %w", err)
	}

	a.files = attachments.NewStore(cfg.Files.Dir, attachments.WithMaxSize(int64(cfg.Files.MaxSizeMB)<<20))
	if err := a.files.EnsureBaseDir(); err != nil {
		return nil, fmt.Errorf("creating files directory: %w", err)
	}

	a.workflows = service.NewWorkflowService(a.store, a.files,
		service.WithWorkflowEvents(a.bus),
		service.WithWorkflowLogger(logger),
	)

	if !opts.generator {
		return a, nil
	}

	a.generator, err = llm.NewRegistry().New(llm.Config{
		Provider:     cfg.Generator.Provider,
		Model:        cfg.Generator.Model,
		APIKey:       cfg.Generator.APIKey,
		BaseURL:      cfg.Generator.BaseURL,
		SystemPrompt: cfg.Generator.SystemPrompt,
		MaxTokens:    cfg.Generator.MaxTokens,
		Temperature:  float32(cfg.Generator.Temperature),
		Timeout:      config.Duration(cfg.Generator.Timeout),
	})
	if err != nil {
		return nil, err
	}

	a.threadStore, err = chat.NewThreadStore(cfg.Chat.Path)
	if err != nil {
		return nil, fmt.Errorf("opening chat store: %w", err)
	}

	retry := service.NoRetry()
	if cfg.Generator.MaxRetries > 0 {
		retry = service.NewRetryPolicy(service.WithMaxAttempts(cfg.Generator.MaxRetries + 1))
	}

	a.threads = service.NewThreadService(a.threadStore, a.generator,
		service.WithThreadEvents(a.bus),
		service.WithThreadLogger(logger),
		service.WithThreadRetry(retry),
	)

	execOpts := []service.ExecutorOption{
		service.WithEventBus(a.bus),
		service.WithMetrics(a.metrics),
		service.WithExecutorLogger(logger),
		service.WithRetryPolicy(retry),
		service.WithStepTimeout(config.Duration(cfg.Executor.StepTimeout)),
		service.WithStopOnError(cfg.Executor.StopOnError),
	}
	if cfg.Generator.RateLimit > 0 {
		execOpts = append(execOpts, service.WithRateLimiter(service.NewRateLimiter(service.RateLimiterConfig{
			MaxTokens:  float64(cfg.Generator.Burst),
			RefillRate: cfg.Generator.RateLimit,
		})))
	}
	a.executor = service.NewExecutor(a.generator, a.files, execOpts...)

	return a, nil
}

func (a *app) close() {
	var errs []error
	if a.executor != nil {
		_ = a.executor.CancelAll(context.Background())
	}
	if a.threadStore != nil {
		errs = append(errs, chat.CloseThreadStore(a.threadStore))
	}
	if a.store != nil {
		errs = append(errs, state.CloseWorkflowStore(a.store))
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing stores", "error", err)
	}
	_ = a.logger.Close()
}
