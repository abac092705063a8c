// Package main provides the AEF API server implementation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/aef/pkg/agent"
	"github.com/dukex/aef/pkg/browser"
	"github.com/dukex/aef/pkg/cache"
	"github.com/dukex/aef/pkg/credentials"
	"github.com/dukex/aef/pkg/engine"
	"github.com/dukex/aef/pkg/eventbus"
	"github.com/dukex/aef/pkg/events"
	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/persistence"
	"github.com/dukex/aef/pkg/scheduler"
	"github.com/dukex/aef/pkg/services"
	"github.com/dukex/aef/pkg/web"
)

const (
	workflowCacheTTL = 5 * time.Minute
	selectorCacheTTL = 7 * 24 * time.Hour
)

// Options holds the server settings that are not infrastructure handles.
type Options struct {
	BrowserURL      string
	LLMAPIKey       string
	LLMBaseURL      string
	LLMModel        string
	CredentialsKey  string
	WorkflowsDir    string
	MaxRetries      int
	DefaultSession  string
	EnableScheduler bool
}

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	options     Options
	validate    *validator.Validate

	engine     *engine.Engine
	workflows  *services.Workflow
	executions *services.Execution
	memory     *services.Memory
	creds      *services.Credential
	scheduler  *scheduler.Scheduler
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	store cache.Store,
	tracer trace.Tracer,
	options Options,
) (*API, error) {
	l, err := loader.New(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow loader: %w", err)
	}

	var files *loader.ServerWorkflowLoader
	if options.WorkflowsDir != "" {
		files = loader.NewServerWorkflowLoader(options.WorkflowsDir, l, store, workflowCacheTTL, logger)
	}

	var (
		credStore *credentials.Store
		injector  engine.Injector
	)

	if options.CredentialsKey != "" {
		vault, err := credentials.NewVault(options.CredentialsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential vault: %w", err)
		}

		credStore = credentials.NewStore(persistence.CredentialRepository(), vault)
		injector = credentials.NewInjector(credStore, logger)
	} else {
		logger.Warn("No credentials key configured, credential storage is disabled")
	}

	driver := browser.NewHTTPDriver(options.BrowserURL, logger)
	selectors := agent.NewSelectorCache(store, selectorCacheTTL)

	var client agent.ChatClient
	if options.LLMAPIKey != "" {
		client = agent.NewOpenAIClient(options.LLMAPIKey, options.LLMBaseURL)
	} else {
		logger.Warn("No LLM API key configured, AI fallback only performs deterministic retries")
	}

	fallback := agent.NewFallback(client, driver, selectors, agent.Config{Model: options.LLMModel}, logger)

	config := engine.DefaultConfig()
	config.MaxRetries = options.MaxRetries

	e := engine.New(engine.Deps{
		Persistence: persistence,
		Driver:      driver,
		Fallback:    fallback,
		Injector:    injector,
		Selectors:   selectors,
		EventBus:    eventBus,
		Tracer:      tracer,
		Logger:      logger,
	}, config)

	workflows := services.NewWorkflow(persistence, l, files, logger)

	api := &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		options:     options,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		engine:      e,
		workflows:   workflows,
		executions:  services.NewExecution(persistence, e, workflows, options.DefaultSession, logger),
		memory:      services.NewMemory(persistence),
		creds:       services.NewCredential(credStore, logger),
	}

	if options.EnableScheduler {
		api.scheduler = scheduler.New(persistence.WorkflowRepository(), e, options.DefaultSession, logger)
	}

	return api, nil
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflows, a.executions, a.memory, a.creds, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("AEF API")
	})

	handlers.Register(app)

	return app
}

// Prepare imports the workflows directory, subscribes to execution events
// and starts the scheduler when enabled.
func (a *API) Prepare(ctx context.Context) error {
	if a.options.WorkflowsDir != "" {
		n, err := a.workflows.ImportDirectory(ctx)
		if err != nil {
			return fmt.Errorf("failed to import workflows: %w", err)
		}

		a.logger.InfoContext(ctx, "Imported workflows", "dir", a.options.WorkflowsDir, "count", n)
	}

	if err := a.subscribe(ctx); err != nil {
		return err
	}

	if a.scheduler != nil {
		n, err := a.scheduler.Sync(ctx)
		if err != nil {
			return fmt.Errorf("failed to sync schedules: %w", err)
		}

		a.scheduler.Start()
		a.logger.InfoContext(ctx, "Scheduler started", "schedules", n)
	}

	return nil
}

func (a *API) subscribe(ctx context.Context) error {
	for _, eventType := range []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionPausedEvent,
		events.ExecutionCancelledEvent,
		events.NodeStartedEvent,
		events.NodeCompletedEvent,
		events.NodeFailedEvent,
	} {
		if err := a.eventBus.Handle(eventType, a.logEvent(eventType)); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	if err := a.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	return nil
}

func (a *API) logEvent(eventType events.EventType) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		attrs := []any{"event_type", eventType}
		if base, ok := baseEventOf(event); ok {
			attrs = append(attrs, "workflow_id", base.WorkflowID, "execution_id", base.ExecutionID)
		}

		a.logger.InfoContext(ctx, "Execution event", attrs...)

		return nil
	}
}

func baseEventOf(event any) (events.BaseEvent, bool) {
	switch e := event.(type) {
	case *events.ExecutionStarted:
		return e.BaseEvent, true
	case *events.ExecutionCompleted:
		return e.BaseEvent, true
	case *events.ExecutionFailed:
		return e.BaseEvent, true
	case *events.ExecutionPaused:
		return e.BaseEvent, true
	case *events.ExecutionCancelled:
		return e.BaseEvent, true
	case *events.NodeStarted:
		return e.BaseEvent, true
	case *events.NodeCompleted:
		return e.BaseEvent, true
	case *events.NodeFailed:
		return e.BaseEvent, true
	default:
		return events.BaseEvent{}, false
	}
}

// Start serves until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	err := app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{
		GracefulContext: ctx,
	})

	return err
}

// Shutdown stops scheduled runs and cancels in-flight executions.
func (a *API) Shutdown(ctx context.Context) {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
		}
	}

	for _, id := range a.engine.Running() {
		if err := a.engine.Cancel(id); err != nil {
			a.logger.WarnContext(ctx, "Failed to cancel execution", "execution_id", id, "error", err)
		}
	}
}
