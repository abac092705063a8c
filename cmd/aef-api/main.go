package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/aef/pkg/cmd"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/otelhelper"
)

const defaultPort = 9091

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		panic(err)
	}

	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "aef-api",
		Usage:                 "Execute and manage browser automation workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file:// directory or postgres://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the workflow and selector caches, in-memory when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "browser-url",
				Usage:   "Base URL of the browser automation service",
				Value:   "http://localhost:3000",
				Sources: cli.EnvVars("BROWSER_SERVICE_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "API key for the AI fallback",
				Sources: cli.EnvVars("OPENAI_API_KEY", "OPENROUTER_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-base-url",
				Usage:   "OpenAI compatible API base URL (e.g. https://openrouter.ai/api/v1)",
				Sources: cli.EnvVars("LLM_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Model used by the AI fallback",
				Sources: cli.EnvVars("LLM_MODEL"),
			},
			&cli.StringFlag{
				Name:    "credentials-key",
				Usage:   "Master secret used to encrypt stored credentials",
				Sources: cli.EnvVars("AEF_CREDENTIALS_KEY"),
			},
			&cli.StringFlag{
				Name:    "workflows-dir",
				Usage:   "Directory of workflow documents served and imported on start",
				Sources: cli.EnvVars("WORKFLOWS_DIR"),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Default hybrid retries per action",
				Value:   2,
				Sources: cli.EnvVars("AEF_MAX_RETRIES"),
			},
			&cli.BoolFlag{
				Name:    "enable-scheduler",
				Usage:   "Run workflows that declare meta.schedule",
				Sources: cli.EnvVars("AEF_ENABLE_SCHEDULER"),
			},
			&cli.StringFlag{
				Name:    "default-session",
				Usage:   "Browser session used when a request names none",
				Value:   "default",
				Sources: cli.EnvVars("AEF_DEFAULT_SESSION"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("AEF_OTEL_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger.InfoContext(ctx, "Initializing AEF API")

			var tracer trace.Tracer

			if command.Bool("otel") {
				t, shutdown, err := otelhelper.NewTracer(ctx, "aef-api")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
					}
				}()

				tracer = t
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store, err := cmd.NewCache(ctx, logger, command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close cache", "error", err)
				}
			}()

			api, err := NewAPI(logger, persistence, eventBus, store, tracer, Options{
				BrowserURL:      command.String("browser-url"),
				LLMAPIKey:       command.String("llm-api-key"),
				LLMBaseURL:      command.String("llm-base-url"),
				LLMModel:        command.String("llm-model"),
				CredentialsKey:  command.String("credentials-key"),
				WorkflowsDir:    command.String("workflows-dir"),
				MaxRetries:      command.Int("max-retries"),
				DefaultSession:  command.String("default-session"),
				EnableScheduler: command.Bool("enable-scheduler"),
			})
			if err != nil {
				return err
			}

			if err := api.Prepare(ctx); err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				api.Shutdown(shutdownCtx)
			}()

			err = api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
