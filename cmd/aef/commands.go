package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/aef/pkg/agent"
	"github.com/dukex/aef/pkg/browser"
	"github.com/dukex/aef/pkg/cache"
	"github.com/dukex/aef/pkg/credentials"
	"github.com/dukex/aef/pkg/engine"
	"github.com/dukex/aef/pkg/graph"
	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence/file"
)

var (
	errFileRequired = errors.New("workflow file argument is required")
	errInvalidVar   = errors.New("variables must be given as name=value")
	errRunFailed    = errors.New("execution did not complete")
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a workflow document",
		ArgsUsage: "<file>",
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errFileRequired
			}

			format, err := loader.FormatFromPath(path)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			l, err := loader.New(log.WithModule("loader"))
			if err != nil {
				return err
			}

			return printIssues(command.Root().Writer, path, l.Validate(data, format))
		},
	}
}

func printIssues(w io.Writer, path string, issues []loader.Issue) error {
	errorCount := 0

	for _, issue := range issues {
		if issue.Severity == loader.SeverityError {
			errorCount++
		}

		_, _ = fmt.Fprintf(w, "%s: %s\n", issue.Severity, issue.Error())
	}

	if errorCount > 0 {
		return fmt.Errorf("%w: %s has %d error(s)", loader.ErrInvalidWorkflow, path, errorCount)
	}

	_, _ = fmt.Fprintf(w, "%s is valid\n", path)

	return nil
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Aliases:   []string{"g"},
		Usage:     "Print the visual graph of a workflow as JSON",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Graph format (reactflow, elk)",
				Value: "reactflow",
			},
			&cli.BoolFlag{
				Name:  "flatten",
				Usage: "Lift every node to top level",
			},
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Layout direction (RIGHT, DOWN)",
				Value: string(graph.DirectionRight),
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			workflow, err := loadWorkflow(command.Args().First())
			if err != nil {
				return err
			}

			opts := graph.Options{
				Flatten:   command.Bool("flatten"),
				Direction: graph.Direction(strings.ToUpper(command.String("direction"))),
			}

			var out any

			switch command.String("format") {
			case "reactflow", "":
				out = graph.ToFlowGraph(workflow, opts)
			case "elk":
				out = graph.ToELKGraph(workflow, opts)
			default:
				return fmt.Errorf("unsupported graph format: %s", command.String("format"))
			}

			return writeJSON(command.Root().Writer, out)
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute a workflow against the browser service",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "browser-url",
				Usage:   "Base URL of the browser automation service",
				Value:   "http://localhost:3000",
				Sources: cli.EnvVars("BROWSER_SERVICE_URL"),
			},
			&cli.StringFlag{
				Name:    "session",
				Usage:   "Browser session to drive",
				Value:   "default",
				Sources: cli.EnvVars("AEF_DEFAULT_SESSION"),
			},
			&cli.StringSliceFlag{
				Name:  "var",
				Usage: "Override a workflow variable (name=value), repeatable",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory where execution state and memory are written",
				Value:   "./data",
				Sources: cli.EnvVars("AEF_DATA_DIR"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "API key for the AI fallback",
				Sources: cli.EnvVars("OPENAI_API_KEY", "OPENROUTER_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-base-url",
				Usage:   "OpenAI compatible API base URL",
				Sources: cli.EnvVars("LLM_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Model used by the AI fallback",
				Sources: cli.EnvVars("LLM_MODEL"),
			},
			&cli.StringFlag{
				Name:    "credentials-key",
				Usage:   "Master secret of the credential store in data-dir",
				Sources: cli.EnvVars("AEF_CREDENTIALS_KEY"),
			},
			&cli.BoolFlag{
				Name:  "pause-on-errors",
				Usage: "Pause at the first failing node",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			workflow, err := loadWorkflow(command.Args().First())
			if err != nil {
				return err
			}

			variables, err := parseVariables(command.StringSlice("var"))
			if err != nil {
				return err
			}

			e, err := newEngine(command)
			if err != nil {
				return err
			}

			opts := engine.ExecuteOptions{
				SessionID: command.String("session"),
				Variables: variables,
			}
			if command.IsSet("pause-on-errors") {
				pause := command.Bool("pause-on-errors")
				opts.PauseOnErrors = &pause
			}

			state, err := e.Execute(ctx, workflow, opts)
			if err != nil {
				return err
			}

			if err := writeJSON(command.Root().Writer, state); err != nil {
				return err
			}

			if state.Status != models.ExecutionStatusCompleted {
				return fmt.Errorf("%w: %s", errRunFailed, state.Status)
			}

			return nil
		},
	}
}

func newEngine(command *cli.Command) (*engine.Engine, error) {
	logger := log.WithModule("engine")
	p := file.NewPersistence(command.String("data-dir"))
	driver := browser.NewHTTPDriver(command.String("browser-url"), logger)
	selectors := agent.NewSelectorCache(cache.NewMemory(), 0)

	var client agent.ChatClient
	if key := command.String("llm-api-key"); key != "" {
		client = agent.NewOpenAIClient(key, command.String("llm-base-url"))
	}

	deps := engine.Deps{
		Persistence: p,
		Driver:      driver,
		Fallback:    agent.NewFallback(client, driver, selectors, agent.Config{Model: command.String("llm-model")}, logger),
		Selectors:   selectors,
		Logger:      logger,
	}

	if key := command.String("credentials-key"); key != "" {
		vault, err := credentials.NewVault(key)
		if err != nil {
			return nil, err
		}

		deps.Injector = credentials.NewInjector(credentials.NewStore(p.CredentialRepository(), vault), logger)
	}

	return engine.New(deps, engine.DefaultConfig()), nil
}

func loadWorkflow(path string) (*models.Workflow, error) {
	if path == "" {
		return nil, errFileRequired
	}

	l, err := loader.New(log.WithModule("loader"))
	if err != nil {
		return nil, err
	}

	return l.LoadFile(path)
}

func parseVariables(pairs []string) (map[string]any, error) {
	variables := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidVar, pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		variables[name] = value
	}

	return variables, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
