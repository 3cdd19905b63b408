package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/execd/internal/config"
	"github.com/fyrsmithlabs/execd/internal/events"
	"github.com/fyrsmithlabs/execd/internal/exectx"
	"github.com/fyrsmithlabs/execd/internal/ghapi"
	execdhttp "github.com/fyrsmithlabs/execd/internal/http"
	"github.com/fyrsmithlabs/execd/internal/jobs"
	"github.com/fyrsmithlabs/execd/internal/logging"
	"github.com/fyrsmithlabs/execd/internal/store"
	"github.com/fyrsmithlabs/execd/internal/telemetry"
	"github.com/fyrsmithlabs/execd/internal/workflow"
	"github.com/fyrsmithlabs/execd/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the execd daemon",
	Long: `Run the execd daemon: the job-execution engine plus its HTTP API.

Examples:
  # Serve with the default configuration
  execd serve

  # Serve with an explicit config file
  execd serve --config ./execd.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, logLevel, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	tel, err := telemetry.New(cmd.Context(), cfg.Telemetry, version, logger.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("build telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background()) //nolint:errcheck

	if configPath != "" {
		watcher, err := config.Watch(configPath, logger.Named("config"), func(next *config.Config) {
			parsed, err := zapcore.ParseLevel(next.Logging.Level)
			if err != nil {
				logger.Warn("reloaded log level is invalid", zap.String("level", next.Logging.Level))
				return
			}
			logLevel.SetLevel(parsed)
		})
		if err != nil {
			return fmt.Errorf("watch config file: %w", err)
		}
		defer watcher.Stop()
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer st.Close()

	bridge, err := exectx.NewBridge(exectx.Config{
		Workdir:      cfg.Workspace.Root,
		AgentCommand: cfg.Agent.Command,
		Logger:       logger.Named("exectx"),
	})
	if err != nil {
		return fmt.Errorf("build execution context: %w", err)
	}

	resolver, err := exectx.NewStaticResolver(cfg.Models.Available, cfg.Models.Code)
	if err != nil {
		return fmt.Errorf("build model resolver: %w", err)
	}

	sinkLogger := logger.Named("events")
	sinks := func(jobID string) (jobs.OutputSink, error) {
		return events.NewSink(context.Background(), st, jobID, sinkLogger)
	}

	gh := ghapi.NewClient()
	runner, err := jobs.NewRunner(bridge, st, resolver, gh, sinks, logger.Named("jobs"))
	if err != nil {
		return fmt.Errorf("build job runner: %w", err)
	}
	defer runner.Close()

	ws, err := workspace.NewManager(cfg.Workspace.Root, logger.Named("workspace"))
	if err != nil {
		return fmt.Errorf("build workspace manager: %w", err)
	}

	orchestrator, err := workflow.NewOrchestrator(workflow.Config{
		Store:       st,
		Runner:      runner,
		Workspaces:  ws,
		Sessions:    bridge,
		Pulls:       gh,
		Token:       cfg.GitHub.Token.Value(),
		WorktreeDir: cfg.Workspace.WorktreeDir,
		Logger:      logger.Named("workflow"),
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	server, err := execdhttp.NewServer(st, runner, orchestrator, cfg.Models, logger.Named("http"), cfg.Server)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
