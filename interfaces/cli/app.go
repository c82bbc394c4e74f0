// Package cli provides the command-line interface of the event storage
// server.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	eventstore "github.com/felixgeelhaar/eventstore-go"
	"github.com/felixgeelhaar/eventstore-go/application"
	"github.com/felixgeelhaar/eventstore-go/domain/config"
	infraconfig "github.com/felixgeelhaar/eventstore-go/infrastructure/config"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/observability"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Version information set at build time.
var (
	Version   = eventstore.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App represents the CLI application.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	configPath string
	envFile    string

	tracing *observability.Provider
}

// New creates a new CLI application.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "eventstore",
		Short: "Personal-data event storage server",
		Long: `eventstore stores per-user events and streams on MongoDB or SQLite,
with configurable retention of deleted events, integrity hashing and
streamed query results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadEnvFile()
		},
	}

	flags := app.root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "Path to configuration file (YAML or JSON)")
	flags.StringVar(&app.envFile, "env-file", "", "Load environment variables from a .env file")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newValidateCmd(),
		app.newServeCmd(),
		app.newIndexesCmd(),
		app.newSizeCmd(),
	)

	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the CLI application.
func (a *App) Execute(ctx context.Context) error {
	// Set up signal handling
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments (useful for testing).
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

// loadEnvFile loads the --env-file, or ./.env when present.
func (a *App) loadEnvFile() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
}

// loadConfig reads the configuration file, or the defaults when none is
// given, with EVENTSTORE_* overrides applied.
func (a *App) loadConfig(strict bool) (*config.ServerConfig, error) {
	loader := infraconfig.NewLoaderWithOptions(
		infraconfig.WithValidation(true),
		infraconfig.WithStrictEnv(strict),
	)
	if a.configPath == "" {
		return loader.LoadDefault()
	}
	return loader.LoadFile(a.configPath)
}

// open loads the configuration, sets up logging and opens the datastore.
func (a *App) open(ctx context.Context) (*config.ServerConfig, *application.Datastore, error) {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return nil, nil, err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: a.stderr,
	})

	metrics := telemetry.NewMetricsProvider(telemetry.DefaultMetricsConfig())
	if err := metrics.Error(); err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}

	a.tracing, err = newTracing(cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: %w", err)
	}

	ds, err := application.Open(ctx, cfg,
		application.WithMetrics(metrics),
		application.WithTracer(a.tracing.Tracer(observability.ScopeStorage)),
	)
	if err != nil {
		_ = a.tracing.Shutdown(ctx)
		return nil, nil, err
	}
	return cfg, ds, nil
}

// close releases the datastore and flushes pending spans.
func (a *App) close(ctx context.Context, ds *application.Datastore) {
	if err := ds.Close(ctx); err != nil {
		logging.Warn().Add(logging.ErrorField(err)).Msg("closing datastore")
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			logging.Warn().Add(logging.ErrorField(err)).Msg("flushing spans")
		}
	}
}

func newTracing(cfg config.TracingConfig) (*observability.Provider, error) {
	opts := []observability.Option{observability.WithServiceVersion(Version)}
	if cfg.Environment != "" {
		opts = append(opts, observability.WithEnvironment(cfg.Environment))
	}
	if cfg.Enabled {
		exporter := observability.ExporterType(cfg.Exporter)
		if exporter == "" {
			exporter = observability.ExporterNoop
		}
		opts = append(opts, observability.WithExporter(exporter, cfg.Endpoint))
		if cfg.SampleRate > 0 {
			opts = append(opts, observability.WithSampleRate(cfg.SampleRate))
		}
		if cfg.Insecure {
			opts = append(opts, observability.WithInsecure())
		}
	}
	return observability.New(opts...)
}

// newVersionCmd creates the version command.
func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "eventstore version %s\n", Version)
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
			fmt.Fprintf(a.stdout, "  Build date: %s\n", BuildDate)
		},
	}
}
