// restitch is the chunked-upload reassembly service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/restitch/restitch/internal/chunk"
	"github.com/restitch/restitch/internal/config"
	"github.com/restitch/restitch/internal/ingest"
	"github.com/restitch/restitch/internal/logging/loki"
	"github.com/restitch/restitch/internal/metrics"
	"github.com/restitch/restitch/internal/svc"
	"github.com/restitch/restitch/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Tracing flag
	enableTracing bool

	// Token flags
	tokenDevice string
	tokenTTL    time.Duration

	// Service mode flag (hidden, used when running as a service)
	serviceRun bool
)

func main() {
	// Check if running as a service (invoked by service manager)
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "restitch",
		Short: "Restitch - chunked upload reassembly service",
		Long: `Restitch receives chunked uploads from telemetry devices, spools the
fragments, and reassembles them into complete artifacts once every part
has arrived.

QUICK START:

  # Start the service with the default config search path:
  restitch serve

  # Start with an explicit config file:
  restitch serve --config /etc/restitch/config.yaml

  # Install as a system service (optional):
  sudo restitch service install --config /etc/restitch/config.yaml

MAINTENANCE:

  # Retire expired chunk entries without starting the server:
  restitch sweep

  # Mint an upload token for a device (requires jwt_secret in config):
  restitch token --device sensor-0042

For more help on any command, use: restitch <command> --help`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	// Hidden service mode flag (used when running as a service)
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reassembly service",
		Long: `Run the reassembly service: accept chunk uploads over HTTP, spool them,
and write reassembled artifacts to the output directory.

Examples:
  restitch serve
  restitch serve --config /etc/restitch/config.yaml --log-level debug`,
		RunE: runServe,
	}
	serveCmd.Flags().BoolVar(&enableTracing, "enable-tracing", false, "enable runtime tracing (exposes /debug/trace endpoint)")
	rootCmd.AddCommand(serveCmd)

	// Sweep command
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry pass over the chunk area",
		Long: `Relocate chunk entries older than the configured expiry window into the
dead-letter area, then exit. The running service sweeps on its own; this
command is for offline maintenance of the spool.`,
		RunE: runSweep,
	}
	rootCmd.AddCommand(sweepCmd)

	// Token command
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an upload token for a device",
		Long: `Mint a signed upload token bound to a device ID. The service rejects
chunks whose device ID does not match the token.

Requires jwt_secret to be set in the config.`,
		RunE: runToken,
	}
	tokenCmd.Flags().StringVar(&tokenDevice, "device", "", "device ID the token is bound to")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (0 = no expiry)")
	rootCmd.AddCommand(tokenCmd)

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("restitch %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// Service command - manage system service
	rootCmd.AddCommand(newServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()
	logStartupBanner()

	// Initialize tracing if enabled
	if enableTracing {
		if err := tracing.Enable(tracing.DefaultBufferSize); err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracing")
		} else {
			log.Info().Msg("runtime tracing enabled")
			defer tracing.Stop()
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Apply configured log level from config file
	if config.ApplyLogLevel(cfg.LogLevel) {
		log.Info().Str("level", cfg.LogLevel).Msg("log level configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	return runServeWithConfig(ctx, cfg)
}

// runServeWithConfig wires the spool, reassembly pipeline, and ingest
// server together and blocks until ctx is cancelled.
func runServeWithConfig(ctx context.Context, cfg *config.Config) error {
	// Initialize Loki log shipping if enabled
	if cfg.Loki.Enabled && cfg.Loki.URL != "" {
		lokiWriter := loki.NewWriter(loki.Config{
			URL:           cfg.Loki.URL,
			BatchSize:     cfg.Loki.BatchSize,
			FlushInterval: cfg.LokiFlushInterval(),
			Labels: map[string]string{
				"version": Version,
			},
		})
		lokiWriter.Start()
		defer lokiWriter.Stop()

		// Reconfigure logger to also write to Loki
		log.Logger = log.Output(zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: os.Stderr},
			lokiWriter,
		))
		log.Info().Str("url", cfg.Loki.URL).Msg("Loki log shipping enabled")
	}

	store, err := chunk.NewStore(osfs.New(cfg.Storage.DataDir))
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	output := chunk.NewOutputStore(osfs.New(cfg.Storage.OutputDir))

	assembler := chunk.NewAssembler(store)
	cleaner := chunk.NewCleaner(store, cfg.RetryDelay())
	sweeper := chunk.NewSweeper(store, cfg.MaxAge())
	processor := chunk.NewProcessor(store, assembler, output, cleaner, sweeper)

	srv := ingest.NewServer(cfg, processor)
	srv.SetVersion(Version)
	processor.OnArtifact = srv.PublishArtifact

	log.Info().
		Str("data_dir", cfg.Storage.DataDir).
		Str("output_dir", cfg.Storage.OutputDir).
		Dur("max_age", cfg.MaxAge()).
		Msg("spool opened")

	// Background expiry sweeps; without an interval stale entries are only
	// swept on the tail of each upload.
	if cfg.SweepInterval() > 0 {
		sweeper.Start(cfg.SweepInterval())
		defer sweeper.Stop()
	}

	// Start metrics collection loop
	metrics.SetBuildInfo(Version)
	collector := metrics.NewCollector(store)
	go collector.Run(ctx, 10*time.Second)

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("server shutdown")
		}
	}()

	return srv.ListenAndServe()
}

// nolint:revive // args required by cobra.Command RunE signature
func runSweep(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := chunk.NewStore(osfs.New(cfg.Storage.DataDir))
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}

	stats := chunk.NewSweeper(store, cfg.MaxAge()).Sweep()

	fmt.Printf("Scanned:   %d\n", stats.Scanned)
	fmt.Printf("Relocated: %d\n", stats.Relocated)
	fmt.Printf("Failed:    %d\n", stats.Failed)

	if stats.Failed > 0 {
		return fmt.Errorf("%d entries failed to relocate", stats.Failed)
	}
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runToken(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not set in config (token auth disabled)")
	}
	if tokenDevice == "" {
		return fmt.Errorf("device ID required\nUsage: restitch token --device <id> [--ttl 720h]")
	}

	token, err := ingest.IssueDeviceToken([]byte(cfg.JWTSecret), tokenDevice, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runAsService runs the application as a system service.
// This is called when the service manager starts the application with --service-run flag.
func runAsService() {
	// Set up logging directly to a file since launchd/kardianos-service
	// may not properly redirect stderr
	setupServiceLogging()
	logStartupBanner()

	// Parse the config path manually; cobra never runs in service mode
	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}

	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().Str("config", configPath).Msg("starting as service")

	cfg := &svc.ServiceConfig{
		Name:        svc.DefaultServiceName(),
		DisplayName: svc.DefaultDisplayName(),
		Description: svc.DefaultDescription(),
		ConfigPath:  configPath,
	}

	prg := &svc.Program{
		ConfigPath: configPath,
		RunServe:   runServeFromService,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}

// runServeFromService runs the reassembly service from within a system service.
func runServeFromService(ctx context.Context, configPath string) error {
	log.Info().Str("config_path", configPath).Msg("service runner starting")

	if configPath == "" {
		return fmt.Errorf("config file required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Apply configured log level
	if config.ApplyLogLevel(cfg.LogLevel) {
		log.Info().Str("level", cfg.LogLevel).Msg("log level configured")
	}

	log.Info().
		Str("listen", cfg.Listen).
		Str("data_dir", cfg.Storage.DataDir).
		Msg("config loaded")

	return runServeWithConfig(ctx, cfg)
}

func loadConfig() (*config.Config, error) {
	// If explicit --config flag is provided, use it
	if cfgFile != "" {
		return config.Load(cfgFile)
	}

	// Try default locations
	defaults := []string{
		svc.DefaultConfigPath(),
		"restitch.yaml",
	}

	for _, path := range defaults {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}

	// Return empty config with defaults
	return config.Default(), nil
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// logStartupBanner logs the application startup banner with version information.
func logStartupBanner() {
	banner := `
╔═════════════════════════════════════════════════════════════════╗
║                                                                 ║
║  ██████╗ ███████╗███████╗████████╗██╗████████╗ ██████╗██╗  ██╗  ║
║  ██╔══██╗██╔════╝██╔════╝╚══██╔══╝██║╚══██╔══╝██╔════╝██║  ██║  ║
║  ██████╔╝█████╗  ███████╗   ██║   ██║   ██║   ██║     ███████║  ║
║  ██╔══██╗██╔══╝  ╚════██║   ██║   ██║   ██║   ██║     ██╔══██║  ║
║  ██║  ██║███████╗███████║   ██║   ██║   ██║   ╚██████╗██║  ██║  ║
║  ╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝   ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝  ║
║                                                                 ║
║                Chunked Upload Reassembly Service                ║
║                                                                 ║
╚═════════════════════════════════════════════════════════════════╝`

	fmt.Fprintln(os.Stderr, banner)
	fmt.Fprintf(os.Stderr, "\n  Version:    %s\n", Version)
	fmt.Fprintf(os.Stderr, "  Commit:     %s\n", Commit)
	fmt.Fprintf(os.Stderr, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(os.Stderr, "  Go:         %s\n", runtime.Version())
	fmt.Fprintf(os.Stderr, "  OS/Arch:    %s/%s\n\n", runtime.GOOS, runtime.GOARCH)
}

// setupServiceLogging configures logging for service mode.
// This writes directly to a file because launchd/kardianos-service
// may not properly redirect stderr.
// Default level is Info; can be overridden by config after loading.
func setupServiceLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Try to open log file for direct writing
	logPath := "/var/log/restitch-service.log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		// Fall back to stderr if we can't open the log file
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}

	// Write to both file and stderr
	multi := io.MultiWriter(logFile, os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339})
}
