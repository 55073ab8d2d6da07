// Command agent is the entry point for the endpoint management agent
// binary. It wires the identity store, ignored-versions store, command
// pipeline, session manager, update orchestrator, and telemetry sampler
// together and runs them until a shutdown signal arrives.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkeep-io/sentinel-agent/internal/command"
	"github.com/arkeep-io/sentinel-agent/internal/config"
	"github.com/arkeep-io/sentinel-agent/internal/controlplane"
	"github.com/arkeep-io/sentinel-agent/internal/diagnostics"
	"github.com/arkeep-io/sentinel-agent/internal/identity"
	"github.com/arkeep-io/sentinel-agent/internal/ignoredversions"
	"github.com/arkeep-io/sentinel-agent/internal/instanceguard"
	"github.com/arkeep-io/sentinel-agent/internal/protocol"
	"github.com/arkeep-io/sentinel-agent/internal/session"
	"github.com/arkeep-io/sentinel-agent/internal/telemetry"
	"github.com/arkeep-io/sentinel-agent/internal/update"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	var debugMode bool

	root := &cobra.Command{
		Use:   "sentinel-agent",
		Short: "Endpoint management daemon",
		Long: `Sentinel Agent runs on each managed workstation. It maintains an
authenticated session with the control plane, executes remotely issued
commands, reports host telemetry, and self-updates with automatic rollback
on failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), configPath, logLevel, debugMode)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON config file (optional)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newConfigureCmd())
	root.AddCommand(newDebugCmd(&configPath, &debugMode))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sentinel-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// newDebugCmd runs the daemon in the foreground with console logging
// instead of the production encoder.
func newDebugCmd(configPath *string, debugMode *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Run in the foreground with console logging",
		RunE: func(cmd *cobra.Command, args []string) error {
			*debugMode = true
			return runDaemon(cmd.Context(), *configPath, "debug", true)
		},
	}
}

// newConfigureCmd performs first-time registration against the control
// plane, then exits.
func newConfigureCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Run first-time registration against the control plane, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML/JSON config file (optional)")
	return cmd
}

func runConfigure(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store := identity.New(cfg.DataDir, mustSecretProtector(cfg.DataDir))
	if _, _, err := store.Load(); err == nil {
		logger.Info("configure: identity already present, re-registering")
	}

	fingerprint, err := hardwareFingerprint()
	if err != nil {
		return fmt.Errorf("failed to compute hardware fingerprint: %w", err)
	}

	client := controlplane.NewClient(cfg.APIURL)
	resp, err := client.Identify(ctx, controlplane.IdentifyRequest{HardwareFingerprint: fingerprint})
	if err != nil {
		return fmt.Errorf("configure: identification failed: %w", err)
	}

	if err := store.Save(identity.Identity{AgentID: resp.AgentID}, resp.Token); err != nil {
		return fmt.Errorf("configure: failed to persist identity: %w", err)
	}

	logger.Info("configure: registration complete", zap.String("agent_id", resp.AgentID))
	return nil
}

func runDaemon(ctx context.Context, configPath, logLevelOverride string, debugMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}

	logger, err := buildLogger(cfg.LogLevel, debugMode)
	if err != nil {
		return err
	}
	defer logger.Sync()

	guard := instanceguard.NewFileLockGuard(cfg.DataDir)
	if err := guard.Acquire(); err != nil {
		logger.Error("fatal: could not acquire single-instance guard", zap.Error(err))
		_ = diagnostics.Write(cfg.DataDir, "Fatal", err, time.Now())
		return err
	}
	defer guard.Release()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	idStore := identity.New(cfg.DataDir, mustSecretProtector(cfg.DataDir))
	ident, token, err := idStore.Load()
	if err != nil {
		logger.Error("fatal: no identity found, run `sentinel-agent configure` first", zap.Error(err))
		_ = diagnostics.Write(cfg.DataDir, "Config", err, time.Now())
		return err
	}

	ignoredStore := ignoredversions.New(cfg.DataDir)
	cpClient := controlplane.NewClient(cfg.APIURL)

	// The pipeline and orchestrator need the manager as their sink, and the
	// manager dispatches inbound events to them; so the subscriber slots
	// close over variables assigned right below, before Connect ever runs.
	var pipeline *command.Pipeline
	var orchestrator *update.Orchestrator

	mgr := session.New(session.Config{
		ServerURL:   cfg.ServerURL,
		MinBackoff:  cfg.MinBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		MaxAttempts: cfg.MaxAttempts,
		TokenRefresher: &tokenRefresher{
			client: cpClient,
			store:  idStore,
			ident:  ident,
			logger: logger,
		},
	}, session.Subscriber{
		OnCommand: func(req command.Request) { pipeline.Enqueue(&req) },
		OnVersionAvailable: func(n protocol.UpdateNotification) {
			go orchestrator.HandleNotification(ctx, n)
		},
		OnAuthFailed: func(reason string) {
			logger.Error("session: authentication failed, re-registration required", zap.String("reason", reason))
		},
		OnDisconnected: func(reason string) {
			logger.Warn("session: disconnected", zap.String("reason", reason))
		},
		OnConnected: func() {
			logger.Info("session: authenticated")
		},
	}, logger)

	handlers := command.NewHandlerTable(command.HandlerTableConfig{
		DownloadTempDir: filepath.Join(cfg.DataDir, "updates", "download"),
		LogDir:          filepath.Join(cfg.DataDir, "logs"),
	})
	pipeline = command.New(command.Config{
		QueueCapacity: cfg.QueueCapacity,
		Workers:       cfg.Workers,
		GlobalTimeout: cfg.GlobalTimeout,
	}, handlers, mgr, logger)

	orchestrator = update.New(update.Config{
		DataDir:        cfg.DataDir,
		InstallDir:     cfg.InstallDir,
		UpdaterBinary:  cfg.UpdaterBinary,
		CurrentVersion: cfg.CurrentVersion,
		HTTPClient:     &http.Client{Timeout: 5 * time.Minute},
		Resolver:       cpClient,
	}, ignoredStore, mgr, cancel, logger)

	sampler := telemetry.NewSampler("")

	var wg sync.WaitGroup
	runTask := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	runTask(func() { pipeline.Run(ctx) })
	runTask(func() { runTelemetryLoop(ctx, cfg.TelemetryInterval, sampler, mgr, logger) })
	runTask(func() {
		if err := mgr.Connect(ctx, ident, token); err != nil {
			logger.Warn("session: connect loop ended", zap.Error(err))
		}
	})

	<-ctx.Done()
	mgr.Disconnect()
	wg.Wait()

	logger.Info("sentinel-agent stopped")
	return nil
}

func runTelemetryLoop(ctx context.Context, interval time.Duration, source telemetry.Source, mgr *session.Manager, logger *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sample, err := source.Sample()
			if err != nil {
				logger.Warn("telemetry: sample failed", zap.Error(err))
				continue
			}
			mgr.EmitStatus(sample.CPUPercent, sample.RAMPercent, sample.DiskPercent)
		case <-ctx.Done():
			return
		}
	}
}

func buildLogger(level string, debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func mustSecretProtector(dataDir string) identity.SecretProtector {
	keyPath := filepath.Join(dataDir, "runtime_config", "machine.key")
	key, err := loadOrCreateMachineKey(keyPath)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize machine key: %v", err))
	}
	return identity.NewMachineKeyProtector(key)
}

func loadOrCreateMachineKey(path string) ([32]byte, error) {
	var key [32]byte

	data, err := os.ReadFile(path)
	if err == nil && len(data) == 32 {
		copy(key[:], data)
		return key, nil
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return key, err
	}
	if err := os.WriteFile(path, key[:], 0600); err != nil {
		return key, err
	}
	return key, nil
}

// tokenRefresher refreshes the bearer token over HTTP when the transport
// rejects authentication with a retryable reason, and persists the fresh
// token so the next process start authenticates with it.
type tokenRefresher struct {
	client *controlplane.Client
	store  *identity.Store
	ident  identity.Identity
	logger *zap.Logger
}

func (r *tokenRefresher) RefreshToken(ctx context.Context, agentID string) (string, error) {
	token, err := r.client.RefreshToken(ctx, agentID)
	if err != nil {
		return "", err
	}
	if err := r.store.Save(r.ident, token); err != nil {
		r.logger.Warn("failed to persist refreshed token", zap.Error(err))
	}
	return token, nil
}

func hardwareFingerprint() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return hostname, nil
}
