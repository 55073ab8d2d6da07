// Command updater is the external process spawned by the agent's update
// orchestrator. It receives every piece of context it needs on the
// command line; it never trusts in-memory state from the agent process
// that spawned it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/sentinel-agent/internal/ignoredversions"
	"github.com/arkeep-io/sentinel-agent/internal/updater"
)

// excludeFlags collects repeated -exclude flags into a string slice.
type excludeFlags []string

func (e *excludeFlags) String() string     { return strings.Join(*e, ",") }
func (e *excludeFlags) Set(v string) error { *e = append(*e, v); return nil }

func main() {
	var (
		pid                  int
		newVersion           string
		oldVersion           string
		sourcePath           string
		installDir           string
		dataDir              string
		serviceWaitTimeout   int
		watchdogPeriod       int
		watchdogPollInterval int
		excludes             excludeFlags
	)

	flag.IntVar(&pid, "pid", 0, "PID of the agent process to wait for")
	flag.StringVar(&newVersion, "new-version", "", "version being deployed")
	flag.StringVar(&oldVersion, "old-version", "", "version being replaced")
	flag.StringVar(&sourcePath, "source-path", "", "extracted new-version staging directory")
	flag.StringVar(&installDir, "install-dir", "", "agent install directory")
	flag.StringVar(&dataDir, "data-dir", "", "agent data directory")
	flag.IntVar(&serviceWaitTimeout, "service-wait-timeout", int(updater.DefaultServiceWaitTimeout.Seconds()), "seconds to wait for the service to stop/start")
	flag.IntVar(&watchdogPeriod, "watchdog-period", int(updater.DefaultWatchdogPeriod.Seconds()), "seconds to watch the new service for stability")
	flag.IntVar(&watchdogPollInterval, "watchdog-poll-interval", int(updater.DefaultWatchdogPollInterval.Seconds()), "seconds between service status polls during the watchdog window")
	flag.Var(&excludes, "exclude", "glob/path pattern to exclude from deploy (repeatable)")
	flag.Parse()

	logger := buildLogger(dataDir)
	defer logger.Sync()

	if pid == 0 || newVersion == "" || oldVersion == "" || sourcePath == "" || installDir == "" || dataDir == "" {
		logger.Error("updater: missing required flags")
		os.Exit(int(updater.ExitGeneralError))
	}

	cfg := updater.Config{
		CurrentAgentPID:      pid,
		OldVersion:           oldVersion,
		NewVersion:           newVersion,
		SourcePath:           sourcePath,
		InstallDir:           installDir,
		DataDir:              dataDir,
		ServiceWaitTimeout:   time.Duration(serviceWaitTimeout) * time.Second,
		WatchdogPeriod:       time.Duration(watchdogPeriod) * time.Second,
		WatchdogPollInterval: time.Duration(watchdogPollInterval) * time.Second,
		ExcludePatterns:      excludes,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ignored := ignoredversions.New(dataDir)
	service := updater.NewProcessController(pid)
	runner := updater.NewRunner(cfg, service, ignored, logger)

	code := runner.Run(ctx)
	logger.Info("updater: finished", zap.String("result", code.String()))
	os.Exit(int(code))
}

// buildLogger writes to stderr and, when the data directory is known, to
// a log file under it as well; the updater usually runs detached with no
// console to inherit.
func buildLogger(dataDir string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.OutputPaths = []string{"stderr"}
	if dataDir != "" {
		logDir := filepath.Join(dataDir, "logs")
		if err := os.MkdirAll(logDir, 0750); err == nil {
			cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(logDir, "updater.log"))
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "updater: failed to initialize logger:", err)
		os.Exit(int(updater.ExitGeneralError))
	}
	return logger
}
