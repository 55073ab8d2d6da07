package update

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/arkeep-io/sentinel-agent/internal/ignoredversions"
	"github.com/arkeep-io/sentinel-agent/internal/protocol"
	"github.com/arkeep-io/sentinel-agent/internal/updater"
	"github.com/arkeep-io/sentinel-agent/internal/version"
)

// StatusEmitter is the narrow slice of the session manager the
// Orchestrator needs: it reports progress via update.status and nothing
// else.
type StatusEmitter interface {
	EmitUpdateStatus(protocol.UpdateStatusPayload)
}

// PackageResolver exchanges a notification's opaque download_url for a
// fetchable one (the control plane may sign or redirect it). Implemented
// by controlplane.Client.
type PackageResolver interface {
	ResolvePackageURL(ctx context.Context, downloadURL string) (string, error)
}

// Config wires the Orchestrator's dependencies and static parameters.
type Config struct {
	DataDir        string
	InstallDir     string
	UpdaterBinary  string // path to the updater executable
	CurrentVersion string
	HTTPClient     *http.Client

	// Resolver, when set, translates notification URLs before download.
	Resolver PackageResolver
}

// Orchestrator drives the check, download, verify, extract, hand-off
// sequence. Triggered once per version.available notification.
type Orchestrator struct {
	cfg       Config
	ignored   *ignoredversions.Store
	emitter   StatusEmitter
	logger    *zap.Logger
	onHandoff func() // called once the Updater has been spawned; triggers agent shutdown
}

func New(cfg Config, ignored *ignoredversions.Store, emitter StatusEmitter, onHandoff func(), logger *zap.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, ignored: ignored, emitter: emitter, onHandoff: onHandoff, logger: logger.Named("update")}
}

// HandleNotification runs the full sequence for one UpdateNotification. It
// never returns an error to the caller; every failure is reported via
// StatusEmitter, and none of them terminates the agent.
func (o *Orchestrator) HandleNotification(ctx context.Context, n protocol.UpdateNotification) {
	ignored, err := o.ignored.Contains(n.Version)
	if err != nil {
		o.logger.Warn("update: failed to check ignored versions", zap.Error(err))
	}
	if ignored || !o.isNewer(n.Version) {
		o.emitter.EmitUpdateStatus(protocol.UpdateStatusPayload{Status: string(StatusSkipped), TargetVersion: n.Version})
		return
	}

	o.emitter.EmitUpdateStatus(protocol.UpdateStatusPayload{Status: string(StatusDownloading), TargetVersion: n.Version})
	downloadURL := n.DownloadURL
	if o.cfg.Resolver != nil {
		resolved, err := o.cfg.Resolver.ResolvePackageURL(ctx, n.DownloadURL)
		if err != nil {
			o.fail(n.Version, ErrDownloadFailed, err, false)
			return
		}
		downloadURL = resolved
	}
	downloadDir := filepath.Join(o.cfg.DataDir, "updates", "download")
	pkgPath, err := downloadPackage(ctx, o.cfg.HTTPClient, downloadURL, downloadDir, n.Version)
	if err != nil {
		o.fail(n.Version, ErrDownloadFailed, err, false)
		return
	}

	o.emitter.EmitUpdateStatus(protocol.UpdateStatusPayload{Status: string(StatusVerifying), TargetVersion: n.Version})
	ok, err := verifyChecksum(pkgPath, n.ChecksumSHA256)
	if err != nil {
		os.Remove(pkgPath)
		o.fail(n.Version, ErrDownloadFailed, err, false)
		return
	}
	if !ok {
		os.Remove(pkgPath)
		o.fail(n.Version, ErrChecksumMismatch, fmt.Errorf("sha256 mismatch"), true)
		return
	}

	o.emitter.EmitUpdateStatus(protocol.UpdateStatusPayload{Status: string(StatusExtracting), TargetVersion: n.Version})
	extractDir := filepath.Join(o.cfg.DataDir, "updates", "extracted", n.Version)
	if err := extractPackage(pkgPath, extractDir); err != nil {
		// A truncated or unreadable archive may be a transient transfer
		// problem; the version stays eligible for a retry.
		o.fail(n.Version, ErrExtractionFailed, err, false)
		return
	}

	o.emitter.EmitUpdateStatus(protocol.UpdateStatusPayload{Status: string(StatusStarting), TargetVersion: n.Version})

	upCfg := updater.Config{
		CurrentAgentPID:    os.Getpid(),
		OldVersion:         o.cfg.CurrentVersion,
		NewVersion:         n.Version,
		SourcePath:         extractDir,
		InstallDir:         o.cfg.InstallDir,
		DataDir:            o.cfg.DataDir,
		ServiceWaitTimeout: updater.DefaultServiceWaitTimeout,
		WatchdogPeriod:     updater.DefaultWatchdogPeriod,
	}

	o.emitter.EmitUpdateStatus(protocol.UpdateStatusPayload{Status: string(StatusHandingOff), TargetVersion: n.Version})
	if err := o.spawnUpdater(upCfg); err != nil {
		o.fail(n.Version, ErrUpdateLaunchFailed, err, false)
		return
	}

	if o.onHandoff != nil {
		o.onHandoff()
	}
}

// isNewer reports whether v should replace the running version. Equal
// versions never update; between two well-formed versions only an upgrade
// proceeds; a malformed running version (a dev build) never blocks one.
func (o *Orchestrator) isNewer(v string) bool {
	if v == o.cfg.CurrentVersion {
		return false
	}
	if c, err := version.Compare(v, o.cfg.CurrentVersion); err == nil && c <= 0 {
		return false
	}
	return true
}

func (o *Orchestrator) fail(target string, kind ErrorType, err error, addToIgnored bool) {
	o.logger.Warn("update: step failed", zap.String("version", target), zap.String("error_type", string(kind)), zap.Error(err))
	o.emitter.EmitUpdateStatus(protocol.UpdateStatusPayload{
		Status:        string(StatusFailed),
		TargetVersion: target,
		ErrorType:     string(kind),
		ErrorMessage:  err.Error(),
	})
	if addToIgnored {
		if ierr := o.ignored.Add(target); ierr != nil {
			o.logger.Warn("update: failed to record ignored version", zap.Error(ierr))
		}
	}
}

// spawnUpdater launches the updater binary as a detached process. All
// context the updater needs travels on its command line; it never trusts
// in-memory state from this process.
func (o *Orchestrator) spawnUpdater(cfg updater.Config) error {
	args := []string{
		"-pid", strconv.Itoa(cfg.CurrentAgentPID),
		"-old-version", cfg.OldVersion,
		"-new-version", cfg.NewVersion,
		"-source-path", cfg.SourcePath,
		"-install-dir", cfg.InstallDir,
		"-data-dir", cfg.DataDir,
		"-service-wait-timeout", strconv.Itoa(int(cfg.ServiceWaitTimeout.Seconds())),
		"-watchdog-period", strconv.Itoa(int(cfg.WatchdogPeriod.Seconds())),
	}

	cmd := exec.Command(o.cfg.UpdaterBinary, args...)
	detachProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("update: failed to spawn updater: %w", err)
	}
	// Deliberately do not Wait: the updater outlives this process.
	return nil
}
