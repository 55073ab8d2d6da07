// Package updater implements the external updater process: an
// independently-run binary that waits for the agent to stop, backs up the
// current install, deploys the new one, starts it, watches it for
// stability, and rolls back on failure.
//
// Config is shared by both sides of the handoff: the agent-side
// orchestrator builds one and serializes it onto the updater's command
// line, and the updater binary parses it back out of its own flags in
// cmd/updater. Neither process trusts in-memory state from the other.
package updater

import "time"

// Config carries everything the updater needs for one run.
type Config struct {
	CurrentAgentPID    int
	OldVersion         string
	NewVersion         string
	SourcePath         string // <data_dir>/updates/extracted/<new_version>
	InstallDir         string
	DataDir            string
	ServiceWaitTimeout time.Duration
	WatchdogPeriod     time.Duration
	// WatchdogPollInterval is how often the Watching phase polls the
	// service during WatchdogPeriod. Zero means DefaultWatchdogPollInterval.
	WatchdogPollInterval time.Duration
	ExcludePatterns      []string
}

// Defaults used when the corresponding optional CLI flags are not
// supplied.
const (
	DefaultServiceWaitTimeout   = 60 * time.Second
	DefaultWatchdogPeriod       = 120 * time.Second
	DefaultWatchdogPollInterval = 10 * time.Second
)
