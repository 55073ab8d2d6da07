package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

const softwareUninstallDefaultTimeoutSec = 300

// uninstallEntry is one resolved uninstaller, as found by product code or
// display-name lookup in the OS software registry.
type uninstallEntry struct {
	Command      string
	QuietCommand string // empty if no silent/quiet variant is registered
}

// SoftwareRegistry looks up installed software by product code or display
// name. The real implementation is platform-specific (Windows uninstall
// registry keys, macOS receipts, package manager databases); only a
// best-effort package-manager-backed default is provided here; a Windows or
// macOS deployment supplies its own SoftwareRegistry implementation.
type SoftwareRegistry interface {
	Lookup(ctx context.Context, productCode, displayName string) (*uninstallEntry, bool)
}

// SoftwareUninstallHandler locates an uninstaller by product code or
// display-name lookup, preferring a quiet/silent variant when the registry
// reports one, and appends caller-supplied arguments.
type SoftwareUninstallHandler struct {
	Registry SoftwareRegistry
}

func NewSoftwareUninstallHandler(registry SoftwareRegistry) *SoftwareUninstallHandler {
	if registry == nil {
		registry = packageManagerRegistry{}
	}
	return &SoftwareUninstallHandler{Registry: registry}
}

func (h *SoftwareUninstallHandler) DefaultTimeout() int { return softwareUninstallDefaultTimeoutSec }
func (h *SoftwareUninstallHandler) Reentrant() bool     { return true }

func (h *SoftwareUninstallHandler) Execute(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
	productCode, _ := req.paramString("product_code")
	displayName, _ := req.paramString("display_name")
	extraArgs, _ := req.paramString("uninstall_arguments")

	var command string

	if req.CommandText != "" {
		// Direct uninstaller command supplied by the caller; skip lookup.
		command = req.CommandText
	} else {
		entry, found := h.Registry.Lookup(ctx, productCode, displayName)
		if !found {
			return Output{
				ExitCode:     1,
				ErrorMessage: fmt.Sprintf("no installed software matched product_code=%q display_name=%q", productCode, displayName),
				ErrorCode:    "NotFound",
			}
		}
		if entry.QuietCommand != "" {
			command = entry.QuietCommand
		} else {
			command = entry.Command
		}
	}

	if extraArgs != "" {
		command = command + " " + extraArgs
	}

	select {
	case <-cancel:
		return Output{ExitCode: ExitCancelled, ErrorCode: "Cancelled"}
	default:
	}

	cmd := buildShellCmd(ctx, command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		out.ExitCode = 0
		return out
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		out.ExitCode = exitErr.ExitCode()
		return out
	}
	out.ExitCode = 1
	out.ErrorMessage = err.Error()
	out.ErrorCode = "UninstallLaunchFailed"
	return out
}

// packageManagerRegistry is a best-effort SoftwareRegistry backed by the
// host package manager. It only functions on Linux hosts running dpkg or
// rpm; elsewhere Lookup always reports not-found so the handler falls back
// to an error rather than guessing.
type packageManagerRegistry struct{}

func (packageManagerRegistry) Lookup(ctx context.Context, productCode, displayName string) (*uninstallEntry, bool) {
	if runtime.GOOS != "linux" {
		return nil, false
	}

	name := productCode
	if name == "" {
		name = displayName
	}
	if name == "" {
		return nil, false
	}

	if path, err := exec.LookPath("dpkg-query"); err == nil {
		out, err := exec.CommandContext(ctx, path, "-W", "-f=${Package}\n", name).Output()
		if err == nil && strings.TrimSpace(string(out)) != "" {
			pkg := strings.TrimSpace(string(out))
			return &uninstallEntry{
				Command:      "apt-get remove -y " + pkg,
				QuietCommand: "DEBIAN_FRONTEND=noninteractive apt-get remove -y " + pkg,
			}, true
		}
	}

	if path, err := exec.LookPath("rpm"); err == nil {
		out, err := exec.CommandContext(ctx, path, "-q", name).Output()
		if err == nil && !strings.Contains(string(out), "not installed") {
			return &uninstallEntry{
				Command:      "rpm -e " + name,
				QuietCommand: "rpm -e --quiet " + name,
			}, true
		}
	}

	return nil, false
}
