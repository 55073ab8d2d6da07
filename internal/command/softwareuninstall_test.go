package command

import (
	"context"
	"testing"
)

type fakeRegistry struct {
	entry *uninstallEntry
	found bool
}

func (f fakeRegistry) Lookup(ctx context.Context, productCode, displayName string) (*uninstallEntry, bool) {
	return f.entry, f.found
}

func TestSoftwareUninstallPrefersQuietVariant(t *testing.T) {
	h := NewSoftwareUninstallHandler(fakeRegistry{
		entry: &uninstallEntry{Command: "echo loud", QuietCommand: "echo quiet"},
		found: true,
	})

	out := h.Execute(context.Background(), &Request{CommandID: "u1"}, nil)
	if out.ExitCode != 0 {
		t.Fatalf("exit code = %d, stderr=%q", out.ExitCode, out.Stderr)
	}
	if out.Stdout != "quiet\n" {
		t.Errorf("stdout = %q, want %q", out.Stdout, "quiet\n")
	}
}

func TestSoftwareUninstallFallsBackToNonQuiet(t *testing.T) {
	h := NewSoftwareUninstallHandler(fakeRegistry{
		entry: &uninstallEntry{Command: "echo loud"},
		found: true,
	})

	out := h.Execute(context.Background(), &Request{}, nil)
	if out.Stdout != "loud\n" {
		t.Errorf("stdout = %q, want %q", out.Stdout, "loud\n")
	}
}

func TestSoftwareUninstallNotFound(t *testing.T) {
	h := NewSoftwareUninstallHandler(fakeRegistry{found: false})

	out := h.Execute(context.Background(), &Request{}, nil)
	if out.ErrorCode != "NotFound" {
		t.Errorf("error_code = %q, want NotFound", out.ErrorCode)
	}
}

func TestSoftwareUninstallDirectCommandOverridesLookup(t *testing.T) {
	h := NewSoftwareUninstallHandler(fakeRegistry{found: false})

	out := h.Execute(context.Background(), &Request{CommandText: "echo direct"}, nil)
	if out.ExitCode != 0 || out.Stdout != "direct\n" {
		t.Fatalf("got %+v, want successful direct invocation", out)
	}
}
