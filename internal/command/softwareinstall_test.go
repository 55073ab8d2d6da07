package command

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSoftwareInstallChecksumMismatch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("installer shelling tested on POSIX only")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("package bytes"))
	}))
	defer srv.Close()

	h := NewSoftwareInstallHandler(t.TempDir())
	req := &Request{
		CommandID:   "si1",
		CommandText: srv.URL,
		Params:      rawParams(t, map[string]any{"checksum_sha256": "0000000000000000000000000000000000000000000000000000000000000000"}),
	}

	out := h.Execute(context.Background(), req, nil)
	if out.ErrorCode != "ChecksumMismatch" {
		t.Fatalf("error_code = %q, want ChecksumMismatch", out.ErrorCode)
	}

	entries, _ := os.ReadDir(h.TempDir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp package file %q was not cleaned up", e.Name())
		}
	}
}

func TestSoftwareInstallChecksumMatchRunsInstaller(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("installer shelling tested on POSIX only")
	}
	script := "#!/bin/sh\necho installed\nexit 0\n"
	sum := sha256.Sum256([]byte(script))
	want := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(script))
	}))
	defer srv.Close()

	h := NewSoftwareInstallHandler(t.TempDir())
	req := &Request{
		CommandID:   "si2",
		CommandText: srv.URL,
		Params:      rawParams(t, map[string]any{"checksum_sha256": want}),
	}

	out := h.Execute(context.Background(), req, nil)
	if out.ExitCode != 0 {
		t.Fatalf("exit code = %d, stderr=%q errmsg=%q", out.ExitCode, out.Stderr, out.ErrorMessage)
	}
	if out.Stdout != "installed\n" {
		t.Errorf("stdout = %q, want %q", out.Stdout, "installed\n")
	}
}

func TestSoftwareInstallDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewSoftwareInstallHandler(t.TempDir())
	out := h.Execute(context.Background(), &Request{CommandText: srv.URL}, nil)
	if out.ErrorCode != "DownloadFailed" {
		t.Errorf("error_code = %q, want DownloadFailed", out.ErrorCode)
	}
}

func TestSoftwareInstallMissingURL(t *testing.T) {
	h := NewSoftwareInstallHandler(t.TempDir())
	out := h.Execute(context.Background(), &Request{}, nil)
	if out.ErrorCode != "InvalidParams" {
		t.Errorf("error_code = %q, want InvalidParams", out.ErrorCode)
	}
}
