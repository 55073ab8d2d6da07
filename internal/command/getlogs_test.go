package command

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestLog(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("log contents for "+name), 0640); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func zipNames(t *testing.T, archivePath string) []string {
	t.Helper()
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestGetLogsHandlerFiltersByPrefixAndDate(t *testing.T) {
	logDir := t.TempDir()
	destDir := t.TempDir()

	old := time.Now().Add(-72 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	writeTestLog(t, logDir, "agent-2020.log", old)
	writeTestLog(t, logDir, "agent-today.log", recent)
	writeTestLog(t, logDir, "updater-today.log", recent)

	h := &GetLogsHandler{LogDir: logDir, destDir: destDir}
	req := &Request{
		CommandID: "gl1",
		Params: rawParams(t, map[string]any{
			"type_prefix": "agent-",
			"from":        recent.Add(-10 * time.Minute).Format(time.RFC3339),
		}),
	}

	out := h.Execute(context.Background(), req, nil)
	if out.ExitCode != 0 {
		t.Fatalf("exit code = %d, stderr=%q errmsg=%q", out.ExitCode, out.Stderr, out.ErrorMessage)
	}
	if out.Stdout == "" {
		t.Fatal("expected archive path in stdout")
	}

	names := zipNames(t, out.Stdout)
	if len(names) != 1 || names[0] != "agent-today.log" {
		t.Errorf("archive contains %v, want only agent-today.log", names)
	}
}

func TestGetLogsHandlerNoMatches(t *testing.T) {
	logDir := t.TempDir()
	h := &GetLogsHandler{LogDir: logDir, destDir: t.TempDir()}

	out := h.Execute(context.Background(), &Request{CommandID: "gl2"}, nil)
	if out.ErrorCode != "NoMatch" {
		t.Errorf("error_code = %q, want NoMatch", out.ErrorCode)
	}
}

func TestSafeJoinRefusesEscape(t *testing.T) {
	base := t.TempDir()
	if _, err := safeJoin(base, "../outside"); err == nil {
		t.Error("expected safeJoin to refuse a path escaping base")
	}
	if _, err := safeJoin(base, "nested/file.log"); err != nil {
		t.Errorf("safeJoin rejected a valid nested path: %v", err)
	}
}

func TestGetLogsHandlerInvalidDateParams(t *testing.T) {
	h := &GetLogsHandler{LogDir: t.TempDir(), destDir: t.TempDir()}
	req := &Request{Params: rawParams(t, map[string]any{"from": "not-a-date"})}

	out := h.Execute(context.Background(), req, nil)
	if out.ErrorCode != "InvalidParams" {
		t.Errorf("error_code = %q, want InvalidParams", out.ErrorCode)
	}
}
