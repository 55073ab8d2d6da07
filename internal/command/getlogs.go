package command

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const getLogsDefaultTimeoutSec = 120

// GetLogsHandler collects files from the agent's log directory, filtered
// by date range and a filename prefix, into a compressed archive written to
// a temporary location. Every candidate path is resolved and checked
// against LogDir before being read; a request cannot escape the log
// directory via "../" or an absolute path smuggled through params.
type GetLogsHandler struct {
	LogDir  string
	destDir string // where archives are written; defaults to os.TempDir()
}

func NewGetLogsHandler(logDir string) *GetLogsHandler {
	return &GetLogsHandler{LogDir: logDir}
}

func (h *GetLogsHandler) DefaultTimeout() int { return getLogsDefaultTimeoutSec }
func (h *GetLogsHandler) Reentrant() bool     { return true }

func (h *GetLogsHandler) Execute(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
	typePrefix, _ := req.paramString("type_prefix")
	fromStr, _ := req.paramString("from")
	toStr, _ := req.paramString("to")

	var from, to time.Time
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return Output{ExitCode: 1, ErrorMessage: "invalid from: " + err.Error(), ErrorCode: "InvalidParams"}
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return Output{ExitCode: 1, ErrorMessage: "invalid to: " + err.Error(), ErrorCode: "InvalidParams"}
		}
	} else {
		to = time.Now().Add(24 * time.Hour)
	}

	baseAbs, err := filepath.Abs(h.LogDir)
	if err != nil {
		return Output{ExitCode: 1, ErrorMessage: "invalid log directory: " + err.Error(), ErrorCode: "ConfigError"}
	}

	entries, err := os.ReadDir(baseAbs)
	if err != nil {
		return Output{ExitCode: 1, ErrorMessage: "failed to read log directory: " + err.Error(), ErrorCode: "IOError"}
	}

	var matched []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if typePrefix != "" && !strings.HasPrefix(e.Name(), typePrefix) {
			continue
		}

		full, err := safeJoin(baseAbs, e.Name())
		if err != nil {
			continue // refuse anything that would resolve outside baseAbs
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if !from.IsZero() && info.ModTime().Before(from) {
			continue
		}
		if info.ModTime().After(to) {
			continue
		}
		matched = append(matched, full)

		select {
		case <-cancel:
			return Output{ExitCode: ExitCancelled, ErrorCode: "Cancelled"}
		default:
		}
	}

	if len(matched) == 0 {
		return Output{ExitCode: 0, Stdout: "no log files matched the given filters", ErrorCode: "NoMatch"}
	}

	destDir := h.destDir
	if destDir == "" {
		destDir = os.TempDir()
	}
	archivePath := filepath.Join(destDir, fmt.Sprintf("logs-%s.zip", req.CommandID))

	if err := writeZipArchive(archivePath, matched); err != nil {
		return Output{ExitCode: 1, ErrorMessage: "failed to build archive: " + err.Error(), ErrorCode: "ArchiveFailed"}
	}

	return Output{ExitCode: 0, Stdout: archivePath}
}

// safeJoin joins base and name and verifies the result is still contained
// within base; refusing any name that would escape it.
func safeJoin(base, name string) (string, error) {
	joined := filepath.Join(base, name)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", name)
	}
	return joined, nil
}

func writeZipArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, path := range files {
		if err := addFileToZip(zw, path); err != nil {
			return err
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}
