package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// downloadPackage fetches url into <downloadDir>/<version>.pkg. The write
// goes to a temp file in the same directory first, then is renamed into
// place, so a partially written package is never left under the final name.
func downloadPackage(ctx context.Context, client *http.Client, url, downloadDir, version string) (string, error) {
	if err := os.MkdirAll(downloadDir, 0750); err != nil {
		return "", fmt.Errorf("update: failed to create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("update: bad download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("update: download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("update: download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(downloadDir, version+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("update: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("update: failed writing download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("update: failed to close temp file: %w", err)
	}

	finalPath := filepath.Join(downloadDir, version+".pkg")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("update: failed to rename download into place: %w", err)
	}
	ok = true
	return finalPath, nil
}

// verifyChecksum computes the SHA-256 of path and compares it against want
// (hex-encoded).
func verifyChecksum(path, want string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("update: failed to open downloaded package: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("update: failed to hash downloaded package: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	return got == want, nil
}
