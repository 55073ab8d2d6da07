package update

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// entrypointName is the binary the extracted package must contain for the
// updater hand-off to be viable.
const entrypointName = "agent"

// extractPackage unpacks a zip-format update package into destDir and
// verifies entrypointName (optionally with a platform executable suffix)
// is present somewhere in the extracted tree.
func extractPackage(pkgPath, destDir string) error {
	r, err := zip.OpenReader(pkgPath)
	if err != nil {
		return fmt.Errorf("update: failed to open package: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return fmt.Errorf("update: failed to create extraction dir: %w", err)
	}

	foundEntrypoint := false
	for _, f := range r.File {
		target, err := safeExtractPath(destDir, f.Name)
		if err != nil {
			return fmt.Errorf("update: refusing unsafe archive entry %q: %w", f.Name, err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return err
		}
		if err := extractOne(f, target); err != nil {
			return fmt.Errorf("update: failed to extract %q: %w", f.Name, err)
		}

		base := strings.TrimSuffix(filepath.Base(target), ".exe")
		if base == entrypointName {
			foundEntrypoint = true
		}
	}

	if !foundEntrypoint {
		return fmt.Errorf("update: package does not contain the expected entrypoint binary %q", entrypointName)
	}
	return nil
}

func safeExtractPath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	rel, err := filepath.Rel(destDir, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes destination directory")
	}
	return target, nil
}

func extractOne(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
