package updater

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stagingDir returns <install_dir>.new, the sibling directory new files
// are staged into before the swap.
func (r *Runner) stagingDir() string {
	return r.cfg.InstallDir + ".new"
}

// deployNew implements the Deploy phase: stage the new files into a
// sibling temp directory, delete the old install dir, then rename the
// staged directory into place; the half-replaced window is just the
// delete+rename pair. Paths matching an exclude pattern are
// not taken from the new package; they are restored from the backup
// directory instead, so operator-owned files (config, local data) survive
// the swap untouched.
func (r *Runner) deployNew() error {
	staging := r.stagingDir()
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clear stale staging dir: %w", err)
	}

	excluded := buildExcludeMatcher(r.cfg.ExcludePatterns)

	if err := copyTree(r.cfg.SourcePath, staging, excluded); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to stage new files: %w", err)
	}

	if len(r.cfg.ExcludePatterns) > 0 {
		if err := copyTree(r.backupDir(), staging, negate(excluded)); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("failed to restore excluded paths from backup: %w", err)
		}
	}

	if err := os.RemoveAll(r.cfg.InstallDir); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to remove old install dir: %w", err)
	}
	if err := os.Rename(staging, r.cfg.InstallDir); err != nil {
		return fmt.Errorf("failed to rename staged dir into place: %w", err)
	}
	return nil
}

// buildExcludeMatcher compiles the supported exclude pattern forms: an
// exact relative path, a glob ("*.ext"), a directory prefix ("path/"), or
// a directory subtree ("path/**").
func buildExcludeMatcher(patterns []string) func(rel string) bool {
	return func(rel string) bool {
		rel = filepath.ToSlash(rel)
		for _, p := range patterns {
			if matchExcludePattern(p, rel) {
				return true
			}
		}
		return false
	}
}

func matchExcludePattern(pattern, rel string) bool {
	pattern = filepath.ToSlash(pattern)

	switch {
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	case strings.HasSuffix(pattern, "/"):
		return rel == strings.TrimSuffix(pattern, "/") || strings.HasPrefix(rel, pattern)
	case pattern == rel:
		return true
	default:
		ok, err := filepath.Match(pattern, filepath.Base(rel))
		return err == nil && ok
	}
}

func negate(f func(rel string) bool) func(rel string) bool {
	return func(rel string) bool { return !f(rel) }
}
