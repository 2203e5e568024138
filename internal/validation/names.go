package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateSnapshotName rejects backup names that could escape a sink's
// directory or prefix. Names come from flags and from remote listings.
func ValidateSnapshotName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("snapshot name contains null byte: %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("snapshot name cannot contain path separators: %s", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("snapshot name cannot be %q", name)
	}
	return nil
}

// ResolveInDirectory joins name onto baseDir and checks the result stays inside it.
func ResolveInDirectory(baseDir, name string) (string, error) {
	if err := ValidateSnapshotName(name); err != nil {
		return "", err
	}
	if baseDir == "" {
		return "", fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	resolved := filepath.Join(base, name)

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s (base: %s)", name, baseDir)
	}
	return resolved, nil
}
