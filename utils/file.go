package utils

import (
	"fmt"
	"os"
)

// EnsureDirs creates all directories with 0o750 permissions.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ValidFile returns true if path is a regular file with size > 0.
func ValidFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// DirHasEntries reports whether dir contains any entry whose name is not in
// skip. A missing directory counts as empty.
func DirHasEntries(dir string, skip map[string]struct{}) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if _, ok := skip[e.Name()]; ok {
			continue
		}
		return true, nil
	}
	return false, nil
}
