package file

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FindModifiedBefore lists regular files under dir last modified before
// cutoff. A missing dir yields no files.
func FindModifiedBefore(dir string, cutoff time.Time) ([]string, error) {
	var stale []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, path)
		}
		return nil
	})

	return stale, err
}

// RemoveEmptyDirs deletes empty directories below root, deepest first.
// root itself is kept.
func RemoveEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
	return nil
}
