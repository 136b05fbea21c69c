package file

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path, adding one when it has none.
// Hidden files such as ".env" are treated as having no extension.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	if lastDot := strings.LastIndex(filename, "."); lastDot > 0 {
		filename = filename[:lastDot]
	}
	return filepath.Join(dir, filename+ext)
}

// RemoveIfExists deletes path and reports whether something was removed.
func RemoveIfExists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
