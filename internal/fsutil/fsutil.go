package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marks in-flight files written by WriteAtomic.
const TempPrefix = ".optsync-tmp-"

// CanonicalPath returns an absolute, cleaned path with symlinks resolved for
// the part of the path that exists. Every process that opens the same file
// must derive the same string, since it keys both the lock and the topic.
func CanonicalPath(pathValue string) (string, error) {
	if strings.TrimSpace(pathValue) == "" {
		return "", errors.New("path is required")
	}
	abs, err := filepath.Abs(pathValue)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	dir, base := filepath.Split(abs)
	if dir == abs || base == "" {
		return abs, nil
	}
	parent, err := CanonicalPath(strings.TrimSuffix(dir, string(os.PathSeparator)))
	if err != nil {
		return abs, nil
	}
	return filepath.Join(parent, base), nil
}

// WriteAtomic replaces path with data through a temp file in the same
// directory, so readers see either the old or the new contents.
func WriteAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	temp, err := os.CreateTemp(dir, TempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := temp.Name()
	cleanup := func() {
		_ = os.Remove(tempPath)
	}

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadFileOrEmpty returns nil contents when the file does not exist.
func ReadFileOrEmpty(path string) ([]byte, bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

// IsTempFile reports whether name was produced by WriteAtomic.
func IsTempFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}
