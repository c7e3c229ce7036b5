package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to a temp file next to path and renames it into
// place. On any failure the previous content of path is left untouched.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomicCheck(path, data, perm, nil)
}

// WriteAtomicCheck is WriteAtomic with a hook that may reject the temp file
// (for example `xray -test`) before it replaces path.
func WriteAtomicCheck(path string, data []byte, perm os.FileMode, check func(tmp string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if check != nil {
		if err := check(tmpName); err != nil {
			cleanup()
			return fmt.Errorf("validate %s: %w", path, err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
