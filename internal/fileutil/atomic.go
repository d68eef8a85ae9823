// Package fileutil provides atomic file writes for generated backup inputs.
package fileutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// AtomicWriteFile writes data to path using a temp file + rename in the same
// directory, so readers never observe a partial file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return AtomicWrite(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// AtomicWrite streams the content produced by fill into path atomically.
// The parent directory must exist.
func AtomicWrite(path string, perm os.FileMode, fill func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = RemoveIfExists(tmpName) }()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "setting file permissions")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "installing %s", path)
	}
	return nil
}

// ReplaceFile writes data atomically when the parent directory is writable.
// Otherwise it truncates and rewrites path in place, which only needs write
// access to the file itself.
func ReplaceFile(path string, data []byte, perm os.FileMode) error {
	err := AtomicWriteFile(path, data, perm)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return err
	}
	return WriteInPlace(path, data, perm)
}

// WriteInPlace truncates path and writes data to it, creating it with perm
// when missing.
func WriteInPlace(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", path)
	}
	return nil
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", path)
	}
	return nil
}
