package repair

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fortio.org/log"
)

// ErrNotRegular is returned for paths that are not regular files.
var ErrNotRegular = errors.New("not a regular file")

// Result describes what RewriteFile did to one file.
type Result struct {
	Path    string
	Before  int // size in bytes before repair
	After   int // size in bytes after repair
	Changed bool
}

// CheckAccess verifies path is a regular file that can be opened for reading and writing.
// Nothing is read or written.
func CheckAccess(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("can't open %s for read/write: %w", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	return nil
}

// RewriteFile repairs path in place. The new content is written to a temp file
// in the same directory which then replaces the original, so an interrupted run
// never leaves a truncated file behind. Unchanged files are not touched.
// Symlinks are followed: the link stays and its target gets the new content.
func RewriteFile(path string) (Result, error) {
	res := Result{Path: path}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return res, fmt.Errorf("resolving %s: %w", path, err)
	}
	if target != path {
		log.LogVf("%s resolves to %s", path, target)
	}
	fi, err := os.Stat(target)
	if err != nil {
		return res, fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return res, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return res, fmt.Errorf("reading %s: %w", path, err)
	}
	res.Before = len(data)
	out, err := Buffer(data)
	if err != nil {
		return res, fmt.Errorf("repairing %s: %w", path, err)
	}
	res.After = len(out)
	if bytes.Equal(out, data) {
		log.LogVf("Content of %s already clean, not rewriting", path)
		return res, nil
	}
	if err := replaceFile(target, out, fi.Mode().Perm()); err != nil {
		return res, err
	}
	res.Changed = true
	return res, nil
}

// replaceFile atomically swaps the content of path with data.
func replaceFile(path string, data []byte, perm os.FileMode) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmpFile, err := os.CreateTemp(dir, "."+name+".fixpatch-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Errf("Failed to remove temp file %s: %v", tmpPath, rmErr)
			}
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		tmpFile.Close()
		return fmt.Errorf("setting mode on %s: %w", tmpPath, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}

	success = true
	return nil
}
