/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package staging holds local copies of files waiting to be uploaded.
//
// An Area is a private temporary directory that receives copies of incoming
// files. The upload pipeline owns the resulting Files for the duration of one
// run and calls Release when it finishes, whatever the outcome.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
)

const areaDirPrefix = "autogit-stage-"

// File is a staged local copy of one uploaded file.
type File struct {
	// Name is the slash-separated path relative to the upload root. Folder
	// uploads keep their directory structure here.
	Name string `json:"filename"`
	// Path locates the local copy.
	Path string `json:"path"`
	// Size is the number of bytes staged.
	Size int64 `json:"size"`
}

// ErrInvalidName is returned for names that are empty, absolute, or escape
// the upload root.
var ErrInvalidName = errors.New("invalid file name")

// CleanName normalises name into a slash-separated relative path.
func CleanName(name string) (string, error) {
	n := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if n == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.HasPrefix(n, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidName, name)
	}
	n = path.Clean(n)
	if n == "." || n == ".." || strings.HasPrefix(n, "../") {
		return "", fmt.Errorf("%w: %q escapes the upload root", ErrInvalidName, name)
	}
	return n, nil
}

// Area is a temporary directory that owns staged copies.
type Area struct {
	dir string

	mu  sync.Mutex
	seq int
}

// NewArea creates a staging area under parent. An empty parent uses the
// system temporary directory.
func NewArea(parent string) (*Area, error) {
	dir, err := os.MkdirTemp(parent, areaDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return &Area{dir: dir}, nil
}

// Dir returns the directory backing the area.
func (a *Area) Dir() string { return a.dir }

// Stage copies r into the area under the display name.
func (a *Area) Stage(ctx context.Context, name string, r io.Reader) (File, error) {
	clean, err := CleanName(name)
	if err != nil {
		return File{}, err
	}

	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	// The sequence prefix keeps two files with the same base name apart.
	dst := filepath.Join(a.dir, fmt.Sprintf("%06d-%s", seq, path.Base(clean)))
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return File{}, fmt.Errorf("creating staged copy of %s: %w", clean, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return File{}, fmt.Errorf("staging %s: %w", clean, err)
	}

	clog.FromContext(ctx).With("file", clean).With("bytes", n).Debug("Staged file")
	return File{Name: clean, Path: dst, Size: n}, nil
}

// StagePath copies the local file src into the area under the display name.
func (a *Area) StagePath(ctx context.Context, name, src string) (File, error) {
	f, err := os.Open(src)
	if err != nil {
		return File{}, fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()
	return a.Stage(ctx, name, f)
}

// StageDir walks root recursively and stages every regular file, named by
// its path relative to root and prefixed with the root's base name. Files are
// returned in lexical order.
func (a *Area) StageDir(ctx context.Context, root string) ([]File, error) {
	base := filepath.Base(filepath.Clean(root))

	var files []File
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		f, err := a.StagePath(ctx, path.Join(base, filepath.ToSlash(rel)), p)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		// Nothing staged so far will reach the pipeline.
		Release(ctx, files)
		return nil, fmt.Errorf("staging directory %s: %w", root, err)
	}
	return files, nil
}

// Close removes the area and anything still staged in it.
func (a *Area) Close() error {
	return os.RemoveAll(a.dir)
}

// Release removes the local copy of every file. Files that are already gone
// are skipped; other failures are logged and returned joined, after every
// file has been attempted.
func Release(ctx context.Context, files []File) error {
	log := clog.FromContext(ctx)

	var errs []error
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.With("file", f.Name).Errorf("File cleanup error: %v", err)
			errs = append(errs, fmt.Errorf("removing %s: %w", f.Path, err))
		}
	}
	return errors.Join(errs...)
}
