// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stash implements the Stash & File load step (C7): the materialized
// file listing of a stash and the on-disk File it addresses. The per-user
// weak cache of *Stash lives in internal/auth (User.Stash).
package stash

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// File is a materialized view over a stored blob: it exists only if the
// path resolves to a regular file at construction time, exactly as
// original_source/src/info/file.rs's File::new elides missing or
// irregular entries rather than surfacing an error.
type File struct {
	ID         uint64
	UpdateTime uint64
	Path       string
}

// NewFile stats storageRoot/<id> and returns (file, true) only if it is a
// regular file; otherwise it logs a warning and returns (zero, false), to
// be silently skipped by the caller (Stash iteration).
func NewFile(storageRoot string, id, updateTime uint64, logger *slog.Logger) (File, bool) {
	path := filepath.Join(storageRoot, strconv.FormatUint(id, 10))

	info, err := os.Stat(path)
	if err != nil {
		logger.Warn("can't access stored file", "path", path, "error", err)
		return File{}, false
	}
	if !info.Mode().IsRegular() {
		logger.Warn("stored path doesn't look like a file", "path", path)
		return File{}, false
	}

	return File{ID: id, UpdateTime: updateTime, Path: path}, true
}

// Read returns the full contents of the file.
func (f File) Read() ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading file %d: %w", f.ID, err)
	}
	return b, nil
}
