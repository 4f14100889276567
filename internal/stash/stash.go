// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stash

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/nishisan-dev/stashd/internal/store"
)

type fileEntry struct {
	id         uint64
	updateTime uint64
}

// Stash is the materialized file listing of a stash row, loaded in full
// from the store at construction (original_source/src/info/stash.rs).
type Stash struct {
	files map[string]fileEntry
}

// Load fetches every file row belonging to stashID.
func Load(ctx context.Context, st store.Store, stashID uint64) (*Stash, error) {
	rows, err := st.FilesByStash(ctx, stashID)
	if err != nil {
		return nil, fmt.Errorf("loading stash %d: %w", stashID, err)
	}

	files := make(map[string]fileEntry, len(rows))
	for _, row := range rows {
		files[row.Name] = fileEntry{id: row.ID, updateTime: row.UpdateTime}
	}
	return &Stash{files: files}, nil
}

// Names lists every filename this stash knows about, regardless of whether
// the underlying blob still exists on disk — used to answer `list files`
// without touching the filesystem.
func (s *Stash) Names() []string {
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	return names
}

// UpdateTime returns the stored update_time for name, if present.
func (s *Stash) UpdateTime(name string) (uint64, bool) {
	entry, ok := s.files[name]
	if !ok {
		return 0, false
	}
	return entry.updateTime, true
}

// Open materializes the File for name against storageRoot, skipping (and
// reporting via the bool) entries whose blob is missing or not a regular
// file, mirroring original_source/src/info/file.rs's File::new.
func (s *Stash) Open(storageRoot, name string, logger *slog.Logger) (File, bool) {
	entry, ok := s.files[name]
	if !ok {
		return File{}, false
	}
	return NewFile(storageRoot, entry.id, entry.updateTime, logger)
}

// Iter walks every file in the stash, skipping entries whose blob is
// missing or not a regular file (original_source/src/info/stash.rs's
// IntoIterator implementation, rendered as a Go 1.23+ range-over-func
// iterator rather than a hand-rolled Iterator type).
func (s *Stash) Iter(storageRoot string, logger *slog.Logger) iter.Seq2[string, File] {
	return func(yield func(string, File) bool) {
		for name, entry := range s.files {
			file, ok := NewFile(storageRoot, entry.id, entry.updateTime, logger)
			if !ok {
				continue
			}
			if !yield(name, file) {
				return
			}
		}
	}
}
