// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// FileWatcher reloads a catalog file whenever it changes on disk.
type FileWatcher struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// NewFileWatcher returns a watcher for the catalog at path. Reads go through
// fs; change notifications come from the OS, so fs should be backed by the
// real filesystem.
func NewFileWatcher(fs afero.Fs, path string, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{fs: fs, path: path, logger: logger}
}

// Watch blocks until ctx is done, calling onChange with every catalog that
// loads successfully after a change. Documents that fail to load are logged
// and skipped, so the previous catalog stays in effect.
//
// The parent directory is watched rather than the file itself because
// editors and config managers usually replace files by rename.
func (w *FileWatcher) Watch(ctx context.Context, onChange func(*MemCatalog)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(w.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cat, err := LoadFile(w.fs, w.path)
			if err != nil {
				w.logger.WarnContext(ctx, "catalog reload failed", "path", w.path, "error", err)
				continue
			}
			w.logger.InfoContext(ctx, "catalog reloaded", "path", w.path, "databases", cat.Databases())
			onChange(cat)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "catalog watcher error", "path", w.path, "error", err)
		}
	}
}
