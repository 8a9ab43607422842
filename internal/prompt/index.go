package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

type indexedFile struct {
	entry MemoryIndexEntry
	mtime time.Time
}

// WorkspaceIndex caches token counts for configured workspace files, keyed
// by mtime so a re-scan only re-reads files that actually changed.
type WorkspaceIndex struct {
	files  map[string]indexedFile
	logger *slog.Logger
}

// NewWorkspaceIndex builds an empty index.
func NewWorkspaceIndex(logger *slog.Logger) *WorkspaceIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceIndex{files: make(map[string]indexedFile), logger: logger}
}

// Scan indexes every configured file found under workspace, skipping ones
// that don't exist.
func (w *WorkspaceIndex) Scan(workspace string, specs []FileSpec) error {
	for _, spec := range specs {
		indexed, err := indexFile(filepath.Join(workspace, spec.Path), spec)
		if err != nil {
			return err
		}
		if indexed == nil {
			w.logger.Debug("prompt file not found", "path", spec.Path)
			continue
		}
		w.logger.Debug("indexed prompt file", "path", spec.Path, "tokens", indexed.entry.Tokens)
		w.files[spec.Path] = *indexed
	}
	return nil
}

// Refresh re-indexes files whose mtime changed since the last scan, and
// drops entries for files that were removed. Reports whether anything
// changed.
func (w *WorkspaceIndex) Refresh(workspace string, specs []FileSpec) (bool, error) {
	changed := false
	for _, spec := range specs {
		full := filepath.Join(workspace, spec.Path)
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				if _, ok := w.files[spec.Path]; ok {
					delete(w.files, spec.Path)
					changed = true
				}
				continue
			}
			return changed, fmt.Errorf("prompt: stat %s: %w", spec.Path, err)
		}

		existing, ok := w.files[spec.Path]
		if ok && existing.mtime.Equal(info.ModTime()) {
			continue
		}

		indexed, err := indexFile(full, spec)
		if err != nil {
			return changed, err
		}
		if indexed != nil {
			w.files[spec.Path] = *indexed
			changed = true
		}
	}
	return changed, nil
}

// EntriesForTrust returns index entries visible at the given trust level.
func (w *WorkspaceIndex) EntriesForTrust(trust types.TrustLevel) []MemoryIndexEntry {
	var out []MemoryIndexEntry
	for _, f := range w.files {
		if trust.AtLeast(f.entry.MinTrust) {
			out = append(out, f.entry)
		}
	}
	return out
}

func (w *WorkspaceIndex) get(path string) (indexedFile, bool) {
	f, ok := w.files[path]
	return f, ok
}

func indexFile(fullPath string, spec FileSpec) (*indexedFile, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("prompt: stat %s: %w", spec.Path, err)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", spec.Path, err)
	}

	return &indexedFile{
		entry: MemoryIndexEntry{
			Path:        spec.Path,
			Tokens:      CountTokens(string(content)),
			Description: spec.Description,
			MinTrust:    spec.MinTrust,
		},
		mtime: info.ModTime(),
	}, nil
}
