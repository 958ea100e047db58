package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// snapshotFile is the on-disk shape: the whole set plus a last-updated
// timestamp, rewritten on every mutation.
type snapshotFile struct {
	ProcessedIDs []string `json:"processed_ids"`
	LastUpdated  string   `json:"last_updated"`
}

// Snapshot is a JSON whole-set ledger. Every mutation rewrites the file
// via a temp file and atomic rename, so a crash mid-write leaves the
// previous snapshot intact.
type Snapshot struct {
	path   string
	ids    map[string]struct{}
	logger *slog.Logger
}

// OpenSnapshot loads the ledger at path. A missing file starts empty; a
// malformed one logs a warning and starts empty. It never fails.
func OpenSnapshot(path string, logger *slog.Logger) *Snapshot {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Snapshot{path: path, ids: make(map[string]struct{}), logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("ledger unreadable, starting fresh", "path", path, "error", err)
		}
		return s
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Warn("ledger malformed, starting fresh", "path", path, "error", err)
		return s
	}
	for _, id := range file.ProcessedIDs {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Snapshot) IsProcessed(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Snapshot) MarkProcessed(id string) error {
	s.ids[id] = struct{}{}
	return s.save()
}

func (s *Snapshot) Count() int { return len(s.ids) }

func (s *Snapshot) Clear() error {
	s.ids = make(map[string]struct{})
	return s.save()
}

func (s *Snapshot) Close() error { return nil }

// save writes the full set. Sorted ids keep the file diffable.
func (s *Snapshot) save() error {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.MarshalIndent(snapshotFile{
		ProcessedIDs: ids,
		LastUpdated:  time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

var _ Ledger = (*Snapshot)(nil)
