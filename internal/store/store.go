// Package store persists the cached snapshot and refresh metadata on disk.
// All operations are best-effort: a broken cache must never take the
// process down, it only degrades the session to in-memory operation.
package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"daycal/internal/model"

	appLog "daycal/internal/log"
)

const (
	snapshotFile = "snapshot.json"
	metaFile     = "meta.json"
)

// meta holds refresh metadata. The timestamp key matches the settings key
// used by earlier versions of the cache.
type meta struct {
	LastHolidayFetch *time.Time `json:"LastHolidayFetch,omitempty"`
}

// Store is a file-backed cache for the snapshot and the last-fetch
// timestamp. The timestamp is mirrored in memory so due-ness stays correct
// within the session even when the disk is unwritable.
type Store struct {
	dir string

	mu        sync.Mutex
	lastFetch *time.Time
	metaRead  bool
}

// New creates a store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads the persisted snapshot. A missing or unreadable file is
// treated as "no cache": it returns an empty snapshot and no error.
// Only a genuinely corrupt-but-present file is reported, and still with a
// usable empty snapshot.
func (s *Store) Load() (model.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Snapshot{}, nil
		}
		return model.Snapshot{}, err
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt cache content behaves like no cache.
		return model.Snapshot{}, err
	}
	if snap == nil {
		snap = model.Snapshot{}
	}
	for cat := range snap {
		model.SortEvents(snap[cat])
	}
	return snap, nil
}

// Save persists the snapshot atomically (temp file + rename).
func (s *Store) Save(snap model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(snapshotFile, data)
}

// Delete removes the persisted snapshot. Missing files are fine.
func (s *Store) Delete() error {
	err := os.Remove(filepath.Join(s.dir, snapshotFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LastFetch returns the last successful fetch time, and whether one is
// known. Absent means "never fetched".
func (s *Store) LastFetch() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.metaRead {
		s.loadMetaLocked()
	}
	if s.lastFetch == nil {
		return time.Time{}, false
	}
	return *s.lastFetch, true
}

// SetLastFetch records the last successful fetch time, in memory and
// best-effort on disk.
func (s *Store) SetLastFetch(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metaRead = true
	tt := t
	s.lastFetch = &tt
	return s.saveMetaLocked()
}

// ClearLastFetch forgets the last fetch time, in memory and on disk.
func (s *Store) ClearLastFetch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metaRead = true
	s.lastFetch = nil
	err := os.Remove(filepath.Join(s.dir, metaFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) loadMetaLocked() {
	s.metaRead = true

	data, err := os.ReadFile(filepath.Join(s.dir, metaFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Error("cache meta read failed", err, "dir", s.dir)
		}
		return
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		appLog.Error("cache meta corrupt, ignoring", err, "dir", s.dir)
		return
	}
	s.lastFetch = m.LastHolidayFetch
}

func (s *Store) saveMetaLocked() error {
	data, err := json.MarshalIndent(meta{LastHolidayFetch: s.lastFetch}, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(metaFile, data)
}

// writeFile writes atomically: temp file in the cache dir, then rename.
func (s *Store) writeFile(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.dir, name))
}
