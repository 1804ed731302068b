// Package cache implements the durable local store of in-flight job
// records. The cache mirrors each submitted job until a terminal state has
// been positively observed, at which point the record is deleted. It is the
// client's memory across restarts; the remote service remains the source of
// truth for job state itself.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// recordsFile is the name of the single durable key holding the serialized
// record array, stored under the data directory.
const recordsFile = "jobs.json"

// Record mirrors one submitted job on the device.
type Record struct {
	// JobID is the service-assigned job identifier.
	JobID string `json:"jobId"`

	// URL is the submitted content reference. At most one record per URL
	// exists in the cache at any time.
	URL string `json:"url"`

	// StartTime is when the job was submitted. Drives retention pruning.
	StartTime time.Time `json:"startTime"`

	// LastCheck is when the job was last successfully polled.
	LastCheck time.Time `json:"lastCheck"`

	// ItemID optionally links the job to the saved content item it was
	// created for.
	ItemID string `json:"itemId,omitempty"`
}

// Store is a file-backed record cache. All mutation goes through its
// methods; no other code touches the backing file.
//
// Store is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	path      string
	retention time.Duration
	logger    *slog.Logger
}

// NewStore creates a Store persisting under dataDir, pruning records older
// than retention on every read.
func NewStore(dataDir string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		path:      filepath.Join(dataDir, recordsFile),
		retention: retention,
		logger:    logger.With("component", "job_cache"),
	}, nil
}

// Save inserts a record, replacing any existing record with the same URL.
// Re-submitting a URL supersedes the previous job from the user's point of
// view, so the stale record must not linger.
func (s *Store) Save(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, r := range records {
		if r.URL != record.URL {
			kept = append(kept, r)
		}
	}
	kept = append(kept, record)

	return s.persist(kept)
}

// GetAll returns all records younger than the retention window. Expired
// records are pruned and the pruned set persisted as a side effect. Pruning
// is purely read-time compaction; a record is never removed because a poll
// attempt failed.
func (s *Store) GetAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-s.retention)
	fresh := records[:0]
	pruned := 0
	for _, r := range records {
		if r.StartTime.After(cutoff) {
			fresh = append(fresh, r)
		} else {
			pruned++
		}
	}

	if pruned > 0 {
		s.logger.Debug("pruned expired job records", "pruned", pruned, "kept", len(fresh))
		if err := s.persist(fresh); err != nil {
			return nil, err
		}
	}

	out := make([]Record, len(fresh))
	copy(out, fresh)
	return out, nil
}

// Remove deletes the record for jobID, if present.
func (s *Store) Remove(jobID string) error {
	return s.removeWhere(func(r Record) bool { return r.JobID == jobID })
}

// RemoveByURL deletes the record for url, if present.
func (s *Store) RemoveByURL(url string) error {
	return s.removeWhere(func(r Record) bool { return r.URL == url })
}

// Touch refreshes LastCheck on the record for jobID. Missing records are a
// no-op: the record may have been removed by a concurrent terminal
// transition.
func (s *Store) Touch(jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	changed := false
	for i := range records {
		if records[i].JobID == jobID {
			records[i].LastCheck = at
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist(records)
}

func (s *Store) removeWhere(match func(Record) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	removed := 0
	for _, r := range records {
		if match(r) {
			removed++
		} else {
			kept = append(kept, r)
		}
	}
	if removed == 0 {
		return nil
	}
	return s.persist(kept)
}

// load reads the backing file. A missing file is an empty cache.
func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read job cache: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		// A corrupted cache loses the records but must not wedge the
		// application; recovery will re-learn active jobs from the service.
		s.logger.Warn("job cache corrupted, resetting", "error", err)
		return nil, nil
	}
	return records, nil
}

// persist writes the record set atomically via a temp file rename.
func (s *Store) persist(records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode job cache: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write job cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace job cache: %w", err)
	}
	return nil
}
