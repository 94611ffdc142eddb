// Package lock provides cross-process mutual exclusion for review targets
// using lock files on a shared filesystem.
//
// Correctness rests entirely on the filesystem's atomic create-if-absent
// primitive (O_CREATE|O_EXCL); no second round-trip or application-level
// coordination is needed. This is a single-host (or shared-volume)
// mechanism, not a distributed lock service. A crashed holder's lock
// self-heals via TTL expiry, with the artifact's modification time as the
// authoritative clock.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/prflow/internal/models"
)

// DefaultTTL is the lock timeout after which an artifact is considered
// abandoned and reclaimable.
const DefaultTTL = 300 * time.Second

// Lock is the mutual-exclusion contract the orchestrator depends on.
// Tests substitute an in-memory implementation.
type Lock interface {
	// Acquire attempts a non-blocking lock on the target. It returns
	// true only if this caller now holds the lock.
	Acquire(target models.ReviewTarget, requester string) (bool, error)

	// Release removes the target's lock. Idempotent: releasing an
	// unheld or never-acquired target is not an error.
	Release(target models.ReviewTarget) error

	// Refresh extends the lock's TTL for long-running workflows.
	Refresh(target models.ReviewTarget) error
}

// Record is the parsed content of a lock artifact.
type Record struct {
	Requester  string
	AcquiredAt time.Time
}

// Info describes one lock artifact for listing.
type Info struct {
	Name string // artifact file name
	Record
	Age time.Duration
}

// FileLock implements Lock with one artifact file per target.
type FileLock struct {
	Dir string
	TTL time.Duration

	// Warnf receives a message when a stale lock is reclaimed.
	// Nil disables logging.
	Warnf func(format string, args ...any)
}

// New creates a FileLock rooted at dir, creating the directory if needed.
// A non-positive ttl falls back to DefaultTTL.
func New(dir string, ttl time.Duration) (*FileLock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileLock{Dir: dir, TTL: ttl}, nil
}

// path returns the artifact path for a target.
func (l *FileLock) path(target models.ReviewTarget) string {
	return filepath.Join(l.Dir, target.LockKey())
}

// Acquire implements Lock. A pre-existing artifact older than the TTL is
// reclaimed first; then an atomic create-if-absent decides the winner.
func (l *FileLock) Acquire(target models.ReviewTarget, requester string) (bool, error) {
	path := l.path(target)

	if fi, err := os.Stat(path); err == nil {
		if age := time.Since(fi.ModTime()); age > l.TTL {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return false, fmt.Errorf("reclaim stale lock: %w", err)
			}
			if l.Warnf != nil {
				l.Warnf("reclaimed stale lock for %s (age %s > ttl %s)", target, age.Round(time.Second), l.TTL)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Another process won the race (or still holds a fresh lock).
			return false, nil
		}
		return false, fmt.Errorf("create lock: %w", err)
	}

	content := fmt.Sprintf("%s|%d\n", requester, time.Now().Unix())
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, fmt.Errorf("write lock: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("close lock: %w", err)
	}
	return true, nil
}

// Release implements Lock.
func (l *FileLock) Release(target models.ReviewTarget) error {
	err := os.Remove(l.path(target))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Refresh implements Lock by touching the artifact's modification time,
// which is the TTL clock. Mutual exclusion is unaffected.
func (l *FileLock) Refresh(target models.ReviewTarget) error {
	now := time.Now()
	if err := os.Chtimes(l.path(target), now, now); err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	return nil
}

// Read returns the parsed record of a held lock.
func (l *FileLock) Read(target models.ReviewTarget) (*Record, error) {
	return readRecord(l.path(target))
}

// CleanupStale sweeps the lock directory, removing every artifact older
// than the TTL regardless of target. It returns the number removed.
func (l *FileLock) CleanupStale() (int, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return 0, fmt.Errorf("read lock directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(fi.ModTime()) <= l.TTL {
			continue
		}
		if err := os.Remove(filepath.Join(l.Dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// List returns every lock artifact currently present.
func (l *FileLock) List() ([]Info, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("read lock directory: %w", err)
	}

	var locks []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info := Info{Name: entry.Name(), Age: time.Since(fi.ModTime())}
		if rec, err := readRecord(filepath.Join(l.Dir, entry.Name())); err == nil {
			info.Record = *rec
		}
		locks = append(locks, info)
	}
	return locks, nil
}

// readRecord parses "requester|unix-timestamp" artifact content.
func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid lock file content: %q", string(data))
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lock timestamp: %w", err)
	}
	return &Record{Requester: parts[0], AcquiredAt: time.Unix(ts, 0)}, nil
}
