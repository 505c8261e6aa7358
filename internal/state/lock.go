package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	wferrors "github.com/raveheart1/specflow/internal/errors"
)

// lockPollInterval is how often lock acquisition retries while waiting.
const lockPollInterval = 50 * time.Millisecond

// fileLock is the on-disk shape of a lock file. A lock held by a dead
// process is stale and may be reclaimed.
type fileLock struct {
	// Key names the protected resource ("state" or a spec file path).
	Key string `yaml:"key"`
	// PID is the process holding the lock.
	PID int `yaml:"pid"`
	// Owner is a human-readable holder description.
	Owner string `yaml:"owner,omitempty"`
	// AcquiredAt is when the lock was taken.
	AcquiredAt time.Time `yaml:"acquired_at"`
}

// locker manages exclusive lock files under a single directory. One locker
// instance covers both the state-document lock and the per-spec-path locks.
type locker struct {
	dir     string
	timeout time.Duration
}

func newLocker(dir string, timeout time.Duration) *locker {
	return &locker{dir: dir, timeout: timeout}
}

// lockPath maps a resource key to its lock file. Keys that are paths get a
// readable stem plus a hash so distinct paths never collide.
func (l *locker) lockPath(key string) string {
	stem := strings.TrimSuffix(filepath.Base(key), filepath.Ext(key))
	if stem == "" || stem == "." {
		stem = "lock"
	}
	return filepath.Join(l.dir, fmt.Sprintf("%s-%x.lock", stem, xxhash.Sum64String(key)))
}

// acquire takes the exclusive lock for key, waiting up to the configured
// timeout. Stale locks from dead processes are reclaimed. Returns a release
// function.
func (l *locker) acquire(key string) (func(), error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, wferrors.Wrap(err, wferrors.IOError, "creating locks directory")
	}

	path := l.lockPath(key)
	deadline := time.Now().Add(l.timeout)
	var holder string

	for {
		ok, err := l.tryAcquire(path, key)
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() { os.Remove(path) }
			return release, nil
		}
		if existing := l.read(path); existing != nil {
			if isProcessRunning(existing.PID) {
				holder = fmt.Sprintf("pid %d since %s", existing.PID, existing.AcquiredAt.Format(time.RFC3339))
			} else {
				// Stale lock from a dead process: reclaim and retry now.
				os.Remove(path)
				continue
			}
		}
		if time.Now().After(deadline) {
			return nil, wferrors.StateLockTimeout(holder, int(l.timeout.Milliseconds()))
		}
		time.Sleep(lockPollInterval)
	}
}

// tryAcquire attempts a single O_EXCL creation of the lock file.
func (l *locker) tryAcquire(path, key string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, wferrors.Wrap(err, wferrors.IOError, "creating lock file")
	}
	defer f.Close()

	data, err := yaml.Marshal(&fileLock{
		Key:        key,
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
	})
	if err != nil {
		os.Remove(path)
		return false, wferrors.Wrap(err, wferrors.IOError, "marshaling lock file")
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return false, wferrors.Wrap(err, wferrors.IOError, "writing lock file")
	}
	return true, nil
}

// read loads an existing lock file; nil when absent or unreadable.
func (l *locker) read(path string) *fileLock {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lock fileLock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil
	}
	return &lock
}

// cleanStale removes every lock file whose holding process is gone. Returns
// the number removed.
func (l *locker) cleanStale() int {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		lock := l.read(path)
		if lock == nil || !isProcessRunning(lock.PID) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed
}

// isProcessRunning checks if a process with the given PID exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds. Send signal 0 to check existence.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
