// Package lockfile keeps two Onebit servers from sharing one state directory.
//
// The lock is an advisory flock on a file inside the state directory. The
// kernel drops it when the holding process exits, so a crashed server never
// blocks the next start; only the stale file is left behind.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// LockFileName is the file created in the state directory.
const LockFileName = "onebit.lock"

// ErrLocked matches any *LockError via errors.Is.
var ErrLocked = errors.New("state directory is locked by another onebit server")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Owner   string
	Running bool
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if h.Running {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", h.PID, state)
	if h.Owner != "" {
		s += ", owner " + h.Owner
	}
	if !h.Started.IsZero() {
		s += ", started " + h.Started.Format(time.RFC3339)
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory when
// needed. owner is a free-form label (usually the listen address) recorded
// for whoever hits the lock next.
func Acquire(stateDir, owner string) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.Acquire: acquiring", "path", path)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		holder := ReadHolder(path)
		slog.Error("lockfile.Acquire: state directory in use", "path", path, "holder", holder.String())
		return nil, &LockError{Path: path, Holder: holder, Cause: err}
	}

	if err := writeHolder(f, owner); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	slog.Info("lockfile.Acquire: lock held", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	// Remove before unlocking so a waiting server never sees our stale record.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil
	if err := errors.Join(errs...); err != nil {
		slog.Warn("lockfile.Release: cleanup incomplete", "path", l.path, "error", err)
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	slog.Info("lockfile.Release: lock released", "path", l.path)
	return nil
}

// LockError reports a state directory already locked by another process.
type LockError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another onebit server is using this state directory (lock file %s, held by %s)", e.Path, e.Holder)
	if e.Holder.PID != 0 && !e.Holder.Running {
		fmt.Fprintf(&b, "; if no server is running, remove the lock file with: rm %s", e.Path)
	}
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

func (e *LockError) Is(target error) bool { return target == ErrLocked }

// ReadHolder parses the lock file at path. Unreadable or foreign content
// yields a zero Holder.
func ReadHolder(path string) Holder {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}
	}
	defer f.Close()
	h := parseHolder(bufio.NewScanner(f))
	if h.PID > 0 {
		h.Running = processAlive(h.PID)
	}
	return h
}

func parseHolder(sc *bufio.Scanner) Holder {
	var h Holder
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				h.Started = ts
			}
		case "owner":
			h.Owner = value
		}
	}
	return h
}

func writeHolder(f *os.File, owner string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	record := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if owner = strings.TrimSpace(owner); owner != "" {
		record += "owner=" + owner + "\n"
	}
	if _, err := f.WriteString(record); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.Acquire: sync failed", "path", f.Name(), "error", err)
	}
	return nil
}

// processAlive probes pid with signal 0. EPERM still means the process exists.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
