package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Holder is the record written into a lock file by the process owning it.
type Holder struct {
	PID        int       `json:"pid"`
	Database   string    `json:"database"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// HeldError reports a SQLite database already opened by another service
// instance.
type HeldError struct {
	Path   string
	Holder Holder
}

func (e *HeldError) Error() string {
	if e.Holder.PID == 0 {
		return fmt.Sprintf("database %s is in use (lock %s)", e.Holder.Database, e.Path)
	}
	return fmt.Sprintf("database %s is in use by pid %d since %s (lock %s)",
		e.Holder.Database, e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339), e.Path)
}

// Lock is an exclusive claim on a SQLite database file, held through an
// flock on "<database>.lock".
type Lock struct {
	f    *os.File
	path string
}

// Acquire claims database for this process. Only one service instance may
// write a local store; a second one gets a *HeldError.
func Acquire(database string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(database), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	path := database + ".lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		held := &HeldError{Path: path, Holder: Holder{Database: database}}
		if h, ok := readHolder(path); ok {
			held.Holder = h
		}
		return nil, held
	}

	if err := writeHolder(f, Holder{PID: os.Getpid(), Database: database, AcquiredAt: time.Now().UTC()}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("record lock holder: %w", err)
	}
	return &Lock{f: f, path: path}, nil
}

// Path is the lock file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release drops the claim. A nil or released lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.f.Close()
	l.f = nil
	return err
}

func writeHolder(f *os.File, h Holder) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err = f.WriteAt(data, 0)
	return err
}

func readHolder(path string) (Holder, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, false
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return Holder{}, false
	}
	return h, true
}
