// Package pidfile implements the daemon control interface described by
// the system design: a PID file whose presence signals a running
// instance, and into which a foreign process may write a sentinel value
// to request graceful termination. No example in the retrieved corpus
// covers this narrow, single-file control-plane concern, so this package
// is built directly on the standard library; see the root DESIGN.md.
package pidfile

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.bryk.io/shovel/errors"
)

// QuitSentinel is the value a foreign process writes into the PID file
// to request graceful shutdown.
const QuitSentinel = "quit"

// File manages a single PID file for the lifetime of this process.
type File struct {
	path    string
	started time.Time
}

// Create writes the current process ID to `path`, failing if the file
// already exists (a prior instance may still be running).
func Create(path string) (*File, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errors.New("pid file already exists")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create pid file")
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "write pid file")
	}
	return &File{path: path, started: time.Now()}, nil
}

// QuitRequested reports whether the PID file currently holds the quit
// sentinel. Intended to be polled from the engine's stop-condition check.
func (f *File) QuitRequested() bool {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == QuitSentinel
}

// Remove deletes the PID file. Must be called during shutdown.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove pid file")
	}
	return nil
}

// Uptime reports how long this instance has held the PID file.
func (f *File) Uptime() time.Duration {
	return time.Since(f.started)
}

// Status describes the result of a status query against an existing PID
// file, per §6's "status query returns running/stopped plus uptime".
type Status struct {
	Running bool
	PID     int
	Uptime  time.Duration
}

// Query inspects the PID file at `path` without taking ownership of it.
// A missing file reports Running: false.
func Query(path string) (Status, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Status{Running: false}, nil
	}
	if err != nil {
		return Status{}, errors.Wrap(err, "stat pid file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, errors.Wrap(err, "read pid file")
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return Status{Running: true, PID: pid, Uptime: time.Since(info.ModTime())}, nil
}

// RequestQuit writes the quit sentinel into the PID file at `path`,
// signalling the owning process to terminate gracefully.
func RequestQuit(path string) error {
	if err := os.WriteFile(path, []byte(QuitSentinel), 0o644); err != nil {
		return errors.Wrap(err, "request quit")
	}
	return nil
}
