// Package pathwatch implements the client-side file-path watcher used to
// wait for the server socket file to appear and to detect its deletion
// (spec §4.8): an inotify watch that climbs upward through missing parent
// directories until it finds one that exists.
package pathwatch

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// EventType is what happened to the watched path.
type EventType int

const (
	Created EventType = iota
	Deleted
)

// Event is delivered by Dispatch when the watched basename is created or
// deleted in its (possibly ancestor) watched directory.
type Event struct {
	Type EventType
	Name string
}

const watchMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_DELETE | unix.IN_MOVED_FROM

// Watcher climbs a target path upward until it finds an existing ancestor
// directory, watches it, and re-arms itself as ancestors come and go
// (spec §4.8 steps 1-5). It exposes a single pollable fd for integration
// into the client control loop's poll set.
type Watcher struct {
	target string // the original full path being watched

	inotifyFd int
	watchDir  string // directory currently being watched
	watchWd   int32  // inotify watch descriptor, -1 if none
	watchFile string // basename being matched within watchDir

	buf []byte
}

// New creates an inotify instance and arms the first watch for path,
// climbing upward over missing ancestors per spec §4.8 step 3.
func New(path string) (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("pathwatch: inotify_init1: %w", err)
	}
	w := &Watcher{
		target:    path,
		inotifyFd: fd,
		watchWd:   -1,
		buf:       make([]byte, 4096),
	}
	if err := w.rearm(path); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return w, nil
}

// Fd returns the pollable inotify file descriptor.
func (w *Watcher) Fd() int { return w.inotifyFd }

// rearm walks upward from path until inotify_add_watch succeeds and
// records the watched directory and file name. It does not check whether
// the target already exists; CheckExisting does that.
func (w *Watcher) rearm(path string) error {
	watchDir := path
	for {
		dir, base := filepath.Split(watchDir)
		dir = filepath.Clean(dir)
		if dir == "" {
			dir = "/"
		}

		wd, err := unix.InotifyAddWatch(w.inotifyFd, dir, watchMask)
		if err != nil {
			if err == unix.ENOENT || err == unix.EACCES {
				watchDir = dir
				continue
			}
			return fmt.Errorf("pathwatch: inotify_add_watch(%s): %w", dir, err)
		}
		w.watchWd = int32(wd)
		w.watchDir = dir
		w.watchFile = base
		return nil
	}
}

// CheckExisting performs the race-check from spec §4.8 step 4: if the
// target already exists, report Created synchronously; if an intermediate
// ancestor appeared instead of the target, re-arm against the full target
// path and return no event.
func (w *Watcher) CheckExisting() (*Event, error) {
	full := filepath.Join(w.watchDir, w.watchFile)
	if _, err := os.Stat(full); err == nil {
		if full == w.target {
			return &Event{Type: Created, Name: w.watchFile}, nil
		}
		// An intermediate ancestor appeared; reset to the full target path.
		unix.InotifyRmWatch(w.inotifyFd, uint32(w.watchWd))
		w.watchWd = -1
		if err := w.rearm(w.target); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Dispatch reads and parses pending inotify events, returning those that
// match the watched basename (spec §4.8 step 5). IN_IGNORED events (the
// kernel removed our watch, e.g. the directory was deleted) trigger a
// restart from the full target path.
func (w *Watcher) Dispatch() ([]Event, error) {
	n, err := unix.Read(w.inotifyFd, w.buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("pathwatch: read: %w", err)
	}

	var events []Event
	off := 0
	for off+unix.SizeofInotifyEvent <= n {
		mask := binary.LittleEndian.Uint32(w.buf[off+4 : off+8])
		nameLen := binary.LittleEndian.Uint32(w.buf[off+12 : off+16])
		nameStart := off + unix.SizeofInotifyEvent
		name := ""
		if nameLen > 0 {
			raw := w.buf[nameStart : nameStart+int(nameLen)]
			if i := indexByte(raw, 0); i >= 0 {
				raw = raw[:i]
			}
			name = string(raw)
		}
		off = nameStart + int(nameLen)

		if mask&unix.IN_IGNORED != 0 {
			w.watchWd = -1
			if err := w.rearm(w.target); err != nil {
				return events, err
			}
			continue
		}
		if name != w.watchFile {
			continue
		}
		switch {
		case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			events = append(events, Event{Type: Created, Name: name})
		case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
			events = append(events, Event{Type: Deleted, Name: name})
		}
	}
	return events, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Close releases the inotify instance.
func (w *Watcher) Close() error {
	return unix.Close(w.inotifyFd)
}
