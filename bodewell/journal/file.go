// Package journal provides implementations of bodewell's Journaler interface:
// a line-delimited JSON writer, a human-readable console writer and a log file
// that follows external log rotation.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

var (
	// ErrLockedElsewhere is returned if the log file is locked by another
	// process.
	ErrLockedElsewhere = errors.New("file already locked elsewhere")
	// ErrClosed is returned when writing into a closed File.
	ErrClosed = errors.New("log file closed")
)

// File is a journaler that writes line-delimited JSON events into a log file.
// While the file is open, File holds a file lock (flock) on it so that two
// services never interleave into the same log.
//
// # Rotation
//
// Release closes the file and drops the lock; the next Write opens the path
// again. This is what the service does on SIGHUP. File also watches the parent
// directory and releases the file by itself when it is renamed or removed, so
// rotation works even without the signal.
type File struct {
	path string

	mutex  sync.Mutex
	f      *os.File
	l      *flock.Flock
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ bodewell.LogFile = (*File)(nil)

// OpenFile opens the log file at the given path, creating it and its directory
// if needed.
func OpenFile(path string) (*File, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve path")
	}

	ctx, cancel := context.WithCancel(context.Background())

	f := &File{
		path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := f.open(); err != nil {
		cancel()
		return nil, err
	}

	f.tryWatch(ctx)
	return f, nil
}

// OpenLogFile is OpenFile returning the bodewell.LogFile interface, to be used
// as bodewell.Options.OpenLog.
func OpenLogFile(path string) (bodewell.LogFile, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the absolute path of the log file.
func (f *File) Path() string { return f.path }

func (f *File) open() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0750); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}

	l := flock.New(f.path)

	locked, err := l.TryLock()
	if err != nil {
		file.Close()
		return errors.Wrap(err, "failed to acquire lock")
	}

	if !locked {
		file.Close()
		return ErrLockedElsewhere
	}

	f.f = file
	f.l = l
	return nil
}

// Write writes the given event into the file, reopening it if it was released.
func (f *File) Write(ev bodewell.Event) error {
	b, err := marshalEvent(ev, time.Now())
	if err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return ErrClosed
	}

	if f.f == nil {
		if err := f.open(); err != nil {
			return errors.Wrap(err, "failed to reopen log")
		}
	}

	if _, err := f.f.Write(b); err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}

// Release closes the file and releases the lock. The next Write reopens it.
func (f *File) Release() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.release()
}

func (f *File) release() error {
	if f.f == nil {
		return nil
	}

	err := f.f.Close()
	if uerr := f.l.Unlock(); uerr != nil && err == nil {
		err = uerr
	}

	f.f = nil
	f.l = nil

	return err
}

// Close closes the file for good and stops watching it.
func (f *File) Close() error {
	f.mutex.Lock()

	if f.closed {
		f.mutex.Unlock()
		return nil
	}

	f.closed = true
	err := f.release()

	f.mutex.Unlock()

	f.cancel()
	<-f.done

	return err
}

// tryWatch watches the log directory asynchronously. If the directory can't
// be watched, a warning is written into the log itself and the file only
// rotates on Release.
func (f *File) tryWatch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(filepath.Dir(f.path))
		if err != nil {
			w.Close()
		}
	}

	if err != nil {
		close(f.done)
		f.Write(&bodewell.EventWarning{
			Component: "log " + f.path,
			Error:     fmt.Sprintf("not watching for rotation because: %v", err),
		})
		return
	}

	go f.watch(ctx, w)
}

func (f *File) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer close(f.done)
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-w.Errors:
			if !ok {
				return
			}

		case evt, ok := <-w.Events:
			if !ok {
				return
			}

			if isRotation(evt, f.path) {
				f.Release()
			}
		}
	}
}

// isRotation returns true if the fsnotify event moves the file at path away.
func isRotation(evt fsnotify.Event, path string) bool {
	if filepath.Clean(evt.Name) != path {
		return false
	}

	// fsnotify does not report renames properly, so a rename is treated like
	// a remove.
	// See: https://github.com/fsnotify/fsnotify/issues/26
	return evt.Has(fsnotify.Rename) || evt.Has(fsnotify.Remove)
}
