package journal

import (
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/diamondburned/backwardio"
	"github.com/pkg/errors"
)

// Reader reads journals written by Writer from the last entry to the first.
type Reader struct {
	b *backwardio.Scanner
}

// NewReader creates a new backwards journal reader.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backwardio.NewScanner(r)}
}

// Read reads the entry before the previously read one. An EOF error is
// returned once the start of the file is reached.
func (r *Reader) Read() (bodewell.Event, time.Time, error) {
	line, err := r.line()
	if err != nil {
		return nil, time.Time{}, err
	}
	return Decode(line)
}

// line returns the previous non-empty line.
func (r *Reader) line() ([]byte, error) {
	for {
		line, err := r.b.ReadUntil('\n')
		if err != nil {
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

// Run is the last service run recorded in a journal.
type Run struct {
	ID      string
	Started time.Time
	// Stopped is zero if the run never journaled its stop, which means the
	// process died or was killed.
	Stopped time.Time
}

// Clean returns true if the run stopped on its own.
func (r *Run) Clean() bool { return !r.Stopped.IsZero() }

// LastRunFromFile is LastRun on the file at path. A missing file has no runs.
func LastRunFromFile(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to open journal")
	}
	defer f.Close()

	return LastRun(f)
}

// LastRun scans the journal backwards for the last service run. It returns nil
// if the journal records none. Lines that can't be decoded are skipped.
func LastRun(r io.ReadSeeker) (*Run, error) {
	reader := NewReader(r)

	var stop *bodewell.EventServiceStopped
	var stopTime time.Time

	for {
		line, err := reader.line()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, errors.Wrap(err, "failed to read journal")
		}

		ev, t, err := Decode(line)
		if err != nil {
			continue
		}

		switch ev := ev.(type) {
		case *bodewell.EventServiceStopped:
			if stop == nil {
				stop, stopTime = ev, t
			}

		case *bodewell.EventServiceStarted:
			run := &Run{ID: ev.ID, Started: t}
			if stop != nil && stop.ID == ev.ID {
				run.Stopped = stopTime
			}
			return run, nil
		}
	}
}
