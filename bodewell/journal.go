package bodewell

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Journaler describes an event logger.
type Journaler interface {
	Write(Event) error
}

// LogFile is a Journaler backed by a file path. Release closes the underlying
// file without retiring the journaler: the next Write reopens the path, which
// is what log rotation tools expect after SIGHUP. Close retires it for good.
type LogFile interface {
	Journaler
	Path() string
	Release() error
	Close() error
}

// Level is the severity of an event.
type Level int8

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelDebug:   "debug",
	LevelVerbose: "verbose",
	LevelInfo:    "info",
	LevelWarn:    "warn",
	LevelError:   "error",
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return fmt.Sprintf("Level(%d)", int8(l))
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	for lvl, name := range levelNames {
		if name == string(text) {
			*l = Level(lvl)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", text)
}

// Verbosity is how chatty the service is.
type Verbosity int8

const (
	Quiet Verbosity = iota - 1
	Normal
	Verbose
)

// Louder returns the next verbosity step up, stopping at Verbose.
func (v Verbosity) Louder() Verbosity {
	if v < Verbose {
		v++
	}
	return v
}

// Quieter returns the next verbosity step down, stopping at Quiet.
func (v Verbosity) Quieter() Verbosity {
	if v > Quiet {
		v--
	}
	return v
}

func (v Verbosity) String() string {
	switch v {
	case Quiet:
		return "quiet"
	case Normal:
		return "normal"
	case Verbose:
		return "verbose"
	default:
		return fmt.Sprintf("Verbosity(%d)", int8(v))
	}
}

// threshold returns the lowest level that passes through at this verbosity.
func (v Verbosity) threshold(debug bool) Level {
	if debug {
		return LevelDebug
	}

	switch {
	case v <= Quiet:
		return LevelWarn
	case v >= Verbose:
		return LevelVerbose
	default:
		return LevelInfo
	}
}

// sinks is the set of journalers the service writes into. Writes are
// serialized so that sinks don't need to be concurrently safe on their own.
type sinks struct {
	mutex sync.Mutex
	all   []Journaler
	files []LogFile
}

func (s *sinks) add(j Journaler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.all = append(s.all, j)
	if f, ok := j.(LogFile); ok {
		s.files = append(s.files, f)
	}
}

func (s *sinks) Write(ev Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var firstErr error
	for _, j := range s.all {
		if err := j.Write(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// writeFiles writes the event into the file sinks only.
func (s *sinks) writeFiles(ev Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var firstErr error
	for _, f := range s.files {
		if err := f.Write(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// release releases every file sink and returns their paths.
func (s *sinks) release() ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	paths := make([]string, 0, len(s.files))

	var firstErr error
	for _, f := range s.files {
		paths = append(paths, f.Path())

		if err := f.Release(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to release log %q", f.Path())
		}
	}

	return paths, firstErr
}

func (s *sinks) close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close log %q", f.Path())
		}
	}

	return firstErr
}
