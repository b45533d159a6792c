package bodewell

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrAlreadyStarted is returned if Start is called more than once.
	ErrAlreadyStarted = errors.New("service already started")
	// ErrNotRunning is returned if Stop is called on a service that is not
	// running.
	ErrNotRunning = errors.New("service not running")
)

type state uint8

const (
	stateCreated state = iota
	stateStarted
	stateStopped
)

// Options configures how a Service creates its journal sinks.
type Options struct {
	// Console wraps a console writer into a Journaler. If nil, a plain text
	// journaler is used.
	Console func(io.Writer) Journaler
	// OpenLog opens a log file sink for AttachLog. If nil, AttachLog fails.
	OpenLog func(path string) (LogFile, error)
}

type registered struct {
	name    string
	kind    string
	monitor Monitor
}

// Service is a monitoring service. It holds the journal sinks, the registry of
// monitor kinds and the monitors registered against them.
//
// A Service is started at most once. Registering monitors and kinds is only
// allowed before Start.
type Service struct {
	id    string
	opts  Options
	sinks sinks

	mutex     sync.Mutex
	verbosity Verbosity
	debug     bool
	state     state
	cancel    context.CancelFunc
	kinds     map[string]Kind
	monitors  []registered
	names     map[string]struct{}
}

var _ Journaler = (*Service)(nil)

// New creates a new service with the built-in monitor kinds registered.
func New(opts Options) *Service {
	s := &Service{
		id:    uuid.NewString(),
		opts:  opts,
		kinds: make(map[string]Kind, len(builtinKinds)),
		names: make(map[string]struct{}),
	}

	for name, kind := range builtinKinds {
		s.kinds[name] = kind
	}

	return s
}

// ID returns the random instance ID of this service run.
func (s *Service) ID() string { return s.id }

// AttachConsole adds the given writer as a console sink.
func (s *Service) AttachConsole(w io.Writer) {
	if s.opts.Console != nil {
		s.sinks.add(s.opts.Console(w))
		return
	}

	s.sinks.add(textJournaler{w})
}

// AttachJournal adds an arbitrary journaler as a sink.
func (s *Service) AttachJournal(j Journaler) {
	s.sinks.add(j)
}

// AttachLog opens the given path as a log file sink.
func (s *Service) AttachLog(path string) error {
	if s.opts.OpenLog == nil {
		return errors.Errorf("cannot attach log %q: no log opener", path)
	}

	f, err := s.opts.OpenLog(path)
	if err != nil {
		return errors.Wrapf(err, "failed to attach log %q", path)
	}

	s.sinks.add(f)
	return nil
}

// Louder raises the verbosity by one step.
func (s *Service) Louder() {
	s.mutex.Lock()
	s.verbosity = s.verbosity.Louder()
	s.mutex.Unlock()
}

// Quieter lowers the verbosity by one step.
func (s *Service) Quieter() {
	s.mutex.Lock()
	s.verbosity = s.verbosity.Quieter()
	s.mutex.Unlock()
}

// SetVerbosity sets the verbosity directly.
func (s *Service) SetVerbosity(v Verbosity) {
	s.mutex.Lock()
	s.verbosity = v
	s.mutex.Unlock()
}

// Verbosity returns the current verbosity.
func (s *Service) Verbosity() Verbosity {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.verbosity
}

// EnableDebugging lets debug events through regardless of verbosity.
func (s *Service) EnableDebugging() {
	s.mutex.Lock()
	s.debug = true
	s.mutex.Unlock()
}

// Debugging returns true if debugging was enabled.
func (s *Service) Debugging() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.debug
}

// RegisterKind adds a monitor kind. Kinds registered later replace earlier
// ones with the same name, so plugins can override the built-in kinds.
func (s *Service) RegisterKind(name string, kind Kind) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != stateCreated {
		return errors.Errorf("cannot register kind %q after start", name)
	}

	s.kinds[name] = kind
	return nil
}

// Monitor registers a monitor by name. The kind is picked from the "type" key
// of the configuration and defaults to "exec".
func (s *Service) Monitor(name string, config interface{}) error {
	s.mutex.Lock()

	if s.state != stateCreated {
		s.mutex.Unlock()
		return errors.Errorf("cannot register monitor %q after start", name)
	}

	if _, dup := s.names[name]; dup {
		s.mutex.Unlock()
		return errors.Errorf("monitor %q already registered", name)
	}

	kindName := monitorKind(config)

	kind, ok := s.kinds[kindName]
	if !ok {
		s.mutex.Unlock()
		return errors.Errorf("monitor %q: unknown type %q", name, kindName)
	}

	// Reserve the name while the kind builds the monitor, since kinds may
	// journal through the service.
	s.names[name] = struct{}{}
	s.mutex.Unlock()

	m, err := kind(MonitorSpec{
		Name:    name,
		Config:  config,
		Journal: s,
	})

	s.mutex.Lock()
	if err != nil {
		delete(s.names, name)
		s.mutex.Unlock()
		return errors.Wrapf(err, "monitor %q", name)
	}
	s.monitors = append(s.monitors, registered{name, kindName, m})
	s.mutex.Unlock()

	s.Write(&EventMonitorRegistered{Name: name, Kind: kindName})
	return nil
}

// Monitors returns the names of registered monitors in registration order.
func (s *Service) Monitors() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	names := make([]string, len(s.monitors))
	for i, m := range s.monitors {
		names[i] = m.name
	}

	return names
}

// Start starts all registered monitors in registration order. A monitor that
// fails to start is journaled and skipped; it does not fail the service.
func (s *Service) Start(ctx context.Context) error {
	s.mutex.Lock()

	if s.state != stateCreated {
		s.mutex.Unlock()
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.state = stateStarted
	s.cancel = cancel
	monitors := append([]registered(nil), s.monitors...)

	s.mutex.Unlock()

	for _, m := range monitors {
		if err := m.monitor.Start(ctx); err != nil {
			s.Write(&EventWarning{
				Component: "monitor " + m.name,
				Error:     fmt.Sprintf("failed to start: %v", err),
			})
		}
	}

	s.Write(&EventServiceStarted{ID: s.id, Monitors: len(monitors)})
	return nil
}

// Stop stops all monitors in reverse registration order, then closes the log
// files. The first error encountered is returned.
func (s *Service) Stop() error {
	s.mutex.Lock()

	if s.state != stateStarted {
		s.mutex.Unlock()
		return ErrNotRunning
	}

	s.state = stateStopped
	cancel := s.cancel
	monitors := append([]registered(nil), s.monitors...)

	s.mutex.Unlock()

	var firstErr error
	for i := len(monitors) - 1; i >= 0; i-- {
		if err := monitors[i].monitor.Stop(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to stop monitor %q", monitors[i].name)
		}
	}

	cancel()

	ev := &EventServiceStopped{ID: s.id}
	if firstErr != nil {
		ev.Error = firstErr.Error()
	}
	s.Write(ev)

	if err := s.sinks.close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// Close closes the log files without stopping the service. It is for
// abandoning a service that never started; Stop closes them by itself.
func (s *Service) Close() error {
	return s.sinks.close()
}

// CloseLog releases every attached log file. Each file is reopened on the next
// write.
func (s *Service) CloseLog() error {
	paths, err := s.sinks.release()
	s.Write(&EventLogClosed{Files: paths})
	return err
}

// Write journals the event if its level passes the current verbosity.
func (s *Service) Write(ev Event) error {
	s.mutex.Lock()
	threshold := s.verbosity.threshold(s.debug)
	s.mutex.Unlock()

	if ev.Level() < threshold {
		// Log files record every run boundary regardless of verbosity.
		if isRunBoundary(ev) {
			return s.sinks.writeFiles(ev)
		}
		return nil
	}

	return s.sinks.Write(ev)
}

func isRunBoundary(ev Event) bool {
	switch ev.(type) {
	case *EventServiceStarted, *EventServiceStopped:
		return true
	default:
		return false
	}
}

func (s *Service) log(lvl Level, f string, v ...interface{}) {
	s.Write(&EventLog{Severity: lvl, Message: fmt.Sprintf(f, v...)})
}

// Debug journals a debug message.
func (s *Service) Debug(f string, v ...interface{}) { s.log(LevelDebug, f, v...) }

// Verbose journals a message only shown in verbose mode.
func (s *Service) Verbose(f string, v ...interface{}) { s.log(LevelVerbose, f, v...) }

// Info journals an informational message.
func (s *Service) Info(f string, v ...interface{}) { s.log(LevelInfo, f, v...) }

// Warn journals a warning.
func (s *Service) Warn(f string, v ...interface{}) { s.log(LevelWarn, f, v...) }

// Error journals an error.
func (s *Service) Error(f string, v ...interface{}) { s.log(LevelError, f, v...) }

type textJournaler struct{ w io.Writer }

func (j textJournaler) Write(ev Event) error {
	var err error
	if l, ok := ev.(*EventLog); ok {
		_, err = fmt.Fprintf(j.w, "%s: %s\n", l.Severity, l.Message)
	} else {
		_, err = fmt.Fprintf(j.w, "%s: %s %+v\n", ev.Level(), ev.Type(), ev)
	}
	return err
}
