package bodewell

// eventType describes an event type.
type eventType = string

const (
	eventLog                eventType = "log"
	eventWarning            eventType = "warning"
	eventPluginEnabled      eventType = "plugin enabled"
	eventMonitorRegistered  eventType = "monitor registered"
	eventServiceStarted     eventType = "service started"
	eventServiceStopped     eventType = "service stopped"
	eventLogClosed          eventType = "log closed"
	eventProcessSpawnError  eventType = "process spawn error"
	eventProcessSpawned     eventType = "process spawned"
	eventProcessExited      eventType = "process exited"
	eventProcessStopTimeout eventType = "process stop timeout"
)

// Event is an interface describing known events.
type Event interface {
	Type() string
	Level() Level
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventLog:
		return &EventLog{}
	case eventWarning:
		return &EventWarning{}
	case eventPluginEnabled:
		return &EventPluginEnabled{}
	case eventMonitorRegistered:
		return &EventMonitorRegistered{}
	case eventServiceStarted:
		return &EventServiceStarted{}
	case eventServiceStopped:
		return &EventServiceStopped{}
	case eventLogClosed:
		return &EventLogClosed{}
	case eventProcessSpawnError:
		return &EventProcessSpawnError{}
	case eventProcessSpawned:
		return &EventProcessSpawned{}
	case eventProcessExited:
		return &EventProcessExited{}
	case eventProcessStopTimeout:
		return &EventProcessStopTimeout{}
	default:
		return nil
	}
}

// EventLog is a free-form message, emitted through the Service's Debug, Info,
// Warn and Error methods.
type EventLog struct {
	Severity Level  `json:"level"`
	Message  string `json:"message"`
}

func (ev *EventLog) Type() string { return eventLog }
func (ev *EventLog) Level() Level { return ev.Severity }
func (ev *EventLog) event()       {}

// EventWarning is emitted when a non-fatal error occurs inside a component.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) Level() Level { return LevelWarn }
func (ev *EventWarning) event()       {}

// EventPluginEnabled is emitted after a plugin initializer returned.
type EventPluginEnabled struct {
	ID string `json:"id"`
}

func (ev *EventPluginEnabled) Type() string { return eventPluginEnabled }
func (ev *EventPluginEnabled) Level() Level { return LevelVerbose }
func (ev *EventPluginEnabled) event()       {}

// EventMonitorRegistered is emitted once per monitor accepted by the service.
type EventMonitorRegistered struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (ev *EventMonitorRegistered) Type() string { return eventMonitorRegistered }
func (ev *EventMonitorRegistered) Level() Level { return LevelVerbose }
func (ev *EventMonitorRegistered) event()       {}

// EventServiceStarted is emitted when the service has started all of its
// monitors.
type EventServiceStarted struct {
	ID       string `json:"id"`
	Monitors int    `json:"monitors"`
}

func (ev *EventServiceStarted) Type() string { return eventServiceStarted }
func (ev *EventServiceStarted) Level() Level { return LevelInfo }
func (ev *EventServiceStarted) event()       {}

// EventServiceStopped is emitted when the service has stopped.
type EventServiceStopped struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func (ev *EventServiceStopped) Type() string { return eventServiceStopped }
func (ev *EventServiceStopped) Level() Level { return LevelInfo }
func (ev *EventServiceStopped) event()       {}

// EventLogClosed is emitted after the file logs have been released, usually on
// SIGHUP.
type EventLogClosed struct {
	Files []string `json:"files"`
}

func (ev *EventLogClosed) Type() string { return eventLogClosed }
func (ev *EventLogClosed) Level() Level { return LevelVerbose }
func (ev *EventLogClosed) event()       {}

// EventProcessSpawnError is emitted when a process fails to start for any
// reason.
type EventProcessSpawnError struct {
	Monitor string `json:"monitor"`
	Reason  string `json:"reason"`
}

func (ev *EventProcessSpawnError) Type() string { return eventProcessSpawnError }
func (ev *EventProcessSpawnError) Level() Level { return LevelError }
func (ev *EventProcessSpawnError) event()       {}

// EventProcessSpawned is emitted when a process has been started for any
// reason.
type EventProcessSpawned struct {
	Monitor string `json:"monitor"`
	PID     int    `json:"pid"`
}

func (ev *EventProcessSpawned) Type() string { return eventProcessSpawned }
func (ev *EventProcessSpawned) Level() Level { return LevelVerbose }
func (ev *EventProcessSpawned) event()       {}

// EventProcessExited is emitted when a process has been stopped for any reason.
type EventProcessExited struct {
	Monitor  string `json:"monitor"`
	PID      int    `json:"pid"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"` // -1 if interrupted or terminated
}

// IsGraceful returns true if the process stopped gracefully (i.e. on SIGINT).
func (ev *EventProcessExited) IsGraceful() bool {
	return ev.ExitCode != -1
}

func (ev *EventProcessExited) Type() string { return eventProcessExited }
func (ev *EventProcessExited) Level() Level {
	if ev.ExitCode != 0 {
		return LevelWarn
	}
	return LevelVerbose
}
func (ev *EventProcessExited) event() {}

// EventProcessStopTimeout is emitted when a process had to be killed because it
// did not exit in time after being interrupted.
type EventProcessStopTimeout struct {
	Monitor string `json:"monitor"`
	PID     int    `json:"pid"`
}

func (ev *EventProcessStopTimeout) Type() string { return eventProcessStopTimeout }
func (ev *EventProcessStopTimeout) Level() Level { return LevelWarn }
func (ev *EventProcessStopTimeout) event()       {}
