package bodewell

import "context"

// Monitor is a unit of observation run by the service.
type Monitor interface {
	// Start starts the monitor in the background. The context is canceled
	// when the service stops.
	Start(ctx context.Context) error
	// Stop stops the monitor and waits for it to exit.
	Stop() error
}

// MonitorSpec is what a Kind receives to build a Monitor.
type MonitorSpec struct {
	Name    string
	Config  interface{}
	Journal Journaler
}

// Kind builds a monitor from its configuration. Plugins add kinds with
// Service.RegisterKind.
type Kind func(MonitorSpec) (Monitor, error)

// DefaultKind is the kind used by monitors that don't name one.
const DefaultKind = "exec"

var builtinKinds = map[string]Kind{
	DefaultKind: newExecMonitor,
}

func monitorKind(config interface{}) string {
	m, ok := config.(map[string]interface{})
	if !ok {
		return DefaultKind
	}

	if kind, ok := m["type"].(string); ok && kind != "" {
		return kind
	}

	return DefaultKind
}
