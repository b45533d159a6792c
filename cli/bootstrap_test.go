package cli

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"git.unix.lgbt/diamondburned/bodewell/bodewell/journal"
	"git.unix.lgbt/diamondburned/bodewell/config"
	"git.unix.lgbt/diamondburned/bodewell/plugin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memJournal keeps every event it receives.
type memJournal struct {
	mutex  sync.Mutex
	events []bodewell.Event
}

func (m *memJournal) Write(ev bodewell.Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.events = append(m.events, ev)
	return nil
}

// count returns the number of events of the given type.
func (m *memJournal) count(typ string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var n int
	for _, ev := range m.events {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

var (
	typeServiceStarted = (&bodewell.EventServiceStarted{}).Type()
	typeServiceStopped = (&bodewell.EventServiceStopped{}).Type()
	typeLogClosed      = (&bodewell.EventLogClosed{}).Type()
)

type fakeResolver map[string]plugin.Plugin

func (r fakeResolver) Resolve(id string) (plugin.Resolved, error) {
	p, ok := r[id]
	if !ok {
		return plugin.Resolved{}, errors.Errorf("cannot find plugin %q", id)
	}
	return plugin.Resolved{ID: id, Plugin: p}, nil
}

type fakeLister []string

func (l fakeLister) List() ([]string, error) { return l, nil }

type fakeMonitor struct {
	name    string
	h       *harness
	stopErr error
}

func (m fakeMonitor) Start(ctx context.Context) error {
	m.h.events = append(m.h.events, "start "+m.name)
	return nil
}

func (m fakeMonitor) Stop() error {
	m.h.events = append(m.h.events, "stop "+m.name)
	return m.stopErr
}

// harness is a fake environment for Run. Everything runs on the test
// goroutine: Run returns once the preloaded signal stops the service.
type harness struct {
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	journal memJournal

	svc  *bodewell.Service
	sigs chan os.Signal

	config    string
	configErr error

	calls  map[string]int
	events []string
}

func newHarness() *harness {
	h := &harness{
		sigs:  make(chan os.Signal, 4),
		calls: make(map[string]int),
	}
	h.sigs <- os.Interrupt
	return h
}

// plugin returns a plugin that counts its calls and registers the fake kind.
func (h *harness) plugin(id string) plugin.Plugin {
	return func(svc *bodewell.Service) error {
		h.calls[id]++
		h.events = append(h.events, "plugin "+id)

		return svc.RegisterKind("fake", func(spec bodewell.MonitorSpec) (bodewell.Monitor, error) {
			h.events = append(h.events, "register "+spec.Name)
			return fakeMonitor{name: spec.Name, h: h}, nil
		})
	}
}

func (h *harness) env() Env {
	return Env{
		Program: "bodewell",
		Stdout:  &h.stdout,
		Stderr:  &h.stderr,

		NewService: func() *bodewell.Service {
			h.svc = bodewell.New(bodewell.Options{})
			h.svc.AttachJournal(&h.journal)
			return h.svc
		},

		Resolver: fakeResolver{
			"bodewell-plugin-disk": h.plugin("bodewell-plugin-disk"),
			"bodewell-plugin-cpu":  h.plugin("bodewell-plugin-cpu"),
			"extras":               h.plugin("extras"),
		},
		Lister: fakeLister{"bodewell-plugin-disk", "bodewell-plugin-cpu", "extras", "unrelated"},

		LoadConfig: func(ctx context.Context, path string) (*config.Raw, error) {
			h.events = append(h.events, "config "+path)
			if h.configErr != nil {
				return nil, h.configErr
			}
			return config.Parse([]byte(h.config))
		},
		ExpandConfig: config.Expand,

		Signals: func() (<-chan os.Signal, func()) {
			return h.sigs, func() {}
		},
	}
}

func (h *harness) run(args ...string) int {
	return Run(context.Background(), h.env(), args)
}

func TestRunHelp(t *testing.T) {
	h := newHarness()

	assert.Equal(t, ExitOK, h.run("--help"))
	assert.Contains(t, h.stdout.String(), "Usage: bodewell")
	assert.Empty(t, h.calls)
	assert.Equal(t, 0, h.journal.count(typeServiceStarted))
}

func TestRunUsageError(t *testing.T) {
	h := newHarness()

	assert.Equal(t, ExitUsage, h.run("-v", "--bogus"))
	assert.Contains(t, h.stderr.String(), "unrecognized option --bogus")
	assert.Empty(t, h.calls)
	assert.Empty(t, h.events)
	assert.Equal(t, 0, h.journal.count(typeServiceStarted))

	// Usage errors win over plugin errors.
	h = newHarness()
	assert.Equal(t, ExitUsage, h.run("-P", "nonexistent", "-C"))
	assert.Contains(t, h.stderr.String(), "-C missing argument")
}

func TestRunMissingConfig(t *testing.T) {
	h := newHarness()
	h.configErr = errors.Wrap(config.ErrNotFound, "/nonexistent")

	assert.Equal(t, ExitOK, h.run("-C", "/nonexistent"))
	assert.Contains(t, h.stderr.String(), "could not find /nonexistent")

	assert.Empty(t, h.svc.Monitors())
	assert.Equal(t, 1, h.journal.count(typeServiceStarted))
	assert.Equal(t, 1, h.journal.count(typeServiceStopped))
}

func TestRunBootstrap(t *testing.T) {
	h := newHarness()
	h.config = `
monitor:
  disk:
    type: fake
  cpu:
    type: fake
`

	assert.Equal(t, ExitOK, h.run("-P", "extras", "-C", "/etc/b.config"))

	assert.Equal(t, []string{
		"plugin extras",
		"plugin bodewell-plugin-disk",
		"plugin bodewell-plugin-cpu",
		"config /etc/b.config",
		"register disk",
		"register cpu",
		"start disk",
		"start cpu",
		"stop cpu",
		"stop disk",
	}, h.events)

	assert.Equal(t, []string{"disk", "cpu"}, h.svc.Monitors())
	assert.Equal(t, 1, h.journal.count(typeServiceStarted))
	assert.Equal(t, 1, h.journal.count(typeServiceStopped))
}

func TestRunDuplicatePlugin(t *testing.T) {
	h := newHarness()

	code := h.run("-P", "bodewell-plugin-disk", "--plugin=bodewell-plugin-disk")
	assert.Equal(t, ExitOK, code)

	assert.Equal(t, map[string]int{
		"bodewell-plugin-disk": 1,
		"bodewell-plugin-cpu":  1,
	}, h.calls)
}

func TestRunConfigError(t *testing.T) {
	h := newHarness()
	h.configErr = errors.New("permission denied")

	assert.Equal(t, ExitFatal, h.run())
	assert.Contains(t, h.stderr.String(), "could not load "+config.DefaultPath)
	assert.Contains(t, h.stderr.String(), "permission denied")
	assert.NotContains(t, h.stderr.String(), "bootstrap_test.go")
	assert.Equal(t, 0, h.journal.count(typeServiceStarted))

	// Debug mode prints the stack trace.
	h = newHarness()
	h.configErr = errors.New("permission denied")

	assert.Equal(t, ExitFatal, h.run("-X"))
	assert.Contains(t, h.stderr.String(), "bootstrap_test.go")
}

func TestRunExpandError(t *testing.T) {
	h := newHarness()
	h.config = "monitor: [disk]\n"

	assert.Equal(t, ExitFatal, h.run())
	assert.Contains(t, h.stderr.String(), "failed to expand")
	assert.Equal(t, 0, h.journal.count(typeServiceStarted))
}

func TestRunPluginFailure(t *testing.T) {
	h := newHarness()

	assert.Equal(t, ExitFatal, h.run("-P", "nonexistent"))
	assert.Contains(t, h.stderr.String(), `cannot find plugin "nonexistent"`)
	assert.Empty(t, h.calls)
	assert.Equal(t, 0, h.journal.count(typeServiceStarted))
}

func TestRunRegistrationFailure(t *testing.T) {
	h := newHarness()
	h.config = "monitor:\n  disk:\n    type: nope\n"

	assert.Equal(t, ExitFatal, h.run())
	assert.Contains(t, h.stderr.String(), `unknown type "nope"`)
	assert.Equal(t, 0, h.journal.count(typeServiceStarted))
}

func TestRunLogAttachFailure(t *testing.T) {
	h := newHarness()

	// The test service has no log opener.
	assert.Equal(t, ExitFatal, h.run("-L", "/tmp/b.log"))
	assert.Contains(t, h.stderr.String(), "/tmp/b.log")
	assert.Empty(t, h.calls)
}

func TestRunLastRun(t *testing.T) {
	h := newHarness()
	env := h.env()

	var opened []string
	env.NewService = func() *bodewell.Service {
		h.svc = bodewell.New(bodewell.Options{
			OpenLog: func(path string) (bodewell.LogFile, error) {
				opened = append(opened, path)
				return &fakeLogFile{released: make(chan struct{}, 1)}, nil
			},
		})
		h.svc.AttachJournal(&h.journal)
		return h.svc
	}

	env.LastRun = func(path string) (*journal.Run, error) {
		switch path {
		case "dirty.log":
			return &journal.Run{ID: "abc"}, nil
		case "clean.log":
			return &journal.Run{ID: "def", Stopped: time.Now()}, nil
		case "broken.log":
			return nil, errors.New("permission denied")
		default:
			return nil, nil
		}
	}

	args := []string{"-L", "dirty.log", "-L", "clean.log", "-L", "broken.log", "-L", "new.log"}
	assert.Equal(t, ExitOK, Run(context.Background(), env, args))
	assert.Equal(t, []string{"dirty.log", "clean.log", "broken.log", "new.log"}, opened)

	stderr := h.stderr.String()
	assert.Contains(t, stderr, "previous run abc")
	assert.NotContains(t, stderr, "previous run def")
	assert.Contains(t, stderr, "could not read broken.log: permission denied")
}

func TestRunStopError(t *testing.T) {
	h := newHarness()
	h.config = "monitor:\n  disk:\n    type: stubborn\n"

	env := h.env()
	env.Resolver = fakeResolver{
		"bodewell-plugin-disk": func(svc *bodewell.Service) error {
			return svc.RegisterKind("stubborn", func(spec bodewell.MonitorSpec) (bodewell.Monitor, error) {
				return fakeMonitor{name: spec.Name, h: h, stopErr: errors.New("still running")}, nil
			})
		},
	}
	env.Lister = fakeLister{"bodewell-plugin-disk"}

	assert.Equal(t, ExitOK, Run(context.Background(), env, nil))
	assert.Equal(t, []string{"config " + config.DefaultPath, "start disk", "stop disk"}, h.events)
	assert.Contains(t, h.stderr.String(), "still running")
}

func TestRunFatalClosesLogs(t *testing.T) {
	h := newHarness()
	h.configErr = errors.New("permission denied")

	log := &fakeLogFile{released: make(chan struct{}, 1)}

	env := h.env()
	env.NewService = func() *bodewell.Service {
		h.svc = bodewell.New(bodewell.Options{
			OpenLog: func(string) (bodewell.LogFile, error) { return log, nil },
		})
		return h.svc
	}

	assert.Equal(t, ExitFatal, Run(context.Background(), env, []string{"-L", "b.log"}))
	assert.Equal(t, 1, log.closed)
	assert.Equal(t, 0, log.count(typeServiceStarted))
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateParsing:            "parsing",
		StatePluginsLoaded:      "plugins-loaded",
		StateConfigLoaded:       "config-loaded",
		StateMonitorsRegistered: "monitors-registered",
		StateStarted:            "started",
		State(42):               "State(42)",
	}

	for state, want := range states {
		assert.Equal(t, want, state.String())
	}
}

func TestRunSignalsAfterStart(t *testing.T) {
	h := newHarness()
	env := h.env()

	subscribed := false
	env.Signals = func() (<-chan os.Signal, func()) {
		require.Equal(t, 1, h.journal.count(typeServiceStarted))
		subscribed = true
		return h.sigs, func() {}
	}

	assert.Equal(t, ExitOK, Run(context.Background(), env, nil))
	assert.True(t, subscribed)
}
