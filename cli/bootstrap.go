package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"git.unix.lgbt/diamondburned/bodewell/bodewell/journal"
	"git.unix.lgbt/diamondburned/bodewell/config"
	"git.unix.lgbt/diamondburned/bodewell/plugin"
	"github.com/pkg/errors"
)

// Exit codes.
const (
	ExitOK    = 0 // help, or clean shutdown
	ExitUsage = 1 // bad command line
	ExitFatal = 2 // bootstrap failed
)

// Env holds everything a run talks to outside of the service itself.
type Env struct {
	Program string
	Stdout  io.Writer
	Stderr  io.Writer

	NewService func() *bodewell.Service

	Resolver plugin.Resolver
	Lister   plugin.Lister

	LoadConfig   func(ctx context.Context, path string) (*config.Raw, error)
	ExpandConfig func(*config.Raw) (*config.DefinitionSet, error)

	// LastRun reads the last run recorded in a log file before it is
	// attached. It may be nil.
	LastRun func(path string) (*journal.Run, error)

	// Signals subscribes to the lifecycle signals. The returned function
	// unsubscribes.
	Signals func() (<-chan os.Signal, func())
}

// State is a bootstrap state. States only move forward.
type State uint8

const (
	StateParsing State = iota
	StatePluginsLoaded
	StateConfigLoaded
	StateMonitorsRegistered
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateParsing:
		return "parsing"
	case StatePluginsLoaded:
		return "plugins-loaded"
	case StateConfigLoaded:
		return "config-loaded"
	case StateMonitorsRegistered:
		return "monitors-registered"
	case StateStarted:
		return "started"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// outcome is how a bootstrap stage ended.
type outcome uint8

const (
	outcomeOK outcome = iota
	// outcomeDegraded means the stage failed in a way it recovered from; the
	// failure has already been journaled.
	outcomeDegraded
	outcomeFatal
)

type result struct {
	outcome outcome
	err     error
}

func proceed() result          { return result{outcome: outcomeOK} }
func degrade(err error) result { return result{outcomeDegraded, err} }
func abort(err error) result   { return result{outcomeFatal, err} }

type stage struct {
	// next is the state reached when the stage doesn't fail fatally.
	next State
	run  func(context.Context) result
}

// bootstrap carries one run from parsed settings to a started service.
type bootstrap struct {
	env      Env
	svc      *bodewell.Service
	settings Settings
	state    State
	defs     *config.DefinitionSet
}

// Run runs bodewell with the given arguments, not including the program name,
// and returns the process exit code. It blocks until the service is stopped.
func Run(ctx context.Context, env Env, args []string) int {
	svc := env.NewService()
	svc.AttachConsole(env.Stderr)

	settings, err := Parse(args)
	if err != nil {
		if errors.Is(err, ErrHelp) {
			Usage(env.Stdout, env.Program)
			return ExitOK
		}

		fmt.Fprintln(env.Stderr, err)
		return ExitUsage
	}

	b := &bootstrap{
		env:      env,
		svc:      svc,
		settings: settings,
		state:    StateParsing,
	}

	if err := b.run(ctx); err != nil {
		b.printFatal(err)
		svc.Close()
		return ExitFatal
	}

	sigs, unsubscribe := env.Signals()
	defer unsubscribe()

	// A requested stop is a clean exit even if a monitor stopped badly. The
	// sinks are closed by now, so the error goes straight to stderr.
	if err := Serve(ctx, svc, sigs); err != nil {
		b.printFatal(err)
	}

	return ExitOK
}

// run walks the stages in order. It returns the error of the first fatal
// stage; the service is started only if there is none.
func (b *bootstrap) run(ctx context.Context) error {
	stages := []stage{
		{StateParsing, b.applySettings},
		{StatePluginsLoaded, b.enablePlugins},
		{StateConfigLoaded, b.loadConfig},
		{StateMonitorsRegistered, b.registerMonitors},
		{StateStarted, b.start},
	}

	for _, stage := range stages {
		res := stage.run(ctx)

		switch res.outcome {
		case outcomeOK:
		case outcomeDegraded:
			b.svc.Debug("bootstrap: %s degraded: %v", stage.next, res.err)
		case outcomeFatal:
			return res.err
		}

		b.state = stage.next
		b.svc.Debug("bootstrap: %s", b.state)
	}

	return nil
}

func (b *bootstrap) printFatal(err error) {
	if b.settings.Debug {
		fmt.Fprintf(b.env.Stderr, "%+v\n", err)
		return
	}

	fmt.Fprintln(b.env.Stderr, err)
}

func (b *bootstrap) applySettings(ctx context.Context) result {
	b.svc.SetVerbosity(b.settings.Verbosity)
	if b.settings.Debug {
		b.svc.EnableDebugging()
	}

	for _, path := range b.settings.Logs {
		b.checkLastRun(path)

		if err := b.svc.AttachLog(path); err != nil {
			return abort(err)
		}
	}

	return proceed()
}

// checkLastRun warns if the previous run logging to path died without
// stopping.
func (b *bootstrap) checkLastRun(path string) {
	if b.env.LastRun == nil {
		return
	}

	run, err := b.env.LastRun(path)
	if err != nil {
		b.svc.Warn("could not read %s: %v", path, err)
		return
	}

	if run != nil && !run.Clean() {
		b.svc.Warn("previous run %s (started %s) did not stop cleanly",
			run.ID, run.Started.Format(time.DateTime))
	}
}

func (b *bootstrap) enablePlugins(ctx context.Context) result {
	set, err := plugin.Load(b.settings.Plugins, b.env.Resolver, b.env.Lister)
	if err != nil {
		return abort(errors.Wrap(err, "failed to load plugins"))
	}

	b.svc.Info("enabling plugins")

	if err := set.Enable(b.svc); err != nil {
		return abort(errors.Wrap(err, "failed to enable plugins"))
	}

	return proceed()
}

func (b *bootstrap) loadConfig(ctx context.Context) result {
	path := b.settings.ConfigPath

	raw, err := b.env.LoadConfig(ctx, path)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			b.svc.Warn("could not find %s", path)
			b.defs = config.Empty()
			return degrade(err)
		}

		b.svc.Error("could not load %s", path)
		return abort(err)
	}

	defs, err := b.env.ExpandConfig(raw)
	if err != nil {
		return abort(errors.Wrapf(err, "failed to expand %s", path))
	}

	b.defs = defs
	return proceed()
}

func (b *bootstrap) registerMonitors(ctx context.Context) result {
	b.svc.Info("setting up monitors")

	for _, def := range b.defs.Monitors() {
		if err := b.svc.Monitor(def.Name, def.Config); err != nil {
			return abort(err)
		}
	}

	return proceed()
}

func (b *bootstrap) start(ctx context.Context) result {
	if err := b.svc.Start(ctx); err != nil {
		return abort(errors.Wrap(err, "failed to start service"))
	}
	return proceed()
}
