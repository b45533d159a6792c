package bodewell

import (
	"context"
	"os"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell/internal/exec"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ProcessWaitTimeout is the time to wait for a process to gracefully exit until
// forcefully terminating (and finally SIGKILLing) it.
var ProcessWaitTimeout = time.Minute

// ProcessRetryBackoff is a list of backoff durations when a process fails to
// start. The last duration is used repetitively.
var ProcessRetryBackoff = []time.Duration{
	0,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// ExecConfig is the configuration of the built-in exec monitor kind.
type ExecConfig struct {
	Type        string          `mapstructure:"type"`
	Command     []string        `mapstructure:"command" validate:"required,min=1,dive,required"`
	WaitTimeout time.Duration   `mapstructure:"wait_timeout" validate:"gte=0"`
	Backoff     []time.Duration `mapstructure:"backoff" validate:"dive,gte=0"`
}

var validate = validator.New()

// DecodeExecConfig decodes and validates an exec monitor configuration. A
// single command string is accepted in place of a list.
func DecodeExecConfig(config interface{}) (ExecConfig, error) {
	var cfg ExecConfig

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, errors.Wrap(err, "failed to create decoder")
	}

	if err := dec.Decode(config); err != nil {
		return cfg, errors.Wrap(err, "invalid exec config")
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, "invalid exec config")
	}

	return cfg, nil
}

type execMonitor struct {
	name string
	cfg  ExecConfig
	j    Journaler

	// newProcess is overridden in tests.
	newProcess func() (exec.Process, error)

	proc *Process
}

func newExecMonitor(spec MonitorSpec) (Monitor, error) {
	cfg, err := DecodeExecConfig(spec.Config)
	if err != nil {
		return nil, err
	}

	argv := cfg.Command

	return &execMonitor{
		name: spec.Name,
		cfg:  cfg,
		j:    spec.Journal,
		newProcess: func() (exec.Process, error) {
			return exec.StartProcess(argv)
		},
	}, nil
}

func (m *execMonitor) Start(ctx context.Context) error {
	if m.proc != nil {
		return errors.New("already started")
	}

	proc := NewProcess(ctx, m.name, m.newProcess, m.j)
	if m.cfg.WaitTimeout > 0 {
		proc.WaitTimeout = m.cfg.WaitTimeout
	}
	if len(m.cfg.Backoff) > 0 {
		proc.RetryBackoff = m.cfg.Backoff
	}

	m.proc = proc
	proc.Start()
	return nil
}

func (m *execMonitor) Stop() error {
	if m.proc == nil {
		return nil
	}
	return m.proc.Stop()
}

// Process monitors an individual process. It is capable of self-monitoring the
// process, so any commanding operation simply cannot fail but only be delayed.
type Process struct {
	WaitTimeout  time.Duration
	RetryBackoff []time.Duration

	j Journaler

	ctx    context.Context
	cancel context.CancelFunc

	monitor   string
	startProc func() (exec.Process, error)

	evCh chan func()
	dead chan struct{}
	done chan error

	stopOnce sync.Once
	stopErr  error

	// states
	proc exec.Process
}

// NewProcess creates a new process and a background monitor. The process is
// terminated once the context times out. Stop must be called to wait for the
// background routine to exit.
func NewProcess(
	ctx context.Context, monitor string, start func() (exec.Process, error), j Journaler) *Process {

	ctx, cancel := context.WithCancel(ctx)

	proc := &Process{
		WaitTimeout:  ProcessWaitTimeout,
		RetryBackoff: ProcessRetryBackoff,

		ctx:    ctx,
		cancel: cancel,

		j:         j,
		monitor:   monitor,
		startProc: start,

		evCh: make(chan func()),
		dead: make(chan struct{}, 1),
		done: make(chan error, 1),
	}

	go proc.startMonitor()

	return proc
}

// Start starts a new process.
func (proc *Process) Start() {
	select {
	case proc.evCh <- proc.start:
	case <-proc.ctx.Done():
	}
}

func (proc *Process) start() {
	p, err := proc.startProc()
	if err != nil {
		// Report that the process is dead so the monitor routine can restart
		// it.
		proc.dead <- struct{}{}

		proc.j.Write(&EventProcessSpawnError{
			Monitor: proc.monitor,
			Reason:  err.Error(),
		})
		return
	}

	proc.proc = p
	proc.startWaiting()
}

// startWaiting reports the PID to the journal and starts a waiting routine.
func (proc *Process) startWaiting() {
	proc.j.Write(&EventProcessSpawned{
		PID:     proc.proc.PID(),
		Monitor: proc.monitor,
	})

	p := proc.proc

	// Spawn a monitoring goroutine to report to proc.dead.
	go func() {
		status := p.Wait()

		ev := &EventProcessExited{
			PID:      status.PID,
			Monitor:  proc.monitor,
			ExitCode: status.Code,
		}

		if status.Error != nil {
			ev.Error = status.Error.Error()
		}

		// Write to the journal before signaling that the process is dead to
		// ensure that the journal entry gets written.
		proc.j.Write(ev)

		proc.dead <- struct{}{}
	}()
}

// Stop stops the process, if it's running, and waits for the background
// routine to exit. It is safe to call Stop more than once.
func (proc *Process) Stop() error {
	proc.stopOnce.Do(func() {
		proc.cancel()
		proc.stopErr = <-proc.done
	})
	return proc.stopErr
}

func (proc *Process) stop() error {
	if proc.proc == nil {
		// already stopped
		return nil
	}

	if err := proc.proc.Signal(os.Interrupt); err != nil {
		// Try to SIGKILL if we can't SIGINT (looking at you, Windows).
		proc.proc.Kill()
	}

	after := time.NewTimer(proc.WaitTimeout)
	defer after.Stop()

	select {
	case <-after.C:
		// Timeout reached and the program still hasn't exited yet. Send
		// SIGKILL and bail, since there's not much we can do here.
		proc.j.Write(&EventProcessStopTimeout{
			Monitor: proc.monitor,
			PID:     proc.proc.PID(),
		})
		proc.proc.Kill()

		// Wait until the process routine exits.
		<-proc.dead

		return errors.New("timed out waiting for program to exit")

	case <-proc.dead:
		return nil
	}
}

// startMonitor starts a monitoring routine that's in charge of restarting the
// process and handling incoming commands.
func (proc *Process) startMonitor() {
	var start <-chan time.Time // start backoff
	var timer *time.Timer
	var resetTime time.Time // deadline to consider app successfully started

	backoff := -1 // backoff counter

	cleanupTimer := func() {
		if timer == nil {
			return
		}

		timer.Stop()
		timer = nil
		start = nil
	}

	for {
		select {
		case <-proc.ctx.Done():
			proc.done <- proc.stop()
			cleanupTimer()
			return

		case <-start:
			proc.start()
			cleanupTimer()

		case <-proc.dead:
			proc.proc = nil
			cleanupTimer()

			now := time.Now()

			// Check if we're past reset. If yes, then that means the process
			// has started successfully, so we can reset the backoff. If not,
			// then increment backoff and keep trying.
			if now.After(resetTime) {
				backoff = -1
			}

			startDura, resetDura := nextBackoff(proc.RetryBackoff, &backoff)
			resetTime = now.Add(resetDura)
			timer = time.NewTimer(startDura)
			start = timer.C

		case fn := <-proc.evCh:
			fn()
		}
	}
}

func nextBackoff(backoffs []time.Duration, ix *int) (start, reset time.Duration) {
	startIx := *ix
	resetIx := startIx

	if startIx < len(backoffs)-1 {
		startIx++
		resetIx++

		*ix = startIx

		if resetIx < len(backoffs)-2 {
			resetIx++
		}
	}

	return backoffs[startIx], backoffs[resetIx]
}
