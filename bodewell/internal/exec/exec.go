// Package exec provides an abstraction around package os' Process
// implementation for easier testing.
package exec

import (
	"os"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Process describes a command process.
type Process interface {
	PID() int
	Signal(os.Signal) error
	Kill() error
	Wait() ExitStatus
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID   int
	Code  int // -1 for interrupt
	Error error
}

type process struct {
	*os.Process
}

var _ Process = process{}

// StartProcess creates a new command process on the system. The first element
// of argv is resolved against $PATH if it is not a path.
func StartProcess(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	path, err := lookPath(argv[0])
	if err != nil {
		return nil, err
	}

	// Lock this goroutine to the OS thread for Pdeathsig.
	// See https://github.com/golang/go/issues/27505.
	runtime.LockOSThread()

	// Linux-only: we need to set the current PID as the subreaper to prevent
	// the processes we're spawning from disowning itself, because we might
	// accidentally spawn multiple instances of it while thinking it's dead.
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		runtime.UnlockOSThread()
		return nil, errors.Wrap(err, "failed to set subreaper")
	}

	p, err := os.StartProcess(path, argv, &os.ProcAttr{
		Files: []*os.File{nil, os.Stdout, os.Stderr},
		// Linux-only: we need the child to die when we do, because it's the
		// next best thing we can do that doesn't involve reparenting orphaned
		// children magic.
		Sys: &syscall.SysProcAttr{Pdeathsig: unix.SIGTERM},
	})
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	return process{p}, nil
}

func (proc process) PID() int {
	return proc.Pid
}

// Wait waits for the process to exit.
func (proc process) Wait() ExitStatus {
	s, err := proc.Process.Wait()
	runtime.UnlockOSThread()

	code := -1
	if s != nil {
		code = s.ExitCode()
	}

	return ExitStatus{
		PID:   proc.Pid,
		Code:  code,
		Error: err,
	}
}
