package exec

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const exitUnset = -2

// idleProcess is a Process that never runs anything. It exits with code 0
// after its lifetime elapses or when it is interrupted, and with -1 when
// killed.
type idleProcess struct {
	pid   int
	grace time.Duration

	once  sync.Once
	stop  chan struct{}
	timer *time.Timer
	exit  atomic.Int32
}

// NewIdleProcess creates a process that only idles for the given lifetime. It
// is used for testing. If grace is larger than 0, an interrupted process takes
// that long to exit, unless it is killed in between.
func NewIdleProcess(lifetime, grace time.Duration, pid int) Process {
	p := &idleProcess{
		pid:   pid,
		grace: grace,
		stop:  make(chan struct{}),
		timer: time.NewTimer(lifetime),
	}
	p.exit.Store(exitUnset)
	return p
}

func (p *idleProcess) PID() int { return p.pid }

func (p *idleProcess) Signal(sig os.Signal) error {
	var code int32

	switch sig {
	case os.Interrupt:
		code = 0
	case os.Kill:
		code = -1
	default:
		return errors.New("unknown signal")
	}

	go func() {
		if p.grace > 0 && sig != os.Kill {
			select {
			case <-time.After(p.grace):
			case <-p.stop:
				return
			}
		}

		// Only the first signal to land decides the exit code.
		if !p.exit.CompareAndSwap(exitUnset, code) {
			return
		}

		close(p.stop)
		p.timer.Stop()
	}()

	return nil
}

func (p *idleProcess) Kill() error {
	return p.Signal(os.Kill)
}

func (p *idleProcess) Wait() ExitStatus {
	p.once.Do(func() {
		select {
		case <-p.stop:
		case <-p.timer.C:
			p.exit.CompareAndSwap(exitUnset, 0)
		}
	})

	return ExitStatus{
		PID:  p.pid,
		Code: int(p.exit.Load()),
	}
}
