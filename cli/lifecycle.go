package cli

import (
	"context"
	"os"
	"os/signal"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"golang.org/x/sys/unix"
)

// notifySignals subscribes to SIGINT, SIGTERM and SIGHUP.
func notifySignals() (<-chan os.Signal, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM, unix.SIGHUP)

	return sigs, func() { signal.Stop(sigs) }
}

// Serve drives a started service from signals until it is told to stop.
// SIGINT and SIGTERM stop the service, as does canceling ctx. SIGHUP releases
// the log files so that they are reopened on the next write.
func Serve(ctx context.Context, svc *bodewell.Service, sigs <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			svc.Info("context done, stopping")
			return svc.Stop()

		case sig := <-sigs:
			switch sig {
			case unix.SIGHUP:
				if err := svc.CloseLog(); err != nil {
					svc.Warn("failed to close logs: %v", err)
				}

			case os.Interrupt, unix.SIGTERM:
				svc.Info("received %v, stopping", sig)
				return svc.Stop()

			default:
				svc.Debug("ignoring signal %v", sig)
			}
		}
	}
}
