package cli

import (
	"context"
	"os"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeLogFile struct {
	memJournal
	released chan struct{}
	closed   int
}

func (f *fakeLogFile) Path() string { return "/var/log/bodewell.log" }

func (f *fakeLogFile) Release() error {
	f.released <- struct{}{}
	return nil
}

func (f *fakeLogFile) Close() error {
	f.closed++
	return nil
}

func startService(t *testing.T) (*bodewell.Service, *fakeLogFile) {
	t.Helper()

	log := &fakeLogFile{released: make(chan struct{}, 4)}

	svc := bodewell.New(bodewell.Options{
		OpenLog: func(string) (bodewell.LogFile, error) { return log, nil },
	})
	svc.SetVerbosity(bodewell.Verbose)
	require.NoError(t, svc.AttachLog(log.Path()))
	require.NoError(t, svc.Start(context.Background()))

	return svc, log
}

func serve(ctx context.Context, svc *bodewell.Service, sigs <-chan os.Signal) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, svc, sigs) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Serve")
		return nil
	}
}

func TestServeSignals(t *testing.T) {
	svc, log := startService(t)

	sigs := make(chan os.Signal)
	done := serve(context.Background(), svc, sigs)

	sigs <- unix.SIGHUP

	select {
	case <-log.released:
	case <-time.After(5 * time.Second):
		t.Fatal("log was not released after SIGHUP")
	}

	sigs <- os.Interrupt
	require.NoError(t, wait(t, done))

	assert.Len(t, log.released, 0)
	assert.Equal(t, 1, log.closed)
	assert.Equal(t, 1, log.count(typeLogClosed))
	assert.Equal(t, 1, log.count(typeServiceStopped))

	// The service is stopped exactly once.
	assert.ErrorIs(t, svc.Stop(), bodewell.ErrNotRunning)
}

func TestServeTerminate(t *testing.T) {
	svc, log := startService(t)

	sigs := make(chan os.Signal, 1)
	sigs <- unix.SIGTERM

	require.NoError(t, wait(t, serve(context.Background(), svc, sigs)))
	assert.Equal(t, 1, log.count(typeServiceStopped))
	assert.Equal(t, 0, log.count(typeLogClosed))
}

func TestServeContext(t *testing.T) {
	svc, log := startService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, svc, make(chan os.Signal))
	cancel()

	require.NoError(t, wait(t, done))
	assert.Equal(t, 1, log.count(typeServiceStopped))
}
