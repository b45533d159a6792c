package journal

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []bodewell.Event {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []bodewell.Event

	s := bufio.NewScanner(f)
	for s.Scan() {
		ev, _, err := Decode(s.Bytes())
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.NoError(t, s.Err())

	return events
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(&bodewell.EventMonitorRegistered{Name: "disk", Kind: "exec"}))
	require.NoError(t, w.Write(&bodewell.EventLog{Severity: bodewell.LevelWarn, Message: "hi"}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"monitor registered"`)
	assert.Contains(t, lines[0], `"level":"verbose"`)

	ev, _, err := Decode([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, &bodewell.EventLog{Severity: bodewell.LevelWarn, Message: "hi"}, ev)
}

func TestDecodeUnknown(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":"nope","data":{}}`))
	assert.EqualError(t, err, `unknown event "nope"`)
}

func TestHumanWriter(t *testing.T) {
	var buf bytes.Buffer
	h := newHumanWriter(&buf, true, false)

	require.NoError(t, h.Write(&bodewell.EventLog{
		Severity: bodewell.LevelWarn,
		Message:  "could not find /etc/bodewell/bodewell.config",
	}))
	require.NoError(t, h.Write(&bodewell.EventMonitorRegistered{Name: "disk", Kind: "exec"}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	assert.Contains(t, lines[0], "WRN")
	assert.Contains(t, lines[0], "could not find /etc/bodewell/bodewell.config")

	assert.Contains(t, lines[1], "DBG")
	assert.Contains(t, lines[1], "monitor registered")
	assert.Contains(t, lines[1], "name=disk")
	assert.Contains(t, lines[1], "kind=exec")
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "bodewell.log")

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, path, f.Path())

	require.NoError(t, f.Write(&bodewell.EventServiceStarted{ID: "a", Monitors: 1}))

	t.Run("locked elsewhere", func(t *testing.T) {
		_, err := OpenFile(path)
		assert.ErrorIs(t, err, ErrLockedElsewhere)
	})

	t.Run("release reopens", func(t *testing.T) {
		require.NoError(t, f.Release())
		require.NoError(t, f.Release())

		// The lock is free while released.
		other, err := OpenFile(path)
		require.NoError(t, err)
		require.NoError(t, other.Close())

		require.NoError(t, f.Write(&bodewell.EventServiceStopped{ID: "a"}))

		assert.Equal(t, []bodewell.Event{
			&bodewell.EventServiceStarted{ID: "a", Monitors: 1},
			&bodewell.EventServiceStopped{ID: "a"},
		}, readEvents(t, path))
	})

	t.Run("close", func(t *testing.T) {
		require.NoError(t, f.Close())
		require.NoError(t, f.Close())
		assert.ErrorIs(t, f.Write(&bodewell.EventServiceStopped{}), ErrClosed)
	})
}

func TestFileRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bodewell.log")
	rotated := path + ".1"

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Write(&bodewell.EventServiceStarted{ID: "old"}))
	require.NoError(t, os.Rename(path, rotated))

	// The watcher releases the file asynchronously.
	require.Eventually(t, func() bool {
		f.mutex.Lock()
		defer f.mutex.Unlock()
		return f.f == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.Write(&bodewell.EventServiceStopped{ID: "new"}))

	assert.Equal(t, []bodewell.Event{&bodewell.EventServiceStarted{ID: "old"}}, readEvents(t, rotated))
	assert.Equal(t, []bodewell.Event{&bodewell.EventServiceStopped{ID: "new"}}, readEvents(t, path))
}

func TestIsRotation(t *testing.T) {
	const path = "/var/log/bodewell.log"

	assert.True(t, isRotation(fsnotify.Event{Name: path, Op: fsnotify.Rename}, path))
	assert.True(t, isRotation(fsnotify.Event{Name: path, Op: fsnotify.Remove}, path))
	assert.False(t, isRotation(fsnotify.Event{Name: path, Op: fsnotify.Write}, path))
	assert.False(t, isRotation(fsnotify.Event{Name: "/var/log/other.log", Op: fsnotify.Remove}, path))
}
