package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/pkg/errors"
)

// Event describes the JSON structure of an event to be written.
type Event struct {
	Time  time.Time      `json:"time"`
	Type  string         `json:"type"`
	Level bodewell.Level `json:"level"`
	Data  bodewell.Event `json:"data"`
}

// Writer is a simple journaler that writes line-delimited JSON events into the
// writer.
type Writer struct {
	mutex sync.Mutex
	w     io.Writer
}

var _ bodewell.Journaler = (*Writer)(nil)

// NewWriter creates a new journal writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes the given event into the writer. Writes are concurrently safe
// and are atomic.
func (l *Writer) Write(ev bodewell.Event) error {
	b, err := marshalEvent(ev, time.Now())
	if err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, err := l.w.Write(b); err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}

// marshalEvent encodes the event as a single JSON line.
func marshalEvent(ev bodewell.Event, now time.Time) ([]byte, error) {
	evJSON := Event{
		Time:  now,
		Type:  ev.Type(),
		Level: ev.Level(),
		Data:  ev,
	}

	buf := bytes.Buffer{}
	buf.Grow(512)

	// Encode appends the trailing new line.
	if err := json.NewEncoder(&buf).Encode(evJSON); err != nil {
		return nil, errors.Wrap(err, "failed to marshal event")
	}

	return buf.Bytes(), nil
}

// Decode parses a single line written by Writer back into its event.
func Decode(line []byte) (bodewell.Event, time.Time, error) {
	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "failed to decode JSON")
	}

	event := bodewell.NewEvent(rawEvent.Type)
	if event == nil {
		return nil, time.Time{}, errors.Errorf("unknown event %q", rawEvent.Type)
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "failed to decode event data")
	}

	return event, rawEvent.Time, nil
}
