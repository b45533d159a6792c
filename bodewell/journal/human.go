package journal

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// HumanWriter is a journaler that writes events as human-readable lines. It is
// meant for the console.
type HumanWriter struct {
	log zerolog.Logger
}

var _ bodewell.Journaler = (*HumanWriter)(nil)

// NewHumanWriter creates a new HumanWriter. Colors are enabled only if w is a
// terminal.
func NewHumanWriter(w io.Writer) *HumanWriter {
	return newHumanWriter(w, !isTerminal(w), true)
}

func newHumanWriter(w io.Writer, noColor, timestamp bool) *HumanWriter {
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.DateTime,
	}
	if !timestamp {
		out.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	return &HumanWriter{
		log: zerolog.New(out).Level(zerolog.DebugLevel).With().Timestamp().Logger(),
	}
}

// Write writes the event as one line. Free-form log events print their
// message; every other event prints its type followed by its fields.
func (h *HumanWriter) Write(ev bodewell.Event) error {
	e := h.log.WithLevel(zerologLevel(ev.Level()))
	if e == nil {
		return nil
	}

	if l, ok := ev.(*bodewell.EventLog); ok {
		e.Msg(l.Message)
		return nil
	}

	fields, err := eventFields(ev)
	if err != nil {
		return err
	}

	e.Fields(fields).Msg(ev.Type())
	return nil
}

func eventFields(ev bodewell.Event) (map[string]interface{}, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event fields")
	}

	return fields, nil
}

func zerologLevel(lvl bodewell.Level) zerolog.Level {
	switch lvl {
	case bodewell.LevelDebug, bodewell.LevelVerbose:
		return zerolog.DebugLevel
	case bodewell.LevelInfo:
		return zerolog.InfoLevel
	case bodewell.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}
