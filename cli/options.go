package cli

import (
	"fmt"
	"regexp"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"git.unix.lgbt/diamondburned/bodewell/config"
	"github.com/pkg/errors"
)

// ErrHelp is returned by Parse when --help is given.
var ErrHelp = errors.New("help requested")

// UsageError is a mistake on the command line.
type UsageError struct {
	Message string
}

func (err *UsageError) Error() string { return err.Message }

func usageErrorf(f string, v ...interface{}) error {
	return &UsageError{Message: fmt.Sprintf(f, v...)}
}

// Settings is what the command line asks for.
type Settings struct {
	Verbosity  bodewell.Verbosity
	Debug      bool
	ConfigPath string
	// Logs are log file paths, in the order given.
	Logs []string
	// Plugins are requested plugin identifiers, in the order given.
	Plugins []string
}

// DefaultSettings returns the settings used when no flag is given.
func DefaultSettings() Settings {
	return Settings{
		Verbosity:  bodewell.Normal,
		ConfigPath: config.DefaultPath,
	}
}

// argQueue is a deque of arguments consumed from the front. Combined flags are
// split and pushed back to the front so that they are consumed before any
// argument that followed them.
type argQueue []string

func (q *argQueue) empty() bool { return len(*q) == 0 }

func (q *argQueue) shift() string {
	arg := (*q)[0]
	*q = (*q)[1:]
	return arg
}

func (q *argQueue) unshift(args ...string) {
	*q = append(args[:len(args):len(args)], *q...)
}

var (
	// -vX, -qv...: a flag without argument followed by more flags.
	shortFlags = regexp.MustCompile(`^-[vqX](?s:.)`)
	// -C/path: a flag with its argument glued to it.
	shortFlagArg = regexp.MustCompile(`^-[CPL](?s:.)`)
	// --config=path. Note that --logfile is matched here while the flag
	// itself is spelled --log, so --logfile=path is rejected after the split.
	longFlagArg = regexp.MustCompile(`^(--(?:config|plugin|logfile))=(.*)$`)
)

// Parse parses the arguments, not including the program name. It returns
// ErrHelp if help was requested, or a *UsageError.
func Parse(args []string) (Settings, error) {
	s := DefaultSettings()
	q := argQueue(append([]string(nil), args...))

	value := func(flag string) (string, error) {
		if q.empty() {
			return "", usageErrorf("%s missing argument", flag)
		}
		return q.shift(), nil
	}

	for !q.empty() {
		arg := q.shift()

		switch arg {
		case "--help":
			return s, ErrHelp

		case "-v", "--verbose":
			s.Verbosity = s.Verbosity.Louder()

		case "-q", "--quiet":
			s.Verbosity = s.Verbosity.Quieter()

		case "-X", "--debug":
			s.Debug = true

		case "-C", "--config":
			v, err := value(arg)
			if err != nil {
				return s, err
			}
			s.ConfigPath = v

		case "-P", "--plugin":
			v, err := value(arg)
			if err != nil {
				return s, err
			}
			s.Plugins = append(s.Plugins, v)

		case "-L", "--log":
			v, err := value(arg)
			if err != nil {
				return s, err
			}
			s.Logs = append(s.Logs, v)

		default:
			switch {
			case shortFlags.MatchString(arg):
				q.unshift(arg[:2], "-"+arg[2:])
			case shortFlagArg.MatchString(arg):
				q.unshift(arg[:2], arg[2:])
			case longFlagArg.MatchString(arg):
				m := longFlagArg.FindStringSubmatch(arg)
				q.unshift(m[1], m[2])
			default:
				return s, usageErrorf("unrecognized option %s", arg)
			}
		}
	}

	return s, nil
}
