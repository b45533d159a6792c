package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"git.unix.lgbt/diamondburned/bodewell/config"
)

// Usage writes the help text for the given program name.
func Usage(w io.Writer, program string) {
	f := func(f string, v ...interface{}) {
		fmt.Fprintf(w, f, v...)
	}

	f("Usage: %s [-vqX] [--config=<path>] [--logfile=<path>] [--plugin=<pkg> ...]\n", filepath.Base(program))
	f(" -C --config=<path>  config path (default %s)\n", config.DefaultPath)
	f(" -X --debug          debug mode\n")
	f("    --help           show this help\n")
	f(" -L --logfile=<path> write to log file\n")
	f(" -P --plugin=<pkg>   load bodewell plugin\n")
	f(" -q --quiet          show less output\n")
	f(" -v --verbose        show more output\n")
}
