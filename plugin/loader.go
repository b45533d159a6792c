package plugin

import (
	"os"
	"path/filepath"
	goplugin "plugin"
	"sort"
	"strings"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/pkg/errors"
)

// DefaultDir is where shared object plugins are installed.
const DefaultDir = "/usr/lib/bodewell/plugins"

// Symbol is the name of the symbol a shared object plugin exports.
const Symbol = "Plugin"

const soExt = ".so"

// Loader resolves plugins from the registry and from shared objects in Dir. It
// implements both Resolver and Lister.
type Loader struct {
	Dir string

	// open loads a shared object; it is replaced in tests.
	open func(path string) (Plugin, error)
}

var (
	_ Resolver = (*Loader)(nil)
	_ Lister   = (*Loader)(nil)
)

// NewLoader creates a loader looking for shared objects in dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir, open: openShared}
}

// Resolve resolves a plugin identifier:
//
//   - a path (anything with a slash or a .so suffix) is opened as a shared
//     object;
//   - a registered name resolves to the registered plugin;
//   - any other name is looked up as <Dir>/<name>.so.
//
// Registry plugins are identified by name, shared objects by absolute path.
func (l *Loader) Resolve(id string) (Resolved, error) {
	if id == "" {
		return Resolved{}, errors.New("empty plugin name")
	}

	if strings.ContainsRune(id, filepath.Separator) || strings.HasSuffix(id, soExt) {
		return l.resolveShared(id)
	}

	if p, ok := registered(id); ok {
		return Resolved{ID: id, Plugin: p}, nil
	}

	if l.Dir != "" {
		path := filepath.Join(l.Dir, id+soExt)
		if _, err := os.Stat(path); err == nil {
			return l.resolveShared(path)
		}
	}

	return Resolved{}, errors.Errorf("cannot find plugin %q", id)
}

func (l *Loader) resolveShared(path string) (Resolved, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return Resolved{}, errors.Wrap(err, "failed to resolve plugin path")
	}

	p, err := l.open(path)
	if err != nil {
		return Resolved{}, errors.Wrapf(err, "failed to load plugin %s", path)
	}

	return Resolved{ID: path, Plugin: p}, nil
}

// List returns the registered plugin names followed by the names of shared
// objects in Dir, without their extension. A missing Dir is not an error.
func (l *Loader) List() ([]string, error) {
	ids := Registered()

	if l.Dir == "" {
		return ids, nil
	}

	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, errors.Wrap(err, "failed to read plugin directory")
	}

	var shared []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, soExt) {
			continue
		}
		shared = append(shared, strings.TrimSuffix(name, soExt))
	}
	sort.Strings(shared)

	return append(ids, shared...), nil
}

// openShared opens a Go shared object and looks up its Plugin symbol, which
// may be either a function or a variable holding one.
func openShared(path string) (Plugin, error) {
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}

	sym, err := so.Lookup(Symbol)
	if err != nil {
		return nil, err
	}

	switch fn := sym.(type) {
	case func(*bodewell.Service) error:
		return fn, nil
	case *func(*bodewell.Service) error:
		return *fn, nil
	case *Plugin:
		return *fn, nil
	default:
		return nil, errors.Errorf("symbol %s has unexpected type %T", Symbol, sym)
	}
}
