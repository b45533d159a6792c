// Package plugin resolves bodewell plugins and enables them on a service.
//
// A plugin is a function that receives the service and may extend it, usually
// by registering monitor kinds. Plugins come from two places: packages that
// call Register from their init function and are linked into the binary, and
// Go shared objects (-buildmode=plugin) exporting a Plugin symbol.
//
// Every plugin is identified by its resolved identity, not by the name it was
// requested with, so the same plugin requested twice or both requested and
// discovered is only enabled once.
package plugin

import (
	"regexp"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"github.com/pkg/errors"
)

// Plugin initializes a plugin against the service.
type Plugin func(*bodewell.Service) error

// Resolved is a plugin with its stable identity.
type Resolved struct {
	ID     string
	Plugin Plugin
}

// Resolver maps a plugin identifier to a plugin.
type Resolver interface {
	Resolve(id string) (Resolved, error)
}

// Lister lists the identifiers of installed plugins.
type Lister interface {
	List() ([]string, error)
}

// discoverable matches the names of plugins that are enabled without being
// requested.
var discoverable = regexp.MustCompile(`^bodewell-plugin-.+`)

// Discover returns the installed plugin identifiers that follow the
// bodewell-plugin-* naming convention.
func Discover(l Lister) ([]string, error) {
	ids, err := l.List()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list plugins")
	}

	var found []string
	for _, id := range ids {
		if discoverable.MatchString(id) {
			found = append(found, id)
		}
	}

	return found, nil
}

// Set is a set of plugins keyed by identity. It keeps insertion order.
type Set struct {
	order   []string
	plugins map[string]Plugin
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{plugins: make(map[string]Plugin)}
}

// Add adds the plugin unless one with the same identity is already in the
// set. It returns true if the plugin was added.
func (s *Set) Add(r Resolved) bool {
	if _, ok := s.plugins[r.ID]; ok {
		return false
	}

	s.order = append(s.order, r.ID)
	s.plugins[r.ID] = r.Plugin
	return true
}

// IDs returns the identities in insertion order.
func (s *Set) IDs() []string {
	return s.order
}

// Enable invokes every plugin once, in insertion order. It stops at the first
// plugin that fails.
func (s *Set) Enable(svc *bodewell.Service) error {
	for _, id := range s.order {
		if err := s.plugins[id](svc); err != nil {
			return errors.Wrapf(err, "plugin %s", id)
		}

		svc.Write(&bodewell.EventPluginEnabled{ID: id})
	}

	return nil
}

// Load resolves the requested plugins, then every discovered plugin, into one
// set. Requested plugins come first. Any resolution failure fails the whole
// load.
func Load(requested []string, r Resolver, l Lister) (*Set, error) {
	set := NewSet()

	for _, id := range requested {
		p, err := r.Resolve(id)
		if err != nil {
			return nil, err
		}
		set.Add(p)
	}

	discovered, err := Discover(l)
	if err != nil {
		return nil, err
	}

	for _, id := range discovered {
		p, err := r.Resolve(id)
		if err != nil {
			return nil, err
		}
		set.Add(p)
	}

	return set, nil
}
