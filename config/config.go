// Package config loads the bodewell configuration file and expands it into the
// set of monitor definitions.
//
// The file is YAML. Keys may be dotted to address nested mappings, and string
// values may refer to other values with ${dotted.path} placeholders:
//
//	vars.root: /srv
//	monitor:
//	  disk:
//	    command: [df, ${vars.root}]
//	monitor.cpu.command: uptime
package config

import (
	"context"
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration path used when none is given.
const DefaultPath = "/etc/bodewell/bodewell.config"

// ErrNotFound is returned by Load if the file does not exist.
var ErrNotFound = errors.New("config not found")

// Raw is a loaded but not yet expanded configuration document.
type Raw struct {
	root *Tree
}

// Root returns the top-level mapping of the document.
func (r *Raw) Root() *Tree {
	if r == nil || r.root == nil {
		return NewTree()
	}
	return r.root
}

// Load reads and parses the file at path. Use errors.Is(err, ErrNotFound) to
// tell a missing file apart from other failures.
func Load(ctx context.Context, path string) (*Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.Wrap(err, "failed to read config")
	}

	raw, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	return raw, nil
}

// Parse parses a configuration document. An empty document yields an empty
// configuration.
func Parse(b []byte) (*Raw, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid YAML")
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		return &Raw{root: NewTree()}, nil
	}

	v, err := fromNode(doc.Content[0])
	if err != nil {
		return nil, err
	}

	switch v := v.(type) {
	case *Tree:
		return &Raw{root: v}, nil
	case nil:
		return &Raw{root: NewTree()}, nil
	default:
		return nil, errors.Errorf("line %d: document must be a mapping", doc.Content[0].Line)
	}
}

// fromNode converts a YAML node into a *Tree, a []interface{} or a scalar.
func fromNode(n *yaml.Node) (interface{}, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return fromNode(n.Alias)

	case yaml.MappingNode:
		t := NewTree()

		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]

			// Merge keys (<<) are resolved by yaml.v3 only when decoding into
			// Go values, so they're not supported here.
			if k.Kind != yaml.ScalarNode || k.Tag == "!!merge" {
				return nil, errors.Errorf("line %d: unsupported mapping key", k.Line)
			}

			if _, dup := t.values[k.Value]; dup {
				return nil, errors.Errorf("line %d: duplicate key %q", k.Line, k.Value)
			}

			val, err := fromNode(v)
			if err != nil {
				return nil, err
			}

			t.Set(k.Value, val)
		}

		return t, nil

	case yaml.SequenceNode:
		seq := make([]interface{}, len(n.Content))

		for i, c := range n.Content {
			val, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			seq[i] = val
		}

		return seq, nil

	case yaml.ScalarNode:
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return nil, errors.Wrapf(err, "line %d", n.Line)
		}
		return v, nil

	default:
		return nil, errors.Errorf("line %d: unexpected node", n.Line)
	}
}
