package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MonitorNamespace is the top-level key holding monitor definitions.
const MonitorNamespace = "monitor"

// Definition is one monitor declared in the configuration.
type Definition struct {
	Name   string
	Config interface{}
}

// DefinitionSet is the expanded configuration. Monitors are kept in the order
// they appear in the file.
type DefinitionSet struct {
	root     *Tree
	monitors []Definition
}

// Monitors returns the monitor definitions in file order.
func (d *DefinitionSet) Monitors() []Definition {
	if d == nil {
		return nil
	}
	return d.monitors
}

// Root returns the whole expanded document.
func (d *DefinitionSet) Root() *Tree {
	if d == nil || d.root == nil {
		return NewTree()
	}
	return d.root
}

// Empty returns an empty definition set.
func Empty() *DefinitionSet {
	return &DefinitionSet{root: NewTree()}
}

// Expand expands dotted keys into nested mappings, substitutes ${path}
// placeholders and extracts the monitor namespace.
func Expand(raw *Raw) (*DefinitionSet, error) {
	root, err := expandTree(raw.Root())
	if err != nil {
		return nil, err
	}

	r := resolver{root: root, resolving: map[string]bool{}}

	v, err := r.value(root)
	if err != nil {
		return nil, err
	}
	root = v.(*Tree)

	set := &DefinitionSet{root: root}

	ns, ok := root.Get(MonitorNamespace)
	if !ok || ns == nil {
		return set, nil
	}

	monitors, ok := ns.(*Tree)
	if !ok {
		return nil, errors.Errorf("%q must be a mapping, got %T", MonitorNamespace, ns)
	}

	set.monitors = make([]Definition, 0, monitors.Len())
	for _, name := range monitors.Keys() {
		v, _ := monitors.Get(name)
		set.monitors = append(set.monitors, Definition{Name: name, Config: plain(v)})
	}

	return set, nil
}

// expandTree returns a new tree with every dotted key split into nested
// mappings.
func expandTree(t *Tree) (*Tree, error) {
	out := NewTree()

	for _, key := range t.Keys() {
		v, _ := t.Get(key)

		v, err := expandValue(v)
		if err != nil {
			return nil, err
		}

		if err := insert(out, strings.Split(key, "."), v, key); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func expandValue(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case *Tree:
		return expandTree(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			e, err := expandValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	default:
		return v, nil
	}
}

// insert puts v at path inside t, merging mappings that meet at the same
// path.
func insert(t *Tree, path []string, v interface{}, key string) error {
	for i, k := range path {
		if k == "" {
			return errors.Errorf("key %q: empty path segment", key)
		}

		existing, ok := t.Get(k)

		if i == len(path)-1 {
			if !ok {
				t.Set(k, v)
				return nil
			}

			dst, dstTree := existing.(*Tree)
			src, srcTree := v.(*Tree)
			if !dstTree || !srcTree {
				return errors.Errorf("key %q: conflicting definitions", key)
			}

			return merge(dst, src, key)
		}

		if !ok {
			sub := NewTree()
			t.Set(k, sub)
			t = sub
			continue
		}

		sub, isTree := existing.(*Tree)
		if !isTree {
			return errors.Errorf("key %q: %q is not a mapping", key, strings.Join(path[:i+1], "."))
		}
		t = sub
	}

	return nil
}

func merge(dst, src *Tree, key string) error {
	for _, k := range src.Keys() {
		v, _ := src.Get(k)
		if err := insert(dst, []string{k}, v, key+"."+k); err != nil {
			return err
		}
	}
	return nil
}

// resolver substitutes ${path} placeholders. Placeholders inside referenced
// values are resolved first; resolving tracks the paths in progress to catch
// cycles.
type resolver struct {
	root      *Tree
	resolving map[string]bool
}

func (r *resolver) value(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case *Tree:
		out := NewTree()
		for _, k := range v.Keys() {
			e, _ := v.Get(k)
			e, err := r.value(e)
			if err != nil {
				return nil, err
			}
			out.Set(k, e)
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			e, err := r.value(e)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil

	case string:
		return r.expand(v)

	default:
		return v, nil
	}
}

// expand substitutes placeholders in s. A string that is exactly one
// placeholder takes the referenced value with its type.
func (r *resolver) expand(s string) (interface{}, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	if strings.HasPrefix(s, "${") && strings.Index(s, "}") == len(s)-1 {
		return r.lookup(s[2 : len(s)-1])
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			b.WriteByte(s[i])
			continue
		}

		switch {
		case i+1 < len(s) && s[i+1] == '$':
			b.WriteByte('$')
			i++

		case i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return nil, errors.Errorf("unterminated placeholder in %q", s)
			}

			v, err := r.lookup(s[i+2 : i+2+end])
			if err != nil {
				return nil, err
			}

			fmt.Fprint(&b, v)
			i += 2 + end

		default:
			b.WriteByte('$')
		}
	}

	return b.String(), nil
}

func (r *resolver) lookup(path string) (interface{}, error) {
	if path == "" {
		return nil, errors.New("empty placeholder")
	}

	if r.resolving[path] {
		return nil, errors.Errorf("placeholder cycle at ${%s}", path)
	}

	v, ok := r.root.Lookup(strings.Split(path, "."))
	if !ok {
		return nil, errors.Errorf("undefined placeholder ${%s}", path)
	}

	switch v.(type) {
	case *Tree, []interface{}:
		return nil, errors.Errorf("placeholder ${%s} is not a scalar", path)
	}

	r.resolving[path] = true
	defer delete(r.resolving, path)

	if s, ok := v.(string); ok {
		return r.expand(s)
	}

	return v, nil
}
