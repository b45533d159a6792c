package config

// Tree is a mapping that remembers the order its keys were first set in.
// Values are *Tree, []interface{} or scalars.
type Tree struct {
	keys   []string
	values map[string]interface{}
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{values: make(map[string]interface{})}
}

// Keys returns the keys in insertion order.
func (t *Tree) Keys() []string { return t.keys }

// Len returns the number of keys.
func (t *Tree) Len() int { return len(t.keys) }

// Get returns the value at key.
func (t *Tree) Get(key string) (interface{}, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Set sets the value at key. Overwriting a key keeps its position.
func (t *Tree) Set(key string, v interface{}) {
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = v
}

// Lookup walks the tree along the given path.
func (t *Tree) Lookup(path []string) (interface{}, bool) {
	var v interface{} = t

	for _, key := range path {
		sub, ok := v.(*Tree)
		if !ok {
			return nil, false
		}

		v, ok = sub.values[key]
		if !ok {
			return nil, false
		}
	}

	return v, true
}

// Plain converts the tree into plain Go maps, losing key order.
func (t *Tree) Plain() map[string]interface{} {
	m := make(map[string]interface{}, len(t.keys))
	for _, k := range t.keys {
		m[k] = plain(t.values[k])
	}
	return m
}

func plain(v interface{}) interface{} {
	switch v := v.(type) {
	case *Tree:
		return v.Plain()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}
