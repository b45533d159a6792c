package plugin

import (
	"sort"
	"sync"
)

var (
	registryMutex sync.RWMutex
	registry      = make(map[string]Plugin)
)

// Register makes a plugin available under the given name. It is meant to be
// called from the init function of the plugin's package. Register panics if
// the plugin is nil or the name is taken.
func Register(name string, p Plugin) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if p == nil {
		panic("plugin: Register plugin is nil")
	}
	if _, dup := registry[name]; dup {
		panic("plugin: Register called twice for plugin " + name)
	}

	registry[name] = p
}

// Registered returns the sorted names of registered plugins.
func Registered() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func registered(name string) (Plugin, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	p, ok := registry[name]
	return p, ok
}
