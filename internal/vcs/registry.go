package vcs

import (
	"fmt"
	"sync"
)

// Constructor creates a history store instance from options.
// Implementations register themselves with the registry using Register().
type Constructor func(opts Options) (HistoryStore, error)

// registry maps backend types to their constructors
var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a history store constructor.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, func(opts vcs.Options) (vcs.HistoryStore, error) {
//	        return New(opts)
//	    })
//	}
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

// getConstructor retrieves the constructor for a backend type.
// Returns nil if the type is not registered.
func getConstructor(t Type) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// IsRegistered returns true if a constructor is registered for the given type.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// RegisteredTypes returns all registered backend types.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// Open builds a store of the given type. The store is not initialized;
// call Initialize or let the first Commit do it lazily.
func Open(t Type, opts Options) (HistoryStore, error) {
	constructor := getConstructor(t)
	if constructor == nil {
		return nil, fmt.Errorf("vcs: no backend registered for type %q", t)
	}
	if opts.WorkTree == "" {
		return nil, fmt.Errorf("vcs: work tree is required")
	}
	if opts.StorePath == "" {
		return nil, fmt.Errorf("vcs: store path is required")
	}
	return constructor(opts)
}
