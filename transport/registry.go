package transport

import (
	"fmt"
	"sync"
)

// Factory builds a Transport with its default options. Concrete transports
// register themselves under a name (e.g. "amqp", "kafka", "nats") so an
// operator can select one via the COWORKERS_TRANSPORT environment variable
// without the core importing any broker client library directly.
type Factory func() Transport

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named transport factory. Transport packages call this
// from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates a transport by name using the registered factory.
func Create(name string) (Transport, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("coworkers: unknown transport %q", name)
	}
	return f(), nil
}

// Names returns the currently registered transport names, in no
// particular order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	return names
}
