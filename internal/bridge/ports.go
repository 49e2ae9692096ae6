package bridge

import (
	"fmt"
	"sort"
	"sync"

	"github.com/glassboxhq/glassbox/internal/devserver"
)

// PortRegistry maps virtual ports to their request handlers. It is owned by
// the bridge instance; construction and teardown follow the bridge's
// lifecycle rather than process lifetime.
type PortRegistry struct {
	mu    sync.RWMutex
	ports map[int]devserver.Handler
}

// NewPortRegistry builds an empty registry.
func NewPortRegistry() *PortRegistry {
	return &PortRegistry{ports: make(map[int]devserver.Handler)}
}

// Register binds a handler to a port. Rebinding an occupied port is an
// error; the caller must Unregister first.
func (r *PortRegistry) Register(port int, h devserver.Handler) error {
	if h == nil {
		return fmt.Errorf("bridge: nil handler for port %d", port)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; ok {
		return fmt.Errorf("bridge: port %d already registered", port)
	}
	r.ports[port] = h
	return nil
}

// Unregister releases a port. Unknown ports are a no-op.
func (r *PortRegistry) Unregister(port int) {
	r.mu.Lock()
	delete(r.ports, port)
	r.mu.Unlock()
}

// Lookup returns the handler bound to port.
func (r *PortRegistry) Lookup(port int) (devserver.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.ports[port]
	return h, ok
}

// Ports lists registered ports in ascending order.
func (r *PortRegistry) Ports() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.ports))
	for p := range r.ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
