package agentruntime

import "sync"

var (
	mu      sync.RWMutex
	current Runtime
)

// Set injects the process-wide runtime. The host calls this once at startup,
// before the relay accepts connections.
func Set(rt Runtime) {
	mu.Lock()
	defer mu.Unlock()
	current = rt
}

// Get returns the injected runtime. It panics when called before Set: a
// dispatch without a runtime is a wiring bug, not a recoverable condition.
func Get() Runtime {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		panic("agentruntime: Get called before Set")
	}
	return current
}

// Configured reports whether a runtime has been injected.
func Configured() bool {
	mu.RLock()
	defer mu.RUnlock()
	return current != nil
}
