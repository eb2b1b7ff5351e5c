package broker

import "sync"

var (
	defaultMu     sync.RWMutex
	defaultBroker *Broker
)

// SetDefault installs b as the process-wide broker used by agent
// adapters.
func SetDefault(b *Broker) {
	defaultMu.Lock()
	defaultBroker = b
	defaultMu.Unlock()
}

// Default returns the process-wide broker, or nil if none was set.
func Default() *Broker {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultBroker
}
