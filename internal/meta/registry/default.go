package registry

import (
	"sync"
)

var (
	providersMu sync.Mutex
	discovered  []Provider

	defaultMu  sync.Mutex
	defaultReg *Registry
)

// RegisterProvider makes a provider discoverable by Default. It is meant to
// be called from init functions of packages that contribute types, the same
// way database drivers register themselves with database/sql.
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	discovered = append(discovered, p)
}

// DiscoveredProviders returns the providers registered so far.
func DiscoveredProviders() []Provider {
	providersMu.Lock()
	defer providersMu.Unlock()
	return append([]Provider(nil), discovered...)
}

// Default returns the process-wide registry, creating it over all discovered
// providers on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultReg == nil {
		defaultReg = New(WithProviders(DiscoveredProviders()...))
	}
	return defaultReg
}

// SetDefault replaces the process-wide registry and returns the previous one.
func SetDefault(r *Registry) *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	prev := defaultReg
	defaultReg = r
	return prev
}

// ResetDefault drops the process-wide registry so the next Default call
// rebuilds it.
func ResetDefault() {
	SetDefault(nil)
}
