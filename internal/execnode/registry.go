package execnode

import (
	"sort"
	"sync"
)

// Registry holds registered execution layer capability definitions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ExecutionLayerCapabilities
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*ExecutionLayerCapabilities),
	}
}

// Register adds or updates an execution layer capability definition.
func (r *Registry) Register(caps *ExecutionLayerCapabilities) {
	if caps == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[caps.Name] = caps
}

// Get retrieves capabilities by name. Returns nil if not found.
func (r *Registry) Get(name string) *ExecutionLayerCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names returns all registered execution layer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry pre-populated with built-in execution layers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(GethCapabilities())
	r.Register(RethCapabilities())
	r.Register(OpRethCapabilities())
	r.Register(GravityRethCapabilities())
	r.Register(CDKErigonCapabilities())
	r.Register(AnvilCapabilities())
	return r
}

// GethCapabilities returns the capabilities for go-ethereum.
func GethCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                  "geth",
		SupportsFinalizedTag:  true,
		SupportsBlockReceipts: true,
	}
}

// RethCapabilities returns the capabilities for reth.
func RethCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                  "reth",
		SupportsFinalizedTag:  true,
		SupportsBlockReceipts: true,
	}
}

// OpRethCapabilities returns the capabilities for op-reth (same RPC surface as reth).
func OpRethCapabilities() *ExecutionLayerCapabilities {
	caps := RethCapabilities()
	caps.Name = "op-reth"
	return caps
}

// GravityRethCapabilities returns the capabilities for gravity-reth (standalone sequencer).
// Its latest block is final.
func GravityRethCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                  "gravity-reth",
		SupportsFinalizedTag:  false,
		FinalityDepth:         0,
		SupportsBlockReceipts: true,
	}
}

// CDKErigonCapabilities returns the capabilities for cdk-erigon (standalone sequencer).
func CDKErigonCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                  "cdk-erigon",
		RequiresLegacyTx:      true,
		SupportsFinalizedTag:  false,
		FinalityDepth:         0,
		SupportsBlockReceipts: false,
	}
}

// AnvilCapabilities returns the capabilities for a local anvil devnet.
func AnvilCapabilities() *ExecutionLayerCapabilities {
	return &ExecutionLayerCapabilities{
		Name:                  "anvil",
		SupportsFinalizedTag:  true,
		SupportsBlockReceipts: true,
	}
}
