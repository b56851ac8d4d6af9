// Package execnode provides execution layer capability definitions and registry.
// It lets the driver adapt to how different nodes sign, finalize and serve
// receipts without scattered conditionals on node names.
package execnode

// ExecutionLayerCapabilities defines what features an execution layer supports.
type ExecutionLayerCapabilities struct {
	// Name is the canonical identifier for this execution layer (e.g., "geth", "cdk-erigon")
	Name string

	// RequiresLegacyTx indicates the node only accepts type 0 transactions.
	RequiresLegacyTx bool

	// SupportsFinalizedTag indicates eth_getBlockByNumber("finalized") is served.
	// When false, a block counts as finalized once FinalityDepth blocks are built on top of it.
	SupportsFinalizedTag bool

	// FinalityDepth is the confirmation depth used when the finalized tag is unavailable.
	// Zero means the sequencer's latest block is final.
	FinalityDepth uint64

	// SupportsBlockReceipts indicates eth_getBlockReceipts is available.
	SupportsBlockReceipts bool
}

// String returns the canonical name of the execution layer.
func (c *ExecutionLayerCapabilities) String() string {
	if c == nil {
		return "unknown"
	}
	return c.Name
}
