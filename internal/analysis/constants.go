// Package analysis recovers basic blocks from EVM bytecode and runs
// abstract interpretation over them until a fixed point is reached.
package analysis

// Constants for analysis operations
const (
	// MaxStackDepth bounds the number of stack slots tracked by CfaState.
	// It matches the VM's stack limit.
	MaxStackDepth = 1024

	// ListingColumn is where annotations start in a formatted listing line.
	ListingColumn = 50

	// MaxStringLength caps how much of a recovered string is kept.
	MaxStringLength = 256
)
