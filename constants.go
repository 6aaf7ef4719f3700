package happycache

import "github.com/hashbrowncipher/happycache/internal/constants"

// Re-exported tunables for library consumers.
const (
	// DefaultMapName is the map file used when no path is given.
	DefaultMapName = constants.DefaultMapName

	// MaxAdvisePages bounds a single read-ahead request.
	MaxAdvisePages = constants.MaxAdvisePages

	// WorkersPerCPU scales the default worker pools.
	WorkersPerCPU = constants.WorkersPerCPU
)
