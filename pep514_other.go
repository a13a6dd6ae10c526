//go:build !windows

package pydiscovery

// Only Windows has a PEP-514 registry; elsewhere the scanner sees no roots
// and yields nothing.
func platformRegistryRoots() []registryRoot { return nil }
