//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// VirtualLock is per-region and capped by the working set minimum,
	// which does not cover enclave allocations reliably
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
