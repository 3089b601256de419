package keyvault

import (
	"fmt"

	"southwinds.dev/keyvault/audit"
	"southwinds.dev/keyvault/authgate"
	"southwinds.dev/keyvault/persist"
)

// Options configures the convenience Open constructor.
//
// The sensitive fields (Passphrase) are excluded from serialization so an
// Options value can safely travel through configuration files; the passphrase
// itself should arrive through EnvPassphraseVar in any deployment where the
// process environment is the secure channel.
type Options struct {
	// StorePath is the base directory for the filesystem backend. Ignored when
	// Backend is set.
	StorePath string `json:"store_path,omitempty"`

	// Backend selects and configures a storage backend explicitly. When nil, a
	// filesystem backend rooted at StorePath is used.
	Backend *persist.BackendConfig `json:"backend,omitempty"`

	// Passphrase is the device passphrase the key wrapping key is derived
	// from. Never serialized; prefer EnvPassphraseVar outside of tests.
	Passphrase string `json:"-"`

	// EnvPassphraseVar names an environment variable holding the passphrase,
	// keeping it out of configuration files and process arguments
	EnvPassphraseVar string `json:"env_passphrase_var,omitempty"`

	// EnableMemoryLock attempts to lock the process address space so key
	// material cannot page to disk. Best effort; partial protection is
	// reported, not fatal.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// Audit configures security event logging. Nil disables auditing.
	Audit *audit.Config `json:"audit,omitempty"`

	// Gate resolves user-authentication challenges for gated keys. Nil
	// installs an allow-all gate for unattended operation.
	Gate authgate.Gate `json:"-"`
}

// Validate checks the Options configuration
func (o Options) Validate() error {
	if o.Backend == nil && o.StorePath == "" {
		return fmt.Errorf("either StorePath or Backend must be provided")
	}

	if o.Passphrase == "" && o.EnvPassphraseVar == "" {
		return fmt.Errorf("either Passphrase or EnvPassphraseVar must be provided")
	}

	return nil
}

// backendConfig resolves the effective backend configuration
func (o Options) backendConfig() persist.BackendConfig {
	if o.Backend != nil {
		return *o.Backend
	}
	return persist.BackendConfig{
		Type: persist.BackendTypeFileSystem,
		Config: map[string]interface{}{
			"base_path": o.StorePath,
		},
	}
}
