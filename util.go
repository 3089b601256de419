package keyvault

import (
	"errors"

	"southwinds.dev/keyvault/persist"
)

// isKeyExists reports whether an error indicates a lost key-creation race
func isKeyExists(err error) bool {
	return errors.Is(err, persist.ErrKeyExists)
}
