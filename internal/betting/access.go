package betting

import (
	"fmt"

	"github.com/rewired-gh/betledger/internal/models"
)

// IsOwner reports whether caller is the designated administrator.
func (e *Engine) IsOwner(caller models.Identity) bool {
	return caller != "" && caller == e.owner
}

// Owner returns the administrator identity.
func (e *Engine) Owner() models.Identity {
	return e.owner
}

// authorize is the single capability check consulted by every administrative operation.
func (e *Engine) authorize(caller models.Identity, op string) error {
	if !e.IsOwner(caller) {
		return fmt.Errorf("%w: %s requires the owner, got %q", ErrUnauthorized, op, caller)
	}
	return nil
}
