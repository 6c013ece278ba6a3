package authz

import (
	"fmt"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Gate is the handler-level authorization declaration. Every command and
// query handler declares exactly one gate; startup fails if any handler is
// missing this declaration.
type Gate struct {
	public bool
	role   auth.Role
}

// Public marks a handler as publicly accessible (no auth required).
func Public() Gate {
	return Gate{public: true}
}

// AtLeast marks a handler as requiring at least the given role.
func AtLeast(role auth.Role) Gate {
	return Gate{role: role}
}

// Check evaluates the gate against an identity. Gates are a coarse
// pre-filter; resource-scoped decisions happen at the repository boundary.
func (g Gate) Check(identity auth.Identity) error {
	if g.public {
		return nil
	}
	switch id := identity.(type) {
	case auth.System:
		return nil
	case auth.Principal:
		if !id.HasRole(g.role) {
			return errors.Forbidden(fmt.Sprintf("access denied: requires role %s", g.role))
		}
		return nil
	default:
		return errors.Unauthorized("authentication required")
	}
}

// Gated is implemented by every command/query handler that declares its gate.
type Gated interface {
	Auth() Gate
}

// ValidateGates fails at startup when any registered handler has a zero-value
// gate declaration.
func ValidateGates(handlers map[string]Gate) error {
	var missing []string
	for name, gate := range handlers {
		if !gate.public && gate.role == auth.RolePublic {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.Configuration(fmt.Sprintf("handlers without auth gates: %v", missing))
	}
	return nil
}
