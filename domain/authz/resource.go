package authz

import (
	"fmt"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// ResourceCheck is a resource-level authorization check used by repository
// decorators.
//
// Two invariants hold for every check: the System identity bypasses all
// resource checks, and Anonymous is rejected immediately with missing_token.
type ResourceCheck interface {
	// Evaluate returns nil when the identity may access the resource.
	Evaluate(identity auth.Identity, resource any) error

	// Or combines this check with another: at least one must pass.
	Or(other ResourceCheck) ResourceCheck
}

// evaluate applies the shared System/Anonymous handling and dispatches
// authenticated principals to the check-specific predicate.
func evaluate(identity auth.Identity, resource any, check func(auth.Principal, any) error) error {
	switch id := identity.(type) {
	case auth.System:
		return nil // workers bypass all resource checks
	case auth.Principal:
		return check(id, resource)
	default:
		return errors.Unauthorized("authentication required")
	}
}

type ownerCheck struct{}

// Owner returns a check that the principal owns the resource
// (resource.OwnerID() == principal.UserID).
func Owner() ResourceCheck { return ownerCheck{} }

func (c ownerCheck) Evaluate(identity auth.Identity, resource any) error {
	return evaluate(identity, resource, func(p auth.Principal, res any) error {
		owned, ok := res.(Owned)
		if !ok || owned.OwnerID() == "" || owned.OwnerID() != p.UserID {
			return errors.Forbidden("access denied: not resource owner")
		}
		return nil
	})
}

func (c ownerCheck) Or(other ResourceCheck) ResourceCheck {
	return anyOf{checks: []ResourceCheck{c, other}}
}

type hasRole struct {
	role auth.Role
}

// HasRole returns a check that the principal has at least the given role.
func HasRole(role auth.Role) ResourceCheck { return hasRole{role: role} }

func (c hasRole) Evaluate(identity auth.Identity, resource any) error {
	return evaluate(identity, resource, func(p auth.Principal, _ any) error {
		if !p.HasRole(c.role) {
			return errors.Forbidden(fmt.Sprintf("access denied: requires role %s", c.role))
		}
		return nil
	})
}

func (c hasRole) Or(other ResourceCheck) ResourceCheck {
	return anyOf{checks: []ResourceCheck{c, other}}
}

type anyOf struct {
	checks []ResourceCheck
}

// AnyOf returns a check that passes when at least one sub-check passes.
func AnyOf(checks ...ResourceCheck) ResourceCheck { return anyOf{checks: checks} }

func (c anyOf) Evaluate(identity auth.Identity, resource any) error {
	return evaluate(identity, resource, func(p auth.Principal, res any) error {
		for _, check := range c.checks {
			if err := check.Evaluate(p, res); err == nil {
				return nil
			}
		}
		return errors.Forbidden("access denied")
	})
}

func (c anyOf) Or(other ResourceCheck) ResourceCheck {
	return anyOf{checks: append(append([]ResourceCheck{}, c.checks...), other)}
}
