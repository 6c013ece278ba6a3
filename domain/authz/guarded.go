package authz

import "github.com/opensciencearchive/server/domain/auth"

// Guarded wraps a loaded domain resource, forcing an explicit authorization
// check before the resource can be used. The only way to reach the inner
// value is Check.
type Guarded[T any] struct {
	resource T
	identity auth.Identity
	policy   *PolicySet
}

// NewGuarded wraps a resource for the given identity and policy set.
func NewGuarded[T any](resource T, identity auth.Identity, policy *PolicySet) Guarded[T] {
	return Guarded[T]{resource: resource, identity: identity, policy: policy}
}

// Check evaluates authorization and returns the unwrapped resource.
func (g Guarded[T]) Check(action Action) (T, error) {
	if err := g.policy.Guard(g.identity, action, g.resource); err != nil {
		var zero T
		return zero, err
	}
	return g.resource, nil
}
