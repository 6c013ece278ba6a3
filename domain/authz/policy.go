package authz

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// Relationship names a required relation between a principal and a resource.
type Relationship string

const (
	// RelationshipOwner requires resource.OwnerID() == principal.UserID.
	RelationshipOwner Relationship = "owner"
)

// Owned is implemented by resources that expose an owner identifier.
type Owned interface {
	OwnerID() string
}

// Rule is a single authorization rule. A rule with RequireRole unset (as
// built by Allow) is public; any other rule needs a principal holding at
// least Role.
type Rule struct {
	Action       Action
	Role         auth.Role
	RequireRole  bool
	Relationship Relationship
}

// Allow builds a public rule for an action.
func Allow(action Action) Rule {
	return Rule{Action: action}
}

// AllowRole builds a rule requiring at least the given role.
func AllowRole(action Action, role auth.Role) Rule {
	return Rule{Action: action, Role: role, RequireRole: true}
}

// AllowOwner builds a rule requiring at least the given role plus resource
// ownership.
func AllowOwner(action Action, role auth.Role) Rule {
	return Rule{Action: action, Role: role, RequireRole: true, Relationship: RelationshipOwner}
}

// PolicySet is the declarative set of all authorization rules.
//
// Evaluation: for a given action, rules are tried in declaration order.
// First match wins (allow). No match means deny.
type PolicySet struct {
	rules    []Rule
	byAction map[Action][]Rule
	log      *logging.Logger
}

// NewPolicySet builds a PolicySet from a flat rule list.
func NewPolicySet(rules []Rule, log *logging.Logger) *PolicySet {
	byAction := make(map[Action][]Rule, len(rules))
	for _, rule := range rules {
		byAction[rule.Action] = append(byAction[rule.Action], rule)
	}
	return &PolicySet{rules: rules, byAction: byAction, log: log}
}

// Guard returns nil if some rule allows the identity to perform the action
// on the resource, and an Authorization error otherwise. Every decision is
// logged with the principal id and action; denials include the rule count.
func (p *PolicySet) Guard(identity auth.Identity, action Action, resource any) error {
	principalID := "anonymous"
	var principal *auth.Principal
	switch id := identity.(type) {
	case auth.System:
		// Internal workers bypass policy evaluation, mirroring the
		// resource-check invariant.
		p.log.WithFields(logrus.Fields{
			"principal": "system",
			"action":    action,
			"decision":  "allow",
		}).Info("authorization allowed")
		return nil
	case auth.Principal:
		principal = &id
		principalID = id.UserID
	}

	for _, rule := range p.byAction[action] {
		if p.matches(rule, principal, resource) {
			p.log.WithFields(logrus.Fields{
				"principal": principalID,
				"action":    action,
				"decision":  "allow",
			}).Info("authorization allowed")
			return nil
		}
	}

	p.log.WithFields(logrus.Fields{
		"principal": principalID,
		"action":    action,
		"decision":  "deny",
		"rules":     len(p.byAction[action]),
	}).Warn("authorization denied")
	if principal == nil {
		return errors.Unauthorized(fmt.Sprintf("authentication required: %s", action))
	}
	return errors.Forbidden(fmt.Sprintf("access denied: %s", action))
}

func (p *PolicySet) matches(rule Rule, principal *auth.Principal, resource any) bool {
	// Public rule: no role required.
	if !rule.RequireRole {
		return true
	}
	// Must be authenticated.
	if principal == nil {
		return false
	}
	if !principal.HasRole(rule.Role) {
		return false
	}
	if rule.Relationship == RelationshipOwner {
		owned, ok := resource.(Owned)
		if !ok {
			return false
		}
		if owned.OwnerID() == "" || owned.OwnerID() != principal.UserID {
			return false
		}
	}
	return true
}

// ValidateCoverage fails at startup when any Action member has no rule.
func (p *PolicySet) ValidateCoverage() error {
	var missing []Action
	for _, action := range AllActions {
		if len(p.byAction[action]) == 0 {
			missing = append(missing, action)
		}
	}
	if len(missing) > 0 {
		return errors.Configuration(fmt.Sprintf("actions without policy rules: %v", missing))
	}
	return nil
}

// DefaultPolicySet returns the platform policy set.
func DefaultPolicySet(log *logging.Logger) *PolicySet {
	return NewPolicySet([]Rule{
		// Public reads (no auth required)
		Allow(ActionRecordRead),
		Allow(ActionSearchQuery),
		Allow(ActionSchemaRead),
		Allow(ActionTraitRead),
		Allow(ActionConventionRead),
		Allow(ActionVocabularyRead),
		Allow(ActionValidationRead),
		// Depositions (ownership-scoped)
		AllowRole(ActionDepositionCreate, auth.RoleDepositor),
		AllowOwner(ActionDepositionRead, auth.RoleDepositor),
		AllowOwner(ActionDepositionUpdate, auth.RoleDepositor),
		AllowOwner(ActionDepositionSubmit, auth.RoleDepositor),
		AllowOwner(ActionDepositionDelete, auth.RoleDepositor),
		// Curators can read all depositions (no ownership required)
		AllowRole(ActionDepositionRead, auth.RoleCurator),
		AllowRole(ActionDepositionApprove, auth.RoleCurator),
		AllowRole(ActionDepositionReject, auth.RoleCurator),
		// Registry (admin-only writes)
		AllowRole(ActionSchemaCreate, auth.RoleAdmin),
		AllowRole(ActionSchemaUpdate, auth.RoleAdmin),
		AllowRole(ActionSchemaDelete, auth.RoleAdmin),
		AllowRole(ActionTraitCreate, auth.RoleAdmin),
		AllowRole(ActionTraitUpdate, auth.RoleAdmin),
		AllowRole(ActionTraitDelete, auth.RoleAdmin),
		AllowRole(ActionConventionCreate, auth.RoleAdmin),
		AllowRole(ActionConventionUpdate, auth.RoleAdmin),
		AllowRole(ActionConventionDelete, auth.RoleAdmin),
		AllowRole(ActionVocabularyCreate, auth.RoleAdmin),
		AllowRole(ActionVocabularyUpdate, auth.RoleAdmin),
		AllowRole(ActionVocabularyDelete, auth.RoleAdmin),
		// Validation
		AllowRole(ActionValidationCreate, auth.RoleDepositor),
		// Administration (superadmin-only)
		AllowRole(ActionRoleAssign, auth.RoleSuperadmin),
		AllowRole(ActionRoleRevoke, auth.RoleSuperadmin),
		AllowRole(ActionRoleRead, auth.RoleSuperadmin),
	}, log)
}
