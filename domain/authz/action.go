// Package authz implements the policy kernel: the closed Action enumeration,
// the declarative policy set, resource-level checks, and handler gates.
package authz

// Action enumerates every operation subject to access control.
type Action string

const (
	// Depositions
	ActionDepositionCreate Action = "deposition:create"
	ActionDepositionRead   Action = "deposition:read"
	ActionDepositionUpdate Action = "deposition:update"
	ActionDepositionSubmit Action = "deposition:submit"
	ActionDepositionDelete Action = "deposition:delete"

	// Curation
	ActionDepositionApprove Action = "deposition:approve"
	ActionDepositionReject  Action = "deposition:reject"

	// Registry: schemas
	ActionSchemaRead   Action = "schema:read"
	ActionSchemaCreate Action = "schema:create"
	ActionSchemaUpdate Action = "schema:update"
	ActionSchemaDelete Action = "schema:delete"

	// Registry: traits
	ActionTraitRead   Action = "trait:read"
	ActionTraitCreate Action = "trait:create"
	ActionTraitUpdate Action = "trait:update"
	ActionTraitDelete Action = "trait:delete"

	// Registry: conventions
	ActionConventionRead   Action = "convention:read"
	ActionConventionCreate Action = "convention:create"
	ActionConventionUpdate Action = "convention:update"
	ActionConventionDelete Action = "convention:delete"

	// Registry: vocabularies
	ActionVocabularyRead   Action = "vocabulary:read"
	ActionVocabularyCreate Action = "vocabulary:create"
	ActionVocabularyUpdate Action = "vocabulary:update"
	ActionVocabularyDelete Action = "vocabulary:delete"

	// Records (read-only after publication)
	ActionRecordRead Action = "record:read"

	// Search
	ActionSearchQuery Action = "search:query"

	// Validation
	ActionValidationCreate Action = "validation:create"
	ActionValidationRead   Action = "validation:read"

	// Administration
	ActionRoleAssign Action = "role:assign"
	ActionRoleRevoke Action = "role:revoke"
	ActionRoleRead   Action = "role:read"
)

// AllActions lists every Action member. ValidateCoverage iterates this;
// keep it in sync with the constants above.
var AllActions = []Action{
	ActionDepositionCreate,
	ActionDepositionRead,
	ActionDepositionUpdate,
	ActionDepositionSubmit,
	ActionDepositionDelete,
	ActionDepositionApprove,
	ActionDepositionReject,
	ActionSchemaRead,
	ActionSchemaCreate,
	ActionSchemaUpdate,
	ActionSchemaDelete,
	ActionTraitRead,
	ActionTraitCreate,
	ActionTraitUpdate,
	ActionTraitDelete,
	ActionConventionRead,
	ActionConventionCreate,
	ActionConventionUpdate,
	ActionConventionDelete,
	ActionVocabularyRead,
	ActionVocabularyCreate,
	ActionVocabularyUpdate,
	ActionVocabularyDelete,
	ActionRecordRead,
	ActionSearchQuery,
	ActionValidationCreate,
	ActionValidationRead,
	ActionRoleAssign,
	ActionRoleRevoke,
	ActionRoleRead,
}
