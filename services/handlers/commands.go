package handlers

import (
	"github.com/opensciencearchive/server/domain/auth"
	"github.com/opensciencearchive/server/domain/authz"
)

// CommandGates declares the authorization gate for every command and
// query handler the platform exposes. The HTTP adapters live outside the
// core, but the gate declarations are part of the authorization surface:
// startup fails if any handler is missing one.
func CommandGates() map[string]authz.Gate {
	return map[string]authz.Gate{
		// Depositions
		"CreateDeposition":  authz.AtLeast(auth.RoleDepositor),
		"GetDeposition":     authz.AtLeast(auth.RoleDepositor),
		"UpdateDeposition":  authz.AtLeast(auth.RoleDepositor),
		"SubmitDeposition":  authz.AtLeast(auth.RoleDepositor),
		"DeleteDeposition":  authz.AtLeast(auth.RoleDepositor),
		"ApproveDeposition": authz.AtLeast(auth.RoleCurator),
		"RejectDeposition":  authz.AtLeast(auth.RoleCurator),

		// Catalog reads
		"GetRecord":     authz.Public(),
		"SearchRecords": authz.Public(),

		// Registry reads
		"GetSchema":     authz.Public(),
		"GetConvention": authz.Public(),

		// Registry writes
		"CreateSchema":     authz.AtLeast(auth.RoleAdmin),
		"UpdateSchema":     authz.AtLeast(auth.RoleAdmin),
		"DeleteSchema":     authz.AtLeast(auth.RoleAdmin),
		"CreateConvention": authz.AtLeast(auth.RoleAdmin),
		"UpdateConvention": authz.AtLeast(auth.RoleAdmin),
		"DeleteConvention": authz.AtLeast(auth.RoleAdmin),

		// Validation
		"GetValidationRun": authz.Public(),

		// Administration
		"AssignRole": authz.AtLeast(auth.RoleSuperadmin),
		"RevokeRole": authz.AtLeast(auth.RoleSuperadmin),
	}
}
