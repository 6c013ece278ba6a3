// Package featurestore materializes per-hook SQL tables for queryable
// features. Table schemas derive from each hook's declared output columns;
// every identifier entering DDL passes the safe-identifier regex first.
package featurestore

import (
	"fmt"

	"github.com/opensciencearchive/server/domain/hook"
)

// typeMap fixes the SQL type for each (json_type, format) pair.
var typeMap = map[[2]string]string{
	{"string", ""}:          "TEXT",
	{"string", "date-time"}: "TIMESTAMPTZ",
	{"string", "date"}:      "DATE",
	{"string", "uuid"}:      "UUID",
	{"number", ""}:          "DOUBLE PRECISION",
	{"integer", ""}:         "BIGINT",
	{"boolean", ""}:         "BOOLEAN",
	{"array", ""}:           "JSONB",
	{"object", ""}:          "JSONB",
}

// columnType resolves a column definition to its SQL type. An unknown
// format falls back to the base type's mapping.
func columnType(col hook.ColumnDef) string {
	if t, ok := typeMap[[2]string{string(col.JSONType), col.Format}]; ok {
		return t
	}
	if t, ok := typeMap[[2]string{string(col.JSONType), ""}]; ok {
		return t
	}
	return "TEXT"
}

// columnDDL renders one column clause. The name must already be
// regex-validated by the caller.
func columnDDL(col hook.ColumnDef) string {
	nullability := ""
	if col.Required {
		nullability = " NOT NULL"
	}
	return fmt.Sprintf("%q %s%s", col.Name, columnType(col), nullability)
}
