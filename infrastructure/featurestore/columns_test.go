package featurestore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensciencearchive/server/domain/hook"
)

func TestColumnType(t *testing.T) {
	tests := []struct {
		col  hook.ColumnDef
		want string
	}{
		{hook.ColumnDef{JSONType: hook.TypeString}, "TEXT"},
		{hook.ColumnDef{JSONType: hook.TypeString, Format: "date-time"}, "TIMESTAMPTZ"},
		{hook.ColumnDef{JSONType: hook.TypeString, Format: "date"}, "DATE"},
		{hook.ColumnDef{JSONType: hook.TypeString, Format: "uuid"}, "UUID"},
		{hook.ColumnDef{JSONType: hook.TypeNumber}, "DOUBLE PRECISION"},
		{hook.ColumnDef{JSONType: hook.TypeInteger}, "BIGINT"},
		{hook.ColumnDef{JSONType: hook.TypeBoolean}, "BOOLEAN"},
		{hook.ColumnDef{JSONType: hook.TypeArray}, "JSONB"},
		{hook.ColumnDef{JSONType: hook.TypeObject}, "JSONB"},
		// Unknown format falls back to the base type.
		{hook.ColumnDef{JSONType: hook.TypeString, Format: "email"}, "TEXT"},
		{hook.ColumnDef{JSONType: hook.TypeInteger, Format: "int32"}, "BIGINT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, columnType(tt.col), "%+v", tt.col)
	}
}

func TestColumnDDL(t *testing.T) {
	assert.Equal(t, `"pocket_count" BIGINT NOT NULL`,
		columnDDL(hook.ColumnDef{Name: "pocket_count", JSONType: hook.TypeInteger, Required: true}))
	assert.Equal(t, `"centroid" JSONB`,
		columnDDL(hook.ColumnDef{Name: "centroid", JSONType: hook.TypeObject}))
	assert.Equal(t, `"detected_at" TIMESTAMPTZ`,
		columnDDL(hook.ColumnDef{Name: "detected_at", JSONType: hook.TypeString, Format: "date-time"}))
}

func TestBindValue(t *testing.T) {
	raw, err := bindValue(hook.ColumnDef{Name: "c", JSONType: hook.TypeObject}, map[string]interface{}{"x": 1})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(raw.([]byte)))

	v, err := bindValue(hook.ColumnDef{Name: "c", JSONType: hook.TypeInteger}, 42)
	assert.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = bindValue(hook.ColumnDef{Name: "c", JSONType: hook.TypeString}, nil)
	assert.NoError(t, err)
	assert.Nil(t, v)

	_, err = bindValue(hook.ColumnDef{Name: "c", JSONType: hook.TypeString, Required: true}, nil)
	assert.Error(t, err)
}
