package chidb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaLoadEmptyIsEmpty(t *testing.T) {
	bt := openTestBTree(t)

	schema, err := LoadSchema(bt, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, schema.Count())

	_, ok := schema.Lookup("anything")
	assert.False(t, ok)
}

func TestSchemaReloadsAfterMarkDirty(t *testing.T) {
	bt := openTestBTree(t)
	schema, err := LoadSchema(bt, 1)
	require.NoError(t, err)

	row, err := Pack([]Value{
		TextValue("table"),
		TextValue("t"),
		TextValue("t"),
		IntValue(2),
		TextValue("CREATE TABLE t (id INTEGER, name TEXT)"),
	})
	require.NoError(t, err)
	require.NoError(t, bt.Insert(1, NewTableLeafCell(1, row)))

	schema.MarkDirty()

	entry, ok := schema.Lookup("t")
	require.True(t, ok)
	assert.Equal(t, uint32(2), entry.RootPage)
	assert.Equal(t, "table", entry.Type)
}
