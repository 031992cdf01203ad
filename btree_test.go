package chidb

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBTree(tb testing.TB) *BTree {
	f, err := os.CreateTemp(os.TempDir(), tb.Name())
	require.NoError(tb, err)

	bt, err := openBTree(f.Name())
	require.NoError(tb, err)
	return bt
}

func TestBTreeOpenEmptyFileInitializesLeafTableRoot(t *testing.T) {
	bt := openTestBTree(t)

	node, err := bt.GetNodeByPage(1)
	require.NoError(t, err)
	assert.Equal(t, LeafTable, node.Type())
	assert.Equal(t, uint16(0), node.NCells())
}

func TestBTreeOpenRejectsCorruptHeader(t *testing.T) {
	f, err := os.CreateTemp(os.TempDir(), t.Name())
	require.NoError(t, err)
	_, err = f.WriteString("not a chidb file, but long enough to look like one padded out")
	require.NoError(t, err)

	_, err = openBTree(f.Name())
	assert.Equal(t, ErrCorruptHeader, err)
}

func TestBTreeNewNodePersistsAcrossReload(t *testing.T) {
	bt := openTestBTree(t)

	node, err := bt.NewNode(InternalTable)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), node.PageNumber())
	assert.Equal(t, InternalTable, node.Type())
	assert.Equal(t, uint16(0), node.NCells())

	reread, err := bt.GetNodeByPage(node.PageNumber())
	require.NoError(t, err)
	assert.Equal(t, node.Type(), reread.Type())
	assert.Equal(t, node.NCells(), reread.NCells())
	assert.Equal(t, node.RightPage(), reread.RightPage())
}

func TestBTreeInsertAndFindSingleCell(t *testing.T) {
	bt := openTestBTree(t)

	payload, err := Pack([]Value{NullValue(), TextValue("hello")})
	require.NoError(t, err)

	require.NoError(t, bt.Insert(1, NewTableLeafCell(1, payload)))

	found, err := bt.Find(1, 1)
	require.NoError(t, err)
	assert.Equal(t, payload, found)
}

func TestBTreeFindMissingKey(t *testing.T) {
	bt := openTestBTree(t)

	payload, err := Pack([]Value{NullValue(), TextValue("x")})
	require.NoError(t, err)
	require.NoError(t, bt.Insert(1, NewTableLeafCell(5, payload)))

	_, err = bt.Find(1, 99)
	assert.Equal(t, ErrNotFound, err)
}

func TestBTreeInsertDuplicateKeyFails(t *testing.T) {
	bt := openTestBTree(t)

	payload, _ := Pack([]Value{NullValue(), TextValue("a")})
	require.NoError(t, bt.Insert(1, NewTableLeafCell(1, payload)))

	err := bt.Insert(1, NewTableLeafCell(1, payload))
	assert.Equal(t, ErrDuplicate, err)
}

func TestBTreeInsertManyRowsTriggersSplitsAndStaysFindable(t *testing.T) {
	bt := openTestBTree(t)

	const n = 2000
	for i := uint32(1); i <= n; i++ {
		payload, err := Pack([]Value{NullValue(), TextValue(fmt.Sprintf("row-%d", i))})
		require.NoError(t, err)
		require.NoError(t, bt.Insert(1, NewTableLeafCell(i, payload)))
	}

	for _, i := range []uint32{1, 2, 500, 1000, 1999, n} {
		payload, err := bt.Find(1, i)
		require.NoError(t, err, "key %d should still be findable after splits", i)
		values, err := Unpack(payload)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("row-%d", i), values[1].Text)
	}
}

func TestBTreeCursorForwardScanVisitsKeysInOrder(t *testing.T) {
	bt := openTestBTree(t)

	keys := []uint32{5, 1, 9, 3, 7}
	for _, k := range keys {
		payload, _ := Pack([]Value{NullValue(), TextValue("v")})
		require.NoError(t, bt.Insert(1, NewTableLeafCell(k, payload)))
	}

	cur, err := NewCursor(bt, 1)
	require.NoError(t, err)
	require.NoError(t, cur.Rewind())

	var seen []uint32
	seen = append(seen, cur.Current().Key())
	for {
		if err := cur.Next(); err != nil {
			assert.Equal(t, ErrCantMove, err)
			break
		}
		seen = append(seen, cur.Current().Key())
	}
	assert.Equal(t, []uint32{1, 3, 5, 7, 9}, seen)
}

func TestBTreeCursorSeekModes(t *testing.T) {
	bt := openTestBTree(t)
	for _, k := range []uint32{10, 20, 30, 40} {
		payload, _ := Pack([]Value{NullValue(), TextValue("v")})
		require.NoError(t, bt.Insert(1, NewTableLeafCell(k, payload)))
	}

	cur, err := NewCursor(bt, 1)
	require.NoError(t, err)

	require.NoError(t, cur.Seek(20, SeekEQ))
	assert.Equal(t, uint32(20), cur.Current().Key())

	require.NoError(t, cur.Seek(25, SeekGT))
	assert.Equal(t, uint32(30), cur.Current().Key())

	require.NoError(t, cur.Seek(25, SeekLT))
	assert.Equal(t, uint32(20), cur.Current().Key())

	err = cur.Seek(25, SeekEQ)
	assert.Equal(t, ErrNotFound, err)
}
