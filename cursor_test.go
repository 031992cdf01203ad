package chidb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRewindOnEmptyTreeReturnsEmpty(t *testing.T) {
	bt := openTestBTree(t)

	cur, err := NewCursor(bt, 1)
	require.NoError(t, err)

	err = cur.Rewind()
	assert.Equal(t, ErrEmpty, err)
}

func TestCursorPrevIsForwardScanMirror(t *testing.T) {
	bt := openTestBTree(t)
	for _, k := range []uint32{1, 2, 3, 4, 5} {
		payload, _ := Pack([]Value{NullValue(), TextValue("v")})
		require.NoError(t, bt.Insert(1, NewTableLeafCell(k, payload)))
	}

	cur, err := NewCursor(bt, 1)
	require.NoError(t, err)
	require.NoError(t, cur.Rewind())
	for i := 0; i < 4; i++ {
		require.NoError(t, cur.Next())
	}
	assert.Equal(t, uint32(5), cur.Current().Key())

	var seen []uint32
	seen = append(seen, cur.Current().Key())
	for {
		if err := cur.Prev(); err != nil {
			assert.Equal(t, ErrCantMove, err)
			break
		}
		seen = append(seen, cur.Current().Key())
	}
	assert.Equal(t, []uint32{5, 4, 3, 2, 1}, seen)
}

func TestCursorNextRestoresPositionOnCantMove(t *testing.T) {
	bt := openTestBTree(t)
	payload, _ := Pack([]Value{NullValue(), TextValue("only")})
	require.NoError(t, bt.Insert(1, NewTableLeafCell(1, payload)))

	cur, err := NewCursor(bt, 1)
	require.NoError(t, err)
	require.NoError(t, cur.Rewind())

	err = cur.Next()
	assert.Equal(t, ErrCantMove, err)
	// Position must still be usable after a failed move.
	assert.Equal(t, uint32(1), cur.Current().Key())
}
