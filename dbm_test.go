package chidb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBMIntegerAndResultRow(t *testing.T) {
	bt := openTestBTree(t)

	prog := []Instruction{
		{Op: OpInteger, P1: 7, P2: 0},
		{Op: OpString, P1: 3, P2: 1, P4: "abc"},
		{Op: OpResultRow, P1: 0, P2: 2},
		{Op: OpHalt},
	}
	dbm := NewDBM(bt, prog)

	result := dbm.Step()
	require.Equal(t, StepRow, result)

	row := dbm.ResultRow()
	require.Len(t, row, 2)
	assert.Equal(t, int32(7), row[0].Int)
	assert.Equal(t, "abc", row[1].Text)

	result = dbm.Step()
	assert.Equal(t, StepDone, result)
}

func TestDBMEqJumpsOnMatch(t *testing.T) {
	bt := openTestBTree(t)

	prog := []Instruction{
		{Op: OpInteger, P1: 5, P2: 0},
		{Op: OpInteger, P1: 5, P2: 1},
		{Op: OpEq, P1: 0, P2: 4, P3: 1},
		{Op: OpInteger, P1: 0, P2: 2}, // skipped
		{Op: OpHalt},
	}
	dbm := NewDBM(bt, prog)

	assert.Equal(t, StepDone, dbm.Step())
	assert.Equal(t, RegUnspecified, dbm.regs[2].Type)
}

func TestDBMInsertThenFindReturnsRow(t *testing.T) {
	bt := openTestBTree(t)

	prog := []Instruction{
		{Op: OpInteger, P1: 1, P2: 0},
		{Op: OpOpenWrite, P1: 0, P2: 0, P3: 2},
		{Op: OpInteger, P1: 1, P2: 1},
		{Op: OpNull, P2: 2},
		{Op: OpString, P1: 5, P2: 3, P4: "hello"},
		{Op: OpMakeRecord, P1: 2, P2: 2, P3: 4},
		{Op: OpInsert, P1: 0, P2: 4, P3: 1},
		{Op: OpClose, P1: 0},
		{Op: OpHalt},
	}
	dbm := NewDBM(bt, prog)
	require.Equal(t, StepDone, dbm.Step())

	payload, err := bt.Find(1, 1)
	require.NoError(t, err)
	values, err := Unpack(payload)
	require.NoError(t, err)
	assert.Equal(t, "hello", values[1].Text)
}

func TestDBMRewindOnEmptyTreeJumps(t *testing.T) {
	bt := openTestBTree(t)

	prog := []Instruction{
		{Op: OpInteger, P1: 1, P2: 0},
		{Op: OpOpenRead, P1: 0, P2: 0, P3: 1},
		{Op: OpRewind, P1: 0, P2: 4},
		{Op: OpInteger, P1: 99, P2: 1}, // skipped
		{Op: OpHalt},
	}
	dbm := NewDBM(bt, prog)
	assert.Equal(t, StepDone, dbm.Step())
	assert.Equal(t, RegUnspecified, dbm.regs[1].Type)
}
