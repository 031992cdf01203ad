package chidb

import "fmt"

// Op identifies a single DBM opcode. Names and semantics follow the
// instruction set from the chidb project this engine's on-disk format
// is modeled on.
type Op uint8

const (
	OpNoop Op = iota
	OpInteger
	OpString
	OpNull
	OpCopy
	OpSCopy
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpOpenRead
	OpOpenWrite
	OpClose
	OpRewind
	OpNext
	OpPrev
	OpSeek
	OpSeekGt
	OpSeekGe
	OpSeekLt
	OpSeekLe
	OpColumn
	OpKey
	OpResultRow
	OpMakeRecord
	OpInsert
	OpIdxGt
	OpIdxGe
	OpIdxLt
	OpIdxLe
	OpIdxPKey
	OpIdxInsert
	OpCreateTable
	OpCreateIndex
	OpHalt
)

func (o Op) String() string {
	switch o {
	case OpNoop:
		return "Noop"
	case OpInteger:
		return "Integer"
	case OpString:
		return "String"
	case OpNull:
		return "Null"
	case OpCopy:
		return "Copy"
	case OpSCopy:
		return "SCopy"
	case OpEq:
		return "Eq"
	case OpNe:
		return "Ne"
	case OpLt:
		return "Lt"
	case OpLe:
		return "Le"
	case OpGt:
		return "Gt"
	case OpGe:
		return "Ge"
	case OpOpenRead:
		return "OpenRead"
	case OpOpenWrite:
		return "OpenWrite"
	case OpClose:
		return "Close"
	case OpRewind:
		return "Rewind"
	case OpNext:
		return "Next"
	case OpPrev:
		return "Prev"
	case OpSeek:
		return "Seek"
	case OpSeekGt:
		return "SeekGt"
	case OpSeekGe:
		return "SeekGe"
	case OpSeekLt:
		return "SeekLt"
	case OpSeekLe:
		return "SeekLe"
	case OpColumn:
		return "Column"
	case OpKey:
		return "Key"
	case OpResultRow:
		return "ResultRow"
	case OpMakeRecord:
		return "MakeRecord"
	case OpInsert:
		return "Insert"
	case OpIdxGt:
		return "IdxGt"
	case OpIdxGe:
		return "IdxGe"
	case OpIdxLt:
		return "IdxLt"
	case OpIdxLe:
		return "IdxLe"
	case OpIdxPKey:
		return "IdxPKey"
	case OpIdxInsert:
		return "IdxInsert"
	case OpCreateTable:
		return "CreateTable"
	case OpCreateIndex:
		return "CreateIndex"
	case OpHalt:
		return "Halt"
	default:
		return fmt.Sprintf("Op(%d)", byte(o))
	}
}

// Instruction is a single step of a compiled program: an opcode plus its
// operands. P1/P2/P3 are signed integers (register indices, cursor
// indices, or jump targets depending on Op); P4 is an optional text
// operand (used by String for its literal). Comment is a free-text note
// that Instruction.String appends to the listing.
type Instruction struct {
	Op Op
	P1 int
	P2 int
	P3 int
	P4 string

	Comment string
}

func (i Instruction) String() string {
	if i.Comment != "" {
		return fmt.Sprintf("%-12s %d %d %d %q  ; %s", i.Op, i.P1, i.P2, i.P3, i.P4, i.Comment)
	}
	return fmt.Sprintf("%-12s %d %d %d %q", i.Op, i.P1, i.P2, i.P3, i.P4)
}
