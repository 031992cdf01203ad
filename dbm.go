package chidb

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// StepResult is what DBM.Step returns after executing (at least) one
// instruction.
type StepResult int

const (
	StepOK StepResult = iota
	StepRow
	StepDone
	StepError
)

// RegType tags the value currently held by a Register.
type RegType int

const (
	RegUnspecified RegType = iota
	RegNull
	RegInt32
	RegText
	RegBinary
)

// Register is the DBM's tagged-union value slot.
type Register struct {
	Type RegType
	Int  int32
	Text string
	Blob []byte
}

func (r Register) String() string {
	switch r.Type {
	case RegUnspecified:
		return "<unspecified>"
	case RegNull:
		return "NULL"
	case RegInt32:
		return fmt.Sprintf("%d", r.Int)
	case RegText:
		return fmt.Sprintf("%q", r.Text)
	case RegBinary:
		return fmt.Sprintf("<%d bytes>", len(r.Blob))
	default:
		return "?"
	}
}

// dbmCursor binds a DBM cursor slot to a concrete tree cursor plus the
// bookkeeping needed for writes, which bypass the cursor and go straight
// through the B-tree.
type dbmCursor struct {
	cursor   *Cursor
	rootPage uint32
	nCols    int
	isIndex  bool
	forWrite bool
}

// DBM is a register-based virtual machine executing one compiled
// program against a single database file.
type DBM struct {
	bt      *BTree
	program []Instruction
	pc      int

	regs    []Register
	cursors []*dbmCursor

	startRR int
	nRR     int

	halted bool
	err    error
}

// NewDBM creates a machine ready to run program against bt.
func NewDBM(bt *BTree, program []Instruction) *DBM {
	return &DBM{
		bt:      bt,
		program: program,
		regs:    make([]Register, 16),
		cursors: make([]*dbmCursor, 4),
	}
}

// Err returns the error that halted the machine, if any.
func (d *DBM) Err() error { return d.err }

// ResultRow returns the current result window's registers, valid only
// immediately after Step returns StepRow.
func (d *DBM) ResultRow() []Register {
	row := make([]Register, d.nRR)
	copy(row, d.regs[d.startRR:d.startRR+d.nRR])
	return row
}

func (d *DBM) reg(i int) (*Register, error) {
	if i < 0 {
		return nil, ErrInvalidRegister
	}
	for i >= len(d.regs) {
		d.regs = append(d.regs, Register{})
	}
	return &d.regs[i], nil
}

func (d *DBM) cursorAt(i int) (*dbmCursor, error) {
	if i < 0 || i >= len(d.cursors) || d.cursors[i] == nil {
		return nil, ErrInvalidCursor
	}
	return d.cursors[i], nil
}

// Step executes instructions until a row is produced, the program halts,
// or an error occurs. The dispatch table is a plain switch over Op,
// mirroring the opcode semantics from spec.md exactly.
func (d *DBM) Step() StepResult {
	for {
		if d.halted {
			return StepDone
		}
		if d.pc < 0 || d.pc >= len(d.program) {
			d.halted = true
			return StepDone
		}

		instr := d.program[d.pc]
		log.WithFields(log.Fields{"pc": d.pc, "instr": instr.String()}).Trace("dbm: step")
		d.pc++

		jump, result := d.dispatch(instr)
		if result == StepError {
			d.halted = true
			return StepError
		}
		if jump >= 0 {
			d.pc = jump
		}
		if result == StepRow {
			return StepRow
		}
		if d.halted {
			return StepDone
		}
	}
}

// dispatch executes a single instruction, returning a jump target (-1 for
// fallthrough) and a coarse result. Only OpResultRow and OpHalt produce a
// result other than StepOK; all failures set d.err and return StepError.
func (d *DBM) dispatch(i Instruction) (int, StepResult) {
	switch i.Op {
	case OpNoop:
		return -1, StepOK

	case OpInteger:
		r, err := d.reg(i.P2)
		if err != nil {
			return d.fail(err)
		}
		*r = Register{Type: RegInt32, Int: int32(i.P1)}
		return -1, StepOK

	case OpString:
		r, err := d.reg(i.P2)
		if err != nil {
			return d.fail(err)
		}
		*r = Register{Type: RegText, Text: i.P4}
		return -1, StepOK

	case OpNull:
		r, err := d.reg(i.P2)
		if err != nil {
			return d.fail(err)
		}
		*r = Register{Type: RegNull}
		return -1, StepOK

	case OpCopy, OpSCopy:
		src, err := d.reg(i.P1)
		if err != nil {
			return d.fail(err)
		}
		dst, err := d.reg(i.P2)
		if err != nil {
			return d.fail(err)
		}
		*dst = *src
		return -1, StepOK

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return d.dispatchCompare(i)

	case OpOpenRead, OpOpenWrite:
		return d.dispatchOpen(i)

	case OpClose:
		if i.P1 >= 0 && i.P1 < len(d.cursors) {
			d.cursors[i.P1] = nil
		}
		return -1, StepOK

	case OpRewind:
		c, err := d.cursorAt(i.P1)
		if err != nil {
			return d.fail(err)
		}
		if err := c.cursor.Rewind(); err != nil {
			if err == ErrEmpty {
				return i.P2, StepOK
			}
			return d.fail(err)
		}
		return -1, StepOK

	case OpNext, OpPrev:
		return d.dispatchAdvance(i)

	case OpSeek, OpSeekGt, OpSeekGe, OpSeekLt, OpSeekLe:
		return d.dispatchSeek(i)

	case OpColumn:
		return d.dispatchColumn(i)

	case OpKey:
		c, err := d.cursorAt(i.P1)
		if err != nil {
			return d.fail(err)
		}
		r, err := d.reg(i.P2)
		if err != nil {
			return d.fail(err)
		}
		*r = Register{Type: RegInt32, Int: int32(c.cursor.Current().Key())}
		return -1, StepOK

	case OpResultRow:
		d.startRR = i.P1
		d.nRR = i.P2
		return -1, StepRow

	case OpMakeRecord:
		return d.dispatchMakeRecord(i)

	case OpInsert:
		return d.dispatchInsert(i)

	case OpIdxGt, OpIdxGe, OpIdxLt, OpIdxLe:
		return d.dispatchIdxCompare(i)

	case OpIdxPKey:
		c, err := d.cursorAt(i.P1)
		if err != nil {
			return d.fail(err)
		}
		r, err := d.reg(i.P2)
		if err != nil {
			return d.fail(err)
		}
		*r = Register{Type: RegInt32, Int: int32(c.cursor.Current().PrimaryKey())}
		return -1, StepOK

	case OpIdxInsert:
		return d.dispatchIdxInsert(i)

	case OpCreateTable, OpCreateIndex:
		typ := LeafTable
		if i.Op == OpCreateIndex {
			typ = LeafIndex
		}
		node, err := d.bt.NewNode(typ)
		if err != nil {
			return d.fail(err)
		}
		r, err := d.reg(i.P1)
		if err != nil {
			return d.fail(err)
		}
		*r = Register{Type: RegInt32, Int: int32(node.PageNumber())}
		return -1, StepOK

	case OpHalt:
		d.halted = true
		if i.P1 != 0 {
			return d.fail(fmt.Errorf("dbm: halted with exit code %d", i.P1))
		}
		return -1, StepDone

	default:
		return d.fail(fmt.Errorf("dbm: unimplemented opcode %v", i.Op))
	}
}

func (d *DBM) fail(err error) (int, StepResult) {
	d.err = err
	return -1, StepError
}

func (d *DBM) dispatchOpen(i Instruction) (int, StepResult) {
	rootReg, err := d.reg(i.P2)
	if err != nil {
		return d.fail(err)
	}
	if rootReg.Type != RegInt32 {
		return d.fail(ErrWrongType)
	}
	rootPage := uint32(rootReg.Int)

	node, err := d.bt.GetNodeByPage(rootPage)
	if err != nil {
		return d.fail(err)
	}

	cur, err := NewCursor(d.bt, rootPage)
	if err != nil {
		return d.fail(err)
	}

	for i.P1 >= len(d.cursors) {
		d.cursors = append(d.cursors, nil)
	}
	d.cursors[i.P1] = &dbmCursor{
		cursor:   cur,
		rootPage: rootPage,
		nCols:    i.P3,
		isIndex:  node.IsIndex(),
		forWrite: i.Op == OpOpenWrite,
	}
	return -1, StepOK
}

func (d *DBM) dispatchAdvance(i Instruction) (int, StepResult) {
	c, err := d.cursorAt(i.P1)
	if err != nil {
		return d.fail(err)
	}

	var moveErr error
	if i.Op == OpNext {
		moveErr = c.cursor.Next()
	} else {
		moveErr = c.cursor.Prev()
	}
	if moveErr == nil {
		return i.P2, StepOK
	}
	if moveErr == ErrCantMove {
		return -1, StepOK
	}
	return d.fail(moveErr)
}

func (d *DBM) dispatchSeek(i Instruction) (int, StepResult) {
	c, err := d.cursorAt(i.P1)
	if err != nil {
		return d.fail(err)
	}
	keyReg, err := d.reg(i.P3)
	if err != nil {
		return d.fail(err)
	}
	if keyReg.Type != RegInt32 {
		return d.fail(ErrWrongType)
	}

	var mode SeekMode
	switch i.Op {
	case OpSeek:
		mode = SeekEQ
	case OpSeekGt:
		mode = SeekGT
	case OpSeekGe:
		mode = SeekGE
	case OpSeekLt:
		mode = SeekLT
	case OpSeekLe:
		mode = SeekLE
	}

	seekErr := c.cursor.Seek(uint32(keyReg.Int), mode)
	if seekErr == nil {
		return -1, StepOK
	}
	if seekErr == ErrNotFound || seekErr == ErrCantMove || seekErr == ErrEmpty {
		return i.P2, StepOK
	}
	return d.fail(seekErr)
}

func (d *DBM) dispatchColumn(i Instruction) (int, StepResult) {
	c, err := d.cursorAt(i.P1)
	if err != nil {
		return d.fail(err)
	}
	cell := c.cursor.Current()
	if cell == nil {
		return d.fail(ErrInvalidCursor)
	}
	values, err := Unpack(cell.Payload())
	if err != nil {
		return d.fail(err)
	}
	if i.P2 < 0 || i.P2 >= len(values) {
		return d.fail(fmt.Errorf("dbm: column %d out of range", i.P2))
	}

	r, err := d.reg(i.P3)
	if err != nil {
		return d.fail(err)
	}
	switch v := values[i.P2]; v.Type {
	case TypeNull:
		*r = Register{Type: RegNull}
	case TypeInt8, TypeInt16, TypeInt32:
		*r = Register{Type: RegInt32, Int: v.Int}
	case TypeText:
		*r = Register{Type: RegText, Text: v.Text}
	}
	return -1, StepOK
}

func (d *DBM) dispatchMakeRecord(i Instruction) (int, StepResult) {
	values := make([]Value, i.P2)
	for k := 0; k < i.P2; k++ {
		r, err := d.reg(i.P1 + k)
		if err != nil {
			return d.fail(err)
		}
		switch r.Type {
		case RegNull, RegUnspecified:
			values[k] = NullValue()
		case RegInt32:
			values[k] = IntValue(r.Int)
		case RegText:
			values[k] = TextValue(r.Text)
		default:
			return d.fail(fmt.Errorf("dbm: cannot pack register type %d into a record", r.Type))
		}
	}

	payload, err := Pack(values)
	if err != nil {
		return d.fail(err)
	}
	dst, err := d.reg(i.P3)
	if err != nil {
		return d.fail(err)
	}
	*dst = Register{Type: RegBinary, Blob: payload}
	return -1, StepOK
}

func (d *DBM) dispatchInsert(i Instruction) (int, StepResult) {
	c, err := d.cursorAt(i.P1)
	if err != nil {
		return d.fail(err)
	}
	recordReg, err := d.reg(i.P2)
	if err != nil {
		return d.fail(err)
	}
	keyReg, err := d.reg(i.P3)
	if err != nil {
		return d.fail(err)
	}
	if recordReg.Type != RegBinary || keyReg.Type != RegInt32 {
		return d.fail(ErrWrongType)
	}

	cell := NewTableLeafCell(uint32(keyReg.Int), recordReg.Blob)
	if err := d.bt.Insert(c.rootPage, cell); err != nil {
		return d.fail(err)
	}
	return -1, StepOK
}

func (d *DBM) dispatchIdxCompare(i Instruction) (int, StepResult) {
	c, err := d.cursorAt(i.P1)
	if err != nil {
		return d.fail(err)
	}
	keyReg, err := d.reg(i.P3)
	if err != nil {
		return d.fail(err)
	}
	cell := c.cursor.Current()
	if cell == nil {
		return i.P2, StepOK
	}

	holds := false
	switch i.Op {
	case OpIdxGt:
		holds = cell.Key() > uint32(keyReg.Int)
	case OpIdxGe:
		holds = cell.Key() >= uint32(keyReg.Int)
	case OpIdxLt:
		holds = cell.Key() < uint32(keyReg.Int)
	case OpIdxLe:
		holds = cell.Key() <= uint32(keyReg.Int)
	}
	if holds {
		return i.P2, StepOK
	}
	return -1, StepOK
}

func (d *DBM) dispatchIdxInsert(i Instruction) (int, StepResult) {
	c, err := d.cursorAt(i.P1)
	if err != nil {
		return d.fail(err)
	}
	idxReg, err := d.reg(i.P2)
	if err != nil {
		return d.fail(err)
	}
	pkReg, err := d.reg(i.P3)
	if err != nil {
		return d.fail(err)
	}
	cell := NewIndexLeafCell(uint32(idxReg.Int), uint32(pkReg.Int))
	if err := d.bt.Insert(c.rootPage, cell); err != nil {
		return d.fail(err)
	}
	return -1, StepOK
}

func (d *DBM) dispatchCompare(i Instruction) (int, StepResult) {
	a, err := d.reg(i.P1)
	if err != nil {
		return d.fail(err)
	}
	b, err := d.reg(i.P3)
	if err != nil {
		return d.fail(err)
	}

	if a.Type == RegNull || b.Type == RegNull || a.Type != b.Type {
		return -1, StepOK
	}

	var cmp int
	switch a.Type {
	case RegInt32:
		switch {
		case a.Int < b.Int:
			cmp = -1
		case a.Int > b.Int:
			cmp = 1
		}
	case RegText:
		switch {
		case a.Text < b.Text:
			cmp = -1
		case a.Text > b.Text:
			cmp = 1
		}
	default:
		return -1, StepOK
	}

	var holds bool
	switch i.Op {
	case OpEq:
		holds = cmp == 0
	case OpNe:
		holds = cmp != 0
	case OpLt:
		holds = cmp < 0
	case OpLe:
		holds = cmp <= 0
	case OpGt:
		holds = cmp > 0
	case OpGe:
		holds = cmp >= 0
	}
	if holds {
		return i.P2, StepOK
	}
	return -1, StepOK
}
