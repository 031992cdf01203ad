package chidb

import "fmt"

// CompiledProgram is a generator's output: the instruction sequence and
// the names of the columns a SELECT will report through ResultRow.
type CompiledProgram struct {
	Instructions []Instruction
	ColumnNames  []string
}

// Generate lowers an adapted AST node into a DBM program.
func Generate(schema *Schema, stmt interface{}) (*CompiledProgram, error) {
	switch s := stmt.(type) {
	case *CreateTableStmt:
		return genCreateTable(schema, s)
	case *InsertStmt:
		return genInsert(schema, s)
	case *SelectStmt:
		s = Optimize(schema, s)
		if len(s.Tables) == 2 {
			return genJoinSelect(schema, s)
		}
		return genSelect(schema, s)
	default:
		return nil, ErrUnsupportedQuery
	}
}

func genCreateTable(schema *Schema, s *CreateTableStmt) (*CompiledProgram, error) {
	if _, exists := schema.Lookup(s.Table); exists {
		return nil, newErr(CodeInvalidSQL, "table %q already exists", s.Table)
	}

	sqlText := renderCreateTableSQL(s)

	prog := []Instruction{
		{Op: OpInteger, P1: 1, P2: 0, Comment: "R0 := schema root page"},
		{Op: OpOpenWrite, P1: 0, P2: 0, P3: 5, Comment: "C0 := schema table"},
		{Op: OpCreateTable, P1: 4, Comment: "R4 := new table's root page"},
		{Op: OpString, P1: len("table"), P2: 1, P4: "table"},
		{Op: OpString, P1: len(s.Table), P2: 2, P4: s.Table},
		{Op: OpString, P1: len(s.Table), P2: 3, P4: s.Table},
		{Op: OpString, P1: len(sqlText), P2: 5, P4: sqlText},
		{Op: OpMakeRecord, P1: 1, P2: 5, P3: 6, Comment: "R6 := packed schema row"},
		{Op: OpInteger, P1: schema.Count() + 1, P2: 7, Comment: "R7 := new schema row key"},
		{Op: OpInsert, P1: 0, P2: 6, P3: 7},
		{Op: OpClose, P1: 0},
		{Op: OpHalt},
	}
	schema.MarkDirty()
	return &CompiledProgram{Instructions: prog}, nil
}

func genInsert(schema *Schema, s *InsertStmt) (*CompiledProgram, error) {
	entry, ok := schema.Lookup(s.Table)
	if !ok {
		return nil, newErr(CodeInvalidSQL, "table %q does not exist", s.Table)
	}
	cols, err := parseColumnDefs(entry.SQL)
	if err != nil {
		return nil, err
	}
	if len(s.Values) != len(cols) {
		return nil, newErr(CodeInvalidSQL, "table %q has %d columns, got %d values", s.Table, len(cols), len(s.Values))
	}
	for i, v := range s.Values {
		if !typesCompatible(v.Type, cols[i].Type) {
			return nil, ErrWrongType
		}
	}

	prog := []Instruction{
		{Op: OpInteger, P1: int(entry.RootPage), P2: 0, Comment: "R0 := table root page"},
		{Op: OpOpenWrite, P1: 0, P2: 0, P3: len(cols)},
	}

	// First value is the primary key; it goes in R1, and the record's
	// own column-0 slot is stored as NULL since the key lives in the cell.
	prog = append(prog, emitLoad(1, s.Values[0])...)
	prog = append(prog, Instruction{Op: OpNull, P2: 2})

	reg := 3
	for i := 1; i < len(s.Values); i++ {
		prog = append(prog, emitLoad(reg, s.Values[i])...)
		reg++
	}

	recordReg := reg
	prog = append(prog,
		Instruction{Op: OpMakeRecord, P1: 2, P2: len(s.Values), P3: recordReg},
		Instruction{Op: OpInsert, P1: 0, P2: recordReg, P3: 1},
		Instruction{Op: OpClose, P1: 0},
		Instruction{Op: OpHalt},
	)
	return &CompiledProgram{Instructions: prog}, nil
}

func emitLoad(reg int, v Value) []Instruction {
	switch v.Type {
	case TypeText:
		return []Instruction{{Op: OpString, P1: len(v.Text), P2: reg, P4: v.Text}}
	default:
		return []Instruction{{Op: OpInteger, P1: int(v.Int), P2: reg}}
	}
}

func genSelect(schema *Schema, s *SelectStmt) (*CompiledProgram, error) {
	entry, ok := schema.Lookup(s.Table())
	if !ok {
		return nil, newErr(CodeInvalidSQL, "table %q does not exist", s.Table())
	}
	cols, err := parseColumnDefs(entry.SQL)
	if err != nil {
		return nil, err
	}

	colIndex := make(map[string]int, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		colIndex[c.Name] = i
		names[i] = c.Name
	}

	outputCols := s.Columns
	if len(outputCols) == 0 {
		outputCols = names
	}
	for _, c := range outputCols {
		if _, ok := colIndex[c]; !ok {
			return nil, newErr(CodeInvalidSQL, "unknown column %q", c)
		}
	}

	const cursor = 0
	prog := []Instruction{
		{Op: OpInteger, P1: int(entry.RootPage), P2: 0},
		{Op: OpOpenRead, P1: cursor, P2: 0, P3: len(cols)},
	}

	rewindAddr := len(prog)
	prog = append(prog, Instruction{Op: OpRewind, P1: cursor})

	bodyAddr := len(prog)
	seekAddr := -1
	loopAdvanceOp := OpNext

	if s.Predicate != nil {
		idx, ok := colIndex[s.Predicate.Column]
		if !ok {
			return nil, newErr(CodeInvalidSQL, "unknown column %q", s.Predicate.Column)
		}
		if !typesCompatible(s.Predicate.Literal.Type, cols[idx].Type) {
			return nil, ErrWrongType
		}

		if idx == 0 {
			// Primary-key predicates seek directly; the negated
			// comparator trick doesn't apply to the key itself.
			prog = append(prog, emitLoad(1, s.Predicate.Literal)...)
			seekOp, advanceOp := seekAndAdvanceFor(s.Predicate.Operator)
			loopAdvanceOp = advanceOp
			seekAddr = len(prog)
			prog = append(prog, Instruction{Op: seekOp, P1: cursor, P3: 1})
			bodyAddr = len(prog)
		} else {
			prog = append(prog, emitLoad(1, s.Predicate.Literal)...)
			bodyAddr = len(prog)
			prog = append(prog, Instruction{Op: OpColumn, P1: cursor, P2: idx, P3: 2})
			negOp, err := negatedComparator(s.Predicate.Operator)
			if err != nil {
				return nil, err
			}
			// Patched below once we know the Next instruction's address.
			prog = append(prog, Instruction{Op: negOp, P1: 1, P3: 2})
		}
	}

	startRR := 3
	outReg := startRR
	for _, c := range outputCols {
		idx := colIndex[c]
		if idx == 0 {
			prog = append(prog, Instruction{Op: OpKey, P1: cursor, P2: outReg})
		} else {
			prog = append(prog, Instruction{Op: OpColumn, P1: cursor, P2: idx, P3: outReg})
		}
		outReg++
	}
	prog = append(prog, Instruction{Op: OpResultRow, P1: startRR, P2: len(outputCols)})

	nextAddr := len(prog)
	prog = append(prog, Instruction{Op: loopAdvanceOp, P1: cursor, P2: bodyAddr})

	endAddr := len(prog)
	prog = append(prog, Instruction{Op: OpClose, P1: cursor}, Instruction{Op: OpHalt})

	// Patch forward jump targets now that addresses are known.
	prog[rewindAddr].P2 = endAddr
	if s.Predicate != nil {
		idx := colIndex[s.Predicate.Column]
		if idx != 0 {
			// the negated-comparator instruction is the one right
			// before the output-column emission; it skips to nextAddr.
			for i := bodyAddr; i < len(prog); i++ {
				if isNegatedComparatorOp(prog[i].Op) && prog[i].P2 == 0 {
					prog[i].P2 = nextAddr
					break
				}
			}
		} else {
			prog[seekAddr].P2 = endAddr
		}
	}

	return &CompiledProgram{Instructions: prog, ColumnNames: outputCols}, nil
}

// genJoinSelect compiles a two-table natural join as a nested-loop scan:
// for each outer row, rewind the inner cursor and scan for rows whose
// join column matches. A predicate the optimizer pushed to one side is
// applied (via the same negated-comparator skip as genSelect) as early
// as that side's cursor is positioned, before the join comparison runs.
func genJoinSelect(schema *Schema, s *SelectStmt) (*CompiledProgram, error) {
	outerTable, innerTable := s.Tables[0], s.Tables[1]

	outerEntry, ok := schema.Lookup(outerTable)
	if !ok {
		return nil, newErr(CodeInvalidSQL, "table %q does not exist", outerTable)
	}
	innerEntry, ok := schema.Lookup(innerTable)
	if !ok {
		return nil, newErr(CodeInvalidSQL, "table %q does not exist", innerTable)
	}
	outerCols, err := parseColumnDefs(outerEntry.SQL)
	if err != nil {
		return nil, err
	}
	innerCols, err := parseColumnDefs(innerEntry.SQL)
	if err != nil {
		return nil, err
	}

	outerIdx := columnIndex(outerCols)
	innerIdx := columnIndex(innerCols)

	// loadCol reads column idx of cursor cur into reg. Column 0 is the
	// primary key, which lives in the cell key rather than the record.
	loadCol := func(cur, idx, reg int) Instruction {
		if idx == 0 {
			return Instruction{Op: OpKey, P1: cur, P2: reg}
		}
		return Instruction{Op: OpColumn, P1: cur, P2: idx, P3: reg}
	}

	joinCol := ""
	for name := range outerIdx {
		if _, ok := innerIdx[name]; ok {
			joinCol = name
			break
		}
	}
	if joinCol == "" {
		return nil, newErr(CodeInvalidSQL, "tables %q and %q share no column to natural-join on", outerTable, innerTable)
	}

	// Resolve requested output columns against whichever side declares them.
	outputCols := s.Columns
	if len(outputCols) == 0 {
		outputCols = append(append([]string{}, columnDefList(outerCols).names()...), columnDefList(innerCols).names()...)
	}
	type outSrc struct {
		fromOuter bool
		idx       int
	}
	sources := make([]outSrc, len(outputCols))
	for i, c := range outputCols {
		if idx, ok := outerIdx[c]; ok {
			sources[i] = outSrc{fromOuter: true, idx: idx}
		} else if idx, ok := innerIdx[c]; ok {
			sources[i] = outSrc{fromOuter: false, idx: idx}
		} else {
			return nil, newErr(CodeInvalidSQL, "unknown column %q", c)
		}
	}

	const outerCursor, innerCursor = 0, 1
	prog := []Instruction{
		{Op: OpInteger, P1: int(outerEntry.RootPage), P2: 0},
		{Op: OpOpenRead, P1: outerCursor, P2: 0, P3: len(outerCols)},
		{Op: OpInteger, P1: int(innerEntry.RootPage), P2: 1},
		{Op: OpOpenRead, P1: innerCursor, P2: 1, P3: len(innerCols)},
	}

	outerRewindAddr := len(prog)
	prog = append(prog, Instruction{Op: OpRewind, P1: outerCursor})

	outerBodyAddr := len(prog)
	if s.Predicate != nil {
		prog = append(prog, emitLoad(2, s.Predicate.Literal)...)
	}

	outerNextAddr := -1 // patched once known
	if s.Predicate != nil && s.PushedTo == 0 {
		outerBodyAddr = len(prog)
		prog = append(prog, loadCol(outerCursor, s.Predicate.ColumnIndexIn(outerIdx), 3))
		negOp, err := negatedComparator(s.Predicate.Operator)
		if err != nil {
			return nil, err
		}
		prog = append(prog, Instruction{Op: negOp, P1: 2, P3: 3})
	}

	innerRewindAddr := len(prog)
	prog = append(prog, Instruction{Op: OpRewind, P1: innerCursor})

	innerBodyAddr := len(prog)
	if s.Predicate != nil && s.PushedTo == 1 {
		prog = append(prog, loadCol(innerCursor, s.Predicate.ColumnIndexIn(innerIdx), 3))
		negOp, err := negatedComparator(s.Predicate.Operator)
		if err != nil {
			return nil, err
		}
		prog = append(prog, Instruction{Op: negOp, P1: 2, P3: 3})
	}

	// Join comparison: outer.joinCol != inner.joinCol -> skip this inner row.
	prog = append(prog,
		loadCol(outerCursor, outerIdx[joinCol], 4),
		loadCol(innerCursor, innerIdx[joinCol], 5),
		Instruction{Op: OpNe, P1: 4, P3: 5},
	)
	joinMismatchInstrAddr := len(prog) - 1

	// A predicate left unpushed names a column both tables declare; it is
	// checked after the join comparison, reading the outer side's value.
	if s.Predicate != nil && s.PushedTo == -1 {
		idx, ok := outerIdx[s.Predicate.Column]
		if !ok {
			return nil, newErr(CodeInvalidSQL, "unknown column %q", s.Predicate.Column)
		}
		negOp, err := negatedComparator(s.Predicate.Operator)
		if err != nil {
			return nil, err
		}
		prog = append(prog, loadCol(outerCursor, idx, 3), Instruction{Op: negOp, P1: 2, P3: 3})
	}

	startRR := 6
	outReg := startRR
	for i, c := range outputCols {
		src := sources[i]
		cur := innerCursor
		idx := src.idx
		if src.fromOuter {
			cur = outerCursor
		}
		if idx == 0 {
			prog = append(prog, Instruction{Op: OpKey, P1: cur, P2: outReg})
		} else {
			prog = append(prog, Instruction{Op: OpColumn, P1: cur, P2: idx, P3: outReg})
		}
		outReg++
	}
	prog = append(prog, Instruction{Op: OpResultRow, P1: startRR, P2: len(outputCols)})

	innerNextAddr := len(prog)
	prog = append(prog, Instruction{Op: OpNext, P1: innerCursor, P2: innerBodyAddr})

	outerNextAddr = len(prog)
	prog = append(prog, Instruction{Op: OpNext, P1: outerCursor, P2: outerBodyAddr})

	endAddr := len(prog)
	prog = append(prog,
		Instruction{Op: OpClose, P1: outerCursor},
		Instruction{Op: OpClose, P1: innerCursor},
		Instruction{Op: OpHalt},
	)

	prog[outerRewindAddr].P2 = endAddr
	prog[innerRewindAddr].P2 = outerNextAddr
	prog[joinMismatchInstrAddr].P2 = innerNextAddr

	if s.Predicate != nil {
		for i := outerBodyAddr; i < innerRewindAddr; i++ {
			if isNegatedComparatorOp(prog[i].Op) {
				prog[i].P2 = outerNextAddr
			}
		}
		for i := innerRewindAddr + 1; i < innerNextAddr; i++ {
			if isNegatedComparatorOp(prog[i].Op) {
				prog[i].P2 = innerNextAddr
			}
		}
	}

	return &CompiledProgram{Instructions: prog, ColumnNames: outputCols}, nil
}

type columnDefList []ColumnDef

func (c columnDefList) names() []string {
	out := make([]string, len(c))
	for i, d := range c {
		out[i] = d.Name
	}
	return out
}

func columnIndex(cols []ColumnDef) map[string]int {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c.Name] = i
	}
	return idx
}

// ColumnIndexIn resolves this predicate's column name against idx,
// returning -1 if it isn't present on that side.
func (p *Predicate) ColumnIndexIn(idx map[string]int) int {
	if i, ok := idx[p.Column]; ok {
		return i
	}
	return -1
}

func seekAndAdvanceFor(op string) (Op, Op) {
	switch op {
	case "=":
		return OpSeek, OpNoop
	case ">":
		return OpSeekGt, OpNext
	case ">=":
		return OpSeekGe, OpNext
	case "<":
		return OpSeekLt, OpPrev
	case "<=":
		return OpSeekLe, OpPrev
	default:
		return OpSeek, OpNoop
	}
}

// negatedComparator returns the comparator that, evaluated as
// literal OP column, holds exactly when "column op literal" does not —
// i.e. the skip-this-row test for a predicate compiled with the literal
// in the left register and the column in the right one.
func negatedComparator(op string) (Op, error) {
	switch op {
	case "=":
		return OpNe, nil
	case ">":
		return OpGe, nil
	case ">=":
		return OpGt, nil
	case "<":
		return OpLe, nil
	case "<=":
		return OpLt, nil
	default:
		return 0, newErr(CodeInvalidSQL, "unsupported operator %q", op)
	}
}

// typesCompatible reports whether a value of type vt can be stored in or
// compared against a column declared as ct. The three integer serial
// types (TypeInt8/16/32) are a single family: IntValue picks the
// narrowest one that fits the magnitude, while column types always
// resolve to TypeInt32, so an exact Type match would reject every
// integer small enough to encode more compactly.
func typesCompatible(vt, ct ValueType) bool {
	if isIntType(vt) && isIntType(ct) {
		return true
	}
	return vt == ct
}

func isIntType(t ValueType) bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32:
		return true
	default:
		return false
	}
}

func isNegatedComparatorOp(op Op) bool {
	switch op {
	case OpNe, OpLe, OpLt, OpGe, OpGt:
		return true
	default:
		return false
	}
}

func renderCreateTableSQL(s *CreateTableStmt) string {
	out := fmt.Sprintf("CREATE TABLE %s (", s.Table)
	for i, c := range s.Columns {
		if i > 0 {
			out += ", "
		}
		typeName := "TEXT"
		if c.Type == TypeInt32 {
			typeName = "INTEGER"
		}
		out += fmt.Sprintf("%s %s", c.Name, typeName)
	}
	return out + ")"
}

// parseColumnDefs recovers a table's column definitions from the SQL text
// stored in its schema row, reusing the same parser/adapter the front end
// uses for fresh statements rather than inventing a second mini-parser.
func parseColumnDefs(createSQL string) ([]ColumnDef, error) {
	stmt, err := ParseStatement(createSQL)
	if err != nil {
		return nil, err
	}
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		return nil, newErr(CodeCorruptHeader, "schema SQL does not parse as CREATE TABLE")
	}
	return ct.Columns, nil
}
