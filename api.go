package chidb

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const schemaRootPage = 1

// DB is an open database file: its B-tree and the in-memory mirror of
// its schema table.
type DB struct {
	bt     *BTree
	schema *Schema
}

// Open opens (creating if necessary) the database file at path and loads
// its schema table.
func Open(path string) (*DB, error) {
	bt, err := openBTree(path)
	if err != nil {
		return nil, err
	}
	schema, err := LoadSchema(bt, schemaRootPage)
	if err != nil {
		bt.Close()
		return nil, err
	}
	log.WithField("path", path).Info("chidb: opened database")
	return &DB{bt: bt, schema: schema}, nil
}

// Close closes the underlying B-tree file.
func (db *DB) Close() error {
	log.Info("chidb: closing database")
	return db.bt.Close()
}

// Stmt is a prepared statement: a compiled program plus the cursor over
// its own private DBM instance and result-column metadata.
type Stmt struct {
	id      string
	db      *DB
	program *CompiledProgram
	dbm     *DBM
	explain bool
	halted  bool
}

// Prepare parses, optimizes, and compiles sql into a Stmt ready to Step.
// If the previous statement executed on db created a table, the schema
// is refreshed before code generation, matching the lifecycle rule that
// CREATE TABLE must be visible to the very next prepare.
func (db *DB) Prepare(sql string) (*Stmt, error) {
	stmt, err := ParseStatement(sql)
	if err != nil {
		return nil, err
	}

	program, err := Generate(db.schema, stmt)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	log.WithFields(log.Fields{"stmt": id, "sql": sql}).Debug("chidb: prepared statement")

	return &Stmt{
		id:      id,
		db:      db,
		program: program,
		dbm:     NewDBM(db.bt, program.Instructions),
	}, nil
}

// PrepareExplain is like Prepare but puts the statement in EXPLAIN mode:
// Step walks the opcodes themselves instead of running the DBM.
func (db *DB) PrepareExplain(sql string) (*Stmt, error) {
	stmt, err := db.Prepare(sql)
	if err != nil {
		return nil, err
	}
	stmt.explain = true
	return stmt, nil
}

// ExplainRow is one row of EXPLAIN output: the six columns spec.md's
// external interface promises for an opcode listing.
type ExplainRow struct {
	Addr    int
	Opcode  string
	P1      int
	P2      int
	P3      int
	P4      string
}

// Step advances the statement by one result row. On CodeRow, the caller
// reads columns via Column*/ExplainRow before calling Step again.
func (s *Stmt) Step() (Code, error) {
	if s.halted {
		return CodeDone, ErrStatementHalted
	}

	if s.explain {
		if s.dbm.pc >= len(s.program.Instructions) {
			s.halted = true
			return CodeDone, nil
		}
		s.dbm.pc++
		return CodeRow, nil
	}

	switch s.dbm.Step() {
	case StepRow:
		return CodeRow, nil
	case StepDone:
		s.halted = true
		if createdTable(s.program.Instructions) {
			s.db.schema.MarkDirty()
		}
		return CodeDone, nil
	default:
		s.halted = true
		return CodeIO, s.dbm.Err()
	}
}

func createdTable(prog []Instruction) bool {
	for _, i := range prog {
		if i.Op == OpCreateTable {
			return true
		}
	}
	return false
}

// Finalize releases the statement's registers, cursors and program.
func (s *Stmt) Finalize() error {
	s.dbm = nil
	s.program = nil
	s.halted = true
	return nil
}

// Explain returns the current instruction as an ExplainRow; valid only
// in EXPLAIN mode, immediately after a Step that returned CodeRow.
func (s *Stmt) Explain() ExplainRow {
	i := s.program.Instructions[s.dbm.pc-1]
	return ExplainRow{Addr: s.dbm.pc - 1, Opcode: i.Op.String(), P1: i.P1, P2: i.P2, P3: i.P3, P4: i.P4}
}

// ColumnCount returns the number of columns in the current result row.
func (s *Stmt) ColumnCount() int {
	return len(s.program.ColumnNames)
}

// ColumnName returns the name of result column i.
func (s *Stmt) ColumnName(i int) string {
	if i < 0 || i >= len(s.program.ColumnNames) {
		return ""
	}
	return s.program.ColumnNames[i]
}

// ColumnType returns the RegType of result column i in the current row.
func (s *Stmt) ColumnType(i int) RegType {
	return s.dbm.ResultRow()[i].Type
}

// ColumnInt returns result column i as an int32.
func (s *Stmt) ColumnInt(i int) int32 {
	return s.dbm.ResultRow()[i].Int
}

// ColumnText returns result column i as text.
func (s *Stmt) ColumnText(i int) string {
	return s.dbm.ResultRow()[i].Text
}
