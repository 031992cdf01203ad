package chidb

import (
	"strconv"

	"github.com/xwb1989/sqlparser"
)

// ColumnDef is a single declared column: its name and chidb-level type.
type ColumnDef struct {
	Name string
	Type ValueType
}

// CreateTableStmt is the adapted shape of a parsed CREATE TABLE.
type CreateTableStmt struct {
	Table   string
	Columns []ColumnDef
}

// InsertStmt is the adapted shape of a parsed INSERT INTO ... VALUES.
type InsertStmt struct {
	Table  string
	Values []Value
}

// Predicate is a single `column OP literal` restriction.
type Predicate struct {
	Column   string
	Operator string // one of "=", "<", "<=", ">", ">="
	Literal  Value
}

// SelectStmt is the adapted shape of a parsed SELECT. Tables has length 1
// for a plain single-table SELECT, or 2 for a natural join, in which case
// the join column is the column name shared by both tables' schemas.
type SelectStmt struct {
	Tables    []string
	Columns   []string // empty means "*"
	Predicate *Predicate

	// PushedTo names the table (index into Tables) the optimizer has
	// pushed Predicate down to, or -1 if it still applies post-join (or
	// there is only one table, in which case pushing is a no-op).
	PushedTo int
}

// Table returns the single table name for a non-join SELECT. Callers
// dealing with joins should use Tables directly.
func (s *SelectStmt) Table() string { return s.Tables[0] }

// ParseStatement parses sql with the external parser and adapts its AST
// into one of *CreateTableStmt, *InsertStmt or *SelectStmt.
func ParseStatement(sql string) (interface{}, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, newErr(CodeParseError, "%s", err)
	}

	switch s := stmt.(type) {
	case *sqlparser.DDL:
		return adaptCreateTable(s)
	case *sqlparser.Insert:
		return adaptInsert(s)
	case *sqlparser.Select:
		return adaptSelect(s)
	default:
		return nil, ErrUnsupportedQuery
	}
}

func adaptCreateTable(ddl *sqlparser.DDL) (*CreateTableStmt, error) {
	if ddl.Action != sqlparser.CreateStr || ddl.TableSpec == nil {
		return nil, ErrUnsupportedQuery
	}

	cols := make([]ColumnDef, 0, len(ddl.TableSpec.Columns))
	for _, c := range ddl.TableSpec.Columns {
		typ, err := adaptColumnType(c.Type.Type)
		if err != nil {
			return nil, err
		}
		cols = append(cols, ColumnDef{Name: c.Name.String(), Type: typ})
	}

	return &CreateTableStmt{
		Table:   ddl.NewName.Name.String(),
		Columns: cols,
	}, nil
}

func adaptColumnType(sqlType string) (ValueType, error) {
	switch sqlType {
	case "int", "integer", "tinyint", "smallint", "bigint":
		return TypeInt32, nil
	case "varchar", "text", "char":
		return TypeText, nil
	default:
		return 0, newErr(CodeInvalidSQL, "unsupported column type %q", sqlType)
	}
}

func adaptInsert(ins *sqlparser.Insert) (*InsertStmt, error) {
	rows, ok := ins.Rows.(sqlparser.Values)
	if !ok || len(rows) != 1 {
		return nil, newErr(CodeInvalidSQL, "only single-row INSERT ... VALUES is supported")
	}

	values := make([]Value, 0, len(rows[0]))
	for _, expr := range rows[0] {
		v, err := adaptLiteral(expr)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return &InsertStmt{
		Table:  ins.Table.Name.String(),
		Values: values,
	}, nil
}

func adaptLiteral(expr sqlparser.Expr) (Value, error) {
	val, ok := expr.(*sqlparser.SQLVal)
	if !ok {
		return Value{}, newErr(CodeInvalidSQL, "only literal values are supported")
	}
	switch val.Type {
	case sqlparser.IntVal:
		n, err := strconv.ParseInt(string(val.Val), 10, 32)
		if err != nil {
			return Value{}, newErr(CodeInvalidSQL, "invalid integer literal %q", val.Val)
		}
		return IntValue(int32(n)), nil
	case sqlparser.StrVal:
		return TextValue(string(val.Val)), nil
	default:
		return Value{}, newErr(CodeInvalidSQL, "unsupported literal kind")
	}
}

func adaptSelect(sel *sqlparser.Select) (*SelectStmt, error) {
	if len(sel.From) != 1 {
		return nil, newErr(CodeInvalidSQL, "only a single FROM item (table or natural join) is supported")
	}

	tables, err := adaptFrom(sel.From[0])
	if err != nil {
		return nil, err
	}

	var columns []string
	for _, se := range sel.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			columns = nil
		case *sqlparser.AliasedExpr:
			col, ok := e.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, newErr(CodeInvalidSQL, "only plain column references are supported")
			}
			columns = append(columns, col.Name.String())
		}
	}

	stmt := &SelectStmt{Tables: tables, Columns: columns, PushedTo: -1}

	if sel.Where != nil {
		pred, err := adaptPredicate(sel.Where.Expr)
		if err != nil {
			return nil, err
		}
		stmt.Predicate = pred
	}

	return stmt, nil
}

// adaptFrom returns the table name(s) referenced by a single FROM item:
// one for a plain table, two for a `t1 NATURAL JOIN t2`.
func adaptFrom(expr sqlparser.TableExpr) ([]string, error) {
	switch e := expr.(type) {
	case *sqlparser.AliasedTableExpr:
		tableName, ok := e.Expr.(sqlparser.TableName)
		if !ok {
			return nil, ErrUnsupportedQuery
		}
		return []string{tableName.Name.String()}, nil
	case *sqlparser.JoinTableExpr:
		if e.Join != sqlparser.NaturalJoinStr {
			return nil, newErr(CodeInvalidSQL, "only NATURAL JOIN is supported, got %q", e.Join)
		}
		left, err := adaptFrom(e.LeftExpr)
		if err != nil {
			return nil, err
		}
		right, err := adaptFrom(e.RightExpr)
		if err != nil {
			return nil, err
		}
		if len(left) != 1 || len(right) != 1 {
			return nil, newErr(CodeInvalidSQL, "only two-table natural joins are supported")
		}
		return []string{left[0], right[0]}, nil
	default:
		return nil, ErrUnsupportedQuery
	}
}

func adaptPredicate(expr sqlparser.Expr) (*Predicate, error) {
	cmp, ok := expr.(*sqlparser.ComparisonExpr)
	if !ok {
		return nil, newErr(CodeInvalidSQL, "only a single comparison predicate is supported")
	}
	col, ok := cmp.Left.(*sqlparser.ColName)
	if !ok {
		return nil, newErr(CodeInvalidSQL, "predicate must compare a column to a literal")
	}
	lit, err := adaptLiteral(cmp.Right)
	if err != nil {
		return nil, err
	}

	var op string
	switch cmp.Operator {
	case sqlparser.EqualStr:
		op = "="
	case sqlparser.LessThanStr:
		op = "<"
	case sqlparser.LessEqualStr:
		op = "<="
	case sqlparser.GreaterThanStr:
		op = ">"
	case sqlparser.GreaterEqualStr:
		op = ">="
	default:
		return nil, newErr(CodeInvalidSQL, "unsupported comparison operator %q", cmp.Operator)
	}

	return &Predicate{Column: col.Name.String(), Operator: op, Literal: lit}, nil
}
