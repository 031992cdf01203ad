package chidb

// Optimize applies the one rewrite this engine knows: for a select over a
// natural join whose predicate references columns of exactly one side,
// push the predicate down to that side so it filters before the join
// instead of after. A predicate over the join column itself, or absent
// entirely, or over a single-table select, passes through unchanged.
func Optimize(schema *Schema, s *SelectStmt) *SelectStmt {
	if len(s.Tables) != 2 || s.Predicate == nil {
		return s
	}

	leftCols, err := tableColumnNames(schema, s.Tables[0])
	if err != nil {
		return s
	}
	rightCols, err := tableColumnNames(schema, s.Tables[1])
	if err != nil {
		return s
	}

	_, inLeft := leftCols[s.Predicate.Column]
	_, inRight := rightCols[s.Predicate.Column]

	switch {
	case inLeft && !inRight:
		s.PushedTo = 0
	case inRight && !inLeft:
		s.PushedTo = 1
	default:
		// Ambiguous (the join column) or references both sides: leave it
		// applied after the join.
		s.PushedTo = -1
	}
	return s
}

func tableColumnNames(schema *Schema, table string) (map[string]bool, error) {
	entry, ok := schema.Lookup(table)
	if !ok {
		return nil, newErr(CodeInvalidSQL, "table %q does not exist", table)
	}
	cols, err := parseColumnDefs(entry.SQL)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(cols))
	for _, c := range cols {
		names[c.Name] = true
	}
	return names, nil
}
