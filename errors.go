package chidb

import "fmt"

// Code is one of the boundary error codes from the spec's external
// interface: ok, row, done, nomem, io, corrupt-header, page-out-of-range,
// cell-out-of-range, not-found, duplicate, invalid-sql, parse-error.
type Code int

const (
	CodeOK Code = iota
	CodeRow
	CodeDone
	CodeNoMem
	CodeIO
	CodeCorruptHeader
	CodePageOutOfRange
	CodeCellOutOfRange
	CodeNotFound
	CodeDuplicate
	CodeInvalidSQL
	CodeParseError
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeRow:
		return "row"
	case CodeDone:
		return "done"
	case CodeNoMem:
		return "nomem"
	case CodeIO:
		return "io"
	case CodeCorruptHeader:
		return "corrupt-header"
	case CodePageOutOfRange:
		return "page-out-of-range"
	case CodeCellOutOfRange:
		return "cell-out-of-range"
	case CodeNotFound:
		return "not-found"
	case CodeDuplicate:
		return "duplicate"
	case CodeInvalidSQL:
		return "invalid-sql"
	case CodeParseError:
		return "parse-error"
	default:
		return "unknown"
	}
}

// Error wraps a Code with a human readable message so the boundary codes
// from the spec remain inspectable via errors.Is/errors.As while the rest
// of the codebase can still just return plain errors.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newErr(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code carried by err, defaulting to CodeIO for
// errors that didn't originate in this package.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeIO
}

var (
	ErrCorruptHeader    = newErr(CodeCorruptHeader, "file header does not match the chidb format")
	ErrPageOutOfRange   = newErr(CodePageOutOfRange, "page number out of range")
	ErrCellOutOfRange   = newErr(CodeCellOutOfRange, "cell index out of range")
	ErrNotFound         = newErr(CodeNotFound, "key not found")
	ErrDuplicate        = newErr(CodeDuplicate, "duplicate key")
	ErrInvalidSQL       = newErr(CodeInvalidSQL, "invalid SQL")
	ErrParse            = newErr(CodeParseError, "parse error")
	ErrWrongType        = newErr(CodeInvalidSQL, "wrong type")
	ErrNoRoom           = newErr(CodeIO, "node has no room for cell")
	ErrCantMove         = newErr(CodeDone, "cursor cannot move further")
	ErrEmpty            = newErr(CodeDone, "tree is empty")
	ErrInvalidRegister  = newErr(CodeIO, "invalid register")
	ErrInvalidCursor    = newErr(CodeIO, "invalid cursor")
	ErrInvalidJumpAddr  = newErr(CodeIO, "invalid jump address")
	ErrStatementHalted  = newErr(CodeIO, "statement already finalized")
	ErrUnsupportedQuery = newErr(CodeInvalidSQL, "unsupported query shape")
)
