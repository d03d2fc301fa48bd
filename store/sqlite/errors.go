package sqlite

import (
	"errors"
	"regexp"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/trip-budget/budget"
)

// Driver messages for a column the schema does not have yet.
var missingColumnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`no such column: (?:\w+\.)?(\w+)`),
	regexp.MustCompile(`has no column named (\w+)`),
}

// storeError wraps a driver error into a budget.StoreError, naming the missing
// column when the failure is a schema mismatch. nil stays nil.
func storeError(op string, table budget.Table, err error) error {
	if err == nil {
		return nil
	}
	se := &budget.StoreError{Op: op, Table: table, Err: err}
	if field := missingColumn(err); field != "" {
		se.MissingField = field
	}
	return se
}

func missingColumn(err error) string {
	msg := err.Error()
	for _, re := range missingColumnPatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1]
		}
	}
	return ""
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
