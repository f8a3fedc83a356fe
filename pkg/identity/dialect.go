package identity

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the few places where postgres and sqlite SQL differ.
// Queries use $n placeholders in ascending order, which both drivers accept.
type Dialect struct {
	Name string
}

var (
	// Postgres is the production dialect (github.com/lib/pq)
	Postgres = Dialect{Name: "postgres"}
	// SQLite is the embedded dialect (github.com/mattn/go-sqlite3)
	SQLite = Dialect{Name: "sqlite3"}
)

// DialectFor returns the dialect of a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pq":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// JSONField returns an expression extracting a top-level text field from a
// JSON document stored in column
func (d Dialect) JSONField(column, field string) string {
	if d.Name == SQLite.Name {
		return fmt.Sprintf("json_extract(%s, '$.%s')", column, field)
	}
	return fmt.Sprintf("(%s::jsonb)->>'%s'", column, field)
}

// IsUniqueViolation reports whether err is a unique or primary key constraint failure
func (d Dialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// mapWriteError converts driver constraint failures into conflicts
func (d Dialect) mapWriteError(err error, conflictCode, op string) error {
	if err == nil {
		return nil
	}
	if d.IsUniqueViolation(err) {
		return NewError(KindConflict, conflictCode, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
