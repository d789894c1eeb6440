package sqldriver

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrUnsupported is matched by every UnsupportedError
	ErrUnsupported = errors.New("unsupported by dialect")

	// ErrNoRowsAffected is returned when an insert reports no inserted row
	ErrNoRowsAffected = errors.New("no rows affected")

	// ErrNoPrimaryKey is returned when an object must be addressed by key but
	// its table has none
	ErrNoPrimaryKey = errors.New("no primary key")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// UnsupportedError reports a feature a dialect cannot express. It is raised
// before any SQL is sent.
type UnsupportedError struct {
	Dialect string
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by the %s dialect", e.Feature, e.Dialect)
}

// Is matches ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

func unsupported(dialect, format string, args ...any) error {
	return &UnsupportedError{Dialect: dialect, Feature: fmt.Sprintf(format, args...)}
}

// SQLError wraps every failure of a statement with the SQL that caused it.
type SQLError struct {
	Op   string
	SQL  string
	Args int
	Err  error
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("%s failed using SQL [%s] with %d args: %v", e.Op, e.SQL, e.Args, e.Err)
}

func (e *SQLError) Unwrap() error {
	return e.Err
}

func wrap(op, query string, args []any, err error) error {
	if err == nil {
		return nil
	}
	return &SQLError{Op: op, SQL: query, Args: len(args), Err: classify(err)}
}

// ConstraintKind names the kind of a violated constraint
type ConstraintKind int

const (
	Unique ConstraintKind = iota
	ForeignKey
	Check
	NotNull
)

func (k ConstraintKind) String() string {
	switch k {
	case Unique:
		return "unique"
	case ForeignKey:
		return "foreign key"
	case Check:
		return "check"
	case NotNull:
		return "not null"
	default:
		return "unknown"
	}
}

func (k ConstraintKind) sentinel() error {
	switch k {
	case Unique:
		return ErrUniqueViolation
	case ForeignKey:
		return ErrForeignKeyViolation
	case Check:
		return ErrCheckViolation
	default:
		return ErrNotNullViolation
	}
}

// ConstraintError is a database error classified by constraint kind. It
// matches the sentinel of its kind and unwraps to the driver error.
type ConstraintError struct {
	Kind       ConstraintKind
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind.sentinel(), e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the constraint kind.
func (e *ConstraintError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// classify converts driver constraint errors of Postgres (pgx and lib/pq),
// MySQL and SQLite into ConstraintErrors. Other errors are returned as is.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if kind, ok := sqlState(pgErr.Code); ok {
			return &ConstraintError{Kind: kind, Constraint: pgErr.ConstraintName, Err: err}
		}
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind, ok := sqlState(string(pqErr.Code)); ok {
			return &ConstraintError{Kind: kind, Constraint: pqErr.Constraint, Err: err}
		}
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return &ConstraintError{Kind: Unique, Err: err}
		case 1451, 1452:
			return &ConstraintError{Kind: ForeignKey, Err: err}
		case 3819:
			return &ConstraintError{Kind: Check, Err: err}
		case 1048:
			return &ConstraintError{Kind: NotNull, Err: err}
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &ConstraintError{Kind: Unique, Err: err}
		case sqlite3.ErrConstraintForeignKey:
			return &ConstraintError{Kind: ForeignKey, Err: err}
		case sqlite3.ErrConstraintCheck:
			return &ConstraintError{Kind: Check, Err: err}
		case sqlite3.ErrConstraintNotNull:
			return &ConstraintError{Kind: NotNull, Err: err}
		}
	}
	return err
}

func sqlState(code string) (ConstraintKind, bool) {
	switch code {
	case "23505": // unique_violation
		return Unique, true
	case "23503": // foreign_key_violation
		return ForeignKey, true
	case "23514": // check_violation
		return Check, true
	case "23502": // not_null_violation
		return NotNull, true
	}
	return 0, false
}

// IsUniqueViolation returns true if the error is a unique constraint violation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}

// IsCheckViolation returns true if the error is a check constraint violation
func IsCheckViolation(err error) bool {
	return errors.Is(err, ErrCheckViolation)
}

// IsNotNullViolation returns true if the error is a NOT NULL violation
func IsNotNullViolation(err error) bool {
	return errors.Is(err, ErrNotNullViolation)
}

// IsUnsupported returns true if the error is an UnsupportedError
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
