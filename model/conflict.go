package model

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// unique constraints whose violation means two writers raced for the same
// invoice number
var numberingConstraints = []string{"invoice_number", "invoice_sequences"}

func mentionsNumbering(s string) bool {
	s = strings.ToLower(s)
	for _, c := range numberingConstraints {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

// isConflict reports whether err is a retryable concurrency failure of one of
// the supported databases.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return true
		case "23505":
			return mentionsNumbering(pgErr.ConstraintName) || mentionsNumbering(pgErr.TableName)
		}
		return false
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		case 1062:
			return mentionsNumbering(myErr.Message)
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sqlite_busy"):
		return true
	case strings.Contains(msg, "unique constraint failed"):
		return mentionsNumbering(msg)
	}
	return false
}
