package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Violation classifies a failed statement across the supported dialects.
type Violation int

const (
	ViolationNone Violation = iota
	ViolationUnique
	ViolationForeignKey
	ViolationTransient
)

var pgCodes = map[string]Violation{
	"23505": ViolationUnique,
	"23503": ViolationForeignKey,
	"40001": ViolationTransient, // serialization_failure
	"40P01": ViolationTransient, // deadlock_detected
	"55P03": ViolationTransient, // lock_not_available
}

// Driver messages for errors gorm does not translate.
var messageHints = []struct {
	fragment  string
	violation Violation
}{
	{"duplicate key value violates unique constraint", ViolationUnique},
	{"Error 1062", ViolationUnique},
	{"UNIQUE constraint failed", ViolationUnique},
	{"Error 1452", ViolationForeignKey},
	{"FOREIGN KEY constraint failed", ViolationForeignKey},
	{"Error 1213", ViolationTransient},
	{"database is locked", ViolationTransient},
}

func Classify(err error) Violation {
	switch {
	case err == nil:
		return ViolationNone
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ViolationUnique
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ViolationForeignKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgCodes[pgErr.Code]
	}
	msg := err.Error()
	for _, hint := range messageHints {
		if strings.Contains(msg, hint.fragment) {
			return hint.violation
		}
	}
	return ViolationNone
}

func IsDuplicateKeyErr(err error) bool { return Classify(err) == ViolationUnique }

func IsForeignKeyErr(err error) bool { return Classify(err) == ViolationForeignKey }

// IsRetryableErr reports whether re-running the statement may succeed.
func IsRetryableErr(err error) bool { return Classify(err) == ViolationTransient }
