package option

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

// Apply runs opts in order, skipping nil entries.
func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		db = opt.Apply(db)
	}
	return db
}

// Equal filters column by value. Blank strings and zero integers are treated
// as "no filter".
func Equal[T comparable](column string, value T) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		var zero T
		if value == zero {
			return db
		}
		if s, ok := any(value).(string); ok && strings.TrimSpace(s) == "" {
			return db
		}
		return db.Where(column+" = ?", value)
	})
}

// Before keeps rows whose id sorts before the cursor id.
func Before[T comparable](column string, cursor T) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		var zero T
		if cursor == zero {
			return db
		}
		return db.Where(column+" < ?", cursor)
	})
}

// Within bounds column to [from, to]. Either bound may be nil.
func Within(column string, from, to *time.Time) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if from != nil {
			db = db.Where(column+" >= ?", from.UTC())
		}
		if to != nil {
			db = db.Where(column+" <= ?", to.UTC())
		}
		return db
	})
}

// OlderThan continues a newest-first listing after the row at (at, id).
func OlderThan[T any](timeColumn, idColumn string, at time.Time, id T) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"("+timeColumn+" < ?) OR ("+timeColumn+" = ? AND "+idColumn+" < ?)",
			at, at, id,
		)
	})
}

// When applies opt only if cond holds.
func When(cond bool, opt QueryOption) QueryOption {
	if !cond {
		return nil
	}
	return opt
}

func WithOrder(order string) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if order == "" {
			return db
		}
		return db.Order(order)
	})
}

func WithLimit(limit int) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}
