package option

import (
	"fmt"
	"strings"
	"time"

	"reviewhub/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption is a gorm scope applied by repository reads.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ    Operator = "="
	NEQ   Operator = "<>"
	GT    Operator = ">"
	GTE   Operator = ">="
	LT    Operator = "<"
	LTE   Operator = "<="
	IN    Operator = "IN"
	NOTIN Operator = "NOT IN"
	LIKE  Operator = "LIKE"
	NULL  Operator = "IS NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// WithSortBy orders by SortBy when it is allowed, falling back to created_at.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && (s.Allow == nil || s.Allow[s.SortBy]) {
			column = s.SortBy
		}

		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	}
}

func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		switch c.Operator {
		case NULL:
			return db.Where(fmt.Sprintf("%s IS NULL", c.Field))
		case IN, NOTIN:
			return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		case LIKE:
			return db.Where(fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", c.Field), fmt.Sprintf("%%%v%%", c.Value))
		case "":
			return db.Where(fmt.Sprintf("%s = ?", c.Field), c.Value)
		default:
			return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		}
	}
}

// WithAnyLike matches value against any of the given columns.
func WithAnyLike(value string, fields ...string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if value == "" || len(fields) == 0 {
			return db
		}

		parts := make([]string, 0, len(fields))
		args := make([]any, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", f))
			args = append(args, "%"+value+"%")
		}
		return db.Where(strings.Join(parts, " OR "), args...)
	}
}

func WithPreload(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Preload(query, args...)
	}
}

// WithJoins joins a named association or a raw join clause.
func WithJoins(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Joins(query, args...)
	}
}

// ApplyPagination limits the result to Limit+1 rows so callers can detect a
// next page, and resumes after the cursor when one is given.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.ID != "" {
				if at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)", at, at, cursor.ID)
				}
			}
		}

		return db.Order("created_at DESC").Order("id DESC").Limit(limit + 1)
	}
}
