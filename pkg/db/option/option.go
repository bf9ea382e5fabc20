package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithQuerySortBy(sortBy, orderBy string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{SortBy: sortBy, OrderBy: orderBy, Allow: allow}
}

// WithSortBy orders by an allow-listed column. Unknown columns fall back to
// the first of created_at or id that is allowed, ascending by default.
func WithSortBy(q QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.ToLower(strings.TrimSpace(q.SortBy))
		if !q.Allow[column] {
			column = ""
			for _, fallback := range []string{"created_at", "id"} {
				if q.Allow[fallback] {
					column = fallback
					break
				}
			}
		}
		if column == "" {
			return db
		}
		direction := "ASC"
		if strings.EqualFold(strings.TrimSpace(q.OrderBy), "desc") {
			direction = "DESC"
		}
		return db.Order(fmt.Sprintf("%s %s", column, direction))
	})
}

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(c Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		op := c.Operator
		switch op {
		case EQ, GT, GTE, LT, LTE:
		default:
			op = EQ
		}
		return db.Where(fmt.Sprintf("%s %s ?", c.Field, op), c.Value)
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}
