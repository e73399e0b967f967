package entity

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"gridframe/server/pkg/errors"
)

// Clause is a per-field search clause. Exactly the operators matching the
// field's declared type may be set.
type Clause struct {
	// string
	Inc *string `json:"inc,omitempty"`
	Sw  *string `json:"sw,omitempty"`
	Ew  *string `json:"ew,omitempty"`
	// numeric
	Eq   *float64 `json:"eq,omitempty"`
	Neq  *float64 `json:"neq,omitempty"`
	Lt   *float64 `json:"lt,omitempty"`
	Gt   *float64 `json:"gt,omitempty"`
	Lteq *float64 `json:"lteq,omitempty"`
	Gteq *float64 `json:"gteq,omitempty"`
	// date
	Before *time.Time `json:"before,omitempty"`
	After  *time.Time `json:"after,omitempty"`
	On     *time.Time `json:"on,omitempty"`
	// bool
	IsTrue *bool `json:"is_true,omitempty"`
}

// Predicate is one database restriction produced by a transformer or clause
type Predicate struct {
	Query string
	Args  []any
}

// Transformer maps a high-level search parameter to filter predicates,
// e.g. overdue → scheduled AND NOT completed AND due_date <= now.
type Transformer func(value any) ([]Predicate, error)

// applyClause translates one clause into query restrictions, validating the
// operators against the field's declared type.
func applyClause(tx *gorm.DB, field string, ft FieldType, c Clause) (*gorm.DB, error) {
	stringOps := c.Inc != nil || c.Sw != nil || c.Ew != nil
	numberOps := c.Eq != nil || c.Neq != nil || c.Lt != nil || c.Gt != nil || c.Lteq != nil || c.Gteq != nil
	dateOps := c.Before != nil || c.After != nil || c.On != nil
	boolOps := c.IsTrue != nil
	switch ft {
	case FieldString:
		if numberOps || dateOps || boolOps {
			return nil, errors.NewValidationError("invalid search clause", fmt.Sprintf("field %s accepts inc/sw/ew", field))
		}
		if c.Inc != nil {
			tx = tx.Where(field+" LIKE ?", "%"+*c.Inc+"%")
		}
		if c.Sw != nil {
			tx = tx.Where(field+" LIKE ?", *c.Sw+"%")
		}
		if c.Ew != nil {
			tx = tx.Where(field+" LIKE ?", "%"+*c.Ew)
		}
	case FieldNumber:
		if stringOps || dateOps || boolOps {
			return nil, errors.NewValidationError("invalid search clause", fmt.Sprintf("field %s accepts eq/neq/lt/gt/lteq/gteq", field))
		}
		if c.Eq != nil {
			tx = tx.Where(field+" = ?", *c.Eq)
		}
		if c.Neq != nil {
			tx = tx.Where(field+" <> ?", *c.Neq)
		}
		if c.Lt != nil {
			tx = tx.Where(field+" < ?", *c.Lt)
		}
		if c.Gt != nil {
			tx = tx.Where(field+" > ?", *c.Gt)
		}
		if c.Lteq != nil {
			tx = tx.Where(field+" <= ?", *c.Lteq)
		}
		if c.Gteq != nil {
			tx = tx.Where(field+" >= ?", *c.Gteq)
		}
	case FieldDate:
		if stringOps || numberOps || boolOps {
			return nil, errors.NewValidationError("invalid search clause", fmt.Sprintf("field %s accepts before/after/on", field))
		}
		if c.Before != nil {
			tx = tx.Where(field+" < ?", *c.Before)
		}
		if c.After != nil {
			tx = tx.Where(field+" > ?", *c.After)
		}
		if c.On != nil {
			day := c.On.Truncate(24 * time.Hour)
			tx = tx.Where(field+" >= ? AND "+field+" < ?", day, day.Add(24*time.Hour))
		}
	case FieldBool:
		if !boolOps || stringOps || numberOps || dateOps {
			return nil, errors.NewValidationError("invalid search clause", fmt.Sprintf("field %s accepts is_true", field))
		}
		tx = tx.Where(field+" = ?", *c.IsTrue)
	default:
		return nil, errors.NewValidationError("invalid search clause", fmt.Sprintf("field %s has no searchable type", field))
	}
	return tx, nil
}
