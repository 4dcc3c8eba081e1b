package weaviate

import (
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"

	"vecsync/internal/apperr"
	"vecsync/internal/vector"
)

// whereFor translates a payload filter into a Weaviate where clause. MustNot
// conditions are pushed down by negating each leaf operator. intFields lists
// properties stored as int so numeric values are sent with the right type.
func whereFor(f *vector.Filter, intFields map[string]bool) (*filters.WhereBuilder, error) {
	if f.IsEmpty() {
		return nil, nil
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var operands []*filters.WhereBuilder
	for _, c := range f.Must {
		w, err := conditionWhere(c, false, intFields)
		if err != nil {
			return nil, err
		}
		operands = append(operands, w)
	}
	if len(f.Should) > 0 {
		var either []*filters.WhereBuilder
		for _, c := range f.Should {
			w, err := conditionWhere(c, false, intFields)
			if err != nil {
				return nil, err
			}
			either = append(either, w)
		}
		operands = append(operands, combine(filters.Or, either))
	}
	for _, c := range f.MustNot {
		w, err := conditionWhere(c, true, intFields)
		if err != nil {
			return nil, err
		}
		operands = append(operands, w)
	}
	return combine(filters.And, operands), nil
}

func combine(op filters.WhereOperator, operands []*filters.WhereBuilder) *filters.WhereBuilder {
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(op).WithOperands(operands)
}

func conditionWhere(c vector.Condition, negate bool, intFields map[string]bool) (*filters.WhereBuilder, error) {
	path := []string{c.Field}

	if c.Match != nil {
		op := filters.Equal
		if negate {
			op = filters.NotEqual
		}
		w := filters.Where().WithPath(path).WithOperator(op)
		switch v := c.Match.Value.(type) {
		case string:
			return w.WithValueText(v), nil
		case bool:
			return w.WithValueBoolean(v), nil
		default:
			n, ok := toNumber(v)
			if !ok {
				return nil, fmt.Errorf("%w: unsupported match value %T on %q", apperr.ErrInput, v, c.Field)
			}
			return numeric(w, c.Field, n, intFields), nil
		}
	}

	type bound struct {
		value *float64
		op    filters.WhereOperator
		neg   filters.WhereOperator
	}
	bounds := []bound{
		{c.Range.GT, filters.GreaterThan, filters.LessThanEqual},
		{c.Range.GTE, filters.GreaterThanEqual, filters.LessThan},
		{c.Range.LT, filters.LessThan, filters.GreaterThanEqual},
		{c.Range.LTE, filters.LessThanEqual, filters.GreaterThan},
	}

	var leaves []*filters.WhereBuilder
	for _, b := range bounds {
		if b.value == nil {
			continue
		}
		op := b.op
		if negate {
			op = b.neg
		}
		leaves = append(leaves, numeric(filters.Where().WithPath(path).WithOperator(op), c.Field, *b.value, intFields))
	}
	// not (a and b) == (not a) or (not b)
	if negate {
		return combine(filters.Or, leaves), nil
	}
	return combine(filters.And, leaves), nil
}

func numeric(w *filters.WhereBuilder, field string, n float64, intFields map[string]bool) *filters.WhereBuilder {
	if intFields[field] {
		return w.WithValueInt(int64(n))
	}
	return w.WithValueNumber(n)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
