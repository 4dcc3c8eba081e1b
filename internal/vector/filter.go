package vector

import (
	"fmt"

	"vecsync/internal/apperr"
)

// Match is an exact-value condition. Value must be a string, bool, integer or float.
type Match struct {
	Value any `json:"value"`
}

// Range is a numeric range condition; nil bounds are open.
type Range struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

// Condition tests one payload field. Exactly one of Match and Range is set.
type Condition struct {
	Field string `json:"key"`
	Match *Match `json:"match,omitempty"`
	Range *Range `json:"range,omitempty"`
}

// Filter is a boolean combination of conditions: all of Must, at least one
// of Should (when non-empty) and none of MustNot.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	Should  []Condition `json:"should,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

// MatchField builds an exact-match condition.
func MatchField(field string, value any) Condition {
	return Condition{Field: field, Match: &Match{Value: value}}
}

// DocIDFilter selects every point owned by docID.
func DocIDFilter(docID string) *Filter {
	return &Filter{Must: []Condition{MatchField(PayloadDocID, docID)}}
}

func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

// Validate rejects malformed filters with an input error.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, group := range [][]Condition{f.Must, f.Should, f.MustNot} {
		for _, c := range group {
			if err := c.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c Condition) validate() error {
	if c.Field == "" {
		return fmt.Errorf("%w: filter condition without field", apperr.ErrInput)
	}
	if (c.Match == nil) == (c.Range == nil) {
		return fmt.Errorf("%w: condition on %q needs exactly one of match or range", apperr.ErrInput, c.Field)
	}
	if c.Match != nil {
		switch c.Match.Value.(type) {
		case string, bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("%w: unsupported match value %T on %q", apperr.ErrInput, c.Match.Value, c.Field)
		}
	}
	if r := c.Range; r != nil {
		if r.GT == nil && r.GTE == nil && r.LT == nil && r.LTE == nil {
			return fmt.Errorf("%w: empty range on %q", apperr.ErrInput, c.Field)
		}
	}
	return nil
}

// Matches evaluates the filter against a payload in memory.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(payload) {
			return false
		}
	}
	if len(f.Should) > 0 {
		hit := false
		for _, c := range f.Should {
			if c.matches(payload) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(payload map[string]any) bool {
	v, ok := payload[c.Field]
	if !ok {
		return false
	}
	if c.Match != nil {
		if a, ok := toFloat(c.Match.Value); ok {
			b, ok := toFloat(v)
			return ok && a == b
		}
		switch want := c.Match.Value.(type) {
		case string:
			got, ok := v.(string)
			return ok && got == want
		case bool:
			got, ok := v.(bool)
			return ok && got == want
		}
		return false
	}
	n, ok := toFloat(v)
	if !ok {
		return false
	}
	r := c.Range
	if r.GT != nil && !(n > *r.GT) {
		return false
	}
	if r.GTE != nil && !(n >= *r.GTE) {
		return false
	}
	if r.LT != nil && !(n < *r.LT) {
		return false
	}
	if r.LTE != nil && !(n <= *r.LTE) {
		return false
	}
	return true
}

func toFloat(v any) (float64, bool) {
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
