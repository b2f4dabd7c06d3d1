package query

import (
	"cmp"
	"math"
	"time"

	"github.com/hupe1980/searchexec/model"
)

// compareLiteral compares a stored value against a literal decoded from JSON,
// YAML or Go code. The bool result is false when the two are not comparable.
func compareLiteral(v model.Value, lit any) (int, bool) {
	switch l := lit.(type) {
	case model.Value:
		if l.Kind != v.Kind {
			if a, ok := v.Numeric(); ok {
				if b, ok := l.Numeric(); ok && l.Kind != model.KindBool && v.Kind != model.KindBool {
					return cmp.Compare(a, b), true
				}
			}
			return 0, false
		}
		return model.Compare(v, l), true
	case string:
		switch v.Kind {
		case model.KindStr:
			return cmp.Compare(v.Str, l), true
		case model.KindBytes:
			return cmp.Compare(string(v.Raw), l), true
		case model.KindDate:
			t, err := time.Parse(time.RFC3339Nano, l)
			if err != nil {
				return 0, false
			}
			return cmp.Compare(v.I64, t.UnixNano()), true
		}
		return 0, false
	case []byte:
		return compareLiteral(v, string(l))
	case bool:
		if v.Kind != model.KindBool {
			return 0, false
		}
		return model.Compare(v, model.Bool(l)), true
	case time.Time:
		if v.Kind != model.KindDate {
			return 0, false
		}
		return cmp.Compare(v.I64, l.UnixNano()), true
	}

	f, isInt, i, ok := numericLiteral(lit)
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case model.KindI64, model.KindDate:
		if isInt {
			return cmp.Compare(v.I64, i), true
		}
		return cmp.Compare(float64(v.I64), f), true
	case model.KindU64:
		if isInt {
			if i < 0 {
				return 1, true
			}
			return cmp.Compare(v.U64, uint64(i)), true
		}
		return cmp.Compare(float64(v.U64), f), true
	case model.KindF64:
		return cmp.Compare(v.F64, f), true
	}
	return 0, false
}

func numericLiteral(lit any) (f float64, isInt bool, i int64, ok bool) {
	switch n := lit.(type) {
	case int:
		return float64(n), true, int64(n), true
	case int32:
		return float64(n), true, int64(n), true
	case int64:
		return float64(n), true, n, true
	case uint32:
		return float64(n), true, int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return float64(n), false, 0, true
		}
		return float64(n), true, int64(n), true
	case float32:
		return float64(n), false, 0, true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return n, true, int64(n), true
		}
		return n, false, 0, true
	}
	return 0, false, 0, false
}
