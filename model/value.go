package model

import (
	"bytes"
	"cmp"
	"fmt"
	"strconv"
	"time"
)

// ValueKind is the tag of a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindI64
	KindU64
	KindF64
	KindBool
	KindDate
	KindStr
	KindBytes
)

var valueKindNames = [...]string{"null", "i64", "u64", "f64", "bool", "date", "str", "bytes"}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is a single typed scalar read from a fast field, used as a group key
// or as a query literal. Only the field matching Kind is meaningful.
type Value struct {
	Kind ValueKind
	I64  int64 // KindI64, KindDate (unix nanoseconds)
	U64  uint64
	F64  float64
	Bool bool
	Str  string
	Raw  []byte
}

// Null is the absent value.
var Null = Value{}

func I64(v int64) Value      { return Value{Kind: KindI64, I64: v} }
func U64(v uint64) Value     { return Value{Kind: KindU64, U64: v} }
func F64(v float64) Value    { return Value{Kind: KindF64, F64: v} }
func Bool(v bool) Value      { return Value{Kind: KindBool, Bool: v} }
func Str(v string) Value     { return Value{Kind: KindStr, Str: v} }
func Bytes(v []byte) Value   { return Value{Kind: KindBytes, Raw: v} }
func Date(t time.Time) Value { return Value{Kind: KindDate, I64: t.UnixNano()} }

// IsNull reports whether v is the absent value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Numeric returns v as a float64 for metric accumulation.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindI64, KindDate:
		return float64(v.I64), true
	case KindU64:
		return float64(v.U64), true
	case KindF64:
		return v.F64, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Equal reports whether a and b have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	return Compare(v, o) == 0
}

// Compare orders values of the same kind. Values of different kinds order by
// kind, nulls first.
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		return cmp.Compare(a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindI64, KindDate:
		return cmp.Compare(a.I64, b.I64)
	case KindU64:
		return cmp.Compare(a.U64, b.U64)
	case KindF64:
		return cmp.Compare(a.F64, b.F64)
	case KindBool:
		switch {
		case a.Bool == b.Bool:
			return 0
		case !a.Bool:
			return -1
		default:
			return 1
		}
	case KindStr:
		return cmp.Compare(a.Str, b.Str)
	case KindBytes:
		return bytes.Compare(a.Raw, b.Raw)
	default:
		return 0
	}
}

// Key returns a string that is unique per (kind, payload). It is used to
// index buckets in maps.
func (v Value) Key() string {
	switch v.Kind {
	case KindI64, KindDate:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindU64:
		return "u:" + strconv.FormatUint(v.U64, 10)
	case KindF64:
		return "f:" + strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.Bool)
	case KindStr:
		return "s:" + v.Str
	case KindBytes:
		return "x:" + string(v.Raw)
	default:
		return "null"
	}
}

// Any returns the Go value carried by v, nil for null.
func (v Value) Any() any {
	switch v.Kind {
	case KindI64:
		return v.I64
	case KindDate:
		return time.Unix(0, v.I64).UTC()
	case KindU64:
		return v.U64
	case KindF64:
		return v.F64
	case KindBool:
		return v.Bool
	case KindStr:
		return v.Str
	case KindBytes:
		return v.Raw
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.Kind == KindNull {
		return "NULL"
	}
	return fmt.Sprint(v.Any())
}
