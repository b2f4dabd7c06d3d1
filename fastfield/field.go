package fastfield

import (
	"fmt"
	"strings"
)

// FieldType is the stored type of a fast-field column.
type FieldType uint8

const (
	TypeI64 FieldType = iota + 1
	TypeU64
	TypeF64
	TypeBool
	TypeDate
	TypeStr
	TypeBytes
)

var fieldTypeNames = map[FieldType]string{
	TypeI64:   "i64",
	TypeU64:   "u64",
	TypeF64:   "f64",
	TypeBool:  "bool",
	TypeDate:  "date",
	TypeStr:   "str",
	TypeBytes: "bytes",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", t)
}

// ParseFieldType is the inverse of FieldType.String.
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range fieldTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// IsTerm reports whether the column stores dictionary-encoded terms.
func (t FieldType) IsTerm() bool { return t == TypeStr || t == TypeBytes }

// IsNumeric reports whether values of the column compare numerically.
func (t FieldType) IsNumeric() bool {
	switch t {
	case TypeI64, TypeU64, TypeF64, TypeDate:
		return true
	}
	return false
}

// Kind tags a WhichFastField.
type Kind uint8

const (
	KindNamed Kind = iota + 1
	KindCtid
	KindTableOID
	KindScore
	KindJunk
	KindDeferred
)

const (
	ctidName     = "ctid"
	tableOIDName = "tableoid"
	scoreName    = "score()"
)

// WhichFastField names one output column of a scan. The ordered list of
// WhichFastFields handed to a scanner is its output schema.
type WhichFastField struct {
	Kind Kind
	// Field is the column name for KindNamed and KindDeferred, the label
	// for KindJunk.
	Field string
	Type  FieldType
	// IsBytes distinguishes binary from text for KindDeferred.
	IsBytes bool
}

func Named(field string, t FieldType) WhichFastField {
	return WhichFastField{Kind: KindNamed, Field: field, Type: t}
}

func Ctid() WhichFastField     { return WhichFastField{Kind: KindCtid} }
func TableOID() WhichFastField { return WhichFastField{Kind: KindTableOID} }
func Score() WhichFastField    { return WhichFastField{Kind: KindScore} }

func Junk(label string) WhichFastField {
	return WhichFastField{Kind: KindJunk, Field: label}
}

// Deferred is a term column whose strings are resolved late, after the
// final row set is known. t must be TypeStr or TypeBytes; readers reject
// other types.
func Deferred(field string, t FieldType, isBytes bool) WhichFastField {
	return WhichFastField{Kind: KindDeferred, Field: field, Type: t, IsBytes: isBytes}
}

// Parse maps a column name to its WhichFastField. Reserved names select the
// synthesized columns, everything else is a named fast field of type t.
func Parse(name string, t FieldType) WhichFastField {
	switch {
	case name == ctidName:
		return Ctid()
	case name == tableOIDName:
		return TableOID()
	case name == scoreName:
		return Score()
	case strings.HasPrefix(name, "junk(") && strings.HasSuffix(name, ")"):
		return Junk(strings.TrimSuffix(strings.TrimPrefix(name, "junk("), ")"))
	default:
		return Named(name, t)
	}
}

// Name returns the column name, the inverse of Parse.
func (w WhichFastField) Name() string {
	switch w.Kind {
	case KindCtid:
		return ctidName
	case KindTableOID:
		return tableOIDName
	case KindScore:
		return scoreName
	case KindJunk:
		return "junk(" + w.Field + ")"
	default:
		return w.Field
	}
}

// HasColumn reports whether the field is backed by a stored column.
func (w WhichFastField) HasColumn() bool {
	return w.Kind == KindNamed || w.Kind == KindDeferred
}

func (w WhichFastField) String() string {
	if w.HasColumn() {
		return fmt.Sprintf("%s(%s)", w.Field, w.Type)
	}
	return w.Name()
}
