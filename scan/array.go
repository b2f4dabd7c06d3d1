package scan

import (
	"fmt"

	"github.com/hupe1980/searchexec/model"
)

// ArrayKind tags an Array.
type ArrayKind uint8

const (
	KindInt64 ArrayKind = iota + 1
	KindUint64
	KindFloat64
	KindFloat32
	KindUint32
	KindBool
	KindTimestamp
	KindStringView
	KindBinaryView
	KindDeferred
)

var arrayKindNames = map[ArrayKind]string{
	KindInt64:      "int64",
	KindUint64:     "uint64",
	KindFloat64:    "float64",
	KindFloat32:    "float32",
	KindUint32:     "uint32",
	KindBool:       "bool",
	KindTimestamp:  "timestamp",
	KindStringView: "string_view",
	KindBinaryView: "binary_view",
	KindDeferred:   "deferred",
}

func (k ArrayKind) String() string {
	if s, ok := arrayKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("array(%d)", k)
}

// View locates one value inside the Buffer of a view array.
type View struct {
	Offset uint32
	Len    uint32
}

// Array is one materialized output column of a Batch. Exactly the slice
// matching Kind is set; view arrays use Buffer and Views.
type Array struct {
	Kind ArrayKind
	// Valid[i] is false for null rows. Nil means every row is valid.
	Valid []bool

	Int64   []int64
	Uint64  []uint64
	Float64 []float64
	Float32 []float32
	Uint32  []uint32
	Bool    []bool
	// Timestamp holds unix nanoseconds.
	Timestamp []int64

	// Buffer is shared by every view of the array.
	Buffer []byte
	Views  []View

	Deferred *Deferred
}

// Len returns the number of rows.
func (a *Array) Len() int {
	switch a.Kind {
	case KindInt64:
		return len(a.Int64)
	case KindUint64:
		return len(a.Uint64)
	case KindFloat64:
		return len(a.Float64)
	case KindFloat32:
		return len(a.Float32)
	case KindUint32:
		return len(a.Uint32)
	case KindBool:
		return len(a.Bool)
	case KindTimestamp:
		return len(a.Timestamp)
	case KindStringView, KindBinaryView:
		return len(a.Views)
	case KindDeferred:
		return a.Deferred.Len()
	}
	return 0
}

// IsNull reports whether row i is null.
func (a *Array) IsNull(i int) bool {
	if a.Kind == KindDeferred {
		return a.Deferred.isNull(i)
	}
	return a.Valid != nil && !a.Valid[i]
}

// Bytes returns the value of row i of a view array. The slice aliases the
// shared buffer.
func (a *Array) Bytes(i int) []byte {
	v := a.Views[i]
	return a.Buffer[v.Offset : v.Offset+v.Len : v.Offset+v.Len]
}

// Value returns row i as a model.Value. Deferred rows that are not yet
// materialized yield their packed address or ordinal as U64.
func (a *Array) Value(i int) model.Value {
	if a.IsNull(i) {
		return model.Null
	}
	switch a.Kind {
	case KindInt64:
		return model.I64(a.Int64[i])
	case KindUint64:
		return model.U64(a.Uint64[i])
	case KindFloat64:
		return model.F64(a.Float64[i])
	case KindFloat32:
		return model.F64(float64(a.Float32[i]))
	case KindUint32:
		return model.U64(uint64(a.Uint32[i]))
	case KindBool:
		return model.Bool(a.Bool[i])
	case KindTimestamp:
		return model.Value{Kind: model.KindDate, I64: a.Timestamp[i]}
	case KindStringView:
		return model.Str(string(a.Bytes(i)))
	case KindBinaryView:
		return model.Bytes(a.Bytes(i))
	case KindDeferred:
		return a.Deferred.value(i)
	}
	return model.Null
}

// DeferredState is the resolution state of a deferred column.
type DeferredState uint8

const (
	// StateDocAddress carries packed DocAddresses only.
	StateDocAddress DeferredState = iota
	// StateOrdinal carries term ordinals of one segment.
	StateOrdinal
	// StateMaterialized carries the resolved terms.
	StateMaterialized
)

func (s DeferredState) String() string {
	switch s {
	case StateDocAddress:
		return "doc_address"
	case StateOrdinal:
		return "ordinal"
	case StateMaterialized:
		return "materialized"
	}
	return fmt.Sprintf("state(%d)", s)
}

// Deferred is a term column whose strings are resolved after the final row
// set is known. Only the slice matching State is set.
type Deferred struct {
	State   DeferredState
	IsBytes bool

	// Addresses holds DocAddress.Pack values.
	Addresses []uint64

	// Segment owns Ordinals. Null rows hold fastfield.NullOrdinal.
	Segment  model.SegmentID
	Ordinals []uint64

	// Values is a string or binary view array.
	Values *Array
}

// Len returns the number of rows.
func (d *Deferred) Len() int {
	switch d.State {
	case StateDocAddress:
		return len(d.Addresses)
	case StateOrdinal:
		return len(d.Ordinals)
	default:
		return d.Values.Len()
	}
}

func (d *Deferred) isNull(i int) bool {
	switch d.State {
	case StateOrdinal:
		return d.Ordinals[i] == nullOrdinal
	case StateMaterialized:
		return d.Values.IsNull(i)
	}
	return false
}

func (d *Deferred) value(i int) model.Value {
	switch d.State {
	case StateDocAddress:
		return model.U64(d.Addresses[i])
	case StateOrdinal:
		return model.U64(d.Ordinals[i])
	default:
		return d.Values.Value(i)
	}
}

func repeatUint32(v uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// validity returns present, or nil when every entry is true.
func validity(present []bool) []bool {
	for _, ok := range present {
		if !ok {
			return present
		}
	}
	return nil
}
