package memindex

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/visibility"
)

// Fixture is the YAML form of an index and the visibility of its rows.
//
//	schema:
//	  - {name: price, type: f64}
//	segments:
//	  - - {key: 1, score: 2.5, fields: {price: 9.99}}
//	invisible: [3]
type Fixture struct {
	Schema      []FixtureField `yaml:"schema"`
	Compression string         `yaml:"compression,omitempty"`
	BlockSize   int            `yaml:"block_size,omitempty"`
	Segments    [][]FixtureDoc `yaml:"segments"`
	Invisible   []uint64       `yaml:"invisible,omitempty"`
}

// FixtureField declares one column.
type FixtureField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FixtureDoc is one row. Field values are converted to the declared column
// types; dates are RFC 3339 strings.
type FixtureDoc struct {
	Key    uint64         `yaml:"key"`
	Score  float32        `yaml:"score"`
	Fields map[string]any `yaml:"fields"`
}

// LoadFixture decodes a fixture from r.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

// LoadFixtureFile decodes the fixture at path.
func LoadFixtureFile(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return LoadFixture(file)
}

// Build creates the index described by f. opts.Compression and
// opts.BlockSize are taken from the fixture when set there.
func (f *Fixture) Build(opts Options) (*Index, error) {
	schema := make([]Field, len(f.Schema))
	types := make(map[string]fastfield.FieldType, len(f.Schema))
	for i, ff := range f.Schema {
		t, err := fastfield.ParseFieldType(ff.Type)
		if err != nil {
			return nil, model.Wrap(model.UsageError, "memindex.Build", err)
		}
		schema[i] = Field{Name: ff.Name, Type: t}
		types[ff.Name] = t
	}
	if f.Compression != "" {
		c, err := ParseCompression(f.Compression)
		if err != nil {
			return nil, model.Wrap(model.UsageError, "memindex.Build", err)
		}
		opts.Compression = c
	}
	if f.BlockSize > 0 {
		opts.BlockSize = f.BlockSize
	}

	segments := make([][]Doc, len(f.Segments))
	for si, seg := range f.Segments {
		docs := make([]Doc, len(seg))
		for di, fd := range seg {
			d := Doc{Key: model.RowKey(fd.Key), Score: fd.Score, Fields: make(map[string]model.Value, len(fd.Fields))}
			for name, raw := range fd.Fields {
				t, ok := types[name]
				if !ok {
					return nil, model.Usagef("memindex.Build", "segment %d doc %d: unknown field %q", si, di, name)
				}
				v, err := ConvertValue(raw, t)
				if err != nil {
					return nil, model.Wrap(model.UsageError, "memindex.Build",
						fmt.Errorf("segment %d doc %d field %q: %w", si, di, name, err))
				}
				d.Fields[name] = v
			}
			docs[di] = d
		}
		segments[si] = docs
	}
	return New(schema, opts, segments...)
}

// Visibility returns a snapshot in which every fixture row is live except the
// invisible keys.
func (f *Fixture) Visibility() *visibility.Snapshot {
	n := 0
	for _, seg := range f.Segments {
		n += len(seg)
	}
	v := visibility.NewVersions(n)
	for _, seg := range f.Segments {
		for _, d := range seg {
			v.Insert(model.RowKey(d.Key), 1)
		}
	}
	for _, k := range f.Invisible {
		v.Delete(model.RowKey(k), 2)
	}
	return v.Snapshot(2)
}

// ConvertValue converts a decoded YAML or JSON scalar to a Value of type t.
func ConvertValue(raw any, t fastfield.FieldType) (model.Value, error) {
	if raw == nil {
		return model.Null, nil
	}
	switch t {
	case fastfield.TypeStr:
		if s, ok := raw.(string); ok {
			return model.Str(s), nil
		}
	case fastfield.TypeBytes:
		if s, ok := raw.(string); ok {
			return model.Bytes([]byte(s)), nil
		}
	case fastfield.TypeBool:
		if b, ok := raw.(bool); ok {
			return model.Bool(b), nil
		}
	case fastfield.TypeDate:
		switch d := raw.(type) {
		case time.Time:
			return model.Date(d), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, d)
			if err != nil {
				return model.Null, err
			}
			return model.Date(ts), nil
		}
	case fastfield.TypeI64:
		switch n := raw.(type) {
		case int:
			return model.I64(int64(n)), nil
		case int64:
			return model.I64(n), nil
		case uint64:
			if n <= math.MaxInt64 {
				return model.I64(int64(n)), nil
			}
		case float64:
			if n == math.Trunc(n) {
				return model.I64(int64(n)), nil
			}
		}
	case fastfield.TypeU64:
		switch n := raw.(type) {
		case int:
			if n >= 0 {
				return model.U64(uint64(n)), nil
			}
		case int64:
			if n >= 0 {
				return model.U64(uint64(n)), nil
			}
		case uint64:
			return model.U64(n), nil
		case float64:
			if n >= 0 && n == math.Trunc(n) {
				return model.U64(uint64(n)), nil
			}
		}
	case fastfield.TypeF64:
		switch n := raw.(type) {
		case int:
			return model.F64(float64(n)), nil
		case int64:
			return model.F64(float64(n)), nil
		case uint64:
			return model.F64(float64(n)), nil
		case float64:
			return model.F64(n), nil
		}
	}
	return model.Null, fmt.Errorf("cannot convert %T(%v) to %s", raw, raw, t)
}
