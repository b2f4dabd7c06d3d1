package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/searchexec"
	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/memindex"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/topn"
)

// request is the YAML form of a query. Column types are taken from the
// fixture schema.
type request struct {
	Query      query.Query     `yaml:"query"`
	Fields     []string        `yaml:"fields"`
	OrderBy    []orderSpec     `yaml:"order_by"`
	Limit      *uint32         `yaml:"limit"`
	Offset     *uint32         `yaml:"offset"`
	GroupBy    []string        `yaml:"group_by"`
	Aggregates []aggregateSpec `yaml:"aggregates"`
	Window     []windowSpec    `yaml:"window"`
	TableOID   uint32          `yaml:"table_oid"`
}

// orderSpec orders by Field, or by score when Field is empty.
type orderSpec struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction"`
}

type aggregateSpec struct {
	Kind    string       `yaml:"kind"` // count_any, count, sum, avg, min, max, custom
	Field   string       `yaml:"field"`
	Missing *float64     `yaml:"missing"`
	Filter  *query.Query `yaml:"filter"`
	JSON    string       `yaml:"json"`
	MVCC    *bool        `yaml:"mvcc"`
}

type windowSpec struct {
	Target     int             `yaml:"target"`
	Aggregates []aggregateSpec `yaml:"aggregates"`
}

func loadRequest(path string) (*request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r request
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", path, err)
	}
	return &r, nil
}

func (r *request) orderBy() ([]model.OrderBy, error) {
	if len(r.OrderBy) == 0 {
		return nil, nil
	}
	out := make([]model.OrderBy, len(r.OrderBy))
	for i, o := range r.OrderBy {
		out[i].Field = o.Field
		switch strings.ToLower(o.Direction) {
		case "", "asc":
			out[i].Direction = model.Asc
		case "desc":
			out[i].Direction = model.Desc
		default:
			return nil, fmt.Errorf("order_by[%d]: unknown direction %q", i, o.Direction)
		}
	}
	return out, nil
}

func schemaTypes(idx *memindex.Index) map[string]fastfield.FieldType {
	types := make(map[string]fastfield.FieldType, len(idx.Schema()))
	for _, f := range idx.Schema() {
		types[f.Name] = f.Type
	}
	return types
}

func (r *request) fields(idx *memindex.Index) ([]fastfield.WhichFastField, error) {
	types := schemaTypes(idx)
	out := make([]fastfield.WhichFastField, len(r.Fields))
	for i, name := range r.Fields {
		w := fastfield.Parse(name, types[name])
		if w.HasColumn() && w.Type == 0 {
			return nil, fmt.Errorf("fields[%d]: unknown field %q", i, name)
		}
		out[i] = w
	}
	return out, nil
}

func (r *request) groupBy(idx *memindex.Index) ([]aggregate.GroupingColumn, error) {
	types := schemaTypes(idx)
	out := make([]aggregate.GroupingColumn, len(r.GroupBy))
	for i, name := range r.GroupBy {
		t, ok := types[name]
		if !ok {
			return nil, fmt.Errorf("group_by[%d]: unknown field %q", i, name)
		}
		out[i] = aggregate.GroupingColumn{Field: name, Type: t}
	}
	return out, nil
}

func (s aggregateSpec) aggregateType() (aggregate.AggregateType, error) {
	var a aggregate.AggregateType
	switch strings.ToLower(s.Kind) {
	case "count_any", "count(*)":
		a = aggregate.CountAny()
	case "count":
		a = aggregate.Count(s.Field)
	case "sum":
		a = aggregate.Sum(s.Field)
	case "avg":
		a = aggregate.Avg(s.Field)
	case "min":
		a = aggregate.Min(s.Field)
	case "max":
		a = aggregate.Max(s.Field)
	case "custom":
		a = aggregate.Custom([]byte(s.JSON))
	default:
		return a, fmt.Errorf("unknown aggregate kind %q", s.Kind)
	}
	if s.Missing != nil {
		a = a.WithMissing(*s.Missing)
	}
	if s.Filter != nil {
		a = a.WithFilter(*s.Filter)
	}
	if s.MVCC != nil && !*s.MVCC {
		a = a.WithMVCC(aggregate.MVCCDisabled)
	}
	return a, nil
}

func aggregateTypes(specs []aggregateSpec) ([]aggregate.AggregateType, error) {
	out := make([]aggregate.AggregateType, len(specs))
	for i, s := range specs {
		a, err := s.aggregateType()
		if err != nil {
			return nil, fmt.Errorf("aggregates[%d]: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

func (r *request) clause(idx *memindex.Index) (aggregate.Clause, error) {
	groupBy, err := r.groupBy(idx)
	if err != nil {
		return aggregate.Clause{}, err
	}
	aggs, err := aggregateTypes(r.Aggregates)
	if err != nil {
		return aggregate.Clause{}, err
	}
	orderBy, err := r.orderBy()
	if err != nil {
		return aggregate.Clause{}, err
	}
	return aggregate.Clause{
		Query:      r.Query,
		GroupBy:    groupBy,
		Aggregates: aggs,
		OrderBy:    orderBy,
		Limit:      r.Limit,
		Offset:     r.Offset,
	}, nil
}

func (r *request) topN(idx *memindex.Index) (searchexec.TopNQuery, error) {
	if r.Limit == nil {
		return searchexec.TopNQuery{}, fmt.Errorf("limit is required")
	}
	fields, err := r.fields(idx)
	if err != nil {
		return searchexec.TopNQuery{}, err
	}
	orderBy, err := r.orderBy()
	if err != nil {
		return searchexec.TopNQuery{}, err
	}
	window := make([]topn.WindowAggregate, len(r.Window))
	for i, w := range r.Window {
		aggs, err := aggregateTypes(w.Aggregates)
		if err != nil {
			return searchexec.TopNQuery{}, fmt.Errorf("window[%d]: %w", i, err)
		}
		window[i] = topn.WindowAggregate{TargetIndex: w.Target, Aggregates: aggs}
	}
	return searchexec.TopNQuery{
		Query:    r.Query,
		OrderBy:  orderBy,
		Limit:    int(*r.Limit),
		Fields:   fields,
		TableOID: r.TableOID,
		Window:   window,
	}, nil
}

func (r *request) scan(idx *memindex.Index) (searchexec.ScanQuery, error) {
	fields, err := r.fields(idx)
	if err != nil {
		return searchexec.ScanQuery{}, err
	}
	return searchexec.ScanQuery{Query: r.Query, Fields: fields, TableOID: r.TableOID}, nil
}
