package testutil

import (
	"cmp"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/memindex"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/visibility"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Zipf returns a value in [0, n) following a Zipf distribution with
// exponent s. s=1.0 gives standard Zipf, s=1.5 a heavy tail.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}

// CorpusOptions shape a random corpus.
type CorpusOptions struct {
	Segments       int
	DocsPerSegment int
	// Categories is the number of distinct category terms, drawn Zipf
	// distributed.
	Categories int
	// MissingRate is the probability that a document has no price.
	MissingRate float64
	// DeadRate is the probability that a document is deleted.
	DeadRate float64
}

// Corpus is a random index and the visibility of its rows.
//
// Documents carry a "price" (f64, sometimes missing), a "category" (str)
// and a "rating" (i64). Keys are unique and start at 1.
type Corpus struct {
	Schema   []memindex.Field
	Segments [][]memindex.Doc
	Snapshot *visibility.Snapshot
}

// Corpus generates a random corpus.
func (r *RNG) Corpus(opts CorpusOptions) *Corpus {
	if opts.Categories <= 0 {
		opts.Categories = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Corpus{
		Schema: []memindex.Field{
			{Name: "price", Type: fastfield.TypeF64},
			{Name: "category", Type: fastfield.TypeStr},
			{Name: "rating", Type: fastfield.TypeI64},
		},
		Segments: make([][]memindex.Doc, opts.Segments),
	}
	versions := visibility.NewVersions(opts.Segments * opts.DocsPerSegment)
	key := model.RowKey(1)
	for s := range opts.Segments {
		docs := make([]memindex.Doc, opts.DocsPerSegment)
		for i := range docs {
			fields := map[string]model.Value{
				"category": model.Str(fmt.Sprintf("c%02d", r.zipfLocked(opts.Categories, 1.2))),
				// Ratings collide often so that ties are exercised.
				"rating": model.I64(int64(r.rand.Intn(5))),
			}
			if r.rand.Float64() >= opts.MissingRate {
				fields["price"] = model.F64(math.Round(r.rand.Float64()*10000) / 100)
			}
			docs[i] = memindex.Doc{Key: key, Score: r.rand.Float32(), Fields: fields}
			versions.Insert(key, 1)
			if r.rand.Float64() < opts.DeadRate {
				versions.Delete(key, 2)
			}
			key++
		}
		c.Segments[s] = docs
	}
	c.Snapshot = versions.Snapshot(2)
	return c
}

// Build creates the index of c.
func (c *Corpus) Build(opts memindex.Options) (*memindex.Index, error) {
	return memindex.New(c.Schema, opts, c.Segments...)
}

type located struct{ d *memindex.Doc }

func (l located) value(field string) model.Value { return l.d.Fields[field] }

type docView struct{ d *memindex.Doc }

func (v docView) Value(field string) model.Value { return v.d.Fields[field] }

// visible returns every visible document matching q in index order.
func (c *Corpus) visible(q query.Query) []located {
	var out []located
	for _, docs := range c.Segments {
		for i := range docs {
			d := &docs[i]
			if !c.Snapshot.Visible(d.Key).Valid() || !q.Matches(docView{d}) {
				continue
			}
			out = append(out, located{d})
		}
	}
	return out
}

// ExactTopN returns the keys of the first limit visible matches of q by
// brute force. Nulls sort last in both directions and ties keep index
// order. A nil orderBy returns matches in index order.
func (c *Corpus) ExactTopN(q query.Query, orderBy []model.OrderBy, limit int) []model.RowKey {
	matches := c.visible(q)
	slices.SortStableFunc(matches, func(a, b located) int {
		for _, o := range orderBy {
			var n int
			if o.IsScore() {
				n = cmp.Compare(a.d.Score, b.d.Score)
			} else {
				va, vb := a.value(o.Field), b.value(o.Field)
				switch {
				case va.IsNull() && vb.IsNull():
				case va.IsNull():
					return 1
				case vb.IsNull():
					return -1
				default:
					n = model.Compare(va, vb)
				}
			}
			if o.Direction == model.Desc {
				n = -n
			}
			if n != 0 {
				return n
			}
		}
		return 0
	})

	keys := make([]model.RowKey, 0, min(limit, len(matches)))
	for _, m := range matches[:min(limit, len(matches))] {
		keys = append(keys, m.d.Key)
	}
	return keys
}

// GroupStats is the exact COUNT(*), COUNT(price) and SUM(price) of one
// category.
type GroupStats struct {
	Count  uint64
	Priced uint64
	Sum    float64
}

// ExactGroups aggregates the visible matches of q per category.
func (c *Corpus) ExactGroups(q query.Query) map[string]GroupStats {
	out := map[string]GroupStats{}
	for _, m := range c.visible(q) {
		cat := m.value("category").Str
		g := out[cat]
		g.Count++
		if p := m.value("price"); !p.IsNull() {
			g.Priced++
			g.Sum += p.F64
		}
		out[cat] = g
	}
	return out
}

// Recall returns the fraction of want found in got. Two empty lists have
// recall 1.
func Recall(want, got []model.RowKey) float64 {
	if len(want) == 0 {
		if len(got) == 0 {
			return 1.0
		}
		return 0.0
	}
	truth := make(map[model.RowKey]struct{}, len(want))
	for _, k := range want {
		truth[k] = struct{}{}
	}
	hits := 0
	for _, k := range got {
		if _, ok := truth[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}
