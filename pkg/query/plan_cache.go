package query

import (
	"fmt"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
)

// PlanMode distinguishes single-record plans from batch union plans.
type PlanMode string

const (
	// PlanModeSingle filters by the minimum match count of the threshold.
	PlanModeSingle PlanMode = "single"
	// PlanModeUnion keeps any overlap; records are re-scored locally.
	PlanModeUnion PlanMode = "union"
)

// PlanKey identifies a compiled aggregation template. The source table and
// field are part of the key so templates never leak across targets, even
// when two targets share a namespace name.
type PlanKey struct {
	Namespace     string
	Table         string
	Field         string
	KeywordCount  int
	Threshold     float64
	MaxCandidates int
	Mode          PlanMode
}

type planSlot int

const (
	slotTable planSlot = iota
	slotField
	slotKeywords
)

// Plan is a compiled aggregation query. It holds no record state; Bind
// specializes it with a concrete keyword set.
type Plan struct {
	Key        PlanKey
	SQL        string
	MinMatches int
	Limit      int

	dialect store.Dialect
	slots   []planSlot
}

// Bind returns the arguments for the plan's placeholders.
func (p *Plan) Bind(keywords []string) ([]any, error) {
	if len(keywords) != p.Key.KeywordCount {
		return nil, fmt.Errorf("plan compiled for %d keywords, got %d", p.Key.KeywordCount, len(keywords))
	}
	args := make([]any, len(p.slots))
	for i, slot := range p.slots {
		switch slot {
		case slotTable:
			args[i] = p.Key.Table
		case slotField:
			args[i] = p.Key.Field
		case slotKeywords:
			v, err := p.dialect.KeywordSetArg(keywords)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
	}
	return args, nil
}

// PlanCache is a bounded LRU of compiled plans. It is safe for concurrent use.
type PlanCache struct {
	cache   *lru.Cache[PlanKey, *Plan]
	dialect store.Dialect
	factor  int
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewPlanCache creates a cache of size plans for dialect. factor scales
// the candidate limit of union plans.
func NewPlanCache(size int, dialect store.Dialect, factor int) (*PlanCache, error) {
	if size <= 0 {
		size = 256
	}
	if factor < 1 {
		factor = 2
	}
	cache, err := lru.New[PlanKey, *Plan](size)
	if err != nil {
		return nil, fmt.Errorf("create plan cache: %w", err)
	}
	return &PlanCache{cache: cache, dialect: dialect, factor: factor}, nil
}

// Get returns the plan for key, compiling it on a miss.
func (c *PlanCache) Get(key PlanKey) *Plan {
	if p, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return p
	}
	c.misses.Add(1)
	p := c.compile(key)
	c.cache.Add(key, p)
	return p
}

// Len returns the number of cached plans.
func (c *PlanCache) Len() int { return c.cache.Len() }

// Stats returns cache hits and misses.
func (c *PlanCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *PlanCache) compile(key PlanKey) *Plan {
	d := c.dialect
	p := &Plan{Key: key, dialect: d}

	switch key.Mode {
	case PlanModeUnion:
		p.MinMatches = 1
		p.Limit = key.MaxCandidates * c.factor
	default:
		p.MinMatches = models.MinMatches(key.KeywordCount, key.Threshold)
		p.Limit = key.MaxCandidates
	}

	b := store.NewBuilder(d)
	table := b.Arg(slotTable)
	field := b.Arg(slotField)
	b.Arg(slotKeywords)
	keywords := d.KeywordSetPredicate(b.Len())
	for _, a := range b.Args() {
		p.slots = append(p.slots, a.(planSlot))
	}

	p.SQL = "SELECT doc_ref, COUNT(DISTINCT keyword) AS match_count, " + d.AggKeywords() + " AS matched" +
		" FROM " + d.QuoteIdent(key.Namespace) +
		" WHERE source_table = " + table + " AND field_name = " + field + " AND " + keywords +
		" GROUP BY doc_ref" +
		" HAVING COUNT(DISTINCT keyword) >= " + strconv.Itoa(p.MinMatches) +
		" ORDER BY match_count DESC, " + d.OrderRef() +
		" LIMIT " + strconv.Itoa(p.Limit)
	return p
}
