package stream

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"github.com/alexhholmes/rowstore/internal/base"
)

// Predicate is one compiled stream predicate: a boolean function of a row
// payload plus the triggers-delete flag. Hash-range predicates also carry
// the hash function so the elastic index can key entries without
// re-deriving the config.
type Predicate struct {
	TriggersDelete bool
	eval           func(payload []byte) bool
	hash           func(payload []byte) uint64
}

// Match evaluates the predicate against a row payload.
func (p Predicate) Match(payload []byte) bool { return p.eval(payload) }

// HashRange reports whether the predicate is a hash-range form.
func (p Predicate) HashRange() bool { return p.hash != nil }

// Hash returns the row's raw column hash under a hash-range predicate.
// Range membership is decided on the hash reduced modulo the partition
// count; the raw value keys the elastic index.
func (p Predicate) Hash(payload []byte) uint64 { return p.hash(payload) }

// Config is a parsed activation configuration.
type Config struct {
	TuplesPerCall int
	Predicates    []Predicate
}

// DefaultTuplesPerCall bounds how many rows an elastic build examines per
// StreamMore call when the config does not say otherwise.
const DefaultTuplesPerCall = 1024

// Activation config wire form. Exactly one of Modulo or HashRange must be
// set per predicate.
type configSpec struct {
	TuplesPerCall int             `json:"tuplesPerCall"`
	Predicates    []predicateSpec `json:"predicates"`
}

type predicateSpec struct {
	TriggersDelete bool           `json:"triggersDelete"`
	Modulo         *moduloSpec    `json:"modulo"`
	HashRange      *hashRangeSpec `json:"hashRange"`
}

type moduloSpec struct {
	Column    int   `json:"column"`
	Divisor   int64 `json:"divisor"`
	Remainder int64 `json:"remainder"`
}

type hashRangeSpec struct {
	Column          int         `json:"column"`
	TotalPartitions uint64      `json:"totalPartitions"`
	Ranges          []rangeSpec `json:"ranges"`
}

type rangeSpec struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// ParseConfig compiles an activation config against the schema. A nil or
// empty config is a valid snapshot config: no predicates, default pacing.
// Any malformed input fails without side effects.
func ParseConfig(schema *base.Schema, raw []byte) (*Config, error) {
	cfg := &Config{TuplesPerCall: DefaultTuplesPerCall}
	if len(raw) == 0 {
		return cfg, nil
	}
	var spec configSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", base.ErrBadPredicateConfig, err)
	}
	if spec.TuplesPerCall < 0 {
		return nil, fmt.Errorf("%w: negative tuplesPerCall", base.ErrBadPredicateConfig)
	}
	if spec.TuplesPerCall > 0 {
		cfg.TuplesPerCall = spec.TuplesPerCall
	}
	for i, ps := range spec.Predicates {
		p, err := compile(schema, ps)
		if err != nil {
			return nil, fmt.Errorf("predicate %d: %w", i, err)
		}
		cfg.Predicates = append(cfg.Predicates, p)
	}
	return cfg, nil
}

func compile(schema *base.Schema, ps predicateSpec) (Predicate, error) {
	switch {
	case ps.Modulo != nil && ps.HashRange != nil:
		return Predicate{}, fmt.Errorf("%w: both modulo and hashRange set", base.ErrBadPredicateConfig)
	case ps.Modulo != nil:
		return compileModulo(schema, ps)
	case ps.HashRange != nil:
		return compileHashRange(schema, ps)
	default:
		return Predicate{}, fmt.Errorf("%w: no predicate form", base.ErrBadPredicateConfig)
	}
}

func compileModulo(schema *base.Schema, ps predicateSpec) (Predicate, error) {
	m := *ps.Modulo
	if m.Column < 0 || m.Column >= schema.Columns() {
		return Predicate{}, fmt.Errorf("%w: column %d out of range", base.ErrBadPredicateConfig, m.Column)
	}
	if m.Divisor < 1 {
		return Predicate{}, fmt.Errorf("%w: divisor %d", base.ErrBadPredicateConfig, m.Divisor)
	}
	// A remainder outside [0,divisor) matches nothing; callers use that
	// to configure a permanently-failing partition predicate.
	return Predicate{
		TriggersDelete: ps.TriggersDelete,
		eval: func(payload []byte) bool {
			return schema.DecodeColumn(payload, m.Column)%m.Divisor == m.Remainder
		},
	}, nil
}

func compileHashRange(schema *base.Schema, ps predicateSpec) (Predicate, error) {
	h := *ps.HashRange
	if h.Column < 0 || h.Column >= schema.Columns() {
		return Predicate{}, fmt.Errorf("%w: column %d out of range", base.ErrBadPredicateConfig, h.Column)
	}
	if h.TotalPartitions < 1 {
		return Predicate{}, fmt.Errorf("%w: totalPartitions %d", base.ErrBadPredicateConfig, h.TotalPartitions)
	}
	if len(h.Ranges) == 0 {
		return Predicate{}, fmt.Errorf("%w: empty range list", base.ErrBadPredicateConfig)
	}
	for _, r := range h.Ranges {
		if r.Start >= r.End {
			return Predicate{}, fmt.Errorf("%w: inverted range [%d,%d)", base.ErrBadPredicateConfig, r.Start, r.End)
		}
	}
	ranges := append([]rangeSpec(nil), h.Ranges...)
	hash := func(payload []byte) uint64 {
		return xxhash.Sum64(schema.ColumnBytes(payload, h.Column))
	}
	return Predicate{
		TriggersDelete: ps.TriggersDelete,
		hash:           hash,
		eval: func(payload []byte) bool {
			token := hash(payload) % h.TotalPartitions
			for _, r := range ranges {
				if token >= r.Start && token < r.End {
					return true
				}
			}
			return false
		},
	}, nil
}

// ConfigCache memoizes compiled configs by their raw bytes. Activation is
// called repeatedly with identical configs during rebalancing rounds, so
// the parse and compile work is worth keeping.
type ConfigCache struct {
	schema *base.Schema
	lru    *freelru.LRU[string, *Config]
}

// NewConfigCache builds a cache holding up to size compiled configs.
func NewConfigCache(schema *base.Schema, size uint32) (*ConfigCache, error) {
	lru, err := freelru.New[string, *Config](size, func(k string) uint32 {
		return uint32(xxhash.Sum64String(k))
	})
	if err != nil {
		return nil, err
	}
	return &ConfigCache{schema: schema, lru: lru}, nil
}

// Parse returns the compiled config, from cache when possible. Compiled
// configs are immutable and safe to share across activations.
func (c *ConfigCache) Parse(raw []byte) (*Config, error) {
	key := string(raw)
	if cfg, ok := c.lru.Get(key); ok {
		return cfg, nil
	}
	cfg, err := ParseConfig(c.schema, raw)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, cfg)
	return cfg, nil
}
