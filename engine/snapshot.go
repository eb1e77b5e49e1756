package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/veds-platform/constraints/constraint"
)

// Cache key layout. Each category owns a namespace; the sync worker clears
// and rewrites one namespace at a time, and the generation key is written
// last so readers can tell "never synced" from "synced with nothing".
const (
	keyPrefixMinWage  = "constraint:min_wage:"
	keyPrefixMaxHours = "constraint:max_hours:"
	keySanctioned     = "constraint:sanctioned:carriers"
	keyCarbonBudget   = "constraint:carbon:budget"
	keyPrefixCustom   = "constraint:custom:"
	keyGeneration     = "constraint:sync:generation"

	// keySanctionedReady guards the sanctioned set against readers landing
	// between its clear and rewrite: the marker is dropped before the
	// clear and restored only after the full set is back. Without it an
	// empty set under a still-valid generation would hard-pass sanctioned
	// carriers.
	keySanctionedReady = "constraint:sanctioned:ready"

	// ChannelSynced carries the generation timestamp after each
	// successful sync cycle.
	ChannelSynced = "constraints:synced"
)

// records is the flattened projection of the active constraint set, ready
// to be written category by category.
type records struct {
	minWage      map[string]int64
	maxHours     map[string]int64
	sanctioned   []string
	carbonBudget *float64
	custom       map[string]string
}

func (r *records) count() int {
	n := len(r.minWage) + len(r.maxHours) + len(r.custom) + len(r.sanctioned)
	if r.carbonBudget != nil {
		n++
	}
	return n
}

// buildRecords flattens active constraints into lookup records. Typed
// categories with the expected params become small scalar/set records;
// anything else is serialized verbatim into the custom namespace so no
// active constraint is ever dropped from the cache.
func buildRecords(cs []*constraint.Constraint) (*records, error) {
	r := &records{
		minWage:  make(map[string]int64),
		maxHours: make(map[string]int64),
		custom:   make(map[string]string),
	}
	for _, c := range cs {
		if flattenTyped(r, c) {
			continue
		}
		payload, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode constraint %s: %w", c.ID, err)
		}
		r.custom[c.ID] = string(payload)
	}
	return r, nil
}

func flattenTyped(r *records, c *constraint.Constraint) bool {
	// Only globally scoped constraints flatten into the shared lookup
	// tables; anything scoped to a route, shipment or customer rides the
	// custom namespace so its scope survives the round trip.
	if c.Scope.Kind != "" && c.Scope.Kind != constraint.ScopeGlobal {
		return false
	}
	switch c.Type {
	case constraint.TypeWage:
		country, ok1 := stringParam(c.Params, "country")
		cents, ok2 := intParam(c.Params, "min_wage_cents")
		if ok1 && ok2 {
			r.minWage[country] = cents
			return true
		}
	case constraint.TypeHours:
		region, ok1 := stringParam(c.Params, "region")
		hours, ok2 := intParam(c.Params, "max_weekly_hours")
		if ok1 && ok2 {
			r.maxHours[region] = hours
			return true
		}
	case constraint.TypeSanction:
		carriers, ok := listParam(c.Params, "carriers")
		if ok {
			r.sanctioned = append(r.sanctioned, carriers...)
			return true
		}
	case constraint.TypeCarbon:
		budget, ok := floatParam(c.Params, "max_carbon_kg")
		if ok {
			// Several carbon budgets collapse to the strictest one.
			if r.carbonBudget == nil || budget < *r.carbonBudget {
				r.carbonBudget = &budget
			}
			return true
		}
	}
	return false
}

// Snapshot is one generation of the hot-path cache, read back for
// evaluation without a store round-trip.
type Snapshot struct {
	MinWageCents map[string]int64
	MaxHours     map[string]int64
	Sanctioned   map[string]struct{}
	CarbonBudget *float64
	Custom       []*constraint.Constraint
	Generation   time.Time
}

// LoadSnapshot reads the current cache generation. A missing generation
// key means the cache was never synced (or is mid-wipe) and reads as
// ErrCacheUnavailable — never as an empty constraint set.
func LoadSnapshot(ctx context.Context, cache constraint.CacheClient) (*Snapshot, error) {
	genRaw, ok, err := cache.Get(ctx, keyGeneration)
	if err != nil {
		return nil, fmt.Errorf("read generation: %w: %v", constraint.ErrCacheUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("no sync generation published: %w", constraint.ErrCacheUnavailable)
	}
	gen, err := time.Parse(time.RFC3339Nano, genRaw)
	if err != nil {
		return nil, fmt.Errorf("bad generation stamp %q: %w", genRaw, err)
	}

	snap := &Snapshot{
		MinWageCents: make(map[string]int64),
		MaxHours:     make(map[string]int64),
		Sanctioned:   make(map[string]struct{}),
		Generation:   gen,
	}

	if err := loadIntNamespace(ctx, cache, keyPrefixMinWage, snap.MinWageCents); err != nil {
		return nil, err
	}
	if err := loadIntNamespace(ctx, cache, keyPrefixMaxHours, snap.MaxHours); err != nil {
		return nil, err
	}

	if _, ok, err := cache.Get(ctx, keySanctionedReady); err != nil {
		return nil, fmt.Errorf("read sanctioned marker: %w: %v", constraint.ErrCacheUnavailable, err)
	} else if !ok {
		return nil, fmt.Errorf("sanctioned carriers mid-rewrite: %w", constraint.ErrCacheUnavailable)
	}
	members, err := cache.SetMembers(ctx, keySanctioned)
	if err != nil {
		return nil, fmt.Errorf("read sanctioned carriers: %w: %v", constraint.ErrCacheUnavailable, err)
	}
	for _, m := range members {
		snap.Sanctioned[m] = struct{}{}
	}

	if raw, ok, err := cache.Get(ctx, keyCarbonBudget); err != nil {
		return nil, fmt.Errorf("read carbon budget: %w: %v", constraint.ErrCacheUnavailable, err)
	} else if ok {
		budget, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad carbon budget %q: %w", raw, err)
		}
		snap.CarbonBudget = &budget
	}

	customKeys, err := cache.Keys(ctx, keyPrefixCustom)
	if err != nil {
		return nil, fmt.Errorf("list custom constraints: %w: %v", constraint.ErrCacheUnavailable, err)
	}
	for _, key := range customKeys {
		raw, ok, err := cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w: %v", key, constraint.ErrCacheUnavailable, err)
		}
		if !ok {
			continue
		}
		var c constraint.Constraint
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode cached constraint %s: %w", key, err)
		}
		snap.Custom = append(snap.Custom, &c)
	}

	return snap, nil
}

func loadIntNamespace(ctx context.Context, cache constraint.CacheClient, prefix string, into map[string]int64) error {
	keys, err := cache.Keys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w: %v", prefix, constraint.ErrCacheUnavailable, err)
	}
	for _, key := range keys {
		raw, ok, err := cache.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w: %v", key, constraint.ErrCacheUnavailable, err)
		}
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("bad value %q at %s: %w", raw, key, err)
		}
		into[strings.TrimPrefix(key, prefix)] = v
	}
	return nil
}

func stringParam(params map[string]constraint.Value, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func intParam(params map[string]constraint.Value, key string) (int64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

func floatParam(params map[string]constraint.Value, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}

func listParam(params map[string]constraint.Value, key string) ([]string, bool) {
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	list, ok := v.AsList()
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, el := range list {
		s, ok := el.AsString()
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
