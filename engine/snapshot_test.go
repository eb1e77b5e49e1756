package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veds-platform/constraints/constraint"
)

// TestBuildRecordsFlattening verifies typed categories flatten to scalar
// records while anything unexpected falls through to custom verbatim.
func TestBuildRecordsFlattening(t *testing.T) {
	cs := []*constraint.Constraint{
		{
			ID:   "wage-de",
			Name: "DE minimum wage",
			Type: constraint.TypeWage,
			Params: map[string]constraint.Value{
				"country":        constraint.StringValue("DE"),
				"min_wage_cents": constraint.IntValue(1260),
			},
		},
		{
			ID:   "hours-eu",
			Name: "EU driving hours",
			Type: constraint.TypeHours,
			Params: map[string]constraint.Value{
				"region":           constraint.StringValue("EU"),
				"max_weekly_hours": constraint.IntValue(56),
			},
		},
		{
			ID:   "sanctions",
			Name: "sanctioned carriers",
			Type: constraint.TypeSanction,
			Params: map[string]constraint.Value{
				"carriers": constraint.ListValue(constraint.StringValue("XYZ")),
			},
		},
		{
			// Wage constraint without the expected params: must not be
			// dropped, must not corrupt the wage table.
			ID:         "wage-odd",
			Name:       "oddly shaped wage rule",
			Type:       constraint.TypeWage,
			Expression: constraint.Literal{Value: true},
		},
	}

	recs, err := buildRecords(cs)
	if err != nil {
		t.Fatalf("buildRecords() failed: %v", err)
	}

	if got := recs.minWage["DE"]; got != 1260 {
		t.Errorf("minWage[DE] = %d, want 1260", got)
	}
	if got := recs.maxHours["EU"]; got != 56 {
		t.Errorf("maxHours[EU] = %d, want 56", got)
	}
	if len(recs.sanctioned) != 1 || recs.sanctioned[0] != "XYZ" {
		t.Errorf("sanctioned = %v, want [XYZ]", recs.sanctioned)
	}
	if _, ok := recs.custom["wage-odd"]; !ok {
		t.Error("constraint without expected params should land in the custom namespace")
	}
	if len(recs.custom) != 1 {
		t.Errorf("custom = %d records, want 1", len(recs.custom))
	}
}

// TestBuildRecordsStrictestCarbonBudget verifies several carbon budgets
// collapse to the smallest one.
func TestBuildRecordsStrictestCarbonBudget(t *testing.T) {
	cs := []*constraint.Constraint{
		{ID: "c1", Type: constraint.TypeCarbon, Params: map[string]constraint.Value{"max_carbon_kg": constraint.FloatValue(8000)}},
		{ID: "c2", Type: constraint.TypeCarbon, Params: map[string]constraint.Value{"max_carbon_kg": constraint.FloatValue(5000)}},
		{ID: "c3", Type: constraint.TypeCarbon, Params: map[string]constraint.Value{"max_carbon_kg": constraint.FloatValue(6500)}},
	}

	recs, err := buildRecords(cs)
	if err != nil {
		t.Fatalf("buildRecords() failed: %v", err)
	}
	if recs.carbonBudget == nil || *recs.carbonBudget != 5000 {
		t.Errorf("carbonBudget = %v, want 5000", recs.carbonBudget)
	}
}

// TestLoadSnapshotMissingGeneration verifies a cache with no published
// generation reads as unavailable, not as an empty constraint set.
func TestLoadSnapshotMissingGeneration(t *testing.T) {
	cache := constraint.NewInMemoryCache()

	// Even with category records present, no generation means no snapshot.
	cache.Set(context.Background(), keyPrefixMinWage+"DE", "1260")

	_, err := LoadSnapshot(context.Background(), cache)
	if !errors.Is(err, constraint.ErrCacheUnavailable) {
		t.Errorf("LoadSnapshot() error = %v, want ErrCacheUnavailable", err)
	}
}

// TestSnapshotRoundTrip verifies a synced cache loads back into the same
// lookup tables the records were built from.
func TestSnapshotRoundTrip(t *testing.T) {
	store := constraint.NewInMemoryStore()
	syncFixtures(t, store)
	cache := constraint.NewInMemoryCache()
	worker := NewSyncWorker(store, cache, time.Minute, nil, nil)
	ctx := context.Background()

	if err := worker.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce() failed: %v", err)
	}

	snap, err := LoadSnapshot(ctx, cache)
	if err != nil {
		t.Fatalf("LoadSnapshot() failed: %v", err)
	}

	if got := snap.MinWageCents["DE"]; got != 1260 {
		t.Errorf("MinWageCents[DE] = %d, want 1260", got)
	}
	if got := snap.MaxHours["EU"]; got != 56 {
		t.Errorf("MaxHours[EU] = %d, want 56", got)
	}
	if _, ok := snap.Sanctioned["XYZ"]; !ok {
		t.Errorf("Sanctioned = %v, want XYZ present", snap.Sanctioned)
	}
	if snap.CarbonBudget == nil || *snap.CarbonBudget != 5000 {
		t.Errorf("CarbonBudget = %v, want 5000", snap.CarbonBudget)
	}
	if len(snap.Custom) != 1 {
		t.Fatalf("Custom = %d constraints, want 1", len(snap.Custom))
	}
	if snap.Custom[0].CELExpression == "" {
		t.Error("cached custom constraint lost its CEL expression")
	}
	if snap.Generation.IsZero() {
		t.Error("Generation should carry the sync timestamp")
	}
}

// TestLoadSnapshotBadGenerationStamp verifies a corrupted stamp is an error
// rather than a silently empty snapshot.
func TestLoadSnapshotBadGenerationStamp(t *testing.T) {
	cache := constraint.NewInMemoryCache()
	cache.Set(context.Background(), keyGeneration, "not-a-timestamp")

	if _, err := LoadSnapshot(context.Background(), cache); err == nil {
		t.Error("LoadSnapshot() with a corrupt generation stamp should fail")
	}
}

// TestBuildRecordsScopedConstraintStaysWhole verifies a typed constraint
// scoped below global is not flattened into the shared lookup tables — it
// rides the custom namespace with its scope intact.
func TestBuildRecordsScopedConstraintStaysWhole(t *testing.T) {
	cs := []*constraint.Constraint{
		{
			ID:    "wage-route-x",
			Name:  "route-specific wage floor",
			Type:  constraint.TypeWage,
			Scope: constraint.Scope{Kind: constraint.ScopeRoute, ID: "route-x"},
			Params: map[string]constraint.Value{
				"country":        constraint.StringValue("DE"),
				"min_wage_cents": constraint.IntValue(1500),
			},
			Expression: constraint.Literal{Value: true},
		},
	}

	recs, err := buildRecords(cs)
	if err != nil {
		t.Fatalf("buildRecords() failed: %v", err)
	}
	if len(recs.minWage) != 0 {
		t.Errorf("minWage = %v, want empty: scoped floors must not enter the global table", recs.minWage)
	}
	if _, ok := recs.custom["wage-route-x"]; !ok {
		t.Error("scoped constraint should land in the custom namespace")
	}
}

// TestLoadSnapshotSanctionedMidRewrite verifies a reader landing between
// the sanctioned-set clear and rewrite sees the cache as unavailable, not
// as an empty (trivially passing) set.
func TestLoadSnapshotSanctionedMidRewrite(t *testing.T) {
	store := constraint.NewInMemoryStore()
	syncFixtures(t, store)
	cache := constraint.NewInMemoryCache()
	worker := NewSyncWorker(store, cache, time.Minute, nil, nil)
	ctx := context.Background()

	if err := worker.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce() failed: %v", err)
	}

	// Simulate the window after the clear: marker and set gone, the
	// previous cycle's generation still valid.
	if err := cache.DeleteByPrefix(ctx, keySanctionedReady); err != nil {
		t.Fatalf("DeleteByPrefix() failed: %v", err)
	}
	if err := cache.DeleteByPrefix(ctx, keySanctioned); err != nil {
		t.Fatalf("DeleteByPrefix() failed: %v", err)
	}

	if _, err := LoadSnapshot(ctx, cache); !errors.Is(err, constraint.ErrCacheUnavailable) {
		t.Errorf("LoadSnapshot() error = %v, want ErrCacheUnavailable", err)
	}

	// The next full cycle restores the marker and the set.
	if err := worker.SyncOnce(ctx); err != nil {
		t.Fatalf("healing SyncOnce() failed: %v", err)
	}
	snap, err := LoadSnapshot(ctx, cache)
	if err != nil {
		t.Fatalf("LoadSnapshot() after healing failed: %v", err)
	}
	if len(snap.Sanctioned) != 2 {
		t.Errorf("Sanctioned = %v, want 2 members after healing", snap.Sanctioned)
	}
}
