package constraint

import (
	"testing"
)

func wageRoute() *Route {
	return &Route{
		ID: "route-1",
		Segments: []Segment{
			{ID: "seg-1", Sequence: 1, Country: "DE", CarrierCode: "DHL", WageCents: 1450, TransitHours: 12, CarbonKG: 2100, CostUSD: 900, SafetyRating: 4},
			{ID: "seg-2", Sequence: 2, Country: "PL", CarrierCode: "PKP", WageCents: 1100, TransitHours: 30, CarbonKG: 2100, CostUSD: 600, SafetyRating: 3},
		},
		TotalCostUSD:   1500,
		TotalTimeHours: 42,
		TotalCarbonKG:  4200,
	}
}

// TestEvaluateLiteral verifies that a constant expression evaluates to itself.
func TestEvaluateLiteral(t *testing.T) {
	route := wageRoute()

	if !Evaluate(Literal{Value: true}, route, nil) {
		t.Error("Literal{true} should evaluate to true")
	}
	if Evaluate(Literal{Value: false}, route, nil) {
		t.Error("Literal{false} should evaluate to false")
	}
}

// TestEvaluateQuantifiersEmptyRoute verifies the vacuous cases: All is true
// and Any is false over a route with zero segments.
func TestEvaluateQuantifiersEmptyRoute(t *testing.T) {
	empty := &Route{ID: "empty"}
	inner := Compare{Field: SegmentField("wage_cents"), Op: OpGe, Value: IntValue(1)}

	if !Evaluate(All{Inner: inner}, empty, nil) {
		t.Error("All over zero segments should be vacuously true")
	}
	if Evaluate(Any{Inner: inner}, empty, nil) {
		t.Error("Any over zero segments should be vacuously false")
	}
}

// TestEvaluateWageFloor checks the minimum-wage shape: every segment's wage
// must meet the floor, and the violating segments are reported by ID.
func TestEvaluateWageFloor(t *testing.T) {
	route := wageRoute()
	expr := All{Inner: Compare{
		Field: SegmentField("wage_cents"),
		Op:    OpGe,
		Value: IntValue(1260),
	}}

	if Evaluate(expr, route, nil) {
		t.Error("route with a 1100-cent segment should fail a 1260-cent floor")
	}

	violations := SegmentViolations(expr, route, nil)
	if len(violations) != 1 || violations[0] != "seg-2" {
		t.Errorf("violations = %v, want [seg-2]", violations)
	}
}

// TestEvaluateCarbonBudget checks a route-level threshold on both sides of
// the budget.
func TestEvaluateCarbonBudget(t *testing.T) {
	route := wageRoute() // total 4200 kg
	under := Compare{Field: RouteField("total_carbon_kg"), Op: OpLe, Value: FloatValue(5000)}
	if !Evaluate(under, route, nil) {
		t.Error("4200 kg should pass a 5000 kg budget")
	}

	route.TotalCarbonKG = 5295
	if Evaluate(under, route, nil) {
		t.Error("5295 kg should fail a 5000 kg budget")
	}
}

// TestEvaluateBooleanConnectives covers And/Or/Not composition, including
// the empty And (true) and empty Or (false).
func TestEvaluateBooleanConnectives(t *testing.T) {
	route := wageRoute()
	yes := Literal{Value: true}
	no := Literal{Value: false}

	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"and both true", And{Exprs: []Expr{yes, yes}}, true},
		{"and one false", And{Exprs: []Expr{yes, no}}, false},
		{"empty and", And{}, true},
		{"or one true", Or{Exprs: []Expr{no, yes}}, true},
		{"empty or", Or{}, false},
		{"not false", Not{Expr: no}, true},
		{"not true", Not{Expr: yes}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.expr, route, nil); got != tc.want {
				t.Errorf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestEvaluateAggregates covers Sum, Avg and Count over segments.
func TestEvaluateAggregates(t *testing.T) {
	route := wageRoute()

	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"sum of costs", Sum{Field: "cost_usd", Op: OpEq, Value: FloatValue(1500)}, true},
		{"avg wage above floor", Avg{Field: "wage_cents", Op: OpGe, Value: IntValue(1275)}, true},
		{"avg wage below higher floor", Avg{Field: "wage_cents", Op: OpGe, Value: IntValue(1300)}, false},
		{"count long segments", Count{
			Predicate: Compare{Field: SegmentField("transit_hours"), Op: OpGt, Value: FloatValue(20)},
			Op:        OpEq,
			Value:     IntValue(1),
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.expr, route, nil); got != tc.want {
				t.Errorf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestEvaluateAvgZeroSegments verifies that the mean over zero segments is
// defined as zero rather than a division error.
func TestEvaluateAvgZeroSegments(t *testing.T) {
	empty := &Route{ID: "empty"}
	expr := Avg{Field: "wage_cents", Op: OpEq, Value: IntValue(0)}
	if !Evaluate(expr, empty, nil) {
		t.Error("Avg over zero segments should compare as zero")
	}
}

// TestEvaluateSetMembership covers InSet and NotInSet with the sanctioned
// carrier shape.
func TestEvaluateSetMembership(t *testing.T) {
	route := wageRoute()
	sanctioned := []Value{StringValue("PKP"), StringValue("XYZ")}

	anyBad := Any{Inner: InSet{Field: SegmentField("carrier_code"), Set: sanctioned}}
	if !Evaluate(anyBad, route, nil) {
		t.Error("route with PKP segment should match the sanctioned set")
	}

	noneBad := All{Inner: NotInSet{Field: SegmentField("carrier_code"), Set: sanctioned}}
	if Evaluate(noneBad, route, nil) {
		t.Error("route with PKP segment should fail the not-in-set rule")
	}
}

// TestEvaluateBetween covers the inclusive range test.
func TestEvaluateBetween(t *testing.T) {
	route := wageRoute()

	in := Between{Field: RouteField("total_cost_usd"), Low: FloatValue(1000), High: FloatValue(2000)}
	if !Evaluate(in, route, nil) {
		t.Error("1500 should fall inside [1000, 2000]")
	}

	edge := Between{Field: RouteField("total_cost_usd"), Low: FloatValue(1500), High: FloatValue(1500)}
	if !Evaluate(edge, route, nil) {
		t.Error("Between bounds are inclusive")
	}

	out := Between{Field: RouteField("total_cost_usd"), Low: FloatValue(0), High: FloatValue(1499)}
	if Evaluate(out, route, nil) {
		t.Error("1500 should fall outside [0, 1499]")
	}
}

// TestEvaluateExists verifies Exists against resolvable and unknown fields.
func TestEvaluateExists(t *testing.T) {
	route := wageRoute()

	if !Evaluate(Exists{Field: RouteField("total_cost_usd")}, route, nil) {
		t.Error("total_cost_usd should exist on the route")
	}
	if Evaluate(Exists{Field: RouteField("no_such_field")}, route, nil) {
		t.Error("unknown field should not exist")
	}
}

// TestEvaluateUnresolvedFieldIsFalse verifies the fail-closed rule: a
// segment-level reference outside a quantifier binding never passes, even
// under negation-free shapes.
func TestEvaluateUnresolvedFieldIsFalse(t *testing.T) {
	route := wageRoute()

	unbound := Compare{Field: SegmentField("wage_cents"), Op: OpGe, Value: IntValue(0)}
	if Evaluate(unbound, route, nil) {
		t.Error("segment field without an active segment binding should be false")
	}

	noShipment := Compare{Field: ShipmentField("weight_kg"), Op: OpGe, Value: FloatValue(0)}
	if Evaluate(noShipment, route, nil) {
		t.Error("shipment field without a shipment should be false")
	}
}

// TestEvaluateShipmentContext verifies shipment-level fields resolve when a
// shipment is supplied.
func TestEvaluateShipmentContext(t *testing.T) {
	route := wageRoute()
	shipment := &Shipment{ID: "ship-1", CustomerID: "acme", WeightKG: 1200, Priority: 2}

	expr := And{Exprs: []Expr{
		Compare{Field: ShipmentField("weight_kg"), Op: OpLe, Value: FloatValue(2000)},
		Compare{Field: ShipmentField("priority"), Op: OpGe, Value: IntValue(1)},
	}}
	if !Evaluate(expr, route, shipment) {
		t.Error("shipment fields should resolve and pass")
	}
}

// TestEvaluateCarrierLevel verifies carrier-level references resolve against
// the active segment's carrier attributes.
func TestEvaluateCarrierLevel(t *testing.T) {
	route := wageRoute()

	expr := All{Inner: Compare{Field: CarrierField("safety_rating"), Op: OpGe, Value: IntValue(3)}}
	if !Evaluate(expr, route, nil) {
		t.Error("all carriers rate >= 3, rule should pass")
	}

	strict := All{Inner: Compare{Field: CarrierField("safety_rating"), Op: OpGe, Value: IntValue(4)}}
	if Evaluate(strict, route, nil) {
		t.Error("seg-2 carrier rates 3, rule requiring >= 4 should fail")
	}
}

// TestEvaluateIsIdempotent verifies repeated evaluation of the same tree
// against the same route gives the same answer; evaluation holds no state.
func TestEvaluateIsIdempotent(t *testing.T) {
	route := wageRoute()
	expr := All{Inner: Compare{Field: SegmentField("wage_cents"), Op: OpGe, Value: IntValue(1000)}}

	first := Evaluate(expr, route, nil)
	for i := 0; i < 10; i++ {
		if got := Evaluate(expr, route, nil); got != first {
			t.Fatalf("evaluation %d = %v, want %v", i, got, first)
		}
	}
}

// TestCompareMismatchedTypes verifies comparisons across kinds are false
// rather than coerced, except for the int/float numeric pairing.
func TestCompareMismatchedTypes(t *testing.T) {
	route := wageRoute()

	strVsNum := Compare{Field: RouteField("id"), Op: OpEq, Value: IntValue(1)}
	if Evaluate(strVsNum, route, nil) {
		t.Error("string field compared to number should be false")
	}

	intVsFloat := Compare{Field: RouteField("total_cost_usd"), Op: OpEq, Value: IntValue(1500)}
	if !Evaluate(intVsFloat, route, nil) {
		t.Error("int literal should compare against float field numerically")
	}
}

// TestEvaluateNilRoute verifies quantifiers and aggregates treat a missing
// route like a route with zero segments instead of panicking; comparisons
// keep degrading to false.
func TestEvaluateNilRoute(t *testing.T) {
	inner := Compare{Field: SegmentField("wage_cents"), Op: OpGe, Value: IntValue(1)}

	if !Evaluate(All{Inner: inner}, nil, nil) {
		t.Error("All over a nil route should be vacuously true")
	}
	if Evaluate(Any{Inner: inner}, nil, nil) {
		t.Error("Any over a nil route should be vacuously false")
	}
	if !Evaluate(Sum{Field: "cost_usd", Op: OpEq, Value: FloatValue(0)}, nil, nil) {
		t.Error("Sum over a nil route should fold to zero")
	}
	if !Evaluate(Avg{Field: "cost_usd", Op: OpEq, Value: FloatValue(0)}, nil, nil) {
		t.Error("Avg over a nil route should be zero")
	}
	if !Evaluate(Count{Predicate: inner, Op: OpEq, Value: IntValue(0)}, nil, nil) {
		t.Error("Count over a nil route should be zero")
	}
	if Evaluate(Compare{Field: RouteField("total_cost_usd"), Op: OpGe, Value: FloatValue(0)}, nil, nil) {
		t.Error("route-field comparison without a route should be false")
	}
	if got := SegmentViolations(All{Inner: inner}, nil, nil); got != nil {
		t.Errorf("SegmentViolations on a nil route = %v, want nil", got)
	}
}

// TestScopeAppliesTo covers the applicability matrix: global always applies,
// entity scopes only when the context names the same entity.
func TestScopeAppliesTo(t *testing.T) {
	route := wageRoute()
	shipment := &Shipment{ID: "ship-1", CustomerID: "cust-1"}

	tests := []struct {
		name     string
		scope    Scope
		route    *Route
		shipment *Shipment
		want     bool
	}{
		{"global", Scope{Kind: ScopeGlobal}, route, shipment, true},
		{"empty kind treated as global", Scope{}, route, nil, true},
		{"matching route", Scope{Kind: ScopeRoute, ID: "route-1"}, route, nil, true},
		{"other route", Scope{Kind: ScopeRoute, ID: "route-9"}, route, nil, false},
		{"route scope without route", Scope{Kind: ScopeRoute, ID: "route-1"}, nil, shipment, false},
		{"matching shipment", Scope{Kind: ScopeShipment, ID: "ship-1"}, route, shipment, true},
		{"other shipment", Scope{Kind: ScopeShipment, ID: "ship-9"}, route, shipment, false},
		{"shipment scope without shipment", Scope{Kind: ScopeShipment, ID: "ship-1"}, route, nil, false},
		{"matching customer", Scope{Kind: ScopeCustomer, ID: "cust-1"}, route, shipment, true},
		{"other customer", Scope{Kind: ScopeCustomer, ID: "cust-9"}, route, shipment, false},
		{"customer scope without shipment", Scope{Kind: ScopeCustomer, ID: "cust-1"}, route, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.AppliesTo(tt.route, tt.shipment); got != tt.want {
				t.Errorf("AppliesTo() = %v, want %v", got, tt.want)
			}
		})
	}
}
