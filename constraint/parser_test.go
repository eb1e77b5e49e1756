package constraint

import (
	"reflect"
	"testing"
)

// TestParseFreeTextCategories verifies each recognized category produces
// its conventional expression shape with the documented defaults.
func TestParseFreeTextCategories(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		wantType ConstraintType
		wantExpr Expr
	}{
		{
			"sanction",
			"No sanctioned carriers may appear on any route",
			TypeSanction,
			All{Inner: NotInSet{Field: SegmentField("carrier_code"), Set: nil}},
		},
		{
			"wage default",
			"Drivers must be paid the minimum wage",
			TypeWage,
			All{Inner: Compare{Field: SegmentField("wage_cents"), Op: OpGe, Value: IntValue(800)}},
		},
		{
			"hours of service",
			"Respect hours of service limits",
			TypeHours,
			All{Inner: Compare{Field: SegmentField("transit_hours"), Op: OpLe, Value: IntValue(60)}},
		},
		{
			"safety",
			"Carriers must meet the safety standard",
			TypeSafety,
			All{Inner: Compare{Field: SegmentField("safety_rating"), Op: OpGe, Value: IntValue(3)}},
		},
		{
			"carbon",
			"Keep CO2 emissions under the budget",
			TypeCarbon,
			Compare{Field: RouteField("total_carbon_kg"), Op: OpLe, Value: FloatValue(5000)},
		},
		{
			"time",
			"Must deliver before the deadline",
			TypeTime,
			Compare{Field: RouteField("total_time_hours"), Op: OpLe, Value: FloatValue(168)},
		},
		{
			"cost",
			"Stay within the shipping budget",
			TypeCost,
			Compare{Field: RouteField("total_cost_usd"), Op: OpLe, Value: FloatValue(10000)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typ, expr, ok := ParseFreeText(tc.text, nil)
			if !ok {
				t.Fatalf("ParseFreeText(%q) did not match", tc.text)
			}
			if typ != tc.wantType {
				t.Errorf("type = %s, want %s", typ, tc.wantType)
			}
			if !reflect.DeepEqual(expr, tc.wantExpr) {
				t.Errorf("expr = %#v, want %#v", expr, tc.wantExpr)
			}
		})
	}
}

// TestParseFreeTextParams verifies thresholds come from the params map when
// present.
func TestParseFreeTextParams(t *testing.T) {
	params := map[string]Value{
		"min_wage_cents":      IntValue(1260),
		"sanctioned_carriers": ListValue(StringValue("XYZ")),
	}

	_, expr, ok := ParseFreeText("pay at least the regional wage", params)
	if !ok {
		t.Fatal("wage text did not match")
	}
	want := All{Inner: Compare{Field: SegmentField("wage_cents"), Op: OpGe, Value: IntValue(1260)}}
	if !reflect.DeepEqual(expr, want) {
		t.Errorf("expr = %#v, want %#v", expr, want)
	}

	typ, expr, ok := ParseFreeText("block sanctioned carriers", params)
	if !ok || typ != TypeSanction {
		t.Fatalf("sanction text: type=%s ok=%v", typ, ok)
	}
	wantSet := All{Inner: NotInSet{Field: SegmentField("carrier_code"), Set: []Value{StringValue("XYZ")}}}
	if !reflect.DeepEqual(expr, wantSet) {
		t.Errorf("expr = %#v, want %#v", expr, wantSet)
	}
}

// TestParseFreeTextPrecedence verifies text naming several categories
// resolves to the highest-precedence one.
func TestParseFreeTextPrecedence(t *testing.T) {
	typ, _, ok := ParseFreeText("sanctioned carriers raise carbon costs", nil)
	if !ok {
		t.Fatal("mixed text did not match")
	}
	if typ != TypeSanction {
		t.Errorf("type = %s, want %s (sanction outranks carbon and cost)", typ, TypeSanction)
	}

	typ, _, ok = ParseFreeText("wage rules affect delivery time", nil)
	if !ok {
		t.Fatal("mixed text did not match")
	}
	if typ != TypeWage {
		t.Errorf("type = %s, want %s (wage outranks time)", typ, TypeWage)
	}
}

// TestParseFreeTextNoMatch verifies unrecognized text reports ok=false
// rather than guessing a category.
func TestParseFreeTextNoMatch(t *testing.T) {
	if typ, expr, ok := ParseFreeText("the weather should be nice", nil); ok {
		t.Errorf("unexpected match: type=%s expr=%#v", typ, expr)
	}
}
