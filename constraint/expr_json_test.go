package constraint

import (
	"encoding/json"
	"reflect"
	"testing"
)

// TestExprRoundTrip verifies a composite expression survives the JSON
// envelope unchanged.
func TestExprRoundTrip(t *testing.T) {
	expr := And{Exprs: []Expr{
		All{Inner: Compare{Field: SegmentField("wage_cents"), Op: OpGe, Value: IntValue(1260)}},
		Or{Exprs: []Expr{
			Compare{Field: RouteField("total_carbon_kg"), Op: OpLe, Value: FloatValue(5000)},
			Not{Expr: Exists{Field: ShipmentField("customer_id")}},
		}},
		Count{
			Predicate: InSet{Field: SegmentField("mode"), Set: []Value{StringValue("RAIL"), StringValue("SEA")}},
			Op:        OpGe,
			Value:     IntValue(1),
		},
		Between{Field: RouteField("total_cost_usd"), Low: FloatValue(100), High: FloatValue(10000)},
		Sum{Field: "carbon_kg", Op: OpLe, Value: FloatValue(5000)},
		Avg{Field: "transit_hours", Op: OpLe, Value: FloatValue(48)},
		Any{Inner: NotInSet{Field: SegmentField("carrier_code"), Set: []Value{StringValue("XYZ")}}},
		Literal{Value: true},
	}}

	b, err := MarshalExpr(expr)
	if err != nil {
		t.Fatalf("MarshalExpr() failed: %v", err)
	}

	back, err := UnmarshalExpr(b)
	if err != nil {
		t.Fatalf("UnmarshalExpr() failed: %v", err)
	}

	if !reflect.DeepEqual(expr, back) {
		t.Errorf("round trip changed the tree:\n got %#v\nwant %#v", back, expr)
	}
}

// TestUnmarshalExprUnknownKind verifies an unrecognized kind is rejected
// instead of decoding to a silent no-op.
func TestUnmarshalExprUnknownKind(t *testing.T) {
	if _, err := UnmarshalExpr([]byte(`{"kind":"frobnicate"}`)); err == nil {
		t.Error("unknown expression kind should fail to unmarshal")
	}
}

// TestUnmarshalExprMissingParts verifies kind-specific required fields.
func TestUnmarshalExprMissingParts(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"literal without bool", `{"kind":"literal"}`},
		{"compare without field", `{"kind":"compare","op":">="}`},
		{"not without inner", `{"kind":"not"}`},
		{"all without inner", `{"kind":"all"}`},
		{"count without predicate", `{"kind":"count","op":"=","value":1}`},
		{"between without bounds", `{"kind":"between","field":{"level":"route","name":"id"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := UnmarshalExpr([]byte(tc.raw)); err == nil {
				t.Errorf("UnmarshalExpr(%s) should fail", tc.raw)
			}
		})
	}
}

// TestValueJSONNumberSniffing verifies whole JSON numbers decode as
// integers and fractional ones as floats.
func TestValueJSONNumberSniffing(t *testing.T) {
	var whole Value
	if err := json.Unmarshal([]byte(`42`), &whole); err != nil {
		t.Fatalf("unmarshal whole number: %v", err)
	}
	if whole.Kind() != KindInt {
		t.Errorf("42 decoded as kind %v, want KindInt", whole.Kind())
	}

	var frac Value
	if err := json.Unmarshal([]byte(`42.5`), &frac); err != nil {
		t.Fatalf("unmarshal fractional number: %v", err)
	}
	if frac.Kind() != KindFloat {
		t.Errorf("42.5 decoded as kind %v, want KindFloat", frac.Kind())
	}
}

// TestValueListRoundTrip verifies nested list values survive the codec.
func TestValueListRoundTrip(t *testing.T) {
	v := ListValue(StringValue("DHL"), IntValue(3), ListValue(BoolValue(true)))

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal list: %v", err)
	}

	var back Value
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if !v.Equal(back) {
		t.Errorf("list round trip: got %v, want %v", back, v)
	}
}

// TestConstraintRoundTrip verifies the full document codec including the
// embedded expression envelope.
func TestConstraintRoundTrip(t *testing.T) {
	c := Constraint{
		ID:       "c-1",
		Version:  3,
		Name:     "EU minimum wage",
		Type:     TypeWage,
		Hard:     true,
		Priority: 10,
		Scope:    Scope{Kind: ScopeGlobal},
		Params:   map[string]Value{"min_wage_cents": IntValue(1260)},
		Expression: All{Inner: Compare{
			Field: SegmentField("wage_cents"),
			Op:    OpGe,
			Value: IntValue(1260),
		}},
		Active: true,
	}

	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal constraint: %v", err)
	}

	var back Constraint
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal constraint: %v", err)
	}

	if !reflect.DeepEqual(c, back) {
		t.Errorf("constraint round trip changed the document:\n got %#v\nwant %#v", back, c)
	}
}
