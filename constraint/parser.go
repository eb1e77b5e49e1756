package constraint

import "strings"

// Best-effort free-text constraint matcher. This is a convenience for
// authoring, not a grammar: it keyword-matches the description against a
// fixed precedence order and builds a conventional expression for the
// first category that hits, pulling thresholds from the params map with
// documented defaults. Text that matches nothing returns ok=false; the
// matcher never emits a malformed expression.
//
// Precedence (first match wins): sanction, wage, hours, safety, carbon,
// time, cost. Text naming several categories resolves to the highest; the
// ambiguity is a known limitation of this path, not of the AST.

func ParseFreeText(text string, params map[string]Value) (ConstraintType, Expr, bool) {
	lower := strings.ToLower(text)
	contains := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("sanction"):
		set, _ := paramOr(params, "sanctioned_carriers", ListValue()).AsList()
		return TypeSanction, All{Inner: NotInSet{
			Field: SegmentField("carrier_code"),
			Set:   set,
		}}, true
	case contains("wage", "pay"):
		return TypeWage, All{Inner: Compare{
			Field: SegmentField("wage_cents"),
			Op:    OpGe,
			Value: paramOr(params, "min_wage_cents", IntValue(800)),
		}}, true
	case contains("weekly hours", "driving hours", "hours of service"):
		return TypeHours, All{Inner: Compare{
			Field: SegmentField("transit_hours"),
			Op:    OpLe,
			Value: paramOr(params, "max_hours", IntValue(60)),
		}}, true
	case contains("safety"):
		return TypeSafety, All{Inner: Compare{
			Field: SegmentField("safety_rating"),
			Op:    OpGe,
			Value: paramOr(params, "min_safety_rating", IntValue(3)),
		}}, true
	case contains("carbon", "emission", "co2"):
		return TypeCarbon, Compare{
			Field: RouteField("total_carbon_kg"),
			Op:    OpLe,
			Value: paramOr(params, "max_carbon_kg", FloatValue(5000)),
		}, true
	case contains("time", "deadline", "deliver"):
		return TypeTime, Compare{
			Field: RouteField("total_time_hours"),
			Op:    OpLe,
			Value: paramOr(params, "max_hours", FloatValue(168)),
		}, true
	case contains("cost", "budget", "price"):
		return TypeCost, Compare{
			Field: RouteField("total_cost_usd"),
			Op:    OpLe,
			Value: paramOr(params, "max_cost_usd", FloatValue(10000)),
		}, true
	}
	return "", nil, false
}

func paramOr(params map[string]Value, key string, def Value) Value {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
