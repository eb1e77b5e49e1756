package constraint

// Pure evaluation of expression trees against a route/shipment context.
// No I/O, no mutation: the context is rebound by value when a quantifier
// activates a segment, so concurrent evaluations never share state.

type evalCtx struct {
	route    *Route
	shipment *Shipment
	segment  *Segment
}

// segments is nil-safe: a missing route evaluates like a route with no
// segments, so quantifiers and aggregates degrade instead of panicking.
func (c evalCtx) segments() []Segment {
	if c.route == nil {
		return nil
	}
	return c.route.Segments
}

// Evaluate runs the expression against a route and optional shipment.
// Field references that do not resolve in the current binding make their
// comparison false; evaluation never errors and never fails open.
func Evaluate(e Expr, route *Route, shipment *Shipment) bool {
	return eval(e, evalCtx{route: route, shipment: shipment})
}

func eval(e Expr, c evalCtx) bool {
	switch t := e.(type) {
	case Literal:
		return t.Value
	case Compare:
		v, ok := resolveField(c, t.Field)
		if !ok {
			return false
		}
		return compareValues(v, t.Op, t.Value)
	case And:
		for _, k := range t.Exprs {
			if !eval(k, c) {
				return false
			}
		}
		return true
	case Or:
		for _, k := range t.Exprs {
			if eval(k, c) {
				return true
			}
		}
		return false
	case Not:
		return !eval(t.Expr, c)
	case All:
		segs := c.segments()
		for i := range segs {
			if !eval(t.Inner, withSegment(c, &segs[i])) {
				return false
			}
		}
		return true
	case Any:
		segs := c.segments()
		for i := range segs {
			if eval(t.Inner, withSegment(c, &segs[i])) {
				return true
			}
		}
		return false
	case Sum:
		return compareValues(FloatValue(foldSegments(c, t.Field)), t.Op, t.Value)
	case Avg:
		// The mean over zero segments is zero, by definition.
		mean := 0.0
		if n := len(c.segments()); n > 0 {
			mean = foldSegments(c, t.Field) / float64(n)
		}
		return compareValues(FloatValue(mean), t.Op, t.Value)
	case Count:
		n := int64(0)
		segs := c.segments()
		for i := range segs {
			if eval(t.Predicate, withSegment(c, &segs[i])) {
				n++
			}
		}
		return compareValues(IntValue(n), t.Op, t.Value)
	case InSet:
		v, ok := resolveField(c, t.Field)
		if !ok {
			return false
		}
		return inSet(v, t.Set)
	case NotInSet:
		v, ok := resolveField(c, t.Field)
		if !ok {
			return false
		}
		return !inSet(v, t.Set)
	case Between:
		v, ok := resolveField(c, t.Field)
		if !ok {
			return false
		}
		return compareValues(v, OpGe, t.Low) && compareValues(v, OpLe, t.High)
	case Exists:
		v, ok := resolveField(c, t.Field)
		return ok && !v.IsNull()
	}
	return false
}

// SegmentViolations reports the IDs of segments that fail a per-segment
// rule, when that is derivable from the expression shape: an All quantifier
// at the root. Other shapes return nil.
func SegmentViolations(e Expr, route *Route, shipment *Shipment) []string {
	all, ok := e.(All)
	if !ok || route == nil {
		return nil
	}
	c := evalCtx{route: route, shipment: shipment}
	var ids []string
	for i := range route.Segments {
		if !eval(all.Inner, withSegment(c, &route.Segments[i])) {
			ids = append(ids, route.Segments[i].ID)
		}
	}
	return ids
}

func withSegment(c evalCtx, s *Segment) evalCtx {
	c.segment = s
	return c
}

func foldSegments(c evalCtx, field string) float64 {
	ref := SegmentField(field)
	total := 0.0
	segs := c.segments()
	for i := range segs {
		v, ok := resolveField(withSegment(c, &segs[i]), ref)
		if !ok {
			continue
		}
		f, ok := v.AsFloat()
		if !ok {
			// Non-numeric fields contribute nothing to the fold.
			continue
		}
		total += f
	}
	return total
}

func inSet(v Value, set []Value) bool {
	for _, m := range set {
		if v.Equal(m) {
			return true
		}
	}
	return false
}

// compareValues applies op. Numeric pairs compare on float64; strings
// compare lexicographically; booleans support only = and !=. Mismatched
// types are false.
func compareValues(a Value, op CmpOp, b Value) bool {
	if af, ok := a.AsFloat(); ok {
		bf, ok := b.AsFloat()
		if !ok {
			return false
		}
		return compareOrdered(af, op, bf)
	}
	if as, ok := a.AsString(); ok {
		bs, ok := b.AsString()
		if !ok {
			return false
		}
		return compareOrdered(as, op, bs)
	}
	if ab, ok := a.AsBool(); ok {
		bb, ok := b.AsBool()
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return ab == bb
		case OpNe:
			return ab != bb
		}
		return false
	}
	switch op {
	case OpEq:
		return a.Equal(b)
	case OpNe:
		return !a.Equal(b)
	}
	return false
}

func compareOrdered[T float64 | string](a T, op CmpOp, b T) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

// resolveField looks a field up in the current binding. Segment- and
// carrier-level fields require an active segment; failing that, or an
// unknown name, resolution reports false.
func resolveField(c evalCtx, f FieldRef) (Value, bool) {
	switch f.Level {
	case LevelRoute:
		return resolveRouteField(c.route, f.Name)
	case LevelSegment:
		if c.segment == nil {
			return Value{}, false
		}
		return resolveSegmentField(c.segment, f.Name)
	case LevelCarrier:
		if c.segment == nil {
			return Value{}, false
		}
		return resolveCarrierField(c.segment, f.Name)
	case LevelShipment:
		if c.shipment == nil {
			return Value{}, false
		}
		return resolveShipmentField(c.shipment, f.Name)
	}
	return Value{}, false
}

func resolveRouteField(r *Route, name string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	switch name {
	case "id":
		return StringValue(r.ID), true
	case "total_cost_usd":
		return FloatValue(r.TotalCostUSD), true
	case "total_time_hours":
		return FloatValue(r.TotalTimeHours), true
	case "total_carbon_kg":
		return FloatValue(r.TotalCarbonKG), true
	case "total_distance_km":
		return FloatValue(r.TotalDistanceKM), true
	case "labor_score":
		return FloatValue(r.LaborScore), true
	case "segment_count":
		return IntValue(int64(len(r.Segments))), true
	}
	return Value{}, false
}

func resolveSegmentField(s *Segment, name string) (Value, bool) {
	switch name {
	case "id":
		return StringValue(s.ID), true
	case "sequence":
		return IntValue(int64(s.Sequence)), true
	case "from_node":
		return StringValue(s.FromNode), true
	case "to_node":
		return StringValue(s.ToNode), true
	case "country":
		return StringValue(s.Country), true
	case "mode":
		return StringValue(s.Mode), true
	case "carrier_code":
		return StringValue(s.CarrierCode), true
	case "distance_km":
		return FloatValue(s.DistanceKM), true
	case "cost_usd":
		return FloatValue(s.CostUSD), true
	case "transit_hours":
		return FloatValue(s.TransitHours), true
	case "carbon_kg":
		return FloatValue(s.CarbonKG), true
	case "wage_cents":
		return IntValue(s.WageCents), true
	case "safety_rating":
		return IntValue(s.SafetyRating), true
	case "unionized":
		return BoolValue(s.Unionized), true
	}
	return Value{}, false
}

func resolveCarrierField(s *Segment, name string) (Value, bool) {
	switch name {
	case "code":
		return StringValue(s.CarrierCode), true
	case "name":
		return StringValue(s.CarrierName), true
	case "wage_cents":
		return IntValue(s.WageCents), true
	case "safety_rating":
		return IntValue(s.SafetyRating), true
	case "unionized":
		return BoolValue(s.Unionized), true
	}
	return Value{}, false
}

func resolveShipmentField(s *Shipment, name string) (Value, bool) {
	switch name {
	case "id":
		return StringValue(s.ID), true
	case "customer_id":
		return StringValue(s.CustomerID), true
	case "weight_kg":
		return FloatValue(s.WeightKG), true
	case "priority":
		return IntValue(s.Priority), true
	}
	return Value{}, false
}
