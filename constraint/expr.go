package constraint

// The constraint expression language: a typed boolean expression tree
// evaluated against one route and (optionally) one shipment.
//
// The variant set is closed. Evaluation does an exhaustive type switch over
// the Expr implementations below; adding a variant without teaching the
// evaluator about it is a compile-away from being noticed, not a silent
// keyword mismatch. Quantifiers and aggregates range over the route's
// segments in stored sequence order, the only collection an evaluation
// context carries.

// ValueKind discriminates the closed Value union.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindList
)

// Value is a closed union of the types a constraint expression can carry:
// integer, float, string, bool, list of values, or null. Values are
// immutable once constructed.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
	b    bool
	list []Value
}

func NullValue() Value               { return Value{kind: KindNull} }
func IntValue(v int64) Value         { return Value{kind: KindInt, i: v} }
func FloatValue(v float64) Value     { return Value{kind: KindFloat, f: v} }
func StringValue(v string) Value     { return Value{kind: KindString, s: v} }
func BoolValue(v bool) Value         { return Value{kind: KindBool, b: v} }
func ListValue(vs ...Value) Value    { return Value{kind: KindList, list: vs} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

// AsFloat reports the numeric reading of the value. Integers coerce to
// float64 so int/float pairs compare on a common representation.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Equal implements the equality used by Compare(=) and set membership:
// numeric values compare on the float reading regardless of int/float kind,
// strings and bools require matching kinds, lists compare elementwise.
func (v Value) Equal(o Value) bool {
	if vf, ok := v.AsFloat(); ok {
		of, ook := o.AsFloat()
		return ook && vf == of
	}
	switch v.kind {
	case KindNull:
		return o.kind == KindNull
	case KindString:
		os, ok := o.AsString()
		return ok && v.s == os
	case KindBool:
		ob, ok := o.AsBool()
		return ok && v.b == ob
	case KindList:
		ol, ok := o.AsList()
		if !ok || len(ol) != len(v.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(ol[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// CmpOp is a comparison operator.
type CmpOp string

const (
	OpEq CmpOp = "="
	OpNe CmpOp = "!="
	OpLt CmpOp = "<"
	OpLe CmpOp = "<="
	OpGt CmpOp = ">"
	OpGe CmpOp = ">="
)

// FieldLevel says which record a field reference resolves against.
type FieldLevel string

const (
	LevelRoute    FieldLevel = "route"
	LevelSegment  FieldLevel = "segment"
	LevelCarrier  FieldLevel = "carrier"
	LevelShipment FieldLevel = "shipment"
)

// FieldRef names a field at a resolution level. Segment- and carrier-level
// references only resolve under an active segment binding; route- and
// shipment-level references resolve anywhere.
type FieldRef struct {
	Level FieldLevel `json:"level"`
	Name  string     `json:"name"`
}

func RouteField(name string) FieldRef    { return FieldRef{Level: LevelRoute, Name: name} }
func SegmentField(name string) FieldRef  { return FieldRef{Level: LevelSegment, Name: name} }
func CarrierField(name string) FieldRef  { return FieldRef{Level: LevelCarrier, Name: name} }
func ShipmentField(name string) FieldRef { return FieldRef{Level: LevelShipment, Name: name} }

// Expr is the sealed expression interface. The implementations in this file
// are the complete variant set.
type Expr interface {
	isExpr()
}

// Literal is a constant boolean.
type Literal struct {
	Value bool
}

// Compare resolves Field and compares it to Value with Op. An unresolved
// field makes the comparison false; it never fails open.
type Compare struct {
	Field FieldRef
	Op    CmpOp
	Value Value
}

// And is true when every child is true (vacuously true when empty).
type And struct {
	Exprs []Expr
}

// Or is true when at least one child is true (vacuously false when empty).
type Or struct {
	Exprs []Expr
}

// Not negates its child.
type Not struct {
	Expr Expr
}

// All binds each segment in turn and requires Inner to hold for every one.
// Vacuously true for a route with zero segments.
type All struct {
	Inner Expr
}

// Any binds each segment in turn and requires Inner to hold for at least
// one. Vacuously false for a route with zero segments.
type Any struct {
	Inner Expr
}

// Sum folds a segment field across all segments and compares the total to
// Value. Segments where the field is unresolved or non-numeric contribute
// zero.
type Sum struct {
	Field string
	Op    CmpOp
	Value Value
}

// Avg folds like Sum but compares the mean. The mean over zero segments is
// defined as zero.
type Avg struct {
	Field string
	Op    CmpOp
	Value Value
}

// Count compares the number of segments satisfying Predicate to Value.
type Count struct {
	Predicate Expr
	Op        CmpOp
	Value     Value
}

// InSet is a membership test using Compare(=) equality semantics.
type InSet struct {
	Field FieldRef
	Set   []Value
}

// NotInSet is the negated membership test.
type NotInSet struct {
	Field FieldRef
	Set   []Value
}

// Between is sugar for And(Compare(f,>=,low), Compare(f,<=,high)).
type Between struct {
	Field FieldRef
	Low   Value
	High  Value
}

// Exists is true when Field resolves to a non-null value in the current
// binding.
type Exists struct {
	Field FieldRef
}

func (Literal) isExpr()  {}
func (Compare) isExpr()  {}
func (And) isExpr()      {}
func (Or) isExpr()       {}
func (Not) isExpr()      {}
func (All) isExpr()      {}
func (Any) isExpr()      {}
func (Sum) isExpr()      {}
func (Avg) isExpr()      {}
func (Count) isExpr()    {}
func (InSet) isExpr()    {}
func (NotInSet) isExpr() {}
func (Between) isExpr()  {}
func (Exists) isExpr()   {}
