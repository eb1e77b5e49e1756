package constraint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSON codec for Value and Expr. Constraints are persisted and cached as
// JSON documents, so both types round-trip through an explicit envelope
// keyed by "kind" rather than relying on Go type names.

// MarshalJSON renders the value as the native JSON scalar or array.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON sniffs the JSON type. Whole numbers decode as integers,
// anything with a fractional part as float.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := valueFromRaw(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func valueFromRaw(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", t.String())
		}
		return FloatValue(f), nil
	case []any:
		list := make([]Value, 0, len(t))
		for _, el := range t {
			ev, err := valueFromRaw(el)
			if err != nil {
				return Value{}, err
			}
			list = append(list, ev)
		}
		return ListValue(list...), nil
	default:
		return Value{}, fmt.Errorf("unsupported value of type %T", raw)
	}
}

type exprEnvelope struct {
	Kind      string            `json:"kind"`
	Bool      *bool             `json:"bool,omitempty"`
	Field     *FieldRef         `json:"field,omitempty"`
	Op        CmpOp             `json:"op,omitempty"`
	Value     *Value            `json:"value,omitempty"`
	Exprs     []json.RawMessage `json:"exprs,omitempty"`
	Inner     json.RawMessage   `json:"inner,omitempty"`
	Predicate json.RawMessage   `json:"predicate,omitempty"`
	AggField  string            `json:"agg_field,omitempty"`
	Set       []Value           `json:"set,omitempty"`
	Low       *Value            `json:"low,omitempty"`
	High      *Value            `json:"high,omitempty"`
}

// MarshalExpr serializes an expression tree to its JSON envelope form.
func MarshalExpr(e Expr) ([]byte, error) {
	env, err := toEnvelope(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func toEnvelope(e Expr) (*exprEnvelope, error) {
	marshalKids := func(kids []Expr) ([]json.RawMessage, error) {
		out := make([]json.RawMessage, 0, len(kids))
		for _, k := range kids {
			b, err := MarshalExpr(k)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	}

	switch t := e.(type) {
	case Literal:
		b := t.Value
		return &exprEnvelope{Kind: "literal", Bool: &b}, nil
	case Compare:
		f, v := t.Field, t.Value
		return &exprEnvelope{Kind: "compare", Field: &f, Op: t.Op, Value: &v}, nil
	case And:
		kids, err := marshalKids(t.Exprs)
		if err != nil {
			return nil, err
		}
		return &exprEnvelope{Kind: "and", Exprs: kids}, nil
	case Or:
		kids, err := marshalKids(t.Exprs)
		if err != nil {
			return nil, err
		}
		return &exprEnvelope{Kind: "or", Exprs: kids}, nil
	case Not:
		inner, err := MarshalExpr(t.Expr)
		if err != nil {
			return nil, err
		}
		return &exprEnvelope{Kind: "not", Inner: inner}, nil
	case All:
		inner, err := MarshalExpr(t.Inner)
		if err != nil {
			return nil, err
		}
		return &exprEnvelope{Kind: "all", Inner: inner}, nil
	case Any:
		inner, err := MarshalExpr(t.Inner)
		if err != nil {
			return nil, err
		}
		return &exprEnvelope{Kind: "any", Inner: inner}, nil
	case Sum:
		v := t.Value
		return &exprEnvelope{Kind: "sum", AggField: t.Field, Op: t.Op, Value: &v}, nil
	case Avg:
		v := t.Value
		return &exprEnvelope{Kind: "avg", AggField: t.Field, Op: t.Op, Value: &v}, nil
	case Count:
		pred, err := MarshalExpr(t.Predicate)
		if err != nil {
			return nil, err
		}
		v := t.Value
		return &exprEnvelope{Kind: "count", Predicate: pred, Op: t.Op, Value: &v}, nil
	case InSet:
		f := t.Field
		return &exprEnvelope{Kind: "in_set", Field: &f, Set: t.Set}, nil
	case NotInSet:
		f := t.Field
		return &exprEnvelope{Kind: "not_in_set", Field: &f, Set: t.Set}, nil
	case Between:
		f, lo, hi := t.Field, t.Low, t.High
		return &exprEnvelope{Kind: "between", Field: &f, Low: &lo, High: &hi}, nil
	case Exists:
		f := t.Field
		return &exprEnvelope{Kind: "exists", Field: &f}, nil
	}
	return nil, fmt.Errorf("unknown expression type %T", e)
}

// UnmarshalExpr parses an expression tree from its JSON envelope form.
func UnmarshalExpr(b []byte) (Expr, error) {
	var env exprEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	return fromEnvelope(&env)
}

func fromEnvelope(env *exprEnvelope) (Expr, error) {
	unmarshalKids := func(raws []json.RawMessage) ([]Expr, error) {
		out := make([]Expr, 0, len(raws))
		for _, r := range raws {
			k, err := UnmarshalExpr(r)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
		return out, nil
	}
	need := func(name string, ok bool) error {
		if !ok {
			return fmt.Errorf("expression kind %q missing %s", env.Kind, name)
		}
		return nil
	}

	switch env.Kind {
	case "literal":
		if err := need("bool", env.Bool != nil); err != nil {
			return nil, err
		}
		return Literal{Value: *env.Bool}, nil
	case "compare":
		if err := need("field/value", env.Field != nil && env.Value != nil); err != nil {
			return nil, err
		}
		return Compare{Field: *env.Field, Op: env.Op, Value: *env.Value}, nil
	case "and":
		kids, err := unmarshalKids(env.Exprs)
		if err != nil {
			return nil, err
		}
		return And{Exprs: kids}, nil
	case "or":
		kids, err := unmarshalKids(env.Exprs)
		if err != nil {
			return nil, err
		}
		return Or{Exprs: kids}, nil
	case "not":
		if err := need("inner", env.Inner != nil); err != nil {
			return nil, err
		}
		inner, err := UnmarshalExpr(env.Inner)
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil
	case "all", "any":
		if err := need("inner", env.Inner != nil); err != nil {
			return nil, err
		}
		inner, err := UnmarshalExpr(env.Inner)
		if err != nil {
			return nil, err
		}
		if env.Kind == "all" {
			return All{Inner: inner}, nil
		}
		return Any{Inner: inner}, nil
	case "sum":
		if err := need("value", env.Value != nil); err != nil {
			return nil, err
		}
		return Sum{Field: env.AggField, Op: env.Op, Value: *env.Value}, nil
	case "avg":
		if err := need("value", env.Value != nil); err != nil {
			return nil, err
		}
		return Avg{Field: env.AggField, Op: env.Op, Value: *env.Value}, nil
	case "count":
		if err := need("predicate/value", env.Predicate != nil && env.Value != nil); err != nil {
			return nil, err
		}
		pred, err := UnmarshalExpr(env.Predicate)
		if err != nil {
			return nil, err
		}
		return Count{Predicate: pred, Op: env.Op, Value: *env.Value}, nil
	case "in_set":
		if err := need("field", env.Field != nil); err != nil {
			return nil, err
		}
		return InSet{Field: *env.Field, Set: env.Set}, nil
	case "not_in_set":
		if err := need("field", env.Field != nil); err != nil {
			return nil, err
		}
		return NotInSet{Field: *env.Field, Set: env.Set}, nil
	case "between":
		if err := need("field/low/high", env.Field != nil && env.Low != nil && env.High != nil); err != nil {
			return nil, err
		}
		return Between{Field: *env.Field, Low: *env.Low, High: *env.High}, nil
	case "exists":
		if err := need("field", env.Field != nil); err != nil {
			return nil, err
		}
		return Exists{Field: *env.Field}, nil
	}
	return nil, fmt.Errorf("unknown expression kind %q", env.Kind)
}
