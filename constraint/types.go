package constraint

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConstraintType categorizes a compliance rule. The set is closed; the
// hot-path cache flattens constraints by category, so an unknown category
// falls through to the verbatim custom namespace rather than being dropped.
type ConstraintType string

const (
	TypeWage     ConstraintType = "WAGE"
	TypeCarbon   ConstraintType = "CARBON"
	TypeTime     ConstraintType = "TIME"
	TypeCost     ConstraintType = "COST"
	TypeSanction ConstraintType = "SANCTION"
	TypeHours    ConstraintType = "HOURS"
	TypeSafety   ConstraintType = "SAFETY"
	TypeMode     ConstraintType = "MODE"
	TypeCustom   ConstraintType = "CUSTOM"
)

// KnownType reports whether t is one of the defined constraint types.
func KnownType(t ConstraintType) bool {
	switch t {
	case TypeWage, TypeCarbon, TypeTime, TypeCost, TypeSanction,
		TypeHours, TypeSafety, TypeMode, TypeCustom:
		return true
	}
	return false
}

// ScopeKind bounds where a constraint applies.
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "GLOBAL"
	ScopeCustomer ScopeKind = "CUSTOMER"
	ScopeShipment ScopeKind = "SHIPMENT"
	ScopeRoute    ScopeKind = "ROUTE"
)

// Scope is the applicability boundary of a constraint. ID is empty for
// global scope and names the customer/shipment/route otherwise.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// AppliesTo reports whether the scope covers the given evaluation context.
// A scope naming an entity the context does not carry, or a different one,
// is out of scope: the constraint is skipped rather than violated.
func (s Scope) AppliesTo(route *Route, shipment *Shipment) bool {
	switch s.Kind {
	case ScopeGlobal, "":
		return true
	case ScopeRoute:
		return route != nil && route.ID == s.ID
	case ScopeShipment:
		return shipment != nil && shipment.ID == s.ID
	case ScopeCustomer:
		return shipment != nil && shipment.CustomerID == s.ID
	}
	return false
}

// Constraint is one versioned compliance rule. Updates never mutate a
// version in place; the store appends a new version and retains the old one
// for point-in-time reads. The Expression tree is immutable once attached.
type Constraint struct {
	ID          string         `json:"id"`
	Version     int            `json:"version"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        ConstraintType `json:"type"`

	// Hard means a violation blocks the route; soft violations only
	// lower the aggregate score.
	Hard     bool  `json:"hard"`
	Priority int   `json:"priority"`
	Scope    Scope `json:"scope"`

	Params map[string]Value `json:"params,omitempty"`

	// Expression is the executable rule. Custom constraints may instead
	// carry a CEL expression evaluated against route/shipment facts.
	Expression    Expr   `json:"-"`
	CELExpression string `json:"cel_expression,omitempty"`

	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt doubles as the version's transaction-time stamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveAt reports whether the constraint's valid-time window contains t.
func (c *Constraint) EffectiveAt(t time.Time) bool {
	if c.EffectiveFrom != nil && t.Before(*c.EffectiveFrom) {
		return false
	}
	if c.EffectiveUntil != nil && !t.Before(*c.EffectiveUntil) {
		return false
	}
	return true
}

// constraintJSON shadows Constraint for serialization, carrying the
// expression in envelope form.
type constraintJSON struct {
	ID             string           `json:"id"`
	Version        int              `json:"version"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Type           ConstraintType   `json:"type"`
	Hard           bool             `json:"hard"`
	Priority       int              `json:"priority"`
	Scope          Scope            `json:"scope"`
	Params         map[string]Value `json:"params,omitempty"`
	Expression     json.RawMessage  `json:"expression,omitempty"`
	CELExpression  string           `json:"cel_expression,omitempty"`
	EffectiveFrom  *time.Time       `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time       `json:"effective_until,omitempty"`
	Active         bool             `json:"active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (c Constraint) MarshalJSON() ([]byte, error) {
	var exprRaw json.RawMessage
	if c.Expression != nil {
		b, err := MarshalExpr(c.Expression)
		if err != nil {
			return nil, fmt.Errorf("marshal expression for %s: %w", c.ID, err)
		}
		exprRaw = b
	}
	return json.Marshal(constraintJSON{
		ID:             c.ID,
		Version:        c.Version,
		Name:           c.Name,
		Description:    c.Description,
		Type:           c.Type,
		Hard:           c.Hard,
		Priority:       c.Priority,
		Scope:          c.Scope,
		Params:         c.Params,
		Expression:     exprRaw,
		CELExpression:  c.CELExpression,
		EffectiveFrom:  c.EffectiveFrom,
		EffectiveUntil: c.EffectiveUntil,
		Active:         c.Active,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	})
}

func (c *Constraint) UnmarshalJSON(b []byte) error {
	var raw constraintJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var expr Expr
	if len(raw.Expression) > 0 {
		e, err := UnmarshalExpr(raw.Expression)
		if err != nil {
			return fmt.Errorf("unmarshal expression for %s: %w", raw.ID, err)
		}
		expr = e
	}
	*c = Constraint{
		ID:             raw.ID,
		Version:        raw.Version,
		Name:           raw.Name,
		Description:    raw.Description,
		Type:           raw.Type,
		Hard:           raw.Hard,
		Priority:       raw.Priority,
		Scope:          raw.Scope,
		Params:         raw.Params,
		Expression:     expr,
		CELExpression:  raw.CELExpression,
		EffectiveFrom:  raw.EffectiveFrom,
		EffectiveUntil: raw.EffectiveUntil,
		Active:         raw.Active,
		CreatedAt:      raw.CreatedAt,
		UpdatedAt:      raw.UpdatedAt,
	}
	return nil
}

// Segment is one leg of a route with its per-leg cost, time, carbon, labor
// and carrier attributes.
type Segment struct {
	ID           string    `json:"id"`
	Sequence     int       `json:"sequence"`
	FromNode     string    `json:"from_node"`
	ToNode       string    `json:"to_node"`
	Country      string    `json:"country,omitempty"`
	Mode         string    `json:"mode"`
	CarrierCode  string    `json:"carrier_code"`
	CarrierName  string    `json:"carrier_name,omitempty"`
	DistanceKM   float64   `json:"distance_km"`
	CostUSD      float64   `json:"cost_usd"`
	TransitHours float64   `json:"transit_hours"`
	CarbonKG     float64   `json:"carbon_kg"`
	WageCents    int64     `json:"wage_cents"`
	SafetyRating int64     `json:"safety_rating"`
	Unionized    bool      `json:"unionized"`
	Departure    time.Time `json:"departure,omitempty"`
	Arrival      time.Time `json:"arrival,omitempty"`
}

// Route is a candidate route produced by the optimizer: ordered segments
// plus aggregate totals. The engine only consumes routes.
type Route struct {
	ID              string    `json:"id"`
	Segments        []Segment `json:"segments"`
	TotalCostUSD    float64   `json:"total_cost_usd"`
	TotalTimeHours  float64   `json:"total_time_hours"`
	TotalCarbonKG   float64   `json:"total_carbon_kg"`
	TotalDistanceKM float64   `json:"total_distance_km"`
	LaborScore      float64   `json:"labor_score"`
}

// Shipment is the optional shipment context for an evaluation.
type Shipment struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id,omitempty"`
	WeightKG   float64 `json:"weight_kg"`
	Priority   int64   `json:"priority"`
}

// ConstraintResult is the outcome of evaluating one constraint against one
// route. Score is 1.0 on pass and 0.0 on fail.
type ConstraintResult struct {
	ConstraintID string         `json:"constraint_id"`
	Type         ConstraintType `json:"constraint_type"`
	Passed       bool           `json:"passed"`
	Hard         bool           `json:"is_hard"`
	Score        float64        `json:"score"`
	Violations   []string       `json:"violations,omitempty"`
	Message      string         `json:"message"`
}

// EvaluationReport aggregates the per-constraint results for one route.
// AllHardPassed ignores soft constraints; OverallScore is the mean of all
// scores and exactly 1.0 for an empty constraint set.
type EvaluationReport struct {
	RouteID       string             `json:"route_id"`
	Results       []ConstraintResult `json:"results"`
	AllHardPassed bool               `json:"all_hard_passed"`
	OverallScore  float64            `json:"overall_score"`
	EvaluatedAt   time.Time          `json:"evaluated_at"`
}
