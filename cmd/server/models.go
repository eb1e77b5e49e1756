package main

import (
	"encoding/json"
	"time"

	"github.com/veds-platform/constraints/constraint"
)

// API request and response models.

// FreeTextConstraintRequest creates a constraint from an operator-written
// sentence. The recognized category and compiled expression come back in
// the created constraint.
type FreeTextConstraintRequest struct {
	Text        string                      `json:"text"`
	Name        string                      `json:"name,omitempty"`
	Description string                      `json:"description,omitempty"`
	Hard        bool                        `json:"hard"`
	Priority    int                         `json:"priority"`
	Scope       constraint.Scope            `json:"scope"`
	Params      map[string]constraint.Value `json:"params,omitempty"`
} // @name FreeTextConstraintRequest

// UpdateConstraintRequest is a partial update. Absent fields keep their
// current values; the store appends the result as a new version.
type UpdateConstraintRequest struct {
	Name           *string                     `json:"name,omitempty"`
	Description    *string                     `json:"description,omitempty"`
	Type           *constraint.ConstraintType  `json:"type,omitempty"`
	Hard           *bool                       `json:"hard,omitempty"`
	Priority       *int                        `json:"priority,omitempty"`
	Scope          *constraint.Scope           `json:"scope,omitempty"`
	Params         map[string]constraint.Value `json:"params,omitempty"`
	Expression     json.RawMessage             `json:"expression,omitempty"`
	CELExpression  *string                     `json:"cel_expression,omitempty"`
	EffectiveFrom  *time.Time                  `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time                  `json:"effective_until,omitempty"`
	Active         *bool                       `json:"active,omitempty"`
} // @name UpdateConstraintRequest

// Patch converts the request into a store patch, decoding the expression
// envelope if one was supplied.
func (r *UpdateConstraintRequest) Patch() (constraint.Patch, error) {
	p := constraint.Patch{
		Name:           r.Name,
		Description:    r.Description,
		Type:           r.Type,
		Hard:           r.Hard,
		Priority:       r.Priority,
		Scope:          r.Scope,
		Params:         r.Params,
		CELExpression:  r.CELExpression,
		EffectiveFrom:  r.EffectiveFrom,
		EffectiveUntil: r.EffectiveUntil,
		Active:         r.Active,
	}
	if len(r.Expression) > 0 {
		expr, err := constraint.UnmarshalExpr(r.Expression)
		if err != nil {
			return constraint.Patch{}, err
		}
		p.Expression = expr
	}
	return p, nil
}

// EvaluateRequest asks for one route to be checked against the active
// constraint set. Shipment context is optional. UseCache evaluates
// against the last published cache generation instead of the store.
type EvaluateRequest struct {
	Route    *constraint.Route    `json:"route"`
	Shipment *constraint.Shipment `json:"shipment,omitempty"`
	UseCache bool                 `json:"use_cache,omitempty"`
} // @name EvaluateRequest

// ConstraintsListResponse wraps the constraint listing.
type ConstraintsListResponse struct {
	Constraints []*constraint.Constraint `json:"constraints"`
} // @name ConstraintsListResponse

// ErrorResponse is the error envelope for all non-2xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse reports service liveness and the storage backend in use.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
} // @name HealthResponse
