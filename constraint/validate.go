package constraint

// Payload validation for incoming constraint definitions. Runs before
// persistence; a definition that fails here is rejected with a
// ValidationError and never reaches the store.

const maxNameLength = 200

// ValidateDefinition checks the shape of a constraint definition.
func ValidateDefinition(c *Constraint) error {
	if c == nil {
		return &ValidationError{Field: "constraint", Reason: "is required"}
	}
	if c.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if len(c.Name) > maxNameLength {
		return &ValidationError{Field: "name", Reason: "exceeds 200 characters"}
	}
	if !KnownType(c.Type) {
		return &ValidationError{Field: "type", Reason: "is not a known constraint type"}
	}
	if c.Priority < 0 {
		return &ValidationError{Field: "priority", Reason: "must not be negative"}
	}
	switch c.Scope.Kind {
	case ScopeGlobal:
		if c.Scope.ID != "" {
			return &ValidationError{Field: "scope.id", Reason: "must be empty for global scope"}
		}
	case ScopeCustomer, ScopeShipment, ScopeRoute:
		if c.Scope.ID == "" {
			return &ValidationError{Field: "scope.id", Reason: "is required for non-global scope"}
		}
	default:
		return &ValidationError{Field: "scope.kind", Reason: "is not a known scope"}
	}
	if c.Expression == nil && c.CELExpression == "" {
		return &ValidationError{Field: "expression", Reason: "is required (AST or CEL)"}
	}
	if c.EffectiveFrom != nil && c.EffectiveUntil != nil && !c.EffectiveFrom.Before(*c.EffectiveUntil) {
		return &ValidationError{Field: "effective_from", Reason: "must precede effective_until"}
	}
	return nil
}
