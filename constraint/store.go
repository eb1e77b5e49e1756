package constraint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the authoritative, versioned constraint store. Every write
// appends a new version; prior versions stay addressable by point-in-time
// query and are never mutated.
type Store interface {
	// Create persists version 1 of a new constraint. A missing ID is
	// assigned. Active defaults from the definition.
	Create(ctx context.Context, c *Constraint) (*Constraint, error)

	// Get returns the current (highest) version.
	Get(ctx context.Context, id string) (*Constraint, error)

	// GetAsOf returns the version recorded at or before the given
	// transaction time, regardless of the active flag.
	GetAsOf(ctx context.Context, id string, at time.Time) (*Constraint, error)

	// ListActive returns the current version of every constraint that is
	// flagged active and whose valid-time window contains now.
	ListActive(ctx context.Context) ([]*Constraint, error)

	// Update merges the patch over the current version and appends the
	// result as a new version. Returns ErrNotFound for unknown ids and
	// ErrVersionConflict when a concurrent writer appended first.
	Update(ctx context.Context, id string, patch Patch) (*Constraint, error)

	// Deactivate is Update with active=false: a reversible soft delete.
	Deactivate(ctx context.Context, id string) (*Constraint, error)
}

// Patch is a partial constraint update. Nil fields are left unchanged.
type Patch struct {
	Name           *string
	Description    *string
	Type           *ConstraintType
	Hard           *bool
	Priority       *int
	Scope          *Scope
	Params         map[string]Value
	Expression     Expr
	CELExpression  *string
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
	Active         *bool
}

// applyPatch merges a patch over the current version, producing the next
// version. The input is not modified.
func applyPatch(current *Constraint, patch Patch, now time.Time) *Constraint {
	next := cloneConstraint(current)
	next.Version = current.Version + 1
	next.UpdatedAt = now

	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Type != nil {
		next.Type = *patch.Type
	}
	if patch.Hard != nil {
		next.Hard = *patch.Hard
	}
	if patch.Priority != nil {
		next.Priority = *patch.Priority
	}
	if patch.Scope != nil {
		next.Scope = *patch.Scope
	}
	if patch.Params != nil {
		next.Params = make(map[string]Value, len(patch.Params))
		for k, v := range patch.Params {
			next.Params[k] = v
		}
	}
	if patch.Expression != nil {
		next.Expression = patch.Expression
	}
	if patch.CELExpression != nil {
		next.CELExpression = *patch.CELExpression
	}
	if patch.EffectiveFrom != nil {
		next.EffectiveFrom = patch.EffectiveFrom
	}
	if patch.EffectiveUntil != nil {
		next.EffectiveUntil = patch.EffectiveUntil
	}
	if patch.Active != nil {
		next.Active = *patch.Active
	}
	return next
}

func cloneConstraint(c *Constraint) *Constraint {
	out := *c
	if c.Params != nil {
		out.Params = make(map[string]Value, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	// Expression trees are immutable once attached, so sharing is safe.
	return &out
}

// InMemoryStore implements Store as an in-process version log. Used in
// tests and as the storage backend when no database is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]*Constraint
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{versions: make(map[string][]*Constraint)}
}

func (s *InMemoryStore) Create(ctx context.Context, c *Constraint) (*Constraint, error) {
	if err := ValidateDefinition(c); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v1 := cloneConstraint(c)
	if v1.ID == "" {
		v1.ID = uuid.NewString()
	} else if _, exists := s.versions[v1.ID]; exists {
		return nil, fmt.Errorf("constraint %s already exists", v1.ID)
	}
	now := time.Now().UTC()
	v1.Version = 1
	v1.CreatedAt = now
	v1.UpdatedAt = now
	s.versions[v1.ID] = []*Constraint{v1}
	return cloneConstraint(v1), nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.versions[id]
	if len(log) == 0 {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return cloneConstraint(log[len(log)-1]), nil
}

func (s *InMemoryStore) GetAsOf(ctx context.Context, id string, at time.Time) (*Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.versions[id]
	for i := len(log) - 1; i >= 0; i-- {
		if !log[i].UpdatedAt.After(at) {
			return cloneConstraint(log[i]), nil
		}
	}
	return nil, fmt.Errorf("get %s as of %s: %w", id, at.Format(time.RFC3339), ErrNotFound)
}

func (s *InMemoryStore) ListActive(ctx context.Context) ([]*Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var active []*Constraint
	for _, log := range s.versions {
		current := log[len(log)-1]
		if current.Active && current.EffectiveAt(now) {
			active = append(active, cloneConstraint(current))
		}
	}
	return active, nil
}

func (s *InMemoryStore) Update(ctx context.Context, id string, patch Patch) (*Constraint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.versions[id]
	if len(log) == 0 {
		return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	next := applyPatch(log[len(log)-1], patch, time.Now().UTC())
	if err := ValidateDefinition(next); err != nil {
		return nil, err
	}
	s.versions[id] = append(log, next)
	return cloneConstraint(next), nil
}

func (s *InMemoryStore) Deactivate(ctx context.Context, id string) (*Constraint, error) {
	inactive := false
	return s.Update(ctx, id, Patch{Active: &inactive})
}
