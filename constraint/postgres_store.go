package constraint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store over an append-only version log: one row
// per (constraint_id, version) with the full document as JSONB and the
// row's insert time as the transaction-time stamp. The composite primary
// key is the optimistic-concurrency guard — two writers racing on the same
// base version collide on the key and the loser gets ErrVersionConflict.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, c *Constraint) (*Constraint, error) {
	if err := ValidateDefinition(c); err != nil {
		return nil, err
	}

	v1 := cloneConstraint(c)
	if v1.ID == "" {
		v1.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v1.Version = 1
	v1.CreatedAt = now
	v1.UpdatedAt = now

	if err := s.insertVersion(ctx, v1); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("constraint %s already exists", v1.ID)
		}
		return nil, err
	}
	return v1, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Constraint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM constraint_versions
		WHERE constraint_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, id)
	return scanConstraint(row, id)
}

func (s *PostgresStore) GetAsOf(ctx context.Context, id string, at time.Time) (*Constraint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM constraint_versions
		WHERE constraint_id = $1 AND recorded_at <= $2
		ORDER BY version DESC
		LIMIT 1
	`, id, at)
	return scanConstraint(row, id)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Constraint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (constraint_id) payload
		FROM constraint_versions
		ORDER BY constraint_id, version DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var active []*Constraint
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan constraint: %w", err)
		}
		var c Constraint
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode constraint: %w", err)
		}
		if c.Active && c.EffectiveAt(now) {
			active = append(active, &c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active: %w: %v", ErrStoreUnavailable, err)
	}
	return active, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) (*Constraint, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := applyPatch(current, patch, time.Now().UTC())
	if err := ValidateDefinition(next); err != nil {
		return nil, err
	}
	if err := s.insertVersion(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, id string) (*Constraint, error) {
	inactive := false
	return s.Update(ctx, id, Patch{Active: &inactive})
}

func (s *PostgresStore) insertVersion(ctx context.Context, c *Constraint) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode constraint %s: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO constraint_versions (constraint_id, version, payload, active, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Version, payload, c.Active, c.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("insert %s version %d: %w", c.ID, c.Version, ErrVersionConflict)
		}
		return fmt.Errorf("insert %s version %d: %w: %v", c.ID, c.Version, ErrStoreUnavailable, err)
	}
	return nil
}

func scanConstraint(row *sql.Row, id string) (*Constraint, error) {
	var payload []byte
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %v", id, ErrStoreUnavailable, err)
	}
	var c Constraint
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode constraint %s: %w", id, err)
	}
	return &c, nil
}
