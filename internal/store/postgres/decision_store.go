package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL. Every
// pipeline run is appended with its full evidence; rows are never updated.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a DecisionStore backed by the given pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Save appends one decision with its zone, plan, guard report, and transition
// log serialized as JSONB.
func (s *DecisionStore) Save(ctx context.Context, d domain.Decision) error {
	zone, err := marshalNullable(d.Zone)
	if err != nil {
		return fmt.Errorf("postgres: marshal zone: %w", err)
	}
	plan, err := marshalNullable(d.Plan)
	if err != nil {
		return fmt.Errorf("postgres: marshal plan: %w", err)
	}
	guards, err := marshalNullable(d.Guards)
	if err != nil {
		return fmt.Errorf("postgres: marshal guards: %w", err)
	}
	transitions, err := marshalNullable(d.Transitions)
	if err != nil {
		return fmt.Errorf("postgres: marshal transitions: %w", err)
	}
	evidence, err := marshalNullable(d.Evidence)
	if err != nil {
		return fmt.Errorf("postgres: marshal evidence: %w", err)
	}

	const query = `
		INSERT INTO decisions
			(decision_key, symbol, timeframe, outcome, reason, dry_run,
			 zone, plan, guards, transitions, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.pool.Exec(ctx, query,
		d.DecisionKey, d.Symbol, d.Timeframe, string(d.Outcome), d.Reason, d.DryRun,
		zone, plan, guards, transitions, evidence, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save decision %s: %w", d.DecisionKey, err)
	}
	return nil
}

// ListRecent returns the most recent decisions for a symbol, newest first.
func (s *DecisionStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT decision_key, symbol, timeframe, outcome, reason, dry_run,
		       zone, plan, guards, transitions, evidence, created_at
		FROM decisions
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions for %s: %w", symbol, err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		var (
			d       domain.Decision
			outcome string
			zone, plan, guards, transitions, evidence []byte
		)
		if err := rows.Scan(
			&d.DecisionKey, &d.Symbol, &d.Timeframe, &outcome, &d.Reason, &d.DryRun,
			&zone, &plan, &guards, &transitions, &evidence, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		d.Outcome = domain.DecisionOutcome(outcome)

		if err := unmarshalNullable(zone, &d.Zone); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal zone: %w", err)
		}
		if err := unmarshalNullable(plan, &d.Plan); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal plan: %w", err)
		}
		if err := unmarshalNullable(guards, &d.Guards); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal guards: %w", err)
		}
		if err := unmarshalNullable(transitions, &d.Transitions); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal transitions: %w", err)
		}
		if err := unmarshalNullable(evidence, &d.Evidence); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal evidence: %w", err)
		}

		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list decisions rows: %w", err)
	}
	return decisions, nil
}

// marshalNullable serializes v to JSON, mapping nil pointers and nil slices
// to SQL NULL.
func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// unmarshalNullable deserializes JSONB into out, leaving it zero for NULL.
func unmarshalNullable(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Compile-time interface check.
var _ domain.DecisionStore = (*DecisionStore)(nil)
