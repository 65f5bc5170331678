package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RateSetPGStore keeps each generation as a JSON document next to the
// columns the overlap exclusion constraint needs.
type RateSetPGStore struct {
	pool pgBeginner
}

func NewRateSetPGStore(pool pgBeginner) ports.RateSetStore {
	return &RateSetPGStore{pool: pool}
}

const (
	sqlStateUniqueViolation    = "23505"
	sqlStateExclusionViolation = "23P01"
)

func mapPGError(err error, rs types.RateSet) error {
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	if !ok || pgErr == nil {
		return err
	}
	switch pgErr.Code {
	case sqlStateUniqueViolation:
		return &payrollerr.ConfigurationError{RateSetID: rs.ID, Field: "id", Reason: "a rate set with this id already exists"}
	case sqlStateExclusionViolation:
		return types.OverlapError(rs, nil)
	}
	return err
}

const insertRateSetSQL = `
INSERT INTO payroll.rate_sets (id, version, effective_date, expiry_date, active, superseded_by, body)
VALUES ($1, $2, $3::date, $4::date, $5, NULLIF($6, ''), $7::json)
`

func (s *RateSetPGStore) insert(ctx context.Context, tx pgx.Tx, rs types.RateSet) error {
	body, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, insertRateSetSQL, rs.ID, rs.Version, rs.EffectiveDate, rs.ExpiryDate, rs.Active, rs.SupersededBy, body); err != nil {
		return mapPGError(err, rs)
	}
	return nil
}

func (s *RateSetPGStore) update(ctx context.Context, tx pgx.Tx, rs types.RateSet, expectedVersion int64) error {
	body, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE payroll.rate_sets
SET version = $3, expiry_date = $4::date, active = $5, superseded_by = NULLIF($6, ''), body = $7::json
WHERE id = $1 AND version = $2
`, rs.ID, expectedVersion, rs.Version, rs.ExpiryDate, rs.Active, rs.SupersededBy, body)
	if err != nil {
		return mapPGError(err, rs)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var actual int64
	if err := tx.QueryRow(ctx, `SELECT version FROM payroll.rate_sets WHERE id = $1`, rs.ID).Scan(&actual); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("rate set %s: %w", rs.ID, payrollerr.ErrRateSetNotFound)
		}
		return err
	}
	return &payrollerr.ConcurrencyConflictError{RateSetID: rs.ID, Expected: expectedVersion, Actual: actual}
}

func (s *RateSetPGStore) Insert(ctx context.Context, rs types.RateSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := s.insert(ctx, tx, rs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *RateSetPGStore) Get(ctx context.Context, id string) (types.RateSet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.RateSet{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var body []byte
	if err := tx.QueryRow(ctx, `SELECT body::text FROM payroll.rate_sets WHERE id = $1`, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.RateSet{}, fmt.Errorf("rate set %s: %w", id, payrollerr.ErrRateSetNotFound)
		}
		return types.RateSet{}, err
	}
	var rs types.RateSet
	if err := json.Unmarshal(body, &rs); err != nil {
		return types.RateSet{}, fmt.Errorf("rate set %s: decode: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return types.RateSet{}, err
	}
	return rs, nil
}

func (s *RateSetPGStore) List(ctx context.Context) ([]types.RateSet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `SELECT id, body::text FROM payroll.rate_sets ORDER BY effective_date ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.RateSet
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var rs types.RateSet
		if err := json.Unmarshal(body, &rs); err != nil {
			return nil, fmt.Errorf("rate set %s: decode: %w", id, err)
		}
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RateSetPGStore) Update(ctx context.Context, rs types.RateSet, expectedVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := s.update(ctx, tx, rs, expectedVersion); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Supersede retires old and inserts next in one transaction. The exclusion
// constraint is deferred, so an overlap surfaces at commit.
func (s *RateSetPGStore) Supersede(ctx context.Context, old types.RateSet, expectedVersion int64, next types.RateSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := s.update(ctx, tx, old, expectedVersion); err != nil {
		return err
	}
	if err := s.insert(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPGError(err, next)
	}
	return nil
}
