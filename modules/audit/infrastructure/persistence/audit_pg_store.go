package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// chainLockKey serialises appends across processes sharing a database.
const chainLockKey int64 = 0x61756469745f6c67

// PGStore appends to audit.entries. Payloads are stored as json, not jsonb,
// so the text the hash was computed over survives a round trip.
type PGStore struct {
	pool pgBeginner
}

func NewPGStore(pool pgBeginner) ports.Store {
	return &PGStore{pool: pool}
}

func (s *PGStore) Append(ctx context.Context, e types.Entry) (types.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Entry{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1);`, chainLockKey); err != nil {
		return types.Entry{}, err
	}

	var seq int64
	var prev string
	err = tx.QueryRow(ctx, `SELECT sequence, hash FROM audit.entries ORDER BY sequence DESC LIMIT 1`).Scan(&seq, &prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return types.Entry{}, err
	}

	sealed, err := e.Seal(seq+1, prev)
	if err != nil {
		return types.Entry{}, err
	}
	before, err := types.EncodePayload(sealed.Before)
	if err != nil {
		return types.Entry{}, err
	}
	after, err := types.EncodePayload(sealed.After)
	if err != nil {
		return types.Entry{}, err
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO audit.entries (sequence, id, actor, actor_role, action, entity_type, entity_id, before, after, ts, prev_hash, hash)
VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8::json, $9::json, $10, $11, $12)
ON CONFLICT (id) DO NOTHING
`, sealed.Sequence, sealed.ID, sealed.Actor, sealed.ActorRole, sealed.Action, sealed.EntityType, sealed.EntityID,
		string(before), string(after), sealed.Timestamp, sealed.PrevHash, sealed.Hash)
	if err != nil {
		return types.Entry{}, err
	}
	if tag.RowsAffected() == 0 {
		return s.existing(ctx, tx, e)
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Entry{}, err
	}
	return sealed, nil
}

// existing resolves an id conflict: a replay of the stored entry returns it,
// anything else is ErrDuplicateID.
func (s *PGStore) existing(ctx context.Context, tx pgx.Tx, e types.Entry) (types.Entry, error) {
	rows, err := tx.Query(ctx, selectEntriesSQL+"WHERE id = $1::uuid", e.ID)
	if err != nil {
		return types.Entry{}, err
	}
	found, err := scanEntries(rows)
	if err != nil {
		return types.Entry{}, err
	}
	if len(found) == 1 && e.IsReplayOf(found[0]) {
		return found[0], nil
	}
	return types.Entry{}, fmt.Errorf("%w: %s", types.ErrDuplicateID, e.ID)
}

const selectEntriesSQL = `
SELECT sequence, id::text, actor, actor_role, action, entity_type, entity_id, before::text, after::text, ts, prev_hash, hash
FROM audit.entries
`

// queryFor builds the WHERE clause for every filter field except Where.
func queryFor(f types.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Actor != "" {
		add("actor = $%d", f.Actor)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.From != nil {
		add("ts >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add("ts < $%d", f.To.UTC())
	}

	var b strings.Builder
	b.WriteString(selectEntriesSQL)
	if len(conds) > 0 {
		b.WriteString("WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
		b.WriteByte('\n')
	}
	b.WriteString("ORDER BY ts DESC, sequence DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, "\nLIMIT $%d", len(args))
	}
	return b.String(), args
}

func (s *PGStore) Query(ctx context.Context, f types.Filter) ([]types.Entry, error) {
	sql, args := queryFor(f)
	return s.list(ctx, sql, args...)
}

func (s *PGStore) All(ctx context.Context) ([]types.Entry, error) {
	return s.list(ctx, selectEntriesSQL+"ORDER BY sequence ASC")
}

func (s *PGStore) list(ctx context.Context, sql string, args ...any) ([]types.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func scanEntries(rows pgx.Rows) ([]types.Entry, error) {
	defer rows.Close()

	var out []types.Entry
	var err error
	for rows.Next() {
		var e types.Entry
		var before, after string
		var ts time.Time
		if err := rows.Scan(&e.Sequence, &e.ID, &e.Actor, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID,
			&before, &after, &ts, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.Timestamp = ts.UTC()
		if e.Before, err = types.DecodePayload(e.EntityType, json.RawMessage(before)); err != nil {
			return nil, fmt.Errorf("audit entry %d: %w", e.Sequence, err)
		}
		if e.After, err = types.DecodePayload(e.EntityType, json.RawMessage(after)); err != nil {
			return nil, fmt.Errorf("audit entry %d: %w", e.Sequence, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
