package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/gridform/model"
)

// Schema creates the tables used by PgRecordStore.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	type   TEXT      NOT NULL,
	id     BIGSERIAL NOT NULL,
	fields JSONB     NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (type, id)
);
CREATE INDEX IF NOT EXISTS records_fields_idx ON records USING GIN (fields);

CREATE TABLE IF NOT EXISTS record_joins (
	join_table TEXT      NOT NULL,
	owner_type TEXT      NOT NULL,
	owner_id   BIGINT    NOT NULL,
	target_id  BIGINT    NOT NULL,
	seq        BIGSERIAL NOT NULL,
	extra      JSONB     NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (join_table, owner_type, owner_id, target_id)
);`

// PoolConfig sizes the pgx connection pool.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// OpenPool connects to PostgreSQL and verifies the connection.
func OpenPool(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// PgRecordStore is a PostgreSQL-backed RecordStore using pgx/v5. Record
// fields are stored as JSONB.
type PgRecordStore struct {
	pool *pgxpool.Pool
}

// NewPgRecordStore creates a new PostgreSQL record store.
func NewPgRecordStore(pool *pgxpool.Pool) *PgRecordStore {
	return &PgRecordStore{pool: pool}
}

// Migrate creates the store's tables if they do not exist.
func (s *PgRecordStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate record store: %w", err)
	}
	return nil
}

// Get retrieves a record by type and ID.
func (s *PgRecordStore) Get(ctx context.Context, typeName string, id int64) (*model.Record, error) {
	var fieldsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT fields FROM records
		WHERE type = $1 AND id = $2`,
		typeName, id,
	).Scan(&fieldsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s #%d not found", typeName, id))
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	rec := &model.Record{Type: typeName, ID: id}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return rec, nil
}

// Find returns the records matching q, ordered by ID.
func (s *PgRecordStore) Find(ctx context.Context, q Query) ([]*model.Record, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, fields FROM records" + where + " ORDER BY id ASC"
	argIdx := len(args) + 1

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, q.Limit)
		argIdx++
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, q.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		rec := &model.Record{Type: q.Type}
		var fieldsJSON []byte
		if err := rows.Scan(&rec.ID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of records matching q.
func (s *PgRecordStore) Count(ctx context.Context, q Query) (int, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM records"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func whereClause(q Query) (string, []any, error) {
	where := " WHERE type = $1"
	args := []any{q.Type}

	if len(q.Filter) > 0 {
		filterJSON, err := json.Marshal(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("marshal filter: %w", err)
		}
		args = append(args, filterJSON)
		where += fmt.Sprintf(" AND fields @> $%d::jsonb", len(args))
	}
	if q.RestrictIDs {
		ids := q.IDs
		if ids == nil {
			ids = []int64{}
		}
		args = append(args, ids)
		where += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	return where, args, nil
}

// Save inserts or replaces a record.
func (s *PgRecordStore) Save(ctx context.Context, rec *model.Record) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	if rec.IsNew() {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO records (type, fields) VALUES ($1, $2)
			RETURNING id`,
			rec.Type, fieldsJSON,
		).Scan(&rec.ID)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE records SET fields = $1
		WHERE type = $2 AND id = $3`,
		fieldsJSON, rec.Type, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("%s #%d not found", rec.Type, rec.ID))
	}
	return nil
}

// Delete removes a record and the join rows it owns.
func (s *PgRecordStore) Delete(ctx context.Context, typeName string, id int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM record_joins
			WHERE owner_type = $1 AND owner_id = $2`,
			typeName, id,
		); err != nil {
			return fmt.Errorf("delete join rows: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM records
			WHERE type = $1 AND id = $2`,
			typeName, id,
		)
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewNotFoundError(fmt.Sprintf("%s #%d not found", typeName, id))
		}
		return nil
	})
}

// Link creates a join row if it does not already exist.
func (s *PgRecordStore) Link(ctx context.Context, key model.JoinKey, extra map[string]any) error {
	extraJSON, err := marshalExtra(extra)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO record_joins (join_table, owner_type, owner_id, target_id, extra)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (join_table, owner_type, owner_id, target_id) DO NOTHING`,
		key.Table, key.OwnerType, key.OwnerID, key.TargetID, extraJSON,
	)
	if err != nil {
		return fmt.Errorf("insert join row: %w", err)
	}
	return nil
}

// Unlink removes a join row.
func (s *PgRecordStore) Unlink(ctx context.Context, key model.JoinKey) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM record_joins
		WHERE join_table = $1 AND owner_type = $2 AND owner_id = $3 AND target_id = $4`,
		key.Table, key.OwnerType, key.OwnerID, key.TargetID,
	)
	if err != nil {
		return fmt.Errorf("delete join row: %w", err)
	}
	return nil
}

// LinkedIDs returns the target IDs joined to an owner, in link order.
func (s *PgRecordStore) LinkedIDs(ctx context.Context, table, ownerType string, ownerID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT target_id FROM record_joins
		WHERE join_table = $1 AND owner_type = $2 AND owner_id = $3
		ORDER BY seq ASC`,
		table, ownerType, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query join rows: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan join rows: %w", err)
	}
	return ids, nil
}

// ExtraData returns the extra data of a join row.
func (s *PgRecordStore) ExtraData(ctx context.Context, key model.JoinKey) (map[string]any, bool, error) {
	var extraJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT extra FROM record_joins
		WHERE join_table = $1 AND owner_type = $2 AND owner_id = $3 AND target_id = $4`,
		key.Table, key.OwnerType, key.OwnerID, key.TargetID,
	).Scan(&extraJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query join row: %w", err)
	}

	extra := map[string]any{}
	if err := json.Unmarshal(extraJSON, &extra); err != nil {
		return nil, false, fmt.Errorf("unmarshal extra data: %w", err)
	}
	return extra, true, nil
}

// SetExtraData replaces the extra data of an existing join row.
func (s *PgRecordStore) SetExtraData(ctx context.Context, key model.JoinKey, extra map[string]any) error {
	extraJSON, err := marshalExtra(extra)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE record_joins SET extra = $1
		WHERE join_table = $2 AND owner_type = $3 AND owner_id = $4 AND target_id = $5`,
		extraJSON, key.Table, key.OwnerType, key.OwnerID, key.TargetID,
	)
	if err != nil {
		return fmt.Errorf("update join row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("join row %s %d->%d not found", key.Table, key.OwnerID, key.TargetID))
	}
	return nil
}

// Ping checks the pool connection.
func (s *PgRecordStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func marshalExtra(extra map[string]any) ([]byte, error) {
	if extra == nil {
		extra = map[string]any{}
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra data: %w", err)
	}
	return b, nil
}
