package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Record is one persisted key/value row
type Record struct {
	Key       string `db:"record_key"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// Records is a small durable key/value map on top of local_records
type Records struct {
	db *sqlx.DB
}

// NewRecords wraps a migrated database
func NewRecords(db *sqlx.DB) *Records {
	return &Records{db: db}
}

// Save upserts value under key
func (r *Records) Save(ctx context.Context, key string, value []byte) error {
	query := r.db.Rebind(`
		INSERT INTO local_records (record_key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (record_key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if _, err := r.db.ExecContext(ctx, query, key, string(value), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load returns the value stored under key; ok is false when absent
func (r *Records) Load(ctx context.Context, key string) (value []byte, ok bool, err error) {
	var rec Record
	query := r.db.Rebind(`SELECT record_key, value, updated_at FROM local_records WHERE record_key = ?`)
	err = r.db.GetContext(ctx, &rec, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(rec.Value), true, nil
}

// LoadPrefix returns every record whose key starts with prefix
func (r *Records) LoadPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	var recs []Record
	query := r.db.Rebind(`SELECT record_key, value, updated_at FROM local_records WHERE record_key LIKE ? ORDER BY record_key`)
	if err := r.db.SelectContext(ctx, &recs, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("load prefix %s: %w", prefix, err)
	}

	out := make(map[string][]byte, len(recs))
	for _, rec := range recs {
		// LIKE treats _ and % in the prefix as wildcards
		if strings.HasPrefix(rec.Key, prefix) {
			out[rec.Key] = []byte(rec.Value)
		}
	}
	return out, nil
}

// Delete removes key; deleting a missing key is not an error
func (r *Records) Delete(ctx context.Context, key string) error {
	query := r.db.Rebind(`DELETE FROM local_records WHERE record_key = ?`)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
