package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	getCredential = `SELECT value FROM device_credentials WHERE namespace = $1 AND key = $2`

	upsertCredential = `INSERT INTO device_credentials (namespace, key, value, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	deleteCredential = `DELETE FROM device_credentials WHERE namespace = $1 AND key = $2`
)

type PostgresRepository struct {
	db DBTX
}

func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetCredential returns pgx.ErrNoRows when the key is absent.
func (r *PostgresRepository) GetCredential(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	if err := r.db.QueryRow(ctx, getCredential, namespace, key).Scan(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func (r *PostgresRepository) UpsertCredential(ctx context.Context, namespace, key string, value []byte) error {
	if _, err := r.db.Exec(ctx, upsertCredential, namespace, key, string(value)); err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteCredential(ctx context.Context, namespace, key string) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteCredential, namespace, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete credential: %w", err)
	}
	return tag.RowsAffected(), nil
}
