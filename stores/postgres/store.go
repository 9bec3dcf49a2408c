// Package postgres stores device credentials in a PostgreSQL table (see schema.sql).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammatimetable/devicepair"
	"github.com/jackc/pgx/v5"
)

const defaultNamespace = "default"

func New(db DBTX, opts ...NewOpt) *Store {
	s := &Store{
		repo:      NewPostgresRepository(db),
		namespace: defaultNamespace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithNamespace separates the credentials of several installs sharing one table.
func WithNamespace(namespace string) NewOpt {
	return func(s *Store) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

type (
	Store struct {
		repo      *PostgresRepository
		namespace string
	}

	NewOpt func(*Store)
)

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	value, err := s.repo.GetCredential(ctx, s.namespace, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, devicepair.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return value, nil
}

func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	return s.repo.UpsertCredential(ctx, s.namespace, key, value)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.repo.DeleteCredential(ctx, s.namespace, key)
	return err
}

var _ devicepair.Storer = (*Store)(nil)
