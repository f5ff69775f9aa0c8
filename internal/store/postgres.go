package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore persists each case as one JSONB document keyed by case id. Updates lock
// the row for the duration of the read-merge-write so concurrent writers serialize.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c Case) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal case: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cases (id, name, status, created_at, data)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, string(c.Status), c.CreatedAt, payload)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrExists
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Case, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cases WHERE id=$1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("get case: %w", err)
	}
	return decodeCase(payload)
}

func (s *PostgresStore) Update(ctx context.Context, id string, mutate func(*Case) error) (Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Case{}, fmt.Errorf("begin update tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM cases WHERE id=$1 FOR UPDATE`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("lock case: %w", err)
	}

	current, err := decodeCase(payload)
	if err != nil {
		return Case{}, err
	}
	if err := mutate(&current); err != nil {
		return Case{}, err
	}
	current.ID = id

	next, err := json.Marshal(current)
	if err != nil {
		return Case{}, fmt.Errorf("marshal case: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE cases
		SET name=$2, status=$3, data=$4, version=version+1, updated_at=NOW()
		WHERE id=$1
	`, id, current.Name, string(current.Status), next); err != nil {
		return Case{}, fmt.Errorf("update case: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Case{}, fmt.Errorf("commit case update: %w", err)
	}
	return current, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete case rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM cases ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := []Case{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c, err := decodeCase(payload)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func decodeCase(payload []byte) (Case, error) {
	var c Case
	if err := json.Unmarshal(payload, &c); err != nil {
		return Case{}, fmt.Errorf("decode case: %w", err)
	}
	if c.Directors == nil {
		c.Directors = []Director{}
	}
	for i := range c.Directors {
		if c.Directors[i].Documents == nil {
			c.Directors[i].Documents = []DocumentSlot{}
		}
	}
	return c, nil
}
