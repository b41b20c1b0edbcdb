package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the flat persisted mapping the typed settings view sits on.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Save(ctx context.Context) error
}

// PgStore keeps the mapping in a Postgres table and a write-through cache.
// All access is serialized so two near-simultaneous mutations cannot lose
// each other's writes.
type PgStore struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	values map[string]string
	dirty  map[string]bool
}

func OpenPgStore(ctx context.Context, pool *pgxpool.Pool) (*PgStore, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bot_settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return nil, fmt.Errorf("create settings table: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT key, value FROM bot_settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PgStore{pool: pool, values: values, dirty: make(map[string]bool)}, nil
}

func (s *PgStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *PgStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] == value {
		return
	}
	s.values[key] = value
	s.dirty[key] = true
}

// Save persists all pending changes in one transaction.
func (s *PgStore) Save(ctx context.Context) error {
	s.mu.Lock()
	pending := make(map[string]string, len(s.dirty))
	for key := range s.dirty {
		pending[key] = s.values[key]
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for key, value := range pending {
			_, err := tx.Exec(ctx, `
				INSERT INTO bot_settings (key, value, updated_at)
				VALUES ($1, $2, NOW())
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
				key, value)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	s.mu.Lock()
	for key := range pending {
		delete(s.dirty, key)
	}
	s.mu.Unlock()
	return nil
}

// EnsureDefaults seeds missing keys so a fresh database passes validation.
func (s *PgStore) EnsureDefaults(ctx context.Context, defaults map[string]string) error {
	for key, value := range defaults {
		if _, ok := s.Get(key); !ok {
			s.Set(key, value)
		}
	}
	return s.Save(ctx)
}
