package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"claude-relay/internal/crypto"
)

var ErrNotConfigured = errors.New("no enabled upstream keys")
var ErrNotFound = errors.New("upstream key not found")

// Credential is an upstream key row with the secret already unsealed.
// It never leaves the process except inside outbound request headers.
type Credential struct {
	ID        uint64
	Name      string
	BaseURL   string
	APIKey    string
	Enabled   bool
	CreatedAt time.Time
}

// Store reads upstream keys from MySQL. Enabled keys are cached briefly
// and handed out round-robin, so admin changes take effect within the
// cache TTL without a restart.
type Store struct {
	db     *sql.DB
	sealer *crypto.Sealer

	cacheTTL time.Duration
	cacheMu  sync.RWMutex
	cached   []Credential
	cachedAt time.Time

	rr atomic.Uint64
}

func NewStore(db *sql.DB, sealer *crypto.Sealer) *Store {
	return &Store{db: db, sealer: sealer, cacheTTL: 5 * time.Second}
}

// Pick returns the next enabled credential in round-robin order.
func (s *Store) Pick(ctx context.Context) (Credential, error) {
	creds, err := s.enabled(ctx)
	if err != nil {
		return Credential{}, err
	}
	if len(creds) == 0 {
		return Credential{}, ErrNotConfigured
	}
	n := s.rr.Add(1)
	return creds[int(n%uint64(len(creds)))], nil
}

func (s *Store) enabled(ctx context.Context) ([]Credential, error) {
	s.cacheMu.RLock()
	if time.Since(s.cachedAt) < s.cacheTTL && s.cached != nil {
		creds := s.cached
		s.cacheMu.RUnlock()
		return creds, nil
	}
	s.cacheMu.RUnlock()

	creds, err := s.list(ctx, true)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		creds = []Credential{}
	}
	s.cacheMu.Lock()
	s.cached = creds
	s.cachedAt = time.Now()
	s.cacheMu.Unlock()
	return creds, nil
}

// List returns all keys, enabled or not, with secrets unsealed.
func (s *Store) List(ctx context.Context) ([]Credential, error) {
	return s.list(ctx, false)
}

func (s *Store) list(ctx context.Context, enabledOnly bool) ([]Credential, error) {
	q := `SELECT id, name, base_url, api_key_enc, enabled, created_at FROM upstream_keys`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var enc string
		if err := rows.Scan(&c.ID, &c.Name, &c.BaseURL, &enc, &c.Enabled, &c.CreatedAt); err != nil {
			return nil, err
		}
		key, err := s.sealer.OpenString(enc)
		if err != nil {
			return nil, fmt.Errorf("unseal key %d: %w", c.ID, err)
		}
		c.APIKey = key
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id uint64) (Credential, error) {
	var c Credential
	var enc string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, api_key_enc, enabled, created_at FROM upstream_keys WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.BaseURL, &enc, &c.Enabled, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	key, err := s.sealer.OpenString(enc)
	if err != nil {
		return Credential{}, fmt.Errorf("unseal key %d: %w", id, err)
	}
	c.APIKey = key
	return c, nil
}

func (s *Store) Create(ctx context.Context, name, baseURL, apiKey string) (uint64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return 0, fmt.Errorf("api_key is required")
	}
	enc, err := s.sealer.SealString(apiKey)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO upstream_keys(name, base_url, api_key_enc, enabled) VALUES (?, ?, ?, 1)`,
		name, strings.TrimSpace(baseURL), enc)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.invalidate()
	return uint64(id), nil
}

func (s *Store) SetEnabled(ctx context.Context, id uint64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE upstream_keys SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.invalidate()
	return nil
}

func (s *Store) Delete(ctx context.Context, id uint64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM upstream_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.invalidate()
	return nil
}

func (s *Store) invalidate() {
	s.cacheMu.Lock()
	s.cached = nil
	s.cachedAt = time.Time{}
	s.cacheMu.Unlock()
}
