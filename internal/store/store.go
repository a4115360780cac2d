// Package store provides the persistence backends for accounts, proxies
// and sessions: Postgres for durable deployments, plus file and in-memory
// implementations for single-box runs and tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the three tables the orchestrator persists into. Session
// blobs are stored whole as jsonb; they are only ever read and written per
// account id.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id               TEXT PRIMARY KEY,
    auth_type        TEXT NOT NULL,
    login            TEXT NOT NULL DEFAULT '',
    secret           TEXT NOT NULL DEFAULT '',
    assigned_proxy   TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    has_session      BOOLEAN NOT NULL DEFAULT FALSE,
    last_verified_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS proxies (
    id       TEXT PRIMARY KEY,
    scheme   TEXT NOT NULL DEFAULT 'http',
    host     TEXT NOT NULL,
    port     INTEGER NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    password TEXT NOT NULL DEFAULT '',
    status   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
    account_id  TEXT PRIMARY KEY,
    blob        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL
);
`

// Store is the shared Postgres handle behind the per-entity repositories.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Accounts returns the account repository over this store.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s} }

// Proxies returns the proxy repository over this store.
func (s *Store) Proxies() *ProxyStore { return &ProxyStore{s} }

// Sessions returns the session repository over this store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s} }

// AccountStore implements schemas.AccountRepository on Postgres.
type AccountStore struct {
	s *Store
}

func (r *AccountStore) Get(ctx context.Context, id string) (schemas.Account, error) {
	const query = `
        SELECT id, auth_type, login, secret, assigned_proxy, status, has_session, COALESCE(last_verified_at, 'epoch'::timestamptz)
        FROM accounts WHERE id = $1;
    `
	var a schemas.Account
	var authType, status string
	err := r.s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &authType, &a.Login, &a.Secret, &a.AssignedProxyID,
		&status, &a.HasSession, &a.LastVerifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.Account{}, schemas.ErrNotFound
	}
	if err != nil {
		return schemas.Account{}, fmt.Errorf("failed to query account %s: %w", id, err)
	}
	a.AuthType = schemas.AuthType(authType)
	a.Status = schemas.AccountStatus(status)
	return a, nil
}

func (r *AccountStore) Save(ctx context.Context, account schemas.Account) error {
	const query = `
        INSERT INTO accounts (id, auth_type, login, secret, assigned_proxy, status, has_session, last_verified_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            auth_type = EXCLUDED.auth_type,
            login = EXCLUDED.login,
            secret = EXCLUDED.secret,
            assigned_proxy = EXCLUDED.assigned_proxy,
            status = EXCLUDED.status,
            has_session = EXCLUDED.has_session,
            last_verified_at = EXCLUDED.last_verified_at;
    `
	_, err := r.s.pool.Exec(ctx, query,
		account.ID, string(account.AuthType), account.Login, account.Secret,
		account.AssignedProxyID, string(account.Status), account.HasSession,
		account.LastVerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", account.ID, err)
	}
	return nil
}

func (r *AccountStore) List(ctx context.Context) ([]schemas.Account, error) {
	const query = `
        SELECT id, auth_type, login, secret, assigned_proxy, status, has_session, COALESCE(last_verified_at, 'epoch'::timestamptz)
        FROM accounts ORDER BY id;
    `
	rows, err := r.s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []schemas.Account
	for rows.Next() {
		var a schemas.Account
		var authType, status string
		if err := rows.Scan(&a.ID, &authType, &a.Login, &a.Secret, &a.AssignedProxyID, &status, &a.HasSession, &a.LastVerifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		a.AuthType = schemas.AuthType(authType)
		a.Status = schemas.AccountStatus(status)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during account iteration: %w", err)
	}
	return accounts, nil
}

// ProxyStore implements schemas.ProxyRepository on Postgres.
type ProxyStore struct {
	s *Store
}

func (r *ProxyStore) Get(ctx context.Context, id string) (schemas.Proxy, error) {
	const query = `SELECT id, scheme, host, port, username, password, status FROM proxies WHERE id = $1;`
	var p schemas.Proxy
	var status string
	err := r.s.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Scheme, &p.Host, &p.Port, &p.Username, &p.Password, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.Proxy{}, schemas.ErrNotFound
	}
	if err != nil {
		return schemas.Proxy{}, fmt.Errorf("failed to query proxy %s: %w", id, err)
	}
	p.Status = schemas.ProxyStatus(status)
	return p, nil
}

func (r *ProxyStore) Save(ctx context.Context, proxy schemas.Proxy) error {
	const query = `
        INSERT INTO proxies (id, scheme, host, port, username, password, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            scheme = EXCLUDED.scheme,
            host = EXCLUDED.host,
            port = EXCLUDED.port,
            username = EXCLUDED.username,
            password = EXCLUDED.password,
            status = EXCLUDED.status;
    `
	_, err := r.s.pool.Exec(ctx, query,
		proxy.ID, proxy.Scheme, proxy.Host, proxy.Port, proxy.Username, proxy.Password, string(proxy.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert proxy %s: %w", proxy.ID, err)
	}
	return nil
}

func (r *ProxyStore) List(ctx context.Context) ([]schemas.Proxy, error) {
	const query = `SELECT id, scheme, host, port, username, password, status FROM proxies ORDER BY id;`
	rows, err := r.s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer rows.Close()

	var proxies []schemas.Proxy
	for rows.Next() {
		var p schemas.Proxy
		var status string
		if err := rows.Scan(&p.ID, &p.Scheme, &p.Host, &p.Port, &p.Username, &p.Password, &status); err != nil {
			return nil, fmt.Errorf("failed to scan proxy row: %w", err)
		}
		p.Status = schemas.ProxyStatus(status)
		proxies = append(proxies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during proxy iteration: %w", err)
	}
	return proxies, nil
}

// SessionStore implements schemas.SessionRepository on Postgres. The blob
// is stored as one jsonb document per account.
type SessionStore struct {
	s *Store
}

func (r *SessionStore) Load(ctx context.Context, accountID string) (*schemas.Session, error) {
	const query = `SELECT blob FROM sessions WHERE account_id = $1;`
	var blob []byte
	err := r.s.pool.QueryRow(ctx, query, accountID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schemas.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session for %s: %w", accountID, err)
	}

	var session schemas.Session
	if err := json.Unmarshal(blob, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session blob for %s: %w", accountID, err)
	}
	return &session, nil
}

func (r *SessionStore) Save(ctx context.Context, session *schemas.Session) error {
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session for %s: %w", session.AccountID, err)
	}

	const query = `
        INSERT INTO sessions (account_id, blob, captured_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id) DO UPDATE SET
            blob = EXCLUDED.blob,
            captured_at = EXCLUDED.captured_at;
    `
	if _, err := r.s.pool.Exec(ctx, query, session.AccountID, blob, session.CapturedAt); err != nil {
		return fmt.Errorf("failed to upsert session for %s: %w", session.AccountID, err)
	}
	return nil
}

func (r *SessionStore) Delete(ctx context.Context, accountID string) error {
	const query = `DELETE FROM sessions WHERE account_id = $1;`
	tag, err := r.s.pool.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.ErrNotFound
	}
	return nil
}
