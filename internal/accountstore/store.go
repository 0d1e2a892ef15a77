// Package accountstore persists durable account records in an embedded
// SQLite database. Credentials never land here; they live in the
// encrypted token cache. The registry only holds what a host surface
// needs to list accounts and drive re-auth: identity, display fields,
// tenant topology, and staleness.
package accountstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/entra-auth-go/internal/entra"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no account matches the requested key.
var ErrNotFound = errors.New("accountstore: account not found")

// Store is the SQLite-backed account registry. Use ":memory:" as the
// path for tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts statements
}

type statements struct {
	upsert, get, list, delete, setStale *sql.Stmt
}

// New opens the database at dbPath, applies migrations, and prepares the
// repeated statements.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("accountstore: opening database: %w", err)
	}

	ctx := context.Background()

	if err := setPragmas(ctx, db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepare(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("accountstore: preparing statements: %w", err)
	}

	logger.Debug("account registry ready", slog.String("path", dbPath))

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("accountstore: %s: %w", pragma, err)
		}
	}

	return nil
}

// runMigrations applies pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("accountstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("accountstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("accountstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

const (
	upsertSQL = `
		INSERT INTO accounts (provider_id, account_id, display_name, email, properties, is_stale, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id, account_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			properties = excluded.properties,
			is_stale = excluded.is_stale,
			updated_at = excluded.updated_at`

	getSQL = `
		SELECT provider_id, account_id, display_name, email, properties, is_stale
		FROM accounts WHERE provider_id = ? AND account_id = ?`

	listSQL = `
		SELECT provider_id, account_id, display_name, email, properties, is_stale
		FROM accounts ORDER BY display_name`

	deleteSQL = `DELETE FROM accounts WHERE provider_id = ? AND account_id = ?`

	setStaleSQL = `
		UPDATE accounts SET is_stale = ?, updated_at = ?
		WHERE provider_id = ? AND account_id = ?`
)

func (s *Store) prepare(ctx context.Context) error {
	for _, p := range []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.stmts.upsert, upsertSQL},
		{&s.stmts.get, getSQL},
		{&s.stmts.list, listSQL},
		{&s.stmts.delete, deleteSQL},
		{&s.stmts.setStale, setStaleSQL},
	} {
		stmt, err := s.db.PrepareContext(ctx, p.sql)
		if err != nil {
			return err
		}

		*p.dst = stmt
	}

	return nil
}

// Upsert inserts or replaces the account record. The whole record is
// replaced at once, matching how accounts are materialized: atomically
// from a completed exchange, never piecewise.
func (s *Store) Upsert(ctx context.Context, account *entra.Account) error {
	properties, err := json.Marshal(account.Properties)
	if err != nil {
		return fmt.Errorf("accountstore: encoding properties: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	_, err = s.stmts.upsert.ExecContext(ctx,
		account.Key.ProviderID, account.Key.AccountID,
		account.DisplayName, account.Email, string(properties),
		boolToInt(account.IsStale), now, now,
	)
	if err != nil {
		return fmt.Errorf("accountstore: upserting account: %w", err)
	}

	return nil
}

// Get returns the account for the key, ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, providerID, accountID string) (*entra.Account, error) {
	row := s.stmts.get.QueryRowContext(ctx, providerID, accountID)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, providerID, accountID)
	}

	return account, err
}

// List returns every registered account ordered by display name.
func (s *Store) List(ctx context.Context) ([]*entra.Account, error) {
	rows, err := s.stmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("accountstore: listing accounts: %w", err)
	}

	defer rows.Close()

	var accounts []*entra.Account

	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}

		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("accountstore: iterating accounts: %w", err)
	}

	return accounts, nil
}

// Delete removes the account record. Deleting an absent account is not an
// error.
func (s *Store) Delete(ctx context.Context, providerID, accountID string) error {
	if _, err := s.stmts.delete.ExecContext(ctx, providerID, accountID); err != nil {
		return fmt.Errorf("accountstore: deleting account: %w", err)
	}

	return nil
}

// SetStale flips the staleness flag without rewriting the whole record.
func (s *Store) SetStale(ctx context.Context, providerID, accountID string, stale bool) error {
	now := time.Now().UTC().Format(time.RFC3339)

	if _, err := s.stmts.setStale.ExecContext(ctx, boolToInt(stale), now, providerID, accountID); err != nil {
		return fmt.Errorf("accountstore: updating staleness: %w", err)
	}

	return nil
}

// Close finalizes the prepared statements and closes the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmts.upsert, s.stmts.get, s.stmts.list, s.stmts.delete, s.stmts.setStale,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("accountstore: closing database: %w", err)
	}

	return nil
}

// scanner lets scanAccount work with both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*entra.Account, error) {
	var account entra.Account
	var properties string
	var stale int

	err := row.Scan(
		&account.Key.ProviderID, &account.Key.AccountID,
		&account.DisplayName, &account.Email, &properties, &stale,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(properties), &account.Properties); err != nil {
		return nil, fmt.Errorf("accountstore: decoding properties: %w", err)
	}

	account.IsStale = stale != 0

	return &account, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
