package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteMigrations contains the SQLite schema in order. Timestamps are
// stored as Unix nanoseconds so that range queries compare integers.
var sqliteMigrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_users",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				email      TEXT    NOT NULL UNIQUE,
				created_at INTEGER NOT NULL
			);
		`,
	},
	{
		Version: "000002_create_files",
		SQL: `
			CREATE TABLE IF NOT EXISTS files (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				name          TEXT    NOT NULL,
				content_type  TEXT    NOT NULL,
				size          INTEGER NOT NULL,
				storage_key   TEXT    NOT NULL UNIQUE,
				token         TEXT    NOT NULL UNIQUE,
				password_hash TEXT,
				created_at    INTEGER NOT NULL,
				expires_at    INTEGER NOT NULL,
				owner_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				CHECK (expires_at > created_at)
			);
			CREATE INDEX IF NOT EXISTS idx_files_owner_created ON files(owner_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_files_expires_at ON files(expires_at);

			CREATE TABLE IF NOT EXISTS tags (
				id       INTEGER PRIMARY KEY AUTOINCREMENT,
				file_id  INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				name     TEXT    NOT NULL,
				position INTEGER NOT NULL,
				UNIQUE (file_id, name)
			);
		`,
	},
}

const sqliteFileColumns = `
	f.id, f.name, f.content_type, f.size, f.storage_key, f.token,
	f.password_hash, f.created_at, f.expires_at, f.owner_id,
	(SELECT json_group_array(t.name ORDER BY t.position) FROM tags t WHERE t.file_id = f.id)`

// SQLite is a single-node registry backed by an embedded SQLite file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the database file at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	slog.Info("connected to database", "driver", "sqlite", "path", path)
	return &SQLite{db: db}, nil
}

// RunMigrations applies all pending migrations in order.
func (s *SQLite) RunMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT    PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range sqliteMigrations {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UnixNano(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *SQLite) Close() {
	s.db.Close()
}

// SQLiteRepository is the SQLite file registry and user directory.
type SQLiteRepository struct {
	s *SQLite
}

// NewSQLiteRepository creates a new SQLiteRepository.
func NewSQLiteRepository(s *SQLite) *SQLiteRepository {
	return &SQLiteRepository{s: s}
}

// Create inserts a file record and its tags in one transaction and fills in
// the generated ID.
func (r *SQLiteRepository) Create(ctx context.Context, rec *FileRecord) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO files (
			name, content_type, size, storage_key, token,
			password_hash, created_at, expires_at, owner_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Name,
		rec.ContentType,
		rec.Size,
		rec.StorageKey,
		rec.Token,
		rec.PasswordHash,
		rec.CreatedAt.UnixNano(),
		rec.ExpiresAt.UnixNano(),
		rec.OwnerID,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("failed to create file: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read file id: %w", err)
	}

	for i, tag := range rec.Tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tags (file_id, name, position) VALUES (?, ?, ?)",
			id, tag, i,
		); err != nil {
			return fmt.Errorf("failed to create tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID retrieves a file by its numeric ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*FileRecord, error) {
	return r.getOne(ctx, "f.id = ?", id)
}

// GetByToken retrieves a file by its share token.
func (r *SQLiteRepository) GetByToken(ctx context.Context, token string) (*FileRecord, error) {
	return r.getOne(ctx, "f.token = ?", token)
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, arg any) (*FileRecord, error) {
	row := r.s.db.QueryRowContext(ctx, "SELECT "+sqliteFileColumns+" FROM files f WHERE "+where, arg)
	rec, err := scanSQLiteFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return rec, nil
}

// ListByOwner returns the files owned by ownerID, newest first.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*FileRecord, error) {
	return r.list(ctx,
		"SELECT "+sqliteFileColumns+" FROM files f WHERE f.owner_id = ? ORDER BY f.created_at DESC, f.id DESC",
		ownerID)
}

// ListExpired returns all files whose expiration time is before cutoff.
func (r *SQLiteRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]*FileRecord, error) {
	return r.list(ctx,
		"SELECT "+sqliteFileColumns+" FROM files f WHERE f.expires_at < ? ORDER BY f.expires_at",
		cutoff.UnixNano())
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*FileRecord, error) {
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		rec, err := scanSQLiteFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, rec)
	}
	return files, rows.Err()
}

// Delete removes a file record by ID. Tags go with it through the cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StorageKeyExists reports whether any record references key.
func (r *SQLiteRepository) StorageKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE storage_key = ?)", key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check storage key: %w", err)
	}
	return exists, nil
}

// GetStats returns aggregate statistics relative to now.
func (r *SQLiteRepository) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	err := r.s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > ?1),
			COALESCE(SUM(size) FILTER (WHERE expires_at > ?1), 0)
		FROM files
	`, now.UnixNano()).Scan(
		&stats.TotalFiles,
		&stats.ActiveFiles,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// CreateUser registers email in the user directory.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email string) (*User, error) {
	now := time.Now().UTC()
	res, err := r.s.db.ExecContext(ctx,
		"INSERT INTO users (email, created_at) VALUES (?, ?)", email, now.UnixNano())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user %s", ErrConflict, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return &User{ID: id, Email: email, CreatedAt: time.Unix(0, now.UnixNano()).UTC()}, nil
}

// GetUserByEmail resolves an email to a user.
func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	var created int64
	err := r.s.db.QueryRowContext(ctx,
		"SELECT id, email, created_at FROM users WHERE email = ?", email,
	).Scan(&u.ID, &u.Email, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

// ListUsers returns the user directory ordered by email.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.s.db.QueryContext(ctx, "SELECT id, email, created_at FROM users ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		var created int64
		if err := rows.Scan(&u.ID, &u.Email, &created); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.CreatedAt = time.Unix(0, created).UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFile(row rowScanner) (*FileRecord, error) {
	rec := &FileRecord{}
	var (
		passwordHash sql.NullString
		created      int64
		expires      int64
		tags         string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.ContentType,
		&rec.Size,
		&rec.StorageKey,
		&rec.Token,
		&passwordHash,
		&created,
		&expires,
		&rec.OwnerID,
		&tags,
	)
	if err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		h := passwordHash.String
		rec.PasswordHash = &h
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.ExpiresAt = time.Unix(0, expires).UTC()
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return rec, nil
}

// isSQLiteUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure. The driver enables extended result codes.
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
