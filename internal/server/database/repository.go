package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

const fileColumns = `
	f.id, f.name, f.content_type, f.size, f.storage_key, f.token,
	f.password_hash, f.created_at, f.expires_at, f.owner_id,
	ARRAY(SELECT t.name FROM tags t WHERE t.file_id = f.id ORDER BY t.position)`

// Repository is the PostgreSQL file registry and user directory.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a file record and its tags in one transaction and fills in
// the generated ID.
func (r *Repository) Create(ctx context.Context, rec *FileRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	err = tx.QueryRow(ctx, `
		INSERT INTO files (
			name, content_type, size, storage_key, token,
			password_hash, created_at, expires_at, owner_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		rec.Name,
		rec.ContentType,
		rec.Size,
		rec.StorageKey,
		rec.Token,
		rec.PasswordHash,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.OwnerID,
	).Scan(&rec.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("failed to create file: %w", err)
	}

	for i, tag := range rec.Tags {
		if _, err := tx.Exec(ctx,
			"INSERT INTO tags (file_id, name, position) VALUES ($1, $2, $3)",
			rec.ID, tag, i,
		); err != nil {
			return fmt.Errorf("failed to create tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit file: %w", err)
	}
	return nil
}

// GetByID retrieves a file by its numeric ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*FileRecord, error) {
	return r.getOne(ctx, "f.id = $1", id)
}

// GetByToken retrieves a file by its share token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*FileRecord, error) {
	return r.getOne(ctx, "f.token = $1", token)
}

func (r *Repository) getOne(ctx context.Context, where string, arg any) (*FileRecord, error) {
	row := r.db.Pool.QueryRow(ctx, "SELECT "+fileColumns+" FROM files f WHERE "+where, arg)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return rec, nil
}

// ListByOwner returns the files owned by ownerID, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID int64) ([]*FileRecord, error) {
	return r.list(ctx,
		"SELECT "+fileColumns+" FROM files f WHERE f.owner_id = $1 ORDER BY f.created_at DESC, f.id DESC",
		ownerID)
}

// ListExpired returns all files whose expiration time is before cutoff.
func (r *Repository) ListExpired(ctx context.Context, cutoff time.Time) ([]*FileRecord, error) {
	return r.list(ctx,
		"SELECT "+fileColumns+" FROM files f WHERE f.expires_at < $1 ORDER BY f.expires_at",
		cutoff)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, rec)
	}
	return files, rows.Err()
}

// Delete removes a file record by ID. Tags go with it through the cascade.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StorageKeyExists reports whether any record references key.
func (r *Repository) StorageKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE storage_key = $1)", key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check storage key: %w", err)
	}
	return exists, nil
}

// GetStats returns aggregate statistics relative to now.
func (r *Repository) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > $1),
			COALESCE(SUM(size) FILTER (WHERE expires_at > $1), 0)
		FROM files
	`, now).Scan(
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
func (r *Repository) CreateUser(ctx context.Context, email string) (*User, error) {
	u := &User{}
	err := r.db.Pool.QueryRow(ctx,
		"INSERT INTO users (email) VALUES ($1) RETURNING id, email, created_at", email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user %s", ErrConflict, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail resolves an email to a user.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	err := r.db.Pool.QueryRow(ctx,
		"SELECT id, email, created_at FROM users WHERE email = $1", email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns the user directory ordered by email.
func (r *Repository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT id, email, created_at FROM users ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanFile(row pgx.Row) (*FileRecord, error) {
	rec := &FileRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.ContentType,
		&rec.Size,
		&rec.StorageKey,
		&rec.Token,
		&rec.PasswordHash,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.OwnerID,
		&rec.Tags,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
