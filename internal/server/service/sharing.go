package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"datashare/internal/server/database"
	"datashare/internal/server/storage"
)

const (
	tokenLength       = 22 // ~131 bits over base62
	maxTokenAttempts  = 3
	defaultUploadName = "upload"
	defaultMediaType  = "application/octet-stream"
)

// FileRegistry is the persistence the engine needs. Both database.Repository
// and database.SQLiteRepository satisfy it.
type FileRegistry interface {
	Create(ctx context.Context, rec *database.FileRecord) error
	GetByID(ctx context.Context, id int64) (*database.FileRecord, error)
	GetByToken(ctx context.Context, token string) (*database.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*database.FileRecord, error)
	ListExpired(ctx context.Context, cutoff time.Time) ([]*database.FileRecord, error)
	Delete(ctx context.Context, id int64) error
	StorageKeyExists(ctx context.Context, key string) (bool, error)
	GetStats(ctx context.Context, now time.Time) (*database.Stats, error)
}

// UserDirectory resolves caller identities.
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
}

// FileInfo is the public metadata of a shared file. It is returned even
// after expiration.
type FileInfo struct {
	Name              string    `json:"name"`
	ContentType       string    `json:"content_type"`
	Size              int64     `json:"size"`
	ExpiresAt         time.Time `json:"expires_at"`
	PasswordProtected bool      `json:"password_protected"`
	Expired           bool      `json:"expired"`
}

// Download is an open handle on a file's content. The caller must close
// Content.
type Download struct {
	Content     io.ReadCloser
	Name        string
	ContentType string
	Size        int64
}

// Engine contains the business logic for sharing files.
type Engine struct {
	registry  FileRegistry
	users     UserDirectory
	store     storage.Store
	validator *Validator
	hasher    PasswordHasher
	cache     *RecordCache
	now       func() time.Time
}

// NewEngine creates a new sharing engine. cache may be nil.
func NewEngine(registry FileRegistry, users UserDirectory, store storage.Store, validator *Validator, hasher PasswordHasher, cache *RecordCache) *Engine {
	return &Engine{
		registry:  registry,
		users:     users,
		store:     store,
		validator: validator,
		hasher:    hasher,
		cache:     cache,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Upload validates req, stores its content and registers a new record
// owned by req.Owner. The record's StorageKey is internal and must not be
// exposed to callers.
func (e *Engine) Upload(ctx context.Context, req UploadRequest) (*database.FileRecord, error) {
	// 1. Validate before touching storage
	norm, err := e.validator.Validate(req)
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// 2. Resolve owner
	owner, err := e.resolveUser(ctx, req.Owner)
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// 3. Stream content into the blob store
	key, written, err := e.store.Put(ctx, req.Content)
	if err != nil {
		uploadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: failed to store content: %w", ErrStorage, err)
	}
	if written == 0 {
		e.discardBlob(ctx, key)
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, invalid(ErrEmptyPayload, "")
	}

	// 4. Hash password if provided
	var passwordHash *string
	if norm.Password != "" {
		h, err := e.hasher.Hash(norm.Password)
		if err != nil {
			e.discardBlob(ctx, key)
			uploadsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		passwordHash = &h
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = defaultMediaType
	}

	now := e.now()
	rec := &database.FileRecord{
		Name:         sanitizeFilename(req.Filename),
		ContentType:  contentType,
		Size:         written,
		StorageKey:   key,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		ExpiresAt:    now.AddDate(0, 0, norm.WindowDays),
		OwnerID:      owner.ID,
		Tags:         norm.Tags,
	}

	// 5. Mint a token and persist, re-minting on the rare collision
	for attempt := 1; ; attempt++ {
		rec.Token, err = generateSecureToken(tokenLength)
		if err != nil {
			break
		}
		err = e.registry.Create(ctx, rec)
		if err == nil || !errors.Is(err, database.ErrConflict) || attempt == maxTokenAttempts {
			break
		}
		slog.Warn("share token collision, retrying", "attempt", attempt)
	}
	if err != nil {
		e.discardBlob(ctx, key)
		uploadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	uploadsTotal.WithLabelValues("created").Inc()
	uploadBytesTotal.Add(float64(written))
	slog.Info("file uploaded",
		"id", rec.ID,
		"owner_id", rec.OwnerID,
		"name", rec.Name,
		"size", rec.Size,
		"expires_at", rec.ExpiresAt,
		"protected", passwordHash != nil,
	)

	return rec, nil
}

// GetInfo returns metadata for token without any gating.
func (e *Engine) GetInfo(ctx context.Context, token string) (*FileInfo, error) {
	rec, err := e.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Name:              rec.Name,
		ContentType:       rec.ContentType,
		Size:              rec.Size,
		ExpiresAt:         rec.ExpiresAt,
		PasswordProtected: rec.PasswordHash != nil,
		Expired:           !e.now().Before(rec.ExpiresAt),
	}, nil
}

// Download checks expiration, then the password if the file has one, and
// opens the content for streaming.
func (e *Engine) Download(ctx context.Context, token, password string) (*Download, error) {
	rec, err := e.lookup(ctx, token)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	if !e.now().Before(rec.ExpiresAt) {
		downloadsTotal.WithLabelValues("expired").Inc()
		return nil, ErrExpired
	}

	if rec.PasswordHash != nil {
		if strings.TrimSpace(password) == "" {
			downloadsTotal.WithLabelValues("password_required").Inc()
			return nil, ErrPasswordRequired
		}
		if !e.hasher.Verify(password, *rec.PasswordHash) {
			downloadsTotal.WithLabelValues("invalid_password").Inc()
			return nil, ErrInvalidPassword
		}
	}

	rc, err := e.store.Get(ctx, rec.StorageKey)
	if err != nil {
		// A concurrent delete removes the blob before the row.
		if errors.Is(err, storage.ErrBlobNotFound) {
			if _, gone := e.registry.GetByID(ctx, rec.ID); errors.Is(gone, database.ErrNotFound) {
				e.cache.Remove(rec.Token)
				downloadsTotal.WithLabelValues("not_found").Inc()
				return nil, ErrNotFound
			}
		}
		slog.Error("failed to open blob", "id", rec.ID, "error", err)
		downloadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: failed to open content: %w", ErrStorage, err)
	}

	downloadsTotal.WithLabelValues("served").Inc()
	return &Download{
		Content:     rc,
		Name:        rec.Name,
		ContentType: rec.ContentType,
		Size:        rec.Size,
	}, nil
}

// ListOwned returns the caller's files, newest first.
func (e *Engine) ListOwned(ctx context.Context, identity string) ([]*database.FileRecord, error) {
	owner, err := e.resolveUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	files, err := e.registry.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Delete removes a file on behalf of its owner.
func (e *Engine) Delete(ctx context.Context, fileID int64, identity string) error {
	requester, err := e.resolveUser(ctx, identity)
	if err != nil {
		return err
	}

	rec, err := e.registry.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get file: %w", err)
	}

	if rec.OwnerID != requester.ID {
		slog.Warn("delete refused", "id", rec.ID, "requester_id", requester.ID)
		return ErrNotOwner
	}

	return e.remove(ctx, rec, "owner")
}

// Purge removes a file without an ownership check. Used by the sweeper.
func (e *Engine) Purge(ctx context.Context, rec *database.FileRecord) error {
	return e.remove(ctx, rec, "expired")
}

// Stats returns aggregate registry statistics.
func (e *Engine) Stats(ctx context.Context) (*database.Stats, error) {
	return e.registry.GetStats(ctx, e.now())
}

// remove deletes the blob and then the row. Both are attempted; the row
// decides the outcome and a row that is already gone counts as deleted.
func (e *Engine) remove(ctx context.Context, rec *database.FileRecord, reason string) error {
	e.cache.Remove(rec.Token)

	if err := e.store.Delete(ctx, rec.StorageKey); err != nil {
		// Continue with the row; the sweeper reclaims the orphan blob later.
		slog.Error("failed to delete blob", "id", rec.ID, "error", err)
	}

	if err := e.registry.Delete(ctx, rec.ID); err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("failed to delete file record: %w", err)
		}
		slog.Info("file already deleted", "id", rec.ID, "reason", reason)
		return nil
	}

	deletionsTotal.WithLabelValues(reason).Inc()
	slog.Info("file deleted", "id", rec.ID, "name", rec.Name, "reason", reason)
	return nil
}

func (e *Engine) lookup(ctx context.Context, token string) (*database.FileRecord, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	if rec, ok := e.cache.Get(token); ok {
		// Another instance may have deleted the row since it was cached.
		exists, err := e.registry.StorageKeyExists(ctx, rec.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to get file: %w", err)
		}
		if exists {
			return rec, nil
		}
		e.cache.Remove(token)
		return nil, ErrNotFound
	}

	rec, err := e.registry.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	e.cache.Add(rec)
	return rec, nil
}

func (e *Engine) resolveUser(ctx context.Context, identity string) (*database.User, error) {
	email := strings.ToLower(strings.TrimSpace(identity))
	if email == "" {
		return nil, ErrUserNotFound
	}
	u, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return u, nil
}

// discardBlob is the compensation for a failed upload.
func (e *Engine) discardBlob(ctx context.Context, key string) {
	if err := e.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.Error("failed to discard blob", "storage_key", key, "error", err)
	}
}

// --- Helpers ---

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:255-len(ext)], "") + ext
	}

	if name == "" || name == "." || name == "/" {
		name = defaultUploadName
	}

	return name
}
