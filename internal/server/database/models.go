package database

import "time"

// FileRecord is one shared file in the registry.
type FileRecord struct {
	ID           int64
	Name         string
	ContentType  string
	Size         int64
	StorageKey   string
	Token        string
	PasswordHash *string // nil when no password set
	CreatedAt    time.Time
	ExpiresAt    time.Time
	OwnerID      int64
	Tags         []string
}

// User is an entry of the identity directory.
type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}

// Stats holds aggregate registry statistics.
type Stats struct {
	TotalFiles  int64
	ActiveFiles int64
	StorageUsed int64
}
