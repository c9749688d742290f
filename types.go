package stowfs

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	// MimeTypeDirectory marks cache rows that represent directories.
	MimeTypeDirectory = "httpd/unix-directory"
	// MimeTypeDefault is used when no better type can be detected.
	MimeTypeDefault = "application/octet-stream"
	// SizeIncomplete marks a row whose real size is not yet known.
	SizeIncomplete int64 = -1
	// RootParent is the parent id stored on the root row.
	RootParent int64 = -1
)

// Permission is a bit set of the operations allowed on an entry.
type Permission int

const (
	PermissionRead   Permission = 1
	PermissionUpdate Permission = 2
	PermissionCreate Permission = 4
	PermissionDelete Permission = 8
	PermissionShare  Permission = 16
	PermissionAll    Permission = 31

	// PermissionFile is the default set for regular files, which cannot
	// contain children.
	PermissionFile = PermissionAll &^ PermissionCreate
)

// FileType is the kind of a cache entry.
type FileType string

const (
	TypeFile FileType = "file"
	TypeDir  FileType = "dir"
)

// Entry is one row of the metadata cache. The cache is the single source of
// truth for the namespace; backend objects carry no path information.
type Entry struct {
	ID           int64      `json:"id" yaml:"id"`
	Parent       int64      `json:"parent" yaml:"parent"`
	Path         string     `json:"path" yaml:"path"`
	Name         string     `json:"name" yaml:"name"`
	MimeType     string     `json:"mimetype" yaml:"mimetype"`
	Size         int64      `json:"size" yaml:"size"`
	MTime        time.Time  `json:"mtime" yaml:"mtime"`
	StorageMTime time.Time  `json:"storage_mtime" yaml:"storage_mtime"`
	Permissions  Permission `json:"permissions" yaml:"permissions"`
	ETag         string     `json:"etag" yaml:"etag"`
}

func (e Entry) IsDir() bool {
	return e.MimeType == MimeTypeDirectory
}

func (e Entry) Type() FileType {
	if e.IsDir() {
		return TypeDir
	}
	return TypeFile
}

// Incomplete reports whether the entry still waits for its size.
func (e Entry) Incomplete() bool {
	return e.Size < 0
}

// EntryUpdate carries a partial update for a cache row. Nil fields are left
// untouched.
type EntryUpdate struct {
	MimeType     *string
	Size         *int64
	MTime        *time.Time
	StorageMTime *time.Time
	Permissions  *Permission
	ETag         *string
}

// ObjectInfo describes one stored object as reported by a backend.
type ObjectInfo struct {
	URN          string    `json:"urn" yaml:"urn"`
	Size         int64     `json:"size" yaml:"size"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
	ETag         string    `json:"etag" yaml:"etag"`
}

// Token is a cached authentication token for a token based backend.
type Token struct {
	Value    string
	Endpoint string
	Expires  time.Time
}

// Valid reports whether the token can still be used at now. A zero expiry
// means the backend did not say.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return t.Expires.IsZero() || now.Before(t.Expires)
}

// Tables holds configurable table names for the metadata database.
type Tables struct {
	FileCache   string `mapstructure:"filecache"`
	Preferences string `mapstructure:"preferences"`
}

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName checks if a table name is valid (lowercase, alphanumeric with underscores, max 63 chars).
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// Validate checks that all required table names are set and valid.
func (t Tables) Validate() error {
	if t.FileCache == "" {
		return errors.New("validate tables: filecache table name cannot be empty")
	}
	if t.Preferences == "" {
		return errors.New("validate tables: preferences table name cannot be empty")
	}

	for _, name := range []string{t.FileCache, t.Preferences} {
		if !IsValidTableName(name) {
			return fmt.Errorf("validate tables: invalid table name: %s (must match ^[a-z_][a-z0-9_]*$ and be <= 63 chars)", name)
		}
	}

	if t.FileCache == t.Preferences {
		return fmt.Errorf("validate tables: filecache and preferences tables must differ: %s", t.FileCache)
	}

	return nil
}
