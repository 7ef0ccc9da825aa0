package artifacts

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound reports a missing artifact or an unusable key.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidPolicyID reports a policy id that is empty after sanitizing.
	ErrInvalidPolicyID = errors.New("invalid policy id")
	// ErrStorageUnavailable reports a storage root that cannot be created or written.
	ErrStorageUnavailable = errors.New("artifact storage unavailable")
)

// Artifact describes one stored upload. Keys never change once written.
type Artifact struct {
	Key             string    `json:"key"`
	PolicyID        string    `json:"policy_id"`
	CreatedAtMillis int64     `json:"created_at_millis"`
	CreatedAt       time.Time `json:"created_at"`
	ModifiedAt      time.Time `json:"modified_at"`
	Extension       string    `json:"extension"`
	SizeBytes       int64     `json:"size_bytes"`
	MimeType        string    `json:"mime_type,omitempty"`
}

// Store persists uploads under derived keys and answers lookups over them.
type Store interface {
	Put(ctx context.Context, policyID, sourceName, mimeType string, content io.Reader) (Artifact, error)
	ResolveLatest(ctx context.Context, policyID string) (Artifact, error)
	List(ctx context.Context) ([]Artifact, error)
	Stat(ctx context.Context, key string) (Artifact, error)
	Open(ctx context.Context, key string) (io.ReadCloser, Artifact, error)
	Delete(ctx context.Context, key string) error
	Root() string
	Exists() bool
}
