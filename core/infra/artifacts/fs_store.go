package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/logging"
)

const maxCreateAttempts = 8

// FSStore keeps artifacts as flat files under one directory. All access goes
// through os.Root so keys can never address files outside it.
type FSStore struct {
	dir string
	now func() time.Time

	mu         sync.Mutex
	lastMillis int64
}

// Option configures an FSStore.
type Option func(*FSStore)

// WithClock overrides the time source used for key stamps.
func WithClock(now func() time.Time) Option {
	return func(s *FSStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFSStore returns a store rooted at dir. The directory is created lazily on
// the first Put.
func NewFSStore(dir string, opts ...Option) *FSStore {
	s := &FSStore{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the storage directory.
func (s *FSStore) Root() string { return s.dir }

// Exists reports whether the storage directory is present.
func (s *FSStore) Exists() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

// nextMillis issues strictly increasing stamps for this process.
func (s *FSStore) nextMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.lastMillis {
		ms = s.lastMillis + 1
	}
	s.lastMillis = ms
	return ms
}

func (s *FSStore) openRoot(create bool) (*os.Root, error) {
	if create {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrStorageUnavailable, s.dir, err)
		}
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, s.dir, err)
	}
	return root, nil
}

// Put streams content to a new key derived from policyID and the current time.
func (s *FSStore) Put(ctx context.Context, policyID, sourceName, mimeType string, content io.Reader) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	id := SanitizePolicyID(policyID)
	if id == "" {
		return Artifact{}, ErrInvalidPolicyID
	}
	ext := ExtensionOf(sourceName)

	root, err := s.openRoot(true)
	if err != nil {
		return Artifact{}, err
	}
	defer root.Close()

	var (
		f      *os.File
		key    string
		millis int64
	)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		millis = s.nextMillis()
		key = MakeKey(id, millis, ext)
		f, err = root.OpenFile(key, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: create %s: %w", ErrStorageUnavailable, key, err)
	}

	written, copyErr := io.Copy(f, content)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if rmErr := root.Remove(key); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logging.Error("artifacts", "remove partial upload failed", "key", key, "error", rmErr)
		}
		return Artifact{}, fmt.Errorf("%w: write %s: %w", ErrStorageUnavailable, key, copyErr)
	}

	created := time.UnixMilli(millis)
	return Artifact{
		Key:             key,
		PolicyID:        id,
		CreatedAtMillis: millis,
		CreatedAt:       created,
		ModifiedAt:      created,
		Extension:       ext,
		SizeBytes:       written,
		MimeType:        mimeType,
	}, nil
}

// ResolveLatest returns the artifact with the greatest stamp for policyID. Ties
// go to the lexicographically greatest key.
func (s *FSStore) ResolveLatest(ctx context.Context, policyID string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	id := SanitizePolicyID(policyID)
	if id == "" {
		return Artifact{}, ErrInvalidPolicyID
	}
	entries, err := s.scan(false)
	if err != nil {
		return Artifact{}, err
	}
	var (
		best  Artifact
		found bool
	)
	for _, a := range entries {
		if a.PolicyID != id || a.CreatedAtMillis < 0 {
			continue
		}
		if !found || a.CreatedAtMillis > best.CreatedAtMillis ||
			(a.CreatedAtMillis == best.CreatedAtMillis && a.Key > best.Key) {
			best, found = a, true
		}
	}
	if !found {
		return Artifact{}, ErrNotFound
	}
	return best, nil
}

// List returns stored artifacts with accepted extensions, newest first. A
// missing directory yields an empty list.
func (s *FSStore) List(ctx context.Context) ([]Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.scan(true)
	if errors.Is(err, ErrNotFound) {
		return []Artifact{}, nil
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].Key > entries[j].Key
	})
	return entries, nil
}

// Stat describes one stored file by key.
func (s *FSStore) Stat(ctx context.Context, key string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if !validKey(key) {
		return Artifact{}, ErrNotFound
	}
	root, err := s.openRoot(false)
	if err != nil {
		return Artifact{}, err
	}
	defer root.Close()
	info, err := root.Stat(key)
	if err != nil || !info.Mode().IsRegular() {
		return Artifact{}, ErrNotFound
	}
	return describe(key, info), nil
}

// Open returns a reader over one stored file. Callers must close it.
func (s *FSStore) Open(ctx context.Context, key string) (io.ReadCloser, Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, Artifact{}, err
	}
	if !validKey(key) {
		return nil, Artifact{}, ErrNotFound
	}
	root, err := s.openRoot(false)
	if err != nil {
		return nil, Artifact{}, err
	}
	defer root.Close()
	f, err := root.Open(key)
	if err != nil {
		return nil, Artifact{}, ErrNotFound
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, Artifact{}, ErrNotFound
	}
	return f, describe(key, info), nil
}

// Delete removes one stored file. Siblings for the same policy are untouched.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return ErrNotFound
	}
	root, err := s.openRoot(false)
	if err != nil {
		return err
	}
	defer root.Close()
	info, err := root.Stat(key)
	if err != nil || !info.Mode().IsRegular() {
		return ErrNotFound
	}
	if err := root.Remove(key); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: remove %s: %w", ErrStorageUnavailable, key, err)
	}
	return nil
}

// scan reads every regular file in the root. With allowedOnly set, files with
// other extensions are skipped.
func (s *FSStore) scan(allowedOnly bool) ([]Artifact, error) {
	root, err := s.openRoot(false)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	dir, err := root.Open(".")
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStorageUnavailable, s.dir, err)
	}
	defer dir.Close()
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStorageUnavailable, s.dir, err)
	}
	out := make([]Artifact, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !validKey(entry.Name()) {
			continue
		}
		if allowedOnly && !IsAllowedExtension(ExtensionOf(entry.Name())) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, describe(entry.Name(), info))
	}
	return out, nil
}

func describe(key string, info fs.FileInfo) Artifact {
	a := Artifact{
		Key:             key,
		ModifiedAt:      info.ModTime(),
		SizeBytes:       info.Size(),
		Extension:       ExtensionOf(key),
		CreatedAt:       info.ModTime(),
		CreatedAtMillis: -1,
	}
	a.MimeType = MimeForExtension(a.Extension)
	if parts, ok := ParseKey(key); ok {
		a.PolicyID = parts.PolicyID
		a.CreatedAtMillis = parts.Millis
		a.CreatedAt = time.UnixMilli(parts.Millis)
	}
	return a
}

var _ Store = (*FSStore)(nil)
