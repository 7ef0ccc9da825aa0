package recipients

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/config"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	"github.com/lexcoverzy/policy-upload/core/infra/metrics"
	"github.com/lexcoverzy/policy-upload/core/infra/schema"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultTimeout   = 10 * time.Second
	maxDirectoryBody = 1 << 20
)

// Source names where a resolved recipient list came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
	SourceStale    Source = "stale"
	SourceFallback Source = "fallback"
)

var errNotConfigured = errors.New("directory url or token not configured")

//go:embed schema/directory.schema.json
var directorySchemaJSON []byte

var directorySchema = schema.MustCompile("recipient-directory", directorySchemaJSON)

// Resolver produces the notification recipient list. It never fails: when the
// directory cannot answer it falls back to the last good list, then to the
// configured fallback addresses.
type Resolver struct {
	url      string
	token    string
	timeout  time.Duration
	ttl      time.Duration
	fallback []string

	cache   Cache
	client  *http.Client
	now     func() time.Time
	metrics metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithHTTPClient overrides the client used for directory lookups.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithCache replaces the default in-memory cache.
func WithCache(cache Cache) Option {
	return func(r *Resolver) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithMetrics records which source answered each resolution.
func WithMetrics(m metrics.Metrics) Option {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewResolver builds a Resolver from directory configuration.
func NewResolver(cfg config.DirectoryConfig, opts ...Option) *Resolver {
	r := &Resolver{
		url:      strings.TrimSpace(cfg.URL),
		token:    strings.TrimSpace(cfg.BearerToken),
		timeout:  cfg.Timeout,
		ttl:      cfg.CacheTTL,
		fallback: normalize(cfg.Fallback),
		cache:    NewMemoryCache(),
		client:   &http.Client{},
		now:      time.Now,
		metrics:  metrics.Noop{},
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if len(r.fallback) == 0 {
		r.fallback = []string{config.DefaultFallbackRecipient}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the current recipient list.
func (r *Resolver) Resolve(ctx context.Context) []string {
	addrs, _ := r.ResolveWithSource(ctx)
	return addrs
}

// ResolveWithSource is Resolve that also reports which source answered.
func (r *Resolver) ResolveWithSource(ctx context.Context) ([]string, Source) {
	cached, hasCached := r.cache.Load(ctx)
	if hasCached && r.now().Sub(cached.FetchedAt) < r.ttl {
		return r.answer(cached.Addresses, SourceCache)
	}

	addrs, err := r.fetch(ctx)
	if err == nil {
		r.cache.Store(ctx, Entry{Addresses: addrs, FetchedAt: r.now()})
		logging.Info("recipients", "directory lookup ok", "count", len(addrs))
		return r.answer(addrs, SourceRemote)
	}

	if errors.Is(err, errNotConfigured) {
		logging.Warn("recipients", "directory not configured", "error", err)
	} else {
		logging.Error("recipients", "directory lookup failed", "error", err)
	}
	if hasCached && len(cached.Addresses) > 0 {
		return r.answer(cached.Addresses, SourceStale)
	}
	return r.answer(append([]string(nil), r.fallback...), SourceFallback)
}

// PeekCached returns the cached list, fresh or stale, without a remote call.
func (r *Resolver) PeekCached(ctx context.Context) []string {
	entry, ok := r.cache.Load(ctx)
	if !ok {
		return nil
	}
	return entry.Addresses
}

func (r *Resolver) answer(addrs []string, src Source) ([]string, Source) {
	r.metrics.IncRecipientLookups(string(src))
	return addrs, src
}

func (r *Resolver) fetch(ctx context.Context) ([]string, error) {
	if r.url == "" || r.token == "" {
		return nil, errNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectoryBody))
	if err != nil {
		return nil, fmt.Errorf("read directory response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("directory status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return parseDirectory(body)
}

type directoryResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		AdminEmails json.RawMessage `json:"admin_emails"`
		AdminEmail  json.RawMessage `json:"admin_email"`
	} `json:"data"`
}

func parseDirectory(body []byte) ([]string, error) {
	if err := directorySchema.ValidateJSON(body); err != nil {
		return nil, fmt.Errorf("directory payload: %w", err)
	}
	var payload directoryResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode directory payload: %w", err)
	}
	first := payload.Data[0]
	addrs, err := decodeAddresses(first.AdminEmails)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		if addrs, err = decodeAddresses(first.AdminEmail); err != nil {
			return nil, err
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("directory payload has no admin addresses")
	}
	return addrs, nil
}

// decodeAddresses accepts a comma separated string or an array of strings.
func decodeAddresses(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return normalize(strings.Split(joined, ",")), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode admin addresses: %w", err)
	}
	var out []string
	for _, item := range list {
		out = append(out, strings.Split(item, ",")...)
	}
	return normalize(out), nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, addr := range in {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
