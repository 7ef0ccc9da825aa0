package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/artifacts"
	"github.com/lexcoverzy/policy-upload/core/infra/buildinfo"
	"github.com/lexcoverzy/policy-upload/core/infra/bus"
	"github.com/lexcoverzy/policy-upload/core/infra/config"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	infraMetrics "github.com/lexcoverzy/policy-upload/core/infra/metrics"
	"github.com/lexcoverzy/policy-upload/core/infra/redisutil"
	"github.com/lexcoverzy/policy-upload/core/notify"
	"github.com/lexcoverzy/policy-upload/core/notify/mailer"
	"github.com/lexcoverzy/policy-upload/core/recipients"
	"golang.org/x/time/rate"
)

const (
	serviceName      = "policy-upload-gateway"
	metricsNamespace = "policy_upload"
	shutdownTimeout  = 15 * time.Second
	redisDialTimeout = 5 * time.Second
)

// uploadNotifier runs the post-upload side effects.
type uploadNotifier interface {
	NotifyUploadComplete(ctx context.Context, art artifacts.Artifact, policyID string) notify.Outcome
}

// busStatus reports event bus health on the status endpoint.
type busStatus interface {
	IsConnected() bool
	Status() string
}

type server struct {
	cfg      *config.Config
	store    artifacts.Store
	notifier uploadNotifier
	events   busStatus
	sessions *sessionIssuer
	origins  originPolicy
	limiter  *rate.Limiter

	metrics  infraMetrics.GatewayMetrics
	counters infraMetrics.Metrics
	started  time.Time
	now      func() time.Time
}

func newServer(cfg *config.Config, store artifacts.Store, notifier uploadNotifier) *server {
	return &server{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		sessions: newSessionIssuer(cfg.Session, time.Now),
		origins:  newOriginPolicy(cfg.AllowedOrigins),
		limiter:  newLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		metrics:  infraMetrics.Noop{},
		counters: infraMetrics.Noop{},
		started:  time.Now().UTC(),
		now:      time.Now,
	}
}

// Run wires storage, recipients, notifications and the optional Redis and NATS
// integrations, then serves HTTP until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
	}
	buildinfo.Log(serviceName)
	logging.Info("gateway", "configuration", cfg.Summary()...)

	counters := infraMetrics.NewProm(metricsNamespace)
	store := artifacts.NewFSStore(cfg.UploadDir)

	resolverOpts := []recipients.Option{recipients.WithMetrics(counters)}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
		client, err := redisutil.Connect(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logging.Error("gateway", "redis unavailable, recipient cache stays in process", "error", err)
		} else {
			defer client.Close()
			resolverOpts = append(resolverOpts, recipients.WithCache(recipients.NewRedisCache(client, "")))
		}
	}
	resolver := recipients.NewResolver(cfg.Directory, resolverOpts...)

	dispatchOpts := []notify.Option{notify.WithMetrics(counters)}
	var events busStatus
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL, cfg.EventSubject)
		if err != nil {
			logging.Error("gateway", "nats unavailable, upload events disabled", "error", err)
		} else {
			defer natsBus.Close()
			dispatchOpts = append(dispatchOpts, notify.WithPublisher(natsBus))
			events = natsBus
		}
	}

	dispatcher := notify.NewDispatcher(
		cfg.PublicBaseURL,
		store,
		resolver,
		mailer.New(cfg.Mail),
		notify.NewExternalNotifier(cfg.ExternalAPI, nil),
		dispatchOpts...,
	)

	s := newServer(cfg, store, dispatcher)
	s.events = events
	s.metrics = infraMetrics.NewGatewayProm(metricsNamespace)
	s.counters = counters

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return startHTTPServer(ctx, s)
}

func startHTTPServer(ctx context.Context, s *server) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:         s.cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if s.cfg.MetricsAddr != "" {
		go func() {
			logging.Info("gateway", "metrics listening", "addr", s.cfg.MetricsAddr+"/metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("gateway", "metrics server error", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.routes(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		secure := s.cfg.TLSCertFile != ""
		logging.Info("gateway", "http listening", "addr", s.cfg.HTTPAddr, "tls", secure, "upload_dir", s.store.Root())
		var err error
		if secure {
			err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		_ = metricsSrv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logging.Error("gateway", "http server error", "error", err)
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	logging.Info("gateway", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	// 1. Liveness
	mux.HandleFunc("GET /{$}", s.instrumented("/", s.handleRoot))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// 2. Upload (upload secret)
	mux.HandleFunc("POST /api/upload-policy-pdf", s.instrumented("/api/upload-policy-pdf", s.requireUploadKey(s.handleUpload)))

	// 3. Management (admin secret)
	mux.HandleFunc("GET /api/list-pdfs", s.instrumented("/api/list-pdfs", s.requireAdminKey(s.handleListFiles)))
	mux.HandleFunc("GET /api/pdf-info/{filename}", s.instrumented("/api/pdf-info/{filename}", s.requireAdminKey(s.handleFileInfo)))
	mux.HandleFunc("GET /api/download-pdf/{policy_id}", s.instrumented("/api/download-pdf/{policy_id}", s.requireAdminKey(s.handleDownloadLatest)))
	mux.HandleFunc("GET /api/download-pdf/{$}", s.instrumented("/api/download-pdf/{policy_id}", s.requireAdminKey(s.handleDownloadLatest)))
	mux.HandleFunc("DELETE /api/delete-pdf/{filename}", s.instrumented("/api/delete-pdf/{filename}", s.requireAdminKey(s.handleDeleteFile)))
	mux.HandleFunc("GET /api/upload-status", s.instrumented("/api/upload-status", s.requireAdminKey(s.handleUploadStatus)))
	mux.HandleFunc("GET "+storedFilePrefix+"{filename}", s.instrumented(storedFilePrefix+"{filename}", s.requireAdminKey(s.handleStoredFile)))

	// 4. Admin session
	mux.HandleFunc("POST /api/auth/login", s.instrumented("/api/auth/login", s.handleLogin))
	mux.HandleFunc("GET /api/auth/verify-token", s.instrumented("/api/auth/verify-token", s.handleVerifyToken))
	mux.HandleFunc("GET /api/auth/me", s.instrumented("/api/auth/me", s.requireSession(s.handleMe)))
	mux.HandleFunc("GET /api/auth/health", s.instrumented("/api/auth/health", s.handleAuthHealth))

	return withRequestID(corsMiddleware(s.origins, rateLimitMiddleware(s.limiter, mux)))
}
