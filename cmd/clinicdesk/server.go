package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/clinicdesk/internal/config"
	"github.com/ehr/clinicdesk/internal/domain/draft"
	"github.com/ehr/clinicdesk/internal/domain/encounter"
	"github.com/ehr/clinicdesk/internal/domain/reference"
	"github.com/ehr/clinicdesk/internal/domain/submission"
	"github.com/ehr/clinicdesk/internal/platform/apiclient"
	"github.com/ehr/clinicdesk/internal/platform/auth"
	"github.com/ehr/clinicdesk/internal/platform/db"
	"github.com/ehr/clinicdesk/internal/platform/middleware"
	"github.com/ehr/clinicdesk/internal/platform/mongodb"
	"github.com/ehr/clinicdesk/internal/platform/telemetry"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

// draftStorage is the selected draft backend plus what the health endpoint
// and shutdown need from it.
type draftStorage struct {
	repo    draft.Repository
	checks  map[string]db.Check
	closers []func(context.Context) error
}

func (s *draftStorage) close(ctx context.Context) error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i](ctx))
	}
	return err
}

func openDraftStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*draftStorage, error) {
	st := &draftStorage{checks: make(map[string]db.Check)}

	switch cfg.DraftStore {
	case config.DraftStorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		st.repo = draft.NewRepoPG(pool)
		st.checks["postgres"] = db.PoolCheck(pool)
		st.closers = append(st.closers, func(context.Context) error { pool.Close(); return nil })
		logger.Info().Msg("draft store: postgres")

	case config.DraftStoreMongo:
		conn, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := draft.EnsureIndexes(ctx, conn.Database); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("ensure draft indexes: %w", err)
		}
		st.repo = draft.NewRepoMongo(conn.Database)
		st.checks["mongo"] = db.Check{Pinger: conn}
		st.closers = append(st.closers, conn.Close)
		logger.Info().Str("database", cfg.MongoDatabase).Msg("draft store: mongo")

	default:
		st.repo = draft.NewMemoryRepo()
		logger.Warn().Msg("draft store: memory; drafts do not survive a restart")
	}
	return st, nil
}

type server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	echo     *echo.Echo
	cache    *reference.Cache
	drafts   *draft.Store[encounter.Draft]
	registry *encounter.Registry
	storage  *draftStorage
	shutdown []func(context.Context) error
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	s := &server{cfg: cfg, logger: logger}

	if cfg.TracingEnabled {
		stop, err := telemetry.InitTracing(telemetry.TracingConfig{
			ServiceName:    "clinicdesk",
			ServiceVersion: version,
			Environment:    cfg.Env,
			SampleRate:     cfg.TracingSampleRate,
			Output:         os.Stderr,
		})
		if err != nil {
			return nil, err
		}
		s.shutdown = append(s.shutdown, stop)
	}

	client, err := apiclient.New(cfg.APIBaseURL,
		apiclient.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		apiclient.WithToken(cfg.APIToken),
		apiclient.WithRateLimit(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst),
		apiclient.WithLogger(logger.With().Str("component", "apiclient").Logger()),
	)
	if err != nil {
		return nil, fmt.Errorf("hospital api client: %w", err)
	}

	storage, err := openDraftStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.storage = storage

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(promReg)

	s.drafts = draft.NewStore[encounter.Draft](storage.repo, cfg.DraftTTL, logger)

	s.cache = reference.NewCache(client, cfg.ReferenceLoadTimeout, logger)
	s.cache.SetMetrics(metrics)

	orch := submission.New(client, submission.Config{
		FollowUpOutcome: cfg.FollowUpOutcome,
		BillingQueue:    cfg.BillingQueue,
	}, logger)
	orch.SetMetrics(metrics)

	s.registry = encounter.NewRegistry(encounter.Deps{
		Drafts:    s.drafts,
		Reference: s.cache,
		Patients:  client,
		Submitter: orch,
		Scheduler: encounter.RealScheduler(),
		Debounce:  cfg.DraftDebounce,
		Metrics:   metrics,
		Logger:    logger,
	})

	s.echo = s.routes(metrics, promReg)
	return s, nil
}

func (s *server) routes(metrics *telemetry.Metrics, gatherer prometheus.Gatherer) *echo.Echo {
	cfg := s.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware())
	e.Use(middleware.Logger(s.logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-User-ID"},
	}))

	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" && cfg.AuthIssuer == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.PublicSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(s.storage.checks))
	e.GET("/metrics", echo.WrapHandler(telemetry.Handler(gatherer)))

	rateCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateCfg.RequestsPerSecond <= 0 {
		rateCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(rateCfg),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.Audit(s.logger),
	)

	reference.NewHandler(s.cache).RegisterRoutes(apiV1)
	encounter.NewHandler(s.registry).RegisterRoutes(apiV1)
	return e
}

// run serves until ctx is cancelled, then shuts down gracefully.
func (s *server) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + s.cfg.Port
		s.logger.Info().Str("addr", addr).Str("draft_store", s.cfg.DraftStore).Msg("starting server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.cache.RunInventoryRefresher(gctx, s.cfg.InventoryRefreshInterval)
		return nil
	})
	g.Go(func() error {
		s.purgeDrafts(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.close(sctx)
	})

	err := g.Wait()
	s.logger.Info().Msg("server stopped")
	return err
}

func (s *server) purgeDrafts(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.drafts.PurgeExpired(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("draft purge failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int64("purged", n).Msg("expired drafts purged")
			}
		}
	}
}

func (s *server) close(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	err = multierr.Append(err, s.storage.close(ctx))
	for _, fn := range s.shutdown {
		err = multierr.Append(err, fn(ctx))
	}
	return err
}
