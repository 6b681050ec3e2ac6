package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"authserver.org/internal/auth"
	"authserver.org/internal/config"
	"authserver.org/internal/decision"
	"authserver.org/internal/httpapi"
	"authserver.org/internal/migrate"
	"authserver.org/internal/obs"
	"authserver.org/internal/seed"
	"authserver.org/internal/store/memory"
	"authserver.org/internal/store/pg"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal().Err(err).Msg("authserver stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := obs.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, cfg.OTLPEndpoint, "authserver", cfg.Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(tctx)
	}()

	store, probe, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	codec, err := auth.NewTokenCodec(cfg.TokenSecret,
		auth.WithIssuer(cfg.TokenIssuer),
		auth.WithTokenTTL(cfg.TokenTTL),
		auth.WithRefreshWindow(cfg.RefreshWindow),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, codec)
	if err != nil {
		return err
	}
	// The decision service shares this process, so account changes made
	// through the admin API evict its cached identity flags immediately.
	resolver := decision.NewCachedResolver(decision.StoreResolver{Users: store}, cfg.IdentityCacheSize, cfg.IdentityCacheTTL)
	rbac, err := auth.NewRBACService(store, auth.WithUserChangeHook(resolver.Invalidate))
	if err != nil {
		return err
	}
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	if cfg.SeedFile != "" {
		fixture, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		rep, err := seed.Apply(ctx, rbac, fixture)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		log.Info().Interface("created", rep).Str("file", cfg.SeedFile).Msg("seed applied")
	}

	api, err := httpapi.New(svc, rbac,
		httpapi.WithReadyProbe(probe),
		httpapi.WithVersion(cfg.Version),
		httpapi.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst),
		httpapi.WithTrustedProxies(proxies...),
	)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	decisionSrv, err := decision.NewServer(codec, resolver)
	if err != nil {
		return err
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(decision.LoggingInterceptor))
	health := decisionSrv.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Str("version", cfg.Version).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errc:
		log.Error().Err(err).Msg("server failed, shutting down")
	}

	health.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := httpSrv.Shutdown(sctx); serr != nil {
		log.Warn().Err(serr).Msg("http shutdown")
	}
	grpcSrv.GracefulStop()
	log.Info().Msg("stopped")
	return err
}

// openStore picks Postgres when a DSN is configured and migrates it to the
// latest schema; otherwise the process runs on the in-memory store.
func openStore(ctx context.Context, cfg config.Config) (auth.Store, httpapi.ReadyProbe, func(), error) {
	log := obs.Logger()
	if cfg.PostgresDSN == "" {
		log.Warn().Msg("AUTHSERVER_PG_DSN not set, using in-memory store")
		return memory.New(), httpapi.ReadyProbe{}, func() {}, nil
	}
	s, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, httpapi.ReadyProbe{}, nil, fmt.Errorf("open postgres: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Ping(pctx); err != nil {
		_ = s.Close()
		return nil, httpapi.ReadyProbe{}, nil, fmt.Errorf("ping postgres: %w", err)
	}
	applied, err := migrate.NewManager(s.DB(), nil).Up(ctx)
	if err != nil {
		_ = s.Close()
		return nil, httpapi.ReadyProbe{}, nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.Info().Strs("migrations", applied).Msg("schema migrated")
	}
	return s, httpapi.ReadyProbe{DB: s.DB()}, func() { _ = s.Close() }, nil
}
