package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/cache"
	"github.com/YvesL-Web/project-manager/internal/config"
	"github.com/YvesL-Web/project-manager/internal/httpapi"
	"github.com/YvesL-Web/project-manager/internal/obs"
	"github.com/YvesL-Web/project-manager/internal/queue"
	"github.com/YvesL-Web/project-manager/internal/store/memory"
	"github.com/YvesL-Web/project-manager/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg); err != nil {
		obs.Error("api_exit", err, nil)
		os.Exit(1)
	}
}

type closer func() error

func run(cfg *config.Config) error {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, pgStore.Close)
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore}
	} else {
		obs.Warn("memory_store_selected", map[string]any{"reason": "PM_PG_DSN is empty"})
		store = memory.New()
	}

	c, err := buildCache(cfg, &closers)
	if err != nil {
		return err
	}
	emails, err := buildQueue(cfg, &closers)
	if err != nil {
		return err
	}

	codec, err := auth.NewCodec(cfg.AuthSecret,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	ctx := context.Background()
	resolver := auth.NewResolver(store.Users(ctx), store.Roles(ctx), c)
	sessions, err := auth.NewService(store, codec)
	if err != nil {
		return err
	}
	directory, err := auth.NewRBACService(store, resolver, emails)
	if err != nil {
		return err
	}
	if cfg.BootstrapAdminEmail != "" {
		admin, err := directory.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		obs.Info("bootstrap_admin_ready", map[string]any{"user_id": admin.ID, "username": admin.Username})
	}

	api, err := httpapi.New(httpapi.Deps{
		Sessions:          sessions,
		Directory:         directory,
		Resolver:          resolver,
		Ready:             probe,
		Mode:              httpapi.TransportMode(cfg.TokenTransport),
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		LoginRateBurst:    cfg.LoginRateBurst,
		LoginRatePerSec:   cfg.LoginRatePerSec,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Version:           version,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		obs.Info("http_listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCHealth(probe)
		health.Register(grpcSrv)
		g.Go(func() error {
			health.Run(gctx, 10*time.Second)
			return nil
		})
		g.Go(func() error {
			obs.Info("grpc_listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		obs.Info("shutting_down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	obs.Info("stopped", nil)
	return err
}

func buildCache(cfg *config.Config, closers *[]closer) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		r := cache.NewRedis(cache.RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB, TTL: cfg.CacheTTL})
		*closers = append(*closers, r.Close)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			// The cache is advisory; start anyway and let lookups fall through to the store.
			obs.Warn("cache_unreachable", map[string]any{"addr": cfg.RedisAddr, "error": err.Error()})
		}
		return r, nil
	case config.CacheNone:
		return cache.Nop{}, nil
	default:
		return cache.NewMemory(cfg.CacheSize, cfg.CacheTTL), nil
	}
}

func buildQueue(cfg *config.Config, closers *[]closer) (queue.EmailQueue, error) {
	if cfg.AMQPURL == "" {
		return queue.LogQueue{}, nil
	}
	q, err := queue.DialAMQP(cfg.AMQPURL, cfg.EmailQueue)
	if err != nil {
		return nil, fmt.Errorf("email queue: %w", err)
	}
	*closers = append(*closers, q.Close)
	return q, nil
}
