package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
	"meridian.club/internal/config"
	"meridian.club/internal/gate"
	"meridian.club/internal/httpapi"
	"meridian.club/internal/obs"
	"meridian.club/internal/store/pg"
	"meridian.club/internal/stream"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("api_exit", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)
	logger := obs.Logger()

	var (
		store    *pg.Store
		accounts auth.AccountStore
		sink     audit.Sink = audit.NewMemorySink()
		ready    httpapi.ReadyProbe
	)
	owners := auth.NewOwnershipRegistry()
	if cfg.PGDSN == "" {
		mem := auth.NewMemoryAccounts()
		if id := strings.TrimSpace(cfg.Auth.BootstrapAdmin); id != "" {
			mem.Put(auth.Account{ID: id, Role: auth.RoleSuperAdmin, Active: true})
			logger.Warn("bootstrap_admin_seeded", slog.String("user_id", id))
		}
		accounts = mem
	} else {
		store, err = pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.RegisterOwnership(owners); err != nil {
			return err
		}
		accounts = store
		ready = httpapi.ReadyProbe{DB: store}
		if cfg.Audit.Sink == config.AuditSinkPostgres {
			sink = store.AuditSink()
		}
	}
	owners.Seal()

	hub := stream.New(cfg.Audit.StreamBuffer)
	trail, err := audit.NewTrail(sink,
		audit.WithLogger(logger),
		audit.WithAlerter(audit.LogAlerter{Logger: logger}),
		audit.WithPublisher(hub),
	)
	if err != nil {
		return err
	}
	dispatcher := audit.NewDispatcher(trail, audit.DispatcherConfig{
		QueueSize:    cfg.Audit.QueueSize,
		Workers:      cfg.Audit.Workers,
		WriteTimeout: cfg.Audit.WriteTimeout,
		Logger:       logger,
	})

	codec, err := auth.NewTokenCodec(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	catalog := auth.DefaultCatalog()
	g, err := gate.New(codec, accounts, auth.NewEvaluator(catalog, auth.DefaultOwnershipOverrides()),
		gate.WithOwners(owners),
		gate.WithRecorder(dispatcher),
		gate.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Deps{
		Gate:       g,
		Catalog:    catalog,
		Accounts:   accounts,
		Audit:      trail,
		Recorder:   dispatcher,
		Stream:     hub,
		Ready:      ready,
		Version:    cfg.Version,
		Logger:     logger,
		RateBurst:  cfg.Rate.Burst,
		RatePerSec: cfg.Rate.PerSecond,
	})
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

	guard, err := httpapi.NewGRPCGuard(g, httpapi.AccessRules(), healthpb.Health_Check_FullMethodName)
	if err != nil {
		return err
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(guard.Unary()))
	httpapi.NewAccessServer(catalog, trail).Register(grpcSrv)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http_listen", slog.String("addr", cfg.HTTPAddr), slog.String("version", cfg.Version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("grpc_listen", slog.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_start")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		httpErr := httpSrv.Shutdown(shutdownCtx)

		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}

		auditErr := dispatcher.Close(shutdownCtx)
		alertErr := trail.Drain(shutdownCtx)
		return errors.Join(httpErr, auditErr, alertErr)
	})

	err = group.Wait()
	logger.Info("shutdown_complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
