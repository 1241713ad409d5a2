package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/route"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	ready := map[string]func(context.Context) error{}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		ready["store"] = p.Ping
	}

	var index geo.Geo
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		index = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		ready["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	} else {
		index = geo.NewIndex()
	}

	var (
		mapsClient *maps.Client
		estimator  route.Estimator
	)
	switch {
	case cfg.GoogleMapsAPIKey != "":
		if mapsClient, err = maps.NewClient(cfg.GoogleMapsAPIKey); err != nil {
			return err
		}
		estimator = mapsClient
	case cfg.OSRMEndpoint != "":
		estimator = route.NewOSRMClient(cfg.OSRMEndpoint)
	default:
		estimator = route.StraightLine{SpeedMps: cfg.DefaultSpeedMps}
	}
	estimator = route.NewCache(estimator, cfg.RouteCacheTTL)
	calc := fare.NewCalculator(estimator, cfg.FareCurrency)

	opts := []ride.Option{ride.WithTimeout(cfg.TransitionTimeout), ride.WithLogger(logger)}
	if mapsClient != nil {
		opts = append(opts, ride.WithResolver(mapsClient))
	}
	engine := ride.NewEngine(store, calc, opts...)

	dir := directory.New()
	finder := &geo.Finder{Geo: index, Busy: engine, Logger: logger}
	coord := dispatch.NewCoordinator(engine, finder, notify.NewNotifier(dir, logger), calc, dispatch.Config{
		RadiusKm:  cfg.DispatchRadiusKm,
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
	})
	coord.Profiles = store
	coord.Logger = logger

	deps := httpapi.Deps{
		Rides:      coord,
		Geo:        index,
		Profiles:   store,
		Directory:  dir,
		Auth:       auth.NewVerifier(cfg.JWTSecret),
		Route:      estimator,
		Ready:      ready,
		SendBuffer: cfg.WSSendBuffer,
		Logger:     logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		locations := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.LocationTopic, cfg.KafkaBatchTimeout)
		defer locations.Close()
		rideEvents := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.RideEventsTopic, cfg.KafkaBatchTimeout)
		defer rideEvents.Close()
		deps.Locations = locations
		coord.Publisher = rideEvents
	}
	if mapsClient != nil {
		deps.Geocoder = mapsClient
	}
	if cfg.StripeAPIKey != "" {
		deps.Payments = payments.NewStripeClient(cfg.StripeAPIKey, cfg.StripeWebhookSecret)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	coord.Start(ctx)
	defer coord.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.ServerConfig) (storage.Store, error) {
	switch {
	case cfg.PGDSN != "":
		return storage.NewPostgresStore(ctx, cfg.PGDSN, cfg.RunMigrations)
	case cfg.SQLitePath != "":
		return storage.NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return storage.NewMemoryStore(), nil
	}
}
