package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/order"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "pos-client").Logger()

	app := &cli.App{
		Name:  "pos-client",
		Usage: "point-of-sale order lifecycle orchestrator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Value: ".env", Usage: "optional .env file read before the environment"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the tab API",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "migrate", Usage: "apply database migrations before serving (postgres store only)"},
				},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations for the postgres tab store",
				Action: migrateUp,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("pos-client failed")
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("env"))
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().Str("log_level", cfg.App.LogLevel).Msg("Unknown log level, using info")
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}

func migrateUp(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	pg, err := db.New(c.Context, cfg)
	if err != nil {
		return err
	}
	defer pg.Close()

	return pg.Migrate(cfg.Postgres.MigrationsPath)
}

// openStore picks the tab store backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (order.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StorePebble:
		store, err := order.NewPebbleStore(cfg.Store.PebbleDir)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("dir", cfg.Store.PebbleDir).Msg("Using pebble tab store")
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close pebble store")
			}
		}, nil
	case config.StorePostgres:
		pg, err := db.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := pg.Migrate(cfg.Postgres.MigrationsPath); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		log.Info().Msg("Using postgres tab store")
		return order.NewPostgresStore(pg.Pool), pg.Close, nil
	default:
		log.Info().Msg("Using in-memory tab store")
		return order.NewInMemoryStore(), func() {}, nil
	}
}

func openPublisher(cfg *config.Config) (order.EventDispatcher, func()) {
	if cfg.Kafka.Brokers == "" {
		log.Info().Msg("KAFKA_BROKERS not set, lifecycle events go to the log")
		return events.LogPublisher{}, func() {}
	}

	pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	log.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Publishing lifecycle events to Kafka")
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close kafka publisher")
		}
	}
}

func serve(c *cli.Context) error {
	log.Info().Msg("POS client starting...")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}
	log.Info().Str("profile", profile.Name).Str("company", profile.Company).Str("warehouse", profile.Warehouse).Msg("POS profile loaded")

	store, closeStore, err := openStore(c.Context, cfg, c.Bool("migrate"))
	if err != nil {
		return fmt.Errorf("failed to open tab store: %w", err)
	}
	defer closeStore()

	publisher, closePublisher := openPublisher(cfg)
	defer closePublisher()

	registry := metrics.NewRegistry()
	backend := gateway.New(gateway.Config{
		BaseURL:   cfg.Backend.BaseURL,
		APIKey:    cfg.Backend.APIKey,
		APISecret: cfg.Backend.APISecret,
		Timeout:   cfg.Backend.Timeout,
	})

	svc := order.NewService(backend, store, profile,
		order.WithDispatcher(publisher),
		order.WithRecorder(registry),
	)
	router := handler.NewRouter(handler.NewTabHandler(svc), registry.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Backend.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stopCh:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
