package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"trip-coordinator/api"
	"trip-coordinator/config"
	"trip-coordinator/database"
	"trip-coordinator/feed"
	"trip-coordinator/geo"
	"trip-coordinator/geofence"
	"trip-coordinator/matching"
	"trip-coordinator/migration"
	"trip-coordinator/notify"
	"trip-coordinator/realtime"
	"trip-coordinator/trip"
	"trip-coordinator/users"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Error reading config: %v", err)
	}
	logger := log.WithField("service", "trip-coordinator")

	if *migrateOnly {
		if err := migration.RunMigrations(cfg.DB, logger); err != nil {
			log.Fatalf("Migration error: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Realtime store adapter
	var adapter realtime.Adapter
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		logger.Info("connected to Redis store")
		adapter = realtime.NewRedisAdapter(client)
	default:
		logger.Info("using in-memory store")
		adapter = realtime.NewMemoryAdapter()
	}

	// Account database
	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("database connected")

	// Core components, wired explicitly
	index := geo.NewIndex()
	monitor := geofence.NewMonitor()
	dispatcher := notify.NewDispatcher()
	machine := trip.NewMachine(adapter, monitor, dispatcher, cfg.Geofence.RadiusMeters, logger)
	matcher := matching.NewMatcher(index, adapter, cfg.Matching.RadiusMeters, logger)
	registry := users.NewRegistry(db, adapter, logger)
	ingestor := feed.NewIngestor(adapter, index, monitor, logger)

	go func() {
		if err := machine.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("machine stopped")
		}
	}()

	// Stale-sighting janitor
	if cfg.Sightings.MaxAge > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Sightings.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if n := index.EvictStale(cfg.Sightings.MaxAge, now); n > 0 {
						logger.WithField("evicted", n).Debug("dropped stale driver sightings")
					}
				}
			}
		}()
	}

	// Broker location feed
	if cfg.MQTT.Broker != "" {
		mqttFeed := feed.NewMQTTFeed(cfg.MQTT, ingestor, logger)
		if err := mqttFeed.Start(ctx); err != nil {
			log.Fatalf("Failed to start location feed: %v", err)
		}
		defer mqttFeed.Stop()
	}

	handler := &api.Handler{
		Machine: machine,
		Matcher: matcher,
		Users:   registry,
		Ingest:  ingestor,
		Log:     logger,
	}
	router := api.RegisterRoutes(handler)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", cfg.HTTPAddr).Info("server started")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
