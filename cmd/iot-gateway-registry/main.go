package main

import (
	"context"
	"strings"
	"time"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/application"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/association"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/cache"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/registry"
	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger().Fatalf("Failed to load configuration: %s", err.Error())
	}

	opts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "text" {
		opts = append(opts, logging.WithTextFormat())
	}

	log := logging.NewLogger(opts...).WithField("service", cfg.Service.Name)
	log.Infof("Starting up %s ...", cfg.Service.Name)

	connector := database.NewSQLiteConnector()
	if strings.ToLower(cfg.Database.Driver) == config.DriverPostgres {
		connector = database.NewPostgreSQLConnector(cfg.Database, log)
	}

	db, err := database.NewDatabaseConnection(connector, log)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %s", err.Error())
	}
	defer db.Close()

	readCache := cache.NewNoopCache()
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		readCache, err = cache.NewRedisCache(ctx, cfg.Redis, log)
		cancel()

		if err != nil {
			log.Fatalf("Failed to connect to the cache: %s", err.Error())
		}
	}
	defer readCache.Close()

	managerOpts := []association.Option{association.WithCache(readCache)}

	if cfg.Messaging.Enabled {
		messenger, err := messaging.Initialize(messaging.LoadConfiguration(cfg.Service.Name))
		if err != nil {
			log.Fatalf("Failed to initialize messaging: %s", err.Error())
		}
		defer messenger.Close()

		managerOpts = append(managerOpts, association.WithMessenger(messenger))
	}

	manager := association.NewManager(db, log, managerOpts...)
	reg := registry.New(db, manager, log, registry.WithCache(readCache))

	application.CreateRouterAndStartServing(log, cfg.Service.Port, reg)
}
