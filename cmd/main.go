package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quakewatch/internal/events"
	"quakewatch/internal/handlers"
	"quakewatch/internal/logger"
	"quakewatch/internal/repository"
	"quakewatch/internal/repository/db"
	"quakewatch/internal/server"
	"quakewatch/internal/service"

	"github.com/spf13/viper"
)

const defaultReaperTick = 1 * time.Minute

func main() {
	// init logger
	log := logger.Get(logger.InfoLevel)

	// load config.yml
	if err := loadConfig(); err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	// open DB
	sqlDB, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Fatalw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(sqlDB)
	hub := events.NewHub()
	services := service.NewService(repos, hub, log, serviceConfig())
	apiHandler := handlers.NewHandler(services, hub, log, viper.GetString("ota.upload_dir"))

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// reap stalled OTA sessions (via composed service)
	go services.OTA.RunReaper(ctx, defaultReaperTick)

	// bring the serial link up if a port is configured; the API can also
	// connect it later
	connectGateway(services, log)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, services, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// serviceConfig collects service tunables from configuration, falling back to
// the package defaults for anything unset.
func serviceConfig() service.Config {
	cfg := service.Config{
		ManifestURL: viper.GetString("ota.manifest_url"),
		ManifestTTL: viper.GetDuration("ota.manifest_ttl"),
		ChunkSize:   viper.GetInt("ota.chunk_size"),
		Cooldown:    viper.GetDuration("ota.cooldown"),
		SessionTTL:  viper.GetDuration("ota.session_ttl"),
		AutoEnabled: viper.GetBool("ota.auto_enabled"),
		SigningKey:  viper.GetString("auth.signing_key"),
	}
	if cfg.ManifestTTL == 0 {
		cfg.ManifestTTL = service.DefaultManifestTTL
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = service.DefaultChunkSize
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = service.DefaultCooldown
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = service.DefaultSessionTTL
	}
	return cfg
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using in-memory database")
		dbPath = db.DefaultDSN
	}
	return db.InitDB(dbPath)
}

// connectGateway opens the configured serial port, best effort. The fleet can
// run API-only until an operator connects the link.
func connectGateway(services *service.Service, log *logger.Logger) {
	port := viper.GetString("serial.port")
	if port == "" {
		return
	}
	baud := viper.GetInt("serial.baud")
	if baud <= 0 {
		baud = service.DefaultBaudRate
	}
	if err := services.Gateway.Connect(port, baud); err != nil {
		log.Errorw("gateway auto-connect failed", "port", port, "err", err)
		return
	}
	log.Infow("gateway connected", "port", port, "baud", baud)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, services *service.Service, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines and drop the serial link
	cancel()
	if err := services.Gateway.Disconnect(); err != nil {
		log.Errorw("gateway disconnect failed", "err", err)
	}

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
