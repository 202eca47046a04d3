package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/handler"
	"github.com/Dan9191/loan-servicing/internal/integrations/push"
	"github.com/Dan9191/loan-servicing/internal/integrations/sms"
	"github.com/Dan9191/loan-servicing/internal/middleware"
	"github.com/Dan9191/loan-servicing/internal/models"
	"github.com/Dan9191/loan-servicing/internal/repository"
	"github.com/Dan9191/loan-servicing/internal/scheduler"
	"github.com/Dan9191/loan-servicing/internal/service"
	"github.com/Dan9191/loan-servicing/internal/utils/email"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	if err := repository.RunMigrations(cfg.DBConn, cfg.MigrationsPath); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	repo := repository.NewRepository(db)
	if err := seedSettings(repo, cfg.SettingsFile, logger); err != nil {
		logger.Fatalf("Failed to seed settings: %v", err)
	}

	// Channel senders
	publisher := push.NewPublisher(cfg, logger)
	defer publisher.Close()
	senders := map[models.Channel]service.Sender{
		models.ChannelEmail: email.NewSender(cfg, logger),
		models.ChannelSMS:   sms.NewClient(cfg, logger),
	}
	if len(cfg.KafkaBrokers) > 0 {
		senders[models.ChannelPush] = publisher
		senders[models.ChannelTelegram] = publisher
	} else {
		logger.Warn("KAFKA_BROKERS is empty, PUSH and TELEGRAM notices will not be delivered")
	}

	// Initialize layers
	svc := service.NewService(service.Stores{
		Settings:     repo,
		Installments: repo,
		Goals:        repo,
		Notices:      repo,
		Deals:        repo,
		Contacts:     repo,
	}, senders, logger)
	h := handler.NewHandler(svc, logger, cfg.DeliveryBatchSize)

	sched, err := scheduler.New(cfg, svc, logger)
	if err != nil {
		logger.Fatalf("Failed to configure scheduler: %v", err)
	}
	sched.Start()

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/health", h.Health).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	h.Routes(authRouter)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	sched.Stop(ctx)
}

// seedSettings stores the settings file entries that the database does not have yet.
func seedSettings(repo *repository.Repository, path string, logger *logrus.Logger) error {
	if path == "" {
		return nil
	}
	settings, err := config.LoadSettingsFile(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seeded, err := repo.SeedSettings(ctx, settings)
	if err != nil {
		return err
	}
	if len(seeded) > 0 {
		logger.Infof("Seeded settings: %v", seeded)
	}
	return nil
}
