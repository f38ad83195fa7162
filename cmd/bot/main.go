package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/config"
	"shortlink_bot/internal/domain"
	"shortlink_bot/internal/feature/admin"
	"shortlink_bot/internal/feature/inactive"
	"shortlink_bot/internal/feature/user"
	"shortlink_bot/internal/health"
	"shortlink_bot/internal/logging"
	"shortlink_bot/internal/shortener"
	"shortlink_bot/internal/store"
	"shortlink_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	adminBootstrapTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":   "startup",
		"backend": cfg.StoreBackend,
	}).Info("configuration loaded")

	users, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.WithField("event", "store_open_error").WithError(err).Error("store setup error")
		fmt.Fprintf(os.Stderr, "store setup error: %v\n", err)
		os.Exit(1)
	}

	gate := admin.NewGate(users, cfg.AdminPassword, logger)
	adminCtx, cancelAdmin := context.WithTimeout(context.Background(), adminBootstrapTimeout)
	if err := gate.EnsureAdmins(adminCtx, cfg.AdminIDs); err != nil {
		cancelAdmin()
		logger.WithError(err).Error("admin bootstrap error")
		fmt.Fprintf(os.Stderr, "admin bootstrap error: %v\n", err)
		closeStore()
		os.Exit(1)
	}
	cancelAdmin()

	shortClient, err := shortener.NewClient(cfg.ShortenerBaseURL, cfg.ShortenerTimeout, logger)
	if err != nil {
		logger.WithError(err).Error("shortener client setup error")
		fmt.Fprintf(os.Stderr, "shortener client setup error: %v\n", err)
		closeStore()
		os.Exit(1)
	}

	userRegistrar := user.NewRegistrar(users, shortClient, logger)

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithUserFlows(userRegistrar),
		telegram.WithAdminGate(gate),
		telegram.WithStatsProvider(users),
		telegram.WithBroadcastRecipients(users),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		closeStore()
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	notifier := inactive.NewNotifier(users, tgClient, cfg.InactiveThreshold, cfg.InactiveCheckInterval, "", logger)
	healthServer := health.NewServer(cfg.HTTPPort, users, cfg.StoreBackend, logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	tgDone := make(chan struct{})
	var workers sync.WaitGroup

	go func() {
		tgClient.Start(runCtx)
		close(tgDone)
	}()

	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := notifier.Run(runCtx); err != nil {
			logger.WithField("event", "inactive_notifier_error").WithError(err).Error("inactive notifier stopped")
		}
	}()
	go func() {
		defer workers.Done()
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithField("event", "health_error").WithError(err).Error("health server failed")
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelRun()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithField("event", "health_shutdown_error").WithError(err).Warn("health server shutdown error")
	}
	cancelHealth()
	workers.Wait()

	closeStore()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

// openStore returns the configured backend and a func releasing it.
func openStore(cfg config.Config, logger *logrus.Entry) (domain.UserStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendFile:
		fileStore, err := store.OpenFile(cfg.StorePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.WithFields(logging.Fields{
			"event": "store_ready",
			"path":  fileStore.Path(),
		}).Info("using file store")
		return fileStore, func() {}, nil

	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		manager, err := store.NewManager(connectCtx, cfg)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connection: %w", err)
		}

		logger.WithField("event", "mongo_connect").Info("connected to mongo")

		indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
		err = manager.EnsureBaseIndexes(indexCtx)
		cancelIndexes()
		if err != nil {
			closeManager(manager, logger)
			return nil, nil, fmt.Errorf("mongo index setup: %w", err)
		}

		logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

		return store.NewMongoStore(manager.Users(), manager, logger), func() { closeManager(manager, logger) }, nil

	default:
		return nil, nil, errors.New("unknown store backend " + cfg.StoreBackend)
	}
}

func closeManager(manager *store.Manager, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()

	if err := manager.Close(ctx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
		return
	}
	logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
}
