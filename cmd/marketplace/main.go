package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/app"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const (
	envLogLevel  = "MARKETPLACE_LOG_LEVEL"
	envLogFormat = "MARKETPLACE_LOG_FORMAT"
	envDotenv    = "MARKETPLACE_ENV_FILE"
)

// setupLogger настраивает формат и уровень логирования; неизвестный уровень откатывается на info.
func setupLogger(logger *log.Logger, level, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		return fmt.Errorf("unknown log format %q, using text", format)
	}

	logger.SetLevel(log.InfoLevel)
	if strings.TrimSpace(level) == "" {
		return nil
	}
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("unknown log level %q, using info", level)
	}
	logger.SetLevel(parsed)
	return nil
}

// loadDotenv подгружает .env, если он есть; переменные окружения процесса имеют приоритет.
func loadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func main() {
	dotenvErr := loadDotenv(os.Getenv(envDotenv))
	if err := setupLogger(log.StandardLogger(), os.Getenv(envLogLevel), os.Getenv(envLogFormat)); err != nil {
		log.Warn(err.Error())
	}
	if dotenvErr != nil {
		log.WithError(dotenvErr).Warn("не удалось прочитать .env")
	}

	cfg, warnings := app.ReadConfigFromEnv()
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := version.Current()
	log.WithFields(log.Fields{
		"version":      build.Version,
		"commit":       build.Commit,
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"idempotency":  cfg.IdempotencyDriver,
	}).Info("запускаем marketplace")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("marketplace остановлен")
}
