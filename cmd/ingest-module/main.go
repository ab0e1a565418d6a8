// Точка входа Ingest Module — сервиса загрузки файлов с дедупликацией
// контента по владельцу.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/database"
	"github.com/bigkaa/goartstore/ingest-module/internal/server"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata/memory"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata/postgres"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Ingest Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("data_dir", cfg.DataDir),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Файловое хранилище контента
	blobs, err := blob.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища контента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if total, used, available, duErr := getDiskUsage(cfg.DataDir); duErr != nil {
		logger.Warn("Не удалось получить ёмкость диска", slog.String("error", duErr.Error()))
	} else {
		logger.Info("Ёмкость диска data_dir",
			slog.Int64("total_bytes", total),
			slog.Int64("used_bytes", used),
			slog.Int64("available_bytes", available),
		)
	}

	// 2. Хранилище метаданных
	var (
		meta      metadata.Store
		dbChecker handlers.DatabaseReadinessChecker
		dephealth *service.DephealthService
	)
	switch cfg.MetadataBackend {
	case config.BackendPostgres:
		pool, connErr := database.Connect(ctx, cfg, logger)
		if connErr != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", connErr.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		if migErr := database.Migrate(cfg, logger); migErr != nil {
			logger.Error("Ошибка применения миграций", slog.String("error", migErr.Error()))
			os.Exit(1)
		}

		meta = postgres.New(pool)
		dbChecker = database.NewReadinessChecker(pool)

		// Мониторинг зависимостей через пул соединений
		sqlDB := stdlib.OpenDBFromPool(pool)
		dephealth, err = service.NewDephealthService(service.DephealthConfig{
			ServiceID:         serviceInstanceID("ingest-module"),
			Group:             cfg.DephealthGroup,
			DB:                sqlDB,
			PGConnURL:         cfg.DatabaseDSN(),
			JWKSURL:           cfg.JWKSUrl,
			JWKSTLSSkipVerify: cfg.JWKSTLSSkipVerify,
			CheckInterval:     cfg.DephealthCheckInterval,
			IsEntry:           cfg.DephealthIsEntry,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации dephealth", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case config.BackendMemory:
		meta = memory.New()
		logger.Warn("Используется in-memory хранилище метаданных: данные не переживут рестарт")

		if cfg.JWKSUrl != "" {
			dephealth, err = service.NewDephealthService(service.DephealthConfig{
				ServiceID:         serviceInstanceID("ingest-module"),
				Group:             cfg.DephealthGroup,
				JWKSURL:           cfg.JWKSUrl,
				JWKSTLSSkipVerify: cfg.JWKSTLSSkipVerify,
				CheckInterval:     cfg.DephealthCheckInterval,
				IsEntry:           cfg.DephealthIsEntry,
			}, logger)
			if err != nil {
				logger.Error("Ошибка инициализации dephealth", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
	}

	// 3. Кэш метаданных и сниффер MIME-типов
	cache := service.NewMetadataCache(cfg.CacheSize, cfg.CacheTTL)
	sniffer := service.NewContentSniffer(logger)

	// 4. Координатор загрузки
	ingest := service.NewIngestService(meta, blobs, sniffer, cache, cfg.MaxTags, logger)

	// 5. Фоновая сверка застрявших PENDING записей
	reconcile := service.NewReconcileService(meta, blobs, cfg.ReconcileInterval, cfg.ReconcilePendingAge, logger)
	reconcile.Start(ctx)
	defer reconcile.Stop()

	// 6. Мониторинг зависимостей
	if dephealth != nil {
		if err := dephealth.Start(ctx); err != nil {
			logger.Error("Ошибка запуска dephealth", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer dephealth.Stop()
	}

	// 7. JWT-аутентификация (опционально)
	var auth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		auth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:    cfg.JWKSUrl,
			CACertPath: cfg.JWKSCACert,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT-аутентификации", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer auth.Close()
		logger.Info("JWT-аутентификация включена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("JWT-аутентификация отключена: userId берётся из query-параметра")
	}

	// 8. HTTP handlers и сервер
	files := handlers.NewFilesHandler(ingest, cfg.MaxFileSize)
	health := handlers.NewHealthHandler(cfg.DataDir, dbChecker)

	srv := server.New(cfg, logger, files, health, auth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
