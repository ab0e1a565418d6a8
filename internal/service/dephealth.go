// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Ingest Module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool
//     mode, critical; только при postgres-бэкенде метаданных)
//   - JWKS endpoint — HTTP checker (critical; только при включённой
//     JWT-аутентификации)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для JWKS
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (IM_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB из pgxpool через stdlib.OpenDBFromPool (nil = без проверки БД)
	DB *sql.DB
	// PGConnURL — URL подключения к PostgreSQL (для лейблов, не для подключения)
	PGConnURL string
	// JWKSURL — URL JWKS endpoint (пустое значение = без проверки)
	JWKSURL string
	// JWKSTLSSkipVerify — не проверять TLS сертификат JWKS endpoint
	// (dev-среда с self-signed сертификатами)
	JWKSTLSSkipVerify bool
	// CheckInterval — интервал проверки зависимостей
	CheckInterval time.Duration
	// IsEntry — пометить зависимости лейблом isentry=yes (входная точка графа)
	IsEntry bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Использует connection pool mode для PostgreSQL: проверка выполняется
// через существующий *sql.DB (адаптер pgxpool), что позволяет обнаружить
// исчерпание пула соединений.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	cfg DephealthConfig,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	cfg DephealthConfig,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
	}

	if cfg.DB != nil {
		// PostgreSQL — connection pool mode через существующий pgxpool.
		// Используем pgcheck.New + dephealth.AddDependency напрямую,
		// чтобы не тянуть contrib/sqldb с транзитивной зависимостью на MySQL.
		pgDepOpts := []dephealth.DependencyOption{
			dephealth.FromURL(cfg.PGConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		}
		if cfg.IsEntry {
			pgDepOpts = append(pgDepOpts, dephealth.WithLabel("isentry", "yes"))
		}
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)), pgDepOpts...))
	}

	if cfg.JWKSURL != "" {
		// По умолчанию dephealth проверяет /health; используем path самого
		// JWKS URL — это подтверждает доступность выдающего ключи сервиса.
		healthPath := "/health"
		if parsed, parseErr := url.Parse(cfg.JWKSURL); parseErr == nil && parsed.Path != "" {
			healthPath = parsed.Path
		}
		jwksDepOpts := []dephealth.DependencyOption{
			dephealth.FromURL(cfg.JWKSURL),
			dephealth.WithHTTPHealthPath(healthPath),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(cfg.JWKSTLSSkipVerify),
		}
		if cfg.IsEntry {
			jwksDepOpts = append(jwksDepOpts, dephealth.WithLabel("isentry", "yes"))
		}
		opts = append(opts, dephealth.HTTP("jwks", jwksDepOpts...))
	}

	if cfg.DB == nil && cfg.JWKSURL == "" {
		return nil, errors.New("нет зависимостей для мониторинга")
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
