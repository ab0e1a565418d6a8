// Пакет config — загрузка и валидация конфигурации Ingest Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища метаданных.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config содержит все параметры конфигурации Ingest Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения контента
	DataDir string
	// Бэкенд хранилища метаданных (memory, postgres)
	MetadataBackend string

	// Параметры PostgreSQL (обязательны при MetadataBackend=postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Максимальное количество тегов на файл
	MaxTags int

	// Размер LRU-кэша метаданных (записей)
	CacheSize int
	// TTL записи в кэше метаданных
	CacheTTL time.Duration

	// Интервал фоновой сверки застрявших PENDING записей (0 = отключена)
	ReconcileInterval time.Duration
	// Возраст PENDING записи, после которого она считается застрявшей
	ReconcilePendingAge time.Duration

	// URL JWKS endpoint (опционально; пустое значение отключает JWT-аутентификацию)
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Не проверять TLS сертификат JWKS endpoint при dephealth-проверке
	// (dev-среда с self-signed сертификатами)
	JWKSTLSSkipVerify bool

	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (IM_DEPHEALTH_GROUP)
	DephealthGroup string
	// Лейбл isentry=yes для зависимостей (DEPHEALTH_ISENTRY)
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// IM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("IM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// IM_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("IM_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// IM_METADATA_BACKEND — бэкенд метаданных (по умолчанию memory)
	cfg.MetadataBackend = getEnvDefault("IM_METADATA_BACKEND", BackendMemory)
	if cfg.MetadataBackend != BackendMemory && cfg.MetadataBackend != BackendPostgres {
		return nil, fmt.Errorf("IM_METADATA_BACKEND: недопустимое значение %q, допустимые: memory, postgres",
			cfg.MetadataBackend)
	}

	// Параметры PostgreSQL — обязательны только для postgres-бэкенда
	if cfg.MetadataBackend == BackendPostgres {
		cfg.DBHost, err = getEnvRequired("IM_DB_HOST")
		if err != nil {
			return nil, err
		}
		cfg.DBPort, err = getEnvInt("IM_DB_PORT", 5432)
		if err != nil {
			return nil, fmt.Errorf("IM_DB_PORT: %w", err)
		}
		cfg.DBName, err = getEnvRequired("IM_DB_NAME")
		if err != nil {
			return nil, err
		}
		cfg.DBUser, err = getEnvRequired("IM_DB_USER")
		if err != nil {
			return nil, err
		}
		cfg.DBPassword, err = getEnvRequired("IM_DB_PASSWORD")
		if err != nil {
			return nil, err
		}
		cfg.DBSSLMode = getEnvDefault("IM_DB_SSL_MODE", "disable")
	}

	// IM_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	cfg.MaxFileSize, err = getEnvInt64("IM_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("IM_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// IM_MAX_TAGS — максимальное количество тегов (по умолчанию 5)
	cfg.MaxTags, err = getEnvInt("IM_MAX_TAGS", 5)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_TAGS: %w", err)
	}
	if cfg.MaxTags <= 0 {
		return nil, fmt.Errorf("IM_MAX_TAGS: значение должно быть положительным")
	}

	// IM_CACHE_SIZE — размер LRU-кэша метаданных (по умолчанию 1024)
	cfg.CacheSize, err = getEnvInt("IM_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("IM_CACHE_SIZE: значение должно быть положительным")
	}

	// IM_CACHE_TTL — TTL кэша метаданных (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("IM_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_TTL: %w", err)
	}

	// IM_RECONCILE_INTERVAL — интервал сверки застрявших PENDING (0 = выключена)
	cfg.ReconcileInterval, err = getEnvDuration("IM_RECONCILE_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("IM_RECONCILE_INTERVAL: %w", err)
	}

	// IM_RECONCILE_PENDING_AGE — возраст застрявшей PENDING записи (по умолчанию 1h)
	cfg.ReconcilePendingAge, err = getEnvDuration("IM_RECONCILE_PENDING_AGE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IM_RECONCILE_PENDING_AGE: %w", err)
	}

	// IM_JWKS_URL — опциональный; пустое значение отключает JWT-аутентификацию
	cfg.JWKSUrl = getEnvDefault("IM_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("IM_JWKS_CA_CERT", "")
	cfg.JWKSTLSSkipVerify, err = getEnvBool("IM_JWKS_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("IM_JWKS_TLS_SKIP_VERIFY: %w", err)
	}

	// IM_TLS_CERT / IM_TLS_KEY — опциональные, но только парой
	cfg.TLSCert = getEnvDefault("IM_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("IM_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("IM_TLS_CERT и IM_TLS_KEY должны задаваться вместе")
	}

	// IM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	// IM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// IM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("IM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// IM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("IM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// IM_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "ingest-module")

	// DEPHEALTH_ISENTRY — лейбл isentry=yes для всех зависимостей
	cfg.DephealthIsEntry = getEnvDefault("DEPHEALTH_ISENTRY", "") == "yes"

	return cfg, nil
}

// DatabaseDSN возвращает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
