// reconcile.go — фоновая сверка застрявших PENDING записей.
//
// Запись остаётся PENDING навсегда, если процесс упал между InsertPending
// и PromoteToActive/MarkFailed. Такая запись бессрочно блокирует имя файла
// у владельца. Сверка находит записи старше порога, переводит их в FAILED
// и удаляет осиротевший контент.
//
// Запускается как горутина с периодическим тикером (IM_RECONCILE_INTERVAL);
// нулевой интервал отключает сверку.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata"
)

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	// StaleCount — количество найденных застрявших записей
	StaleCount int
	// FailedCount — количество записей, переведённых в FAILED
	FailedCount int
	// Errors — количество ошибок при обработке записей
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// ReconcileService — сервис сверки застрявших PENDING записей.
type ReconcileService struct {
	meta       metadata.Store
	blobs      *blob.Store
	interval   time.Duration
	pendingAge time.Duration
	logger     *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc

	// nowFn подменяется в тестах
	nowFn func() time.Time
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	meta metadata.Store,
	blobs *blob.Store,
	interval time.Duration,
	pendingAge time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		meta:       meta,
		blobs:      blobs,
		interval:   interval,
		pendingAge: pendingAge,
		logger:     logger.With(slog.String("component", "reconcile")),
		nowFn:      time.Now,
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
// При нулевом интервале сверка не запускается.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.interval <= 0 {
		rs.logger.Info("Сверка застрявших PENDING записей отключена")
		return
	}

	recCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(recCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("pending_age", rs.pendingAge.String()),
	)
}

// Stop останавливает фоновый процесс сверки.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка остановлена")
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := rs.RunOnce(ctx)
			if result.StaleCount > 0 || result.Errors > 0 {
				rs.logger.Info("Сверка завершена",
					slog.Int("stale", result.StaleCount),
					slog.Int("failed", result.FailedCount),
					slog.Int("errors", result.Errors),
					slog.Duration("duration", result.Duration),
				)
			}
		}
	}
}

// RunOnce выполняет один проход сверки. Безопасен для ручного вызова,
// параллельные запуски сериализуются.
func (rs *ReconcileService) RunOnce(ctx context.Context) ReconcileResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	start := rs.nowFn()
	middleware.ReconcileRuns.Inc()

	result := ReconcileResult{}
	cutoff := start.Add(-rs.pendingAge)

	stale, err := rs.meta.ListStalePending(ctx, cutoff)
	if err != nil {
		rs.logger.Error("Ошибка поиска застрявших PENDING записей",
			slog.String("error", err.Error()),
		)
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	result.StaleCount = len(stale)

	for _, rec := range stale {
		if err := rs.meta.MarkFailed(ctx, rec.ID); err != nil {
			rs.logger.Error("Не удалось перевести застрявшую запись в FAILED",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		// Контент мог не дописаться — удаление идемпотентно
		if err := rs.blobs.Delete(rec.ContentKey()); err != nil {
			rs.logger.Warn("Не удалось удалить осиротевший контент",
				slog.String("key", rec.ContentKey()),
				slog.String("error", err.Error()),
			)
			result.Errors++
		}

		result.FailedCount++
		middleware.ReconcileFailed.Inc()

		rs.logger.Info("Застрявшая PENDING запись переведена в FAILED",
			slog.String("id", rec.ID),
			slog.String("external_id", rec.ExternalID),
			slog.String("user_id", rec.UserID),
			slog.String("file_name", rec.FileName),
		)
	}

	result.Duration = time.Since(start)
	return result
}
