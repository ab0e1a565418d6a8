// ingest.go — координатор загрузки, чтения и удаления файлов.
//
// Жизненный цикл загрузки:
//  1. InsertPending (резервирует имя у владельца)
//  2. Запись контента под ключ {userID}/{externalID} со стриминговым SHA-256
//  3. PromoteToActive (атомарно hash + size + ACTIVE)
//  4. При конфликте контента — MarkFailed + компенсирующее удаление контента
//  5. Обогащение content_type по сигнатуре (best effort)
//
// Координатор никогда не делает предварительных проверок существования:
// уникальность обеспечивает хранилище метаданных, координатор ветвится
// по ошибкам конфликта.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/hashreader"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata"
)

// Ошибки сервисного слоя.
var (
	// ErrDuplicateName — у владельца уже есть файл с таким именем.
	ErrDuplicateName = errors.New("файл с таким именем уже существует")
	// ErrDuplicateContent — владелец уже загружал идентичный контент.
	ErrDuplicateContent = errors.New("идентичный контент уже загружен")
	// ErrInvalidVisibility — недопустимое значение видимости.
	ErrInvalidVisibility = errors.New("недопустимое значение visibility")
	// ErrTooManyTags — превышен лимит тегов.
	ErrTooManyTags = errors.New("превышен лимит тегов")
	// ErrNotFound — файл не найден. Отказ в доступе к чужому приватному
	// файлу неотличим от отсутствия файла.
	ErrNotFound = errors.New("файл не найден")
	// ErrStorage — сбой файлового хранилища или хранилища метаданных.
	ErrStorage = errors.New("ошибка хранилища")
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// UserID — идентификатор владельца
	UserID string
	// FileName — имя файла
	FileName string
	// Visibility — видимость файла в сыром виде (пустая строка = PRIVATE)
	Visibility string
	// ContentTypeHint — MIME-тип, заявленный клиентом (может быть пустым)
	ContentTypeHint string
	// Tags — теги файла (до нормализации)
	Tags []string
}

// DownloadResult — результат чтения файла: метаданные и открытый поток
// контента. Вызывающий обязан закрыть Content. Поток поддерживает Seek,
// что позволяет отдавать Range-запросы.
type DownloadResult struct {
	Record  *model.FileRecord
	Content io.ReadSeekCloser
}

// IngestService — координатор операций над файлами.
type IngestService struct {
	meta    metadata.Store
	blobs   *blob.Store
	sniffer Sniffer
	cache   *MetadataCache
	maxTags int
	logger  *slog.Logger

	// nowFn подменяется в тестах
	nowFn func() time.Time
}

// NewIngestService создаёт координатор загрузки.
func NewIngestService(
	meta metadata.Store,
	blobs *blob.Store,
	sniffer Sniffer,
	cache *MetadataCache,
	maxTags int,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		meta:    meta,
		blobs:   blobs,
		sniffer: sniffer,
		cache:   cache,
		maxTags: maxTags,
		logger:  logger.With(slog.String("component", "ingest_service")),
		nowFn:   time.Now,
	}
}

// Upload загружает файл: резервирует имя, стримит контент с подсчётом
// SHA-256, активирует запись. Дубликат контента откатывается компенсирующим
// удалением, запись остаётся tombstone-ом FAILED.
func (s *IngestService) Upload(ctx context.Context, params UploadParams) (*model.FileRecord, error) {
	visibility, err := model.ParseVisibility(params.Visibility)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("upload", "invalid_visibility").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidVisibility, params.Visibility)
	}

	tags := model.NormalizeTags(params.Tags)
	if len(tags) > s.maxTags {
		middleware.OperationsTotal.WithLabelValues("upload", "too_many_tags").Inc()
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTags, len(tags), s.maxTags)
	}

	// 1. Резервируем имя записью PENDING
	rec := model.FileRecord{
		ExternalID:       uuid.New().String(),
		UserID:           params.UserID,
		FileName:         params.FileName,
		Visibility:       visibility,
		Tags:             tags,
		UploadedAtMillis: s.nowFn().UTC().UnixMilli(),
		ContentType:      params.ContentTypeHint,
		Status:           model.StatusPending,
	}

	pending, err := s.meta.InsertPending(ctx, rec)
	if err != nil {
		if errors.Is(err, metadata.ErrNameTaken) {
			middleware.OperationsTotal.WithLabelValues("upload", "duplicate_name").Inc()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, params.FileName)
		}
		s.logger.Error("Ошибка создания PENDING записи",
			slog.String("user_id", params.UserID),
			slog.String("file_name", params.FileName),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrStorage, err)
	}

	// 2. Стримим контент на диск, попутно считая хэш и размер
	key := pending.ContentKey()
	hr := hashreader.New(params.Reader)
	if err := s.blobs.Save(key, hr); err != nil {
		s.failPending(ctx, pending, key, true)
		s.logger.Error("Ошибка записи контента",
			slog.String("external_id", pending.ExternalID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: запись контента: %w", ErrStorage, err)
	}

	// 3. Активируем запись: hash + size + ACTIVE атомарно
	active, err := s.meta.PromoteToActive(ctx, pending.ID, hr.Sum(), hr.BytesRead())
	if err != nil {
		if errors.Is(err, metadata.ErrContentExists) {
			// Дубликат контента: запись — в FAILED, контент — компенсирующее удаление
			s.failPending(ctx, pending, key, true)
			middleware.OperationsTotal.WithLabelValues("upload", "duplicate_content").Inc()
			s.logger.Info("Отклонён дубликат контента",
				slog.String("user_id", params.UserID),
				slog.String("file_name", params.FileName),
				slog.String("content_hash", hr.Sum()),
			)
			return nil, fmt.Errorf("%w: hash %s", ErrDuplicateContent, hr.Sum())
		}
		s.failPending(ctx, pending, key, true)
		s.logger.Error("Ошибка активации записи",
			slog.String("id", pending.ID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: активация записи: %s", ErrStorage, err)
	}

	// 4. Обогащение content_type — best effort, ошибка не откатывает загрузку
	s.enrichContentType(ctx, active)

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.UploadedBytes.Add(float64(active.Size))

	s.logger.Info("Файл загружен",
		slog.String("external_id", active.ExternalID),
		slog.String("user_id", active.UserID),
		slog.String("file_name", active.FileName),
		slog.Int64("size", active.Size),
		slog.String("content_hash", active.ContentHash),
		slog.String("visibility", string(active.Visibility)),
	)

	return active, nil
}

// failPending переводит запись в FAILED и (опционально) удаляет контент.
// Оба действия best effort: ошибки логируются, но не пробрасываются.
func (s *IngestService) failPending(ctx context.Context, rec *model.FileRecord, key string, removeContent bool) {
	if err := s.meta.MarkFailed(ctx, rec.ID); err != nil {
		s.logger.Error("Не удалось перевести запись в FAILED",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	if removeContent {
		if err := s.blobs.Delete(key); err != nil {
			s.logger.Error("Не удалось удалить контент при откате",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// enrichContentType заменяет generic content_type результатом определения
// по сигнатуре содержимого. Заявленный клиентом конкретный тип не трогаем.
func (s *IngestService) enrichContentType(ctx context.Context, rec *model.FileRecord) {
	if !IsGenericContentType(rec.ContentType) {
		return
	}

	f, err := s.blobs.Open(rec.ContentKey())
	if err != nil {
		s.logger.Debug("Не удалось открыть контент для определения типа",
			slog.String("external_id", rec.ExternalID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer f.Close()

	detected := s.sniffer.Detect(f, rec.FileName)
	if IsGenericContentType(detected) || detected == rec.ContentType {
		return
	}

	if err := s.meta.UpdateContentType(ctx, rec.ID, detected); err != nil {
		s.logger.Warn("Не удалось обновить content_type",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	rec.ContentType = detected
	// Stat мог успеть закэшировать запись до обогащения
	s.cache.Invalidate(rec.ExternalID)
}

// Stat возвращает метаданные ACTIVE файла по external_id с проверкой доступа.
// Приватный файл чужого владельца неотличим от отсутствующего.
func (s *IngestService) Stat(ctx context.Context, externalID, requesterID string) (*model.FileRecord, error) {
	if cached, ok := s.cache.Get(externalID); ok {
		if !s.canAccess(&cached, requesterID) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, externalID)
		}
		return &cached, nil
	}

	rec, err := s.meta.FindActiveByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, externalID)
		}
		return nil, fmt.Errorf("%w: %s", ErrStorage, err)
	}

	s.cache.Put(*rec)

	if !s.canAccess(rec, requesterID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}
	return rec, nil
}

// Download возвращает метаданные и открытый поток контента.
// Вызывающий обязан закрыть Content.
func (s *IngestService) Download(ctx context.Context, externalID, requesterID string) (*DownloadResult, error) {
	rec, err := s.Stat(ctx, externalID, requesterID)
	if err != nil {
		return nil, err
	}

	f, err := s.blobs.Open(rec.ContentKey())
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			// Метаданные есть, контента нет — рассинхронизация хранилищ
			s.logger.Error("Контент отсутствует для ACTIVE записи",
				slog.String("external_id", externalID),
				slog.String("key", rec.ContentKey()),
			)
		}
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return nil, fmt.Errorf("%w: чтение контента: %s", ErrStorage, err)
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	return &DownloadResult{Record: rec, Content: f}, nil
}

// Delete удаляет файл владельца: сначала контент, затем перевод записи
// в DELETED. Контент удаляется первым, чтобы запись без контента никогда
// не выглядела скачиваемой.
func (s *IngestService) Delete(ctx context.Context, externalID, requesterID string) error {
	rec, err := s.meta.FindActiveByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, externalID)
		}
		return fmt.Errorf("%w: %s", ErrStorage, err)
	}

	// Удалять может только владелец; для остальных файл не существует
	if rec.UserID != requesterID {
		return fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}

	if err := s.blobs.Delete(rec.ContentKey()); err != nil {
		middleware.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("%w: удаление контента: %s", ErrStorage, err)
	}

	if err := s.meta.MarkDeleted(ctx, rec.ID); err != nil {
		middleware.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("%w: пометка записи: %s", ErrStorage, err)
	}

	s.cache.Invalidate(externalID)
	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()

	s.logger.Info("Файл удалён",
		slog.String("external_id", externalID),
		slog.String("user_id", requesterID),
	)
	return nil
}

// ListOwn возвращает ACTIVE файлы владельца с фильтрами и пагинацией.
func (s *IngestService) ListOwn(ctx context.Context, userID string, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	records, total, err := s.meta.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrStorage, err)
	}
	return records, total, nil
}

// ListPublic возвращает публичные ACTIVE файлы всех пользователей.
func (s *IngestService) ListPublic(ctx context.Context, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	params.Visibility = model.VisibilityPublic
	records, total, err := s.meta.ListPublic(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrStorage, err)
	}
	return records, total, nil
}

// Tags возвращает уникальные теги по доступным пользователю ACTIVE файлам.
func (s *IngestService) Tags(ctx context.Context, userID string) ([]string, error) {
	tags, err := s.meta.AccessibleTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStorage, err)
	}
	return tags, nil
}

// canAccess проверяет доступ к записи: публичные видны всем,
// приватные — только владельцу.
func (s *IngestService) canAccess(rec *model.FileRecord, requesterID string) bool {
	if rec.Visibility == model.VisibilityPublic {
		return true
	}
	return rec.UserID == requesterID
}
