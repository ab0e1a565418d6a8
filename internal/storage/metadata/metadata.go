// Пакет metadata — контракт хранилища метаданных файлов.
//
// Хранилище — единственное место, где обеспечивается уникальность:
//   - (user_id, file_name) среди записей PENDING и ACTIVE
//   - (user_id, content_hash) среди записей ACTIVE
//   - external_id среди записей ACTIVE
//
// Координатор загрузки никогда не делает предварительных проверок
// существования (исключает TOCTOU): он вставляет/продвигает запись и
// ветвится по ошибкам конфликта. Tombstone-записи (FAILED, DELETED)
// в ограничениях не участвуют и никогда не удаляются.
//
// Реализации: memory (эталонная, для тестов и standalone) и postgres
// (partial unique indexes, конфликты на уровне СУБД).
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// Ошибки слоя метаданных.
var (
	// ErrNotFound — активная запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrNameTaken — у владельца уже есть живая (PENDING/ACTIVE) запись с таким именем.
	ErrNameTaken = errors.New("имя файла уже занято")
	// ErrContentExists — у владельца уже есть ACTIVE запись с таким хэшом контента,
	// либо external_id уже занят активной записью.
	ErrContentExists = errors.New("контент уже существует")
)

// Допустимые поля сортировки листингов (whitelist).
const (
	SortByUploadedAt = "uploaded_at"
	SortByFileName   = "file_name"
	SortBySize       = "size"
)

// ListParams — параметры листинга файлов.
type ListParams struct {
	// Visibility — фильтр по видимости (пустое значение = без фильтра)
	Visibility model.Visibility
	// Tag — фильтр по тегу (пустое значение = без фильтра)
	Tag string
	// SortBy — поле сортировки из whitelist (по умолчанию uploaded_at)
	SortBy string
	// Descending — направление сортировки (по умолчанию true для uploaded_at)
	Descending bool
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// Store — хранилище метаданных файлов. Все операции атомарны
// относительно ограничений уникальности.
type Store interface {
	// InsertPending вставляет новую запись в статусе PENDING, назначая ID.
	// Возвращает ErrNameTaken при конфликте (user_id, file_name)
	// среди нетерминальных записей.
	InsertPending(ctx context.Context, rec model.FileRecord) (*model.FileRecord, error)

	// PromoteToActive атомарно устанавливает hash, size и статус ACTIVE.
	// Возвращает ErrContentExists при конфликте (user_id, content_hash)
	// или external_id среди ACTIVE записей; запись при этом остаётся
	// PENDING и не модифицируется — координатор сам переведёт её в FAILED.
	PromoteToActive(ctx context.Context, id, contentHash string, size int64) (*model.FileRecord, error)

	// MarkFailed безусловно переводит запись в FAILED.
	MarkFailed(ctx context.Context, id string) error

	// MarkDeleted безусловно переводит запись в DELETED.
	MarkDeleted(ctx context.Context, id string) error

	// UpdateContentType обновляет content_type записи (обогащение после sniffing).
	UpdateContentType(ctx context.Context, id, contentType string) error

	// FindActiveByExternalID возвращает ACTIVE запись по external_id
	// или ErrNotFound. Записи в других статусах невидимы.
	FindActiveByExternalID(ctx context.Context, externalID string) (*model.FileRecord, error)

	// ListByUser возвращает ACTIVE файлы владельца с фильтрами и пагинацией,
	// плюс общее количество с учётом фильтров.
	ListByUser(ctx context.Context, userID string, params ListParams) ([]*model.FileRecord, int, error)

	// ListPublic возвращает ACTIVE файлы с видимостью PUBLIC.
	ListPublic(ctx context.Context, params ListParams) ([]*model.FileRecord, int, error)

	// AccessibleTags возвращает отсортированный список уникальных тегов
	// (в нижнем регистре) по ACTIVE файлам, принадлежащим пользователю
	// или публичным.
	AccessibleTags(ctx context.Context, userID string) ([]string, error)

	// ListStalePending возвращает записи, застрявшие в PENDING с момента
	// загрузки раньше cutoff. Используется фоновой сверкой.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*model.FileRecord, error)
}
