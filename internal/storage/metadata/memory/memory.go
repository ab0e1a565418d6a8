// Пакет memory — эталонная in-memory реализация metadata.Store.
//
// Потокобезопасна: sync.RWMutex, все ограничения уникальности
// проверяются под эксклюзивной блокировкой, что даёт ту же атомарную
// семантику, что partial unique indexes у postgres-реализации.
// Наружу отдаются только копии записей. Не персистентна — используется
// в тестах и в standalone-развёртывании без PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata"
)

// Store — in-memory хранилище метаданных.
type Store struct {
	mu      sync.RWMutex
	records map[string]*model.FileRecord // id → record
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		records: make(map[string]*model.FileRecord),
	}
}

// Проверка соответствия контракту на этапе компиляции.
var _ metadata.Store = (*Store)(nil)

// InsertPending вставляет PENDING запись, назначая ID.
// Конфликт (user_id, file_name) среди нетерминальных записей — ErrNameTaken.
func (s *Store) InsertPending(_ context.Context, rec model.FileRecord) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.IsTerminal() {
			continue
		}
		if existing.UserID == rec.UserID && existing.FileName == rec.FileName {
			return nil, fmt.Errorf("файл %s пользователя %s: %w",
				rec.FileName, rec.UserID, metadata.ErrNameTaken)
		}
	}

	rec.ID = uuid.New().String()
	rec.Status = model.StatusPending
	stored := rec
	s.records[stored.ID] = &stored

	copied := stored
	return &copied, nil
}

// PromoteToActive атомарно продвигает PENDING запись в ACTIVE.
// При конфликте hash или external_id запись остаётся PENDING.
func (s *Store) PromoteToActive(_ context.Context, id, contentHash string, size int64) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Status != model.StatusPending {
		return nil, fmt.Errorf("запись %s не найдена в статусе PENDING: %w", id, metadata.ErrNotFound)
	}

	for _, existing := range s.records {
		if existing.ID == id || existing.Status != model.StatusActive {
			continue
		}
		if existing.UserID == rec.UserID && existing.ContentHash == contentHash {
			return nil, fmt.Errorf("hash %s пользователя %s: %w",
				contentHash, rec.UserID, metadata.ErrContentExists)
		}
		if existing.ExternalID == rec.ExternalID {
			return nil, fmt.Errorf("external_id %s: %w",
				rec.ExternalID, metadata.ErrContentExists)
		}
	}

	promoted := rec.Promoted(contentHash, size)
	s.records[id] = &promoted

	copied := promoted
	return &copied, nil
}

// MarkFailed безусловно переводит запись в FAILED.
func (s *Store) MarkFailed(_ context.Context, id string) error {
	return s.setStatus(id, model.StatusFailed)
}

// MarkDeleted безусловно переводит запись в DELETED.
func (s *Store) MarkDeleted(_ context.Context, id string) error {
	return s.setStatus(id, model.StatusDeleted)
}

func (s *Store) setStatus(id string, status model.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("запись %s: %w", id, metadata.ErrNotFound)
	}

	updated := *rec
	updated.Status = status
	s.records[id] = &updated
	return nil
}

// UpdateContentType обновляет content_type записи.
func (s *Store) UpdateContentType(_ context.Context, id, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("запись %s: %w", id, metadata.ErrNotFound)
	}

	updated := *rec
	updated.ContentType = contentType
	s.records[id] = &updated
	return nil
}

// FindActiveByExternalID возвращает ACTIVE запись по external_id.
func (s *Store) FindActiveByExternalID(_ context.Context, externalID string) (*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ExternalID == externalID && rec.Status == model.StatusActive {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("external_id %s: %w", externalID, metadata.ErrNotFound)
}

// ListByUser возвращает ACTIVE файлы владельца с фильтрами и пагинацией.
func (s *Store) ListByUser(_ context.Context, userID string, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := s.collect(func(rec *model.FileRecord) bool {
		if rec.Status != model.StatusActive || rec.UserID != userID {
			return false
		}
		if params.Visibility != "" && rec.Visibility != params.Visibility {
			return false
		}
		if params.Tag != "" && !rec.HasTag(params.Tag) {
			return false
		}
		return true
	})

	return paginate(filtered, params)
}

// ListPublic возвращает публичные ACTIVE файлы.
func (s *Store) ListPublic(_ context.Context, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := s.collect(func(rec *model.FileRecord) bool {
		if rec.Status != model.StatusActive || rec.Visibility != model.VisibilityPublic {
			return false
		}
		if params.Tag != "" && !rec.HasTag(params.Tag) {
			return false
		}
		return true
	})

	return paginate(filtered, params)
}

// AccessibleTags возвращает уникальные теги по собственным и публичным
// ACTIVE файлам, отсортированные по возрастанию.
func (s *Store) AccessibleTags(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, rec := range s.records {
		if rec.Status != model.StatusActive {
			continue
		}
		if rec.UserID != userID && rec.Visibility != model.VisibilityPublic {
			continue
		}
		for _, tag := range rec.Tags {
			seen[strings.ToLower(tag)] = true
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// ListStalePending возвращает записи, застрявшие в PENDING
// с временем загрузки раньше cutoff.
func (s *Store) ListStalePending(_ context.Context, cutoff time.Time) ([]*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoffMillis := cutoff.UnixMilli()
	var result []*model.FileRecord
	for _, rec := range s.records {
		if rec.Status == model.StatusPending && rec.UploadedAtMillis < cutoffMillis {
			copied := *rec
			result = append(result, &copied)
		}
	}
	return result, nil
}

// Count возвращает общее количество записей (включая tombstone).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// collect собирает копии записей по предикату. Вызывается под блокировкой.
func (s *Store) collect(match func(*model.FileRecord) bool) []*model.FileRecord {
	var result []*model.FileRecord
	for _, rec := range s.records {
		if match(rec) {
			copied := *rec
			result = append(result, &copied)
		}
	}
	return result
}

// paginate сортирует и применяет limit/offset к срезу записей.
func paginate(records []*model.FileRecord, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	sortRecords(records, params)

	total := len(records)
	if params.Offset >= total {
		return nil, total, nil
	}

	end := total
	if params.Limit > 0 && params.Offset+params.Limit < total {
		end = params.Offset + params.Limit
	}
	return records[params.Offset:end], total, nil
}

// sortRecords сортирует записи по whitelist-полю.
// По умолчанию — uploaded_at по убыванию (новые первые).
func sortRecords(records []*model.FileRecord, params metadata.ListParams) {
	sortBy := params.SortBy
	desc := params.Descending
	if sortBy == "" {
		sortBy = metadata.SortByUploadedAt
		desc = true
	}

	less := func(a, b *model.FileRecord) bool {
		switch sortBy {
		case metadata.SortByFileName:
			return a.FileName < b.FileName
		case metadata.SortBySize:
			return a.Size < b.Size
		default:
			return a.UploadedAtMillis < b.UploadedAtMillis
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if desc {
			return less(records[j], records[i])
		}
		return less(records[i], records[j])
	})
}
