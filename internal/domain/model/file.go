// Пакет model — доменные модели Ingest Module.
// FileRecord — единственная сущность: метаданные загруженного файла
// с жизненным циклом PENDING → ACTIVE/FAILED → DELETED.
package model

import (
	"fmt"
	"strings"
)

// FileStatus — статус файла в хранилище.
type FileStatus string

const (
	// StatusPending — запись создана, контент ещё записывается
	StatusPending FileStatus = "PENDING"
	// StatusActive — файл успешно загружен и доступен
	StatusActive FileStatus = "ACTIVE"
	// StatusFailed — загрузка завершилась ошибкой (tombstone)
	StatusFailed FileStatus = "FAILED"
	// StatusDeleted — файл удалён пользователем (tombstone)
	StatusDeleted FileStatus = "DELETED"
)

// Visibility — видимость файла для других пользователей.
type Visibility string

const (
	// VisibilityPublic — файл доступен всем
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityPrivate — файл доступен только владельцу
	VisibilityPrivate Visibility = "PRIVATE"
)

// ParseVisibility разбирает строку видимости без учёта регистра.
// Пустая строка — значение по умолчанию PRIVATE.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return VisibilityPrivate, nil
	case string(VisibilityPublic):
		return VisibilityPublic, nil
	case string(VisibilityPrivate):
		return VisibilityPrivate, nil
	default:
		return "", fmt.Errorf("недопустимое значение visibility %q, допустимые: PUBLIC, PRIVATE", s)
	}
}

// FileRecord — метаданные файла. Значение неизменяемое: каждый переход
// статуса порождает новую копию через методы Promoted/Failed/Deleted,
// которую слой персистентности фиксирует атомарно.
type FileRecord struct {
	// ID — первичный ключ, назначается MetadataStore при InsertPending
	ID string `json:"id"`

	// ExternalID — публичный непрозрачный идентификатор (UUID v4).
	// Используется как хэндл скачивания и как часть ключа контента.
	ExternalID string `json:"external_id"`

	// UserID — идентификатор владельца
	UserID string `json:"user_id"`

	// FileName — имя файла, заданное при загрузке
	FileName string `json:"file_name"`

	// Visibility — видимость файла (PUBLIC/PRIVATE)
	Visibility Visibility `json:"visibility"`

	// Tags — нормализованные теги (без дубликатов, порядок не значим)
	Tags []string `json:"tags,omitempty"`

	// UploadedAtMillis — время создания записи, миллисекунды UTC epoch
	UploadedAtMillis int64 `json:"uploaded_at_millis"`

	// ContentType — MIME-тип: подсказка клиента, может быть один раз
	// перезаписан результатом sniffing после активации
	ContentType string `json:"content_type,omitempty"`

	// Size — размер контента в байтах. Заполняется после записи контента.
	Size int64 `json:"size"`

	// ContentHash — hex SHA-256 контента. Заполняется после записи контента.
	ContentHash string `json:"content_hash,omitempty"`

	// Status — текущий статус записи
	Status FileStatus `json:"status"`
}

// ContentKey возвращает ключ контента в ContentStore: {userID}/{externalID}.
// Ключи разных попыток загрузки никогда не пересекаются (externalID уникален
// на попытку), поэтому компенсирующее удаление не может задеть чужой контент.
func (r *FileRecord) ContentKey() string {
	return r.UserID + "/" + r.ExternalID
}

// IsActive проверяет, что запись в активном состоянии.
func (r *FileRecord) IsActive() bool {
	return r.Status == StatusActive
}

// IsTerminal проверяет, что запись — tombstone (FAILED или DELETED).
// Tombstone-записи не участвуют в ограничениях уникальности.
func (r *FileRecord) IsTerminal() bool {
	return r.Status == StatusFailed || r.Status == StatusDeleted
}

// Promoted возвращает копию записи, переведённую в ACTIVE с заполненными
// hash и size.
func (r FileRecord) Promoted(contentHash string, size int64) FileRecord {
	r.ContentHash = contentHash
	r.Size = size
	r.Status = StatusActive
	return r
}

// Failed возвращает копию записи со статусом FAILED.
func (r FileRecord) Failed() FileRecord {
	r.Status = StatusFailed
	return r
}

// Deleted возвращает копию записи со статусом DELETED.
func (r FileRecord) Deleted() FileRecord {
	r.Status = StatusDeleted
	return r
}

// NormalizeTags приводит теги к каноническому виду: trim, нижний регистр,
// удаление пустых и дубликатов. Порядок исходного среза сохраняется.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	result := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		result = append(result, t)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// HasTag проверяет наличие тега (теги хранятся в нижнем регистре).
func (r *FileRecord) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
