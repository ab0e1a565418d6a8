// files.go — HTTP handlers файловых операций Ingest Module.
// Upload (raw body), Download, Stat, Delete, листинги, теги.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	ingest      *service.IngestService
	maxFileSize int64
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(ingest *service.IngestService, maxFileSize int64) *FilesHandler {
	return &FilesHandler{
		ingest:      ingest,
		maxFileSize: maxFileSize,
	}
}

// fileResponse — представление файла в API.
type fileResponse struct {
	ExternalID  string   `json:"externalId"`
	FileName    string   `json:"fileName"`
	UserID      string   `json:"userId"`
	Visibility  string   `json:"visibility"`
	Tags        []string `json:"tags"`
	UploadedAt  int64    `json:"uploadedAt"`
	ContentType string   `json:"contentType,omitempty"`
	Size        int64    `json:"size"`
	ContentHash string   `json:"contentHash,omitempty"`
}

// listResponse — постраничный листинг файлов.
type listResponse struct {
	Items  []fileResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func toFileResponse(rec *model.FileRecord) fileResponse {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return fileResponse{
		ExternalID:  rec.ExternalID,
		FileName:    rec.FileName,
		UserID:      rec.UserID,
		Visibility:  string(rec.Visibility),
		Tags:        tags,
		UploadedAt:  rec.UploadedAtMillis,
		ContentType: rec.ContentType,
		Size:        rec.Size,
		ContentHash: rec.ContentHash,
	}
}

// timeFromMillis переводит миллисекунды UTC epoch в time.Time для заголовков HTTP.
func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// resolveUserID определяет идентификатор пользователя запроса.
// При включённой JWT-аутентификации sub из токена имеет приоритет
// над query-параметром userId.
func resolveUserID(r *http.Request) string {
	if sub := middleware.SubjectFromContext(r.Context()); sub != "" {
		return sub
	}
	return r.URL.Query().Get("userId")
}

// validFileName отклоняет имена с разделителями пути и переходами наверх.
// Ключи контента строятся из userID/externalID, но имя всё равно не должно
// выглядеть как path traversal.
func validFileName(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	return name != "." && name != ".."
}

// Upload обрабатывает POST /api/v1/files.
// Контент передаётся сырым телом запроса; параметры — в query:
// userId, fileName (обязательные), visibility, tags (опциональные).
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := resolveUserID(r)
	if userID == "" {
		apierrors.ValidationError(w, "Параметр userId обязателен")
		return
	}

	fileName := q.Get("fileName")
	if !validFileName(fileName) {
		apierrors.ValidationError(w, "Параметр fileName обязателен и не должен содержать разделителей пути")
		return
	}

	if r.ContentLength > h.maxFileSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла %d байт превышает максимум %d байт",
			r.ContentLength, h.maxFileSize))
		return
	}

	var tags []string
	if rawTags := q.Get("tags"); rawTags != "" {
		tags = strings.Split(rawTags, ",")
	}

	// Подсказка типа из заголовка, без параметров (charset и т.д.)
	contentTypeHint := r.Header.Get("Content-Type")
	if contentTypeHint != "" {
		if parsed, _, err := mime.ParseMediaType(contentTypeHint); err == nil {
			contentTypeHint = parsed
		}
	}

	body := http.MaxBytesReader(w, r.Body, h.maxFileSize)
	defer body.Close()

	rec, err := h.ingest.Upload(r.Context(), service.UploadParams{
		Reader:          body,
		UserID:          userID,
		FileName:        fileName,
		Visibility:      q.Get("visibility"),
		ContentTypeHint: contentTypeHint,
		Tags:            tags,
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec))
}

// writeUploadError транслирует ошибки сервиса загрузки в HTTP-ответы.
func (h *FilesHandler) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidVisibility):
		apierrors.InvalidVisibility(w, err.Error())
	case errors.Is(err, service.ErrTooManyTags):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrDuplicateName):
		apierrors.DuplicateName(w, err.Error())
	case errors.Is(err, service.ErrDuplicateContent):
		apierrors.DuplicateContent(w, err.Error())
	default:
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает максимум %d байт", h.maxFileSize))
			return
		}
		apierrors.StorageError(w, "Ошибка сохранения файла")
	}
}

// Stat обрабатывает GET /api/v1/files/{externalId}.
func (h *FilesHandler) Stat(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalId")

	rec, err := h.ingest.Stat(r.Context(), externalID, resolveUserID(r))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", externalID))
			return
		}
		apierrors.StorageError(w, "Ошибка чтения метаданных")
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// Download обрабатывает GET /api/v1/files/{externalId}/download.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalId")

	result, err := h.ingest.Download(r.Context(), externalID, resolveUserID(r))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", externalID))
			return
		}
		apierrors.StorageError(w, "Ошибка чтения контента")
		return
	}
	defer result.Content.Close()

	rec := result.Record
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName}))

	http.ServeContent(w, r, rec.FileName, timeFromMillis(rec.UploadedAtMillis), result.Content)
}

// Delete обрабатывает DELETE /api/v1/files/{externalId}.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalId")

	userID := resolveUserID(r)
	if userID == "" {
		apierrors.ValidationError(w, "Параметр userId обязателен")
		return
	}

	if err := h.ingest.Delete(r.Context(), externalID, userID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", externalID))
			return
		}
		apierrors.StorageError(w, "Ошибка удаления файла")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListOwn обрабатывает GET /api/v1/files — файлы владельца.
func (h *FilesHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r)
	if userID == "" {
		apierrors.ValidationError(w, "Параметр userId обязателен")
		return
	}

	params, ok := parseListParams(w, r)
	if !ok {
		return
	}

	records, total, err := h.ingest.ListOwn(r.Context(), userID, params)
	if err != nil {
		apierrors.StorageError(w, "Ошибка получения списка файлов")
		return
	}

	writeListResponse(w, records, total, params)
}

// ListPublic обрабатывает GET /api/v1/files/public — публичные файлы.
func (h *FilesHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	params, ok := parseListParams(w, r)
	if !ok {
		return
	}

	records, total, err := h.ingest.ListPublic(r.Context(), params)
	if err != nil {
		apierrors.StorageError(w, "Ошибка получения списка файлов")
		return
	}

	writeListResponse(w, records, total, params)
}

// Tags обрабатывает GET /api/v1/tags — уникальные теги доступных файлов.
func (h *FilesHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.ingest.Tags(r.Context(), resolveUserID(r))
	if err != nil {
		apierrors.StorageError(w, "Ошибка получения тегов")
		return
	}
	if tags == nil {
		tags = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// parseListParams разбирает и валидирует общие параметры листингов.
func parseListParams(w http.ResponseWriter, r *http.Request) (metadata.ListParams, bool) {
	q := r.URL.Query()
	params := metadata.ListParams{
		Limit:  50,
		Tag:    strings.ToLower(strings.TrimSpace(q.Get("tag"))),
		SortBy: q.Get("sortBy"),
	}

	if rawLimit := q.Get("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 || limit > 1000 {
			apierrors.ValidationError(w, "Параметр limit должен быть от 1 до 1000")
			return params, false
		}
		params.Limit = limit
	}

	if rawOffset := q.Get("offset"); rawOffset != "" {
		offset, err := strconv.Atoi(rawOffset)
		if err != nil || offset < 0 {
			apierrors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return params, false
		}
		params.Offset = offset
	}

	switch params.SortBy {
	case "", metadata.SortByUploadedAt, metadata.SortByFileName, metadata.SortBySize:
		// ok
	default:
		apierrors.ValidationError(w, fmt.Sprintf("Недопустимое поле сортировки: %s", params.SortBy))
		return params, false
	}

	switch order := q.Get("order"); order {
	case "", "desc":
		params.Descending = true
	case "asc":
		params.Descending = false
	default:
		apierrors.ValidationError(w, "Параметр order должен быть asc или desc")
		return params, false
	}

	if rawVis := q.Get("visibility"); rawVis != "" {
		vis, err := model.ParseVisibility(rawVis)
		if err != nil {
			apierrors.InvalidVisibility(w, err.Error())
			return params, false
		}
		params.Visibility = vis
	}

	return params, true
}

func writeListResponse(w http.ResponseWriter, records []*model.FileRecord, total int, params metadata.ListParams) {
	items := make([]fileResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toFileResponse(rec))
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:  items,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	})
}
