package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/ingest-module/internal/service"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata/memory"
)

// newTestRouter собирает chi-роутер с файловыми endpoints поверх
// memory-хранилища. Аутентификация выключена: userId из query.
func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	return newTestRouterLimit(t, 1<<20)
}

func newTestRouterLimit(t *testing.T, maxFileSize int64) *chi.Mux {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	blobs, err := blob.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания blob store: %v", err)
	}

	ingest := service.NewIngestService(
		memory.New(),
		blobs,
		service.NewContentSniffer(logger),
		service.NewMetadataCache(16, time.Minute),
		5,
		logger,
	)
	files := NewFilesHandler(ingest, maxFileSize)

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/", files.Upload)
			r.Get("/", files.ListOwn)
			r.Get("/public", files.ListPublic)
			r.Get("/{externalId}", files.Stat)
			r.Get("/{externalId}/download", files.Download)
			r.Delete("/{externalId}", files.Delete)
		})
		r.Get("/tags", files.Tags)
	})
	return router
}

// uploadFile выполняет POST /api/v1/files и возвращает разобранный ответ.
func uploadFile(t *testing.T, router http.Handler, userID, fileName, content string, extra url.Values) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	q := url.Values{}
	q.Set("userId", userID)
	q.Set("fileName", fileName)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files?"+q.Encode(), strings.NewReader(content))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return body, rec
}

func TestUploadEndpoint_Success(t *testing.T) {
	router := newTestRouter(t)

	body, rec := uploadFile(t, router, "alice", "report.txt", "содержимое отчёта",
		url.Values{"visibility": {"public"}, "tags": {"docs,Финансы"}})

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался статус 201, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if body["fileName"] != "report.txt" {
		t.Errorf("fileName: получено %v", body["fileName"])
	}
	if body["visibility"] != "PUBLIC" {
		t.Errorf("visibility: получено %v", body["visibility"])
	}
	if body["externalId"] == "" || body["externalId"] == nil {
		t.Error("externalId пуст")
	}
	if body["contentHash"] == "" || body["contentHash"] == nil {
		t.Error("contentHash пуст")
	}
	if tags, ok := body["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags: получено %v", body["tags"])
	}
}

func TestUploadEndpoint_Validation(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"без userId", "fileName=a.txt", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"без fileName", "userId=alice", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"fileName с путём", "userId=alice&fileName=..%2Fetc%2Fpasswd", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"fileName точки", "userId=alice&fileName=..", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"невалидная видимость", "userId=alice&fileName=a.txt&visibility=internal", http.StatusBadRequest, "INVALID_VISIBILITY"},
		{"слишком много тегов", "userId=alice&fileName=a.txt&tags=a,b,c,d,e,f", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/files?"+tt.query, strings.NewReader("x"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("ожидался статус %d, получен %d, тело: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" && !strings.Contains(rec.Body.String(), tt.wantCode) {
				t.Errorf("ожидался код %s, тело: %s", tt.wantCode, rec.Body.String())
			}
		})
	}
}

// TestUploadEndpoint_OversizeChunkedBody проверяет лимит размера без
// Content-Length: превышение ловится через MaxBytesReader при чтении
// потока, а не по заголовку.
func TestUploadEndpoint_OversizeChunkedBody(t *testing.T) {
	router := newTestRouterLimit(t, 8)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files?userId=alice&fileName=big.bin",
		io.NopCloser(strings.NewReader("тело заметно длиннее восьми байт")))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("ожидался статус 413, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "FILE_TOO_LARGE") {
		t.Errorf("ожидался код FILE_TOO_LARGE, тело: %s", rec.Body.String())
	}

	// Имя освобождено: повторная загрузка в пределах лимита проходит
	if _, okRec := uploadFile(t, router, "alice", "big.bin", "ok", nil); okRec.Code != http.StatusCreated {
		t.Errorf("повторная загрузка после 413: статус %d, тело: %s", okRec.Code, okRec.Body.String())
	}
}

func TestUploadEndpoint_DuplicateName(t *testing.T) {
	router := newTestRouter(t)

	_, rec := uploadFile(t, router, "alice", "dup.txt", "первый", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("первая загрузка: %d", rec.Code)
	}

	_, rec = uploadFile(t, router, "alice", "dup.txt", "второй", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("ожидался статус 409, получен %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "DUPLICATE_NAME") {
		t.Errorf("ожидался код DUPLICATE_NAME, тело: %s", rec.Body.String())
	}
}

func TestUploadEndpoint_DuplicateContent(t *testing.T) {
	router := newTestRouter(t)

	_, rec := uploadFile(t, router, "alice", "a.txt", "идентичный контент", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("первая загрузка: %d", rec.Code)
	}

	_, rec = uploadFile(t, router, "alice", "b.txt", "идентичный контент", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("ожидался статус 409, получен %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "DUPLICATE_CONTENT") {
		t.Errorf("ожидался код DUPLICATE_CONTENT, тело: %s", rec.Body.String())
	}
}

func TestDownloadEndpoint_RoundTrip(t *testing.T) {
	router := newTestRouter(t)

	content := "байты для скачивания"
	body, rec := uploadFile(t, router, "alice", "dl.txt", content, nil)
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	externalID := body["externalId"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/"+externalID+"/download?userId=alice", nil)
	dlRec := httptest.NewRecorder()
	router.ServeHTTP(dlRec, req)

	if dlRec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", dlRec.Code)
	}
	got, _ := io.ReadAll(dlRec.Body)
	if !bytes.Equal(got, []byte(content)) {
		t.Error("скачанный контент не совпадает")
	}
	if cd := dlRec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition: %q", cd)
	}
}

func TestStatEndpoint_AccessCollapse(t *testing.T) {
	router := newTestRouter(t)

	body, rec := uploadFile(t, router, "alice", "private.txt", "секрет", nil)
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	externalID := body["externalId"].(string)

	// Владелец видит метаданные
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/"+externalID+"?userId=alice", nil)
	ownRec := httptest.NewRecorder()
	router.ServeHTTP(ownRec, req)
	if ownRec.Code != http.StatusOK {
		t.Errorf("владелец: ожидался статус 200, получен %d", ownRec.Code)
	}

	// Для чужого пользователя приватный файл неотличим от отсутствующего
	req = httptest.NewRequest(http.MethodGet, "/api/v1/files/"+externalID+"?userId=bob", nil)
	otherRec := httptest.NewRecorder()
	router.ServeHTTP(otherRec, req)
	if otherRec.Code != http.StatusNotFound {
		t.Errorf("чужой пользователь: ожидался статус 404, получен %d", otherRec.Code)
	}
}

func TestDeleteEndpoint_Flow(t *testing.T) {
	router := newTestRouter(t)

	body, rec := uploadFile(t, router, "alice", "del.txt", "на удаление", nil)
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	externalID := body["externalId"].(string)

	// Чужой пользователь получает 404
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+externalID+"?userId=bob", nil)
	foreignRec := httptest.NewRecorder()
	router.ServeHTTP(foreignRec, req)
	if foreignRec.Code != http.StatusNotFound {
		t.Errorf("чужой пользователь: ожидался статус 404, получен %d", foreignRec.Code)
	}

	// Владелец удаляет
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+externalID+"?userId=alice", nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, req)
	if delRec.Code != http.StatusNoContent {
		t.Errorf("ожидался статус 204, получен %d", delRec.Code)
	}

	// Повторное удаление — 404
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+externalID+"?userId=alice", nil)
	repeatRec := httptest.NewRecorder()
	router.ServeHTTP(repeatRec, req)
	if repeatRec.Code != http.StatusNotFound {
		t.Errorf("повторное удаление: ожидался статус 404, получен %d", repeatRec.Code)
	}
}

func TestListEndpoints(t *testing.T) {
	router := newTestRouter(t)

	uploads := []struct {
		user, name, vis string
	}{
		{"alice", "a1.txt", "private"},
		{"alice", "a2.txt", "public"},
		{"bob", "b1.txt", "public"},
	}
	for _, u := range uploads {
		if _, rec := uploadFile(t, router, u.user, u.name, "контент "+u.name,
			url.Values{"visibility": {u.vis}}); rec.Code != http.StatusCreated {
			t.Fatalf("загрузка %s: %d %s", u.name, rec.Code, rec.Body.String())
		}
	}

	// Листинг своих файлов
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files?userId=alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("листинг: статус %d", rec.Code)
	}
	var listBody struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listBody); err != nil {
		t.Fatal(err)
	}
	if listBody.Total != 2 || len(listBody.Items) != 2 {
		t.Errorf("файлы alice: ожидалось 2, получено total=%d len=%d", listBody.Total, len(listBody.Items))
	}

	// Публичный листинг
	req = httptest.NewRequest(http.MethodGet, "/api/v1/files/public", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("публичный листинг: статус %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listBody); err != nil {
		t.Fatal(err)
	}
	if listBody.Total != 2 {
		t.Errorf("публичные файлы: ожидалось 2, получено %d", listBody.Total)
	}

	// Невалидный limit
	req = httptest.NewRequest(http.MethodGet, "/api/v1/files?userId=alice&limit=5000", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=5000: ожидался статус 400, получен %d", rec.Code)
	}
}

func TestTagsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	if _, rec := uploadFile(t, router, "alice", "a.txt", "1",
		url.Values{"tags": {"Docs,internal"}}); rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	if _, rec := uploadFile(t, router, "bob", "b.txt", "2",
		url.Values{"visibility": {"public"}, "tags": {"shared"}}); rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tags?userId=alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d", rec.Code)
	}

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tags) != 3 {
		t.Errorf("теги: ожидалось 3, получено %v", body.Tags)
	}
}
