// Пакет service — бизнес-логика Ingest Module.
// sniff.go — определение MIME-типа контента по содержимому и расширению.
package service

import (
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Sniffer определяет MIME-тип контента. Ошибки определения никогда
// не прерывают загрузку: при неудаче возвращается generic-тип.
type Sniffer interface {
	// Detect читает начало потока и возвращает MIME-тип.
	Detect(r io.Reader, fileName string) string
}

// ContentSniffer — реализация Sniffer поверх gabriel-vasile/mimetype.
type ContentSniffer struct {
	logger *slog.Logger
}

var _ Sniffer = (*ContentSniffer)(nil)

// NewContentSniffer создаёт сниффер MIME-типов.
func NewContentSniffer(logger *slog.Logger) *ContentSniffer {
	return &ContentSniffer{
		logger: logger.With(slog.String("component", "content_sniffer")),
	}
}

// Detect определяет MIME-тип по сигнатуре содержимого.
// Если сигнатура даёт только generic-тип, пробует расширение имени файла.
// При ошибке чтения возвращает application/octet-stream.
func (s *ContentSniffer) Detect(r io.Reader, fileName string) string {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		s.logger.Debug("Не удалось определить MIME-тип по содержимому",
			slog.String("file_name", fileName),
			slog.String("error", err.Error()),
		)
		return fallbackByExtension(fileName)
	}

	detected := mtype.String()
	// mimetype возвращает параметры (charset) для текстовых типов
	if idx := strings.Index(detected, ";"); idx != -1 {
		detected = strings.TrimSpace(detected[:idx])
	}

	if IsGenericContentType(detected) {
		if byExt := fallbackByExtension(fileName); !IsGenericContentType(byExt) {
			return byExt
		}
	}
	return detected
}

// IsGenericContentType сообщает, является ли тип неинформативным:
// пустым или application/octet-stream (с параметрами или без).
func IsGenericContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return ct == "application/octet-stream"
}

// fallbackByExtension возвращает MIME-тип по расширению имени файла
// или application/octet-stream, если расширение неизвестно.
func fallbackByExtension(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	byExt := mime.TypeByExtension(ext)
	if byExt == "" {
		return "application/octet-stream"
	}
	if idx := strings.Index(byExt, ";"); idx != -1 {
		byExt = strings.TrimSpace(byExt[:idx])
	}
	return byExt
}
