package service

import (
	"bytes"
	"strings"
	"testing"
)

func TestDetect_PNGSignature(t *testing.T) {
	s := NewContentSniffer(testLogger())

	// Минимальная PNG сигнатура
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	got := s.Detect(bytes.NewReader(pngHeader), "image.png")
	if got != "image/png" {
		t.Errorf("ожидалось image/png, получено %q", got)
	}
}

func TestDetect_PlainText(t *testing.T) {
	s := NewContentSniffer(testLogger())

	got := s.Detect(strings.NewReader("просто текст\n"), "notes.txt")
	if got != "text/plain" {
		t.Errorf("ожидалось text/plain, получено %q", got)
	}
}

func TestDetect_ExtensionFallback(t *testing.T) {
	s := NewContentSniffer(testLogger())

	// Бинарный мусор без сигнатуры: содержимое даёт octet-stream,
	// расширение подсказывает css
	junk := []byte{0x00, 0x01, 0x02, 0xFF, 0xFE}
	got := s.Detect(bytes.NewReader(junk), "styles.css")
	if got != "text/css" {
		t.Errorf("ожидалось text/css по расширению, получено %q", got)
	}
}

func TestIsGenericContentType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"application/octet-stream", true},
		{"Application/Octet-Stream", true},
		{"application/octet-stream; charset=binary", true},
		{"  application/octet-stream  ", true},
		{"text/plain", false},
		{"image/png", false},
	}

	for _, tt := range tests {
		if got := IsGenericContentType(tt.in); got != tt.want {
			t.Errorf("IsGenericContentType(%q): ожидалось %v, получено %v", tt.in, tt.want, got)
		}
	}
}
