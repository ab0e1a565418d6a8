// dephealth_name.go — определение имени экземпляра для dephealth.
// В Kubernetes hostname пода содержит суффиксы ReplicaSet/ordinal,
// которые нужно отбросить, чтобы имя сервиса было стабильным.
package main

import (
	"os"
	"strings"
)

// serviceInstanceID возвращает стабильный идентификатор экземпляра
// для dephealth: имя владельца пода из hostname или fallback.
func serviceInstanceID(fallback string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return fallback
	}
	return parseOwnerName(hostname)
}

// parseOwnerName извлекает имя владельца пода из hostname.
//
// Deployment:  <name>-<rs-hash>-<суффикс>  → <name>
// StatefulSet: <name>-<ordinal>            → <name>
// Иначе hostname возвращается как есть.
func parseOwnerName(hostname string) string {
	parts := strings.Split(hostname, "-")

	if len(parts) >= 3 {
		last := parts[len(parts)-1]
		penult := parts[len(parts)-2]
		if isPodSuffix(last) && isReplicaSetHash(penult) {
			return strings.Join(parts[:len(parts)-2], "-")
		}
	}

	if len(parts) >= 2 && isOrdinal(parts[len(parts)-1]) {
		return strings.Join(parts[:len(parts)-1], "-")
	}

	return hostname
}

// isPodSuffix — случайный суффикс пода: 5 строчных букв/цифр.
func isPodSuffix(s string) bool {
	if len(s) != 5 {
		return false
	}
	return isLowerAlnum(s)
}

// isReplicaSetHash — хэш ReplicaSet: 8-10 строчных букв/цифр,
// содержит хотя бы одну цифру.
func isReplicaSetHash(s string) bool {
	if len(s) < 8 || len(s) > 10 || !isLowerAlnum(s) {
		return false
	}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// isOrdinal — порядковый номер StatefulSet: только цифры.
func isOrdinal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isLowerAlnum(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
