// Пакет blob — операции с контентом файлов на диске.
// Контент адресуется непрозрачным ключом {userID}/{externalID}.
// Запись строго create-only: занятый ключ никогда не перезаписывается.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Ошибки хранилища контента.
var (
	// ErrExists — ключ уже занят контентом.
	ErrExists = errors.New("контент с таким ключом уже существует")
	// ErrNotFound — по ключу нет контента.
	ErrNotFound = errors.New("контент не найден")
)

// Store — дисковое хранилище контента.
type Store struct {
	// dataDir — корневая директория хранения (IM_DATA_DIR)
	dataDir string
}

// New создаёт Store. Проверяет и создаёт корневую директорию,
// если она не существует.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Save записывает все байты из reader под указанным ключом.
//
// Паттерн: temp файл → streaming запись → fsync → атомарная публикация.
// Публикация через os.Link вместо os.Rename: hard link завершается EEXIST,
// если ключ уже занят, что даёт атомарную create-only семантику без
// предварительной проверки существования (нет TOCTOU). На занятый ключ
// возвращается ErrExists. При любой ошибке записи частичные данные
// удаляются до возврата ошибки.
func (s *Store) Save(key string, reader io.Reader) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию для ключа %s: %w", key, err)
	}

	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарная публикация: link падает с EEXIST на занятом ключе
	if err := os.Link(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		if os.IsExist(err) {
			return fmt.Errorf("ключ %s: %w", key, ErrExists)
		}
		return fmt.Errorf("ошибка публикации файла: %w", err)
	}

	if err := os.Remove(tmpPath); err != nil {
		// Контент опубликован, осиротевший tmp не влияет на корректность
		return nil
	}

	return nil
}

// Open открывает контент для чтения. Вызывающий код обязан закрыть файл.
// Возвращает ErrNotFound, если по ключу нет контента.
func (s *Store) Open(key string) (*os.File, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("ключ %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}
	return f, nil
}

// Delete удаляет контент по ключу. Идемпотентен: отсутствие контента — не ошибка.
func (s *Store) Delete(key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления контента %s: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие контента по ключу.
func (s *Store) Exists(key string) bool {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(fullPath)
	return statErr == nil
}

// DataDir возвращает путь к корневой директории хранения.
func (s *Store) DataDir() string {
	return s.dataDir
}

// resolve превращает ключ в абсолютный путь внутри dataDir.
// Ключи формируются из проверенных значений (userID и UUID), но траверс
// за пределы dataDir отсекается и здесь — хранилище не полагается на
// дисциплину вызывающего кода.
func (s *Store) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("некорректный ключ контента: %q", key)
	}
	fullPath := filepath.Join(s.dataDir, filepath.FromSlash(key))
	if !strings.HasPrefix(fullPath, filepath.Clean(s.dataDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("ключ %q выходит за пределы директории данных", key)
	}
	return fullPath, nil
}
