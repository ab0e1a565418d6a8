// Пакет postgres — реализация metadata.Store поверх PostgreSQL.
//
// Уникальность обеспечивается на уровне СУБД partial unique indexes
// (см. internal/database/migrations), а не проверками в коде:
// конкурентные загрузки разрешаются атомарно самой базой, нарушение
// уникальности транслируется в доменные ошибки по имени индекса.
// Все запросы — чистый SQL через pgx, без ORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata"
)

// Имена partial unique indexes из миграций. По ним нарушение
// уникальности транслируется в доменную ошибку.
const (
	constraintUserName   = "files_user_name_live_idx"
	constraintUserHash   = "files_user_hash_active_idx"
	constraintExternalID = "files_external_id_active_idx"
)

// fileColumns — список столбцов таблицы files для SELECT/RETURNING.
// DRY: одно место для всех запросов.
const fileColumns = `id, external_id, user_id, file_name, visibility, tags,
	uploaded_at, content_type, size, content_hash, status`

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — реализация metadata.Store через pgx.
type Store struct {
	db DBTX
}

// New создаёт хранилище метаданных поверх PostgreSQL.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Проверка соответствия контракту на этапе компиляции.
var _ metadata.Store = (*Store)(nil)

// InsertPending вставляет PENDING запись. Конфликт имени среди живых
// записей ловится по индексу files_user_name_live_idx.
func (s *Store) InsertPending(ctx context.Context, rec model.FileRecord) (*model.FileRecord, error) {
	query := fmt.Sprintf(`
		INSERT INTO files (external_id, user_id, file_name, visibility, tags,
			uploaded_at, content_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING')
		RETURNING %s`, fileColumns)

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	row := s.db.QueryRow(ctx, query,
		rec.ExternalID, rec.UserID, rec.FileName, string(rec.Visibility),
		tags, rec.UploadedAtMillis, rec.ContentType,
	)

	inserted, err := scanRecord(row)
	if err != nil {
		if isUniqueViolation(err, constraintUserName) {
			return nil, fmt.Errorf("файл %s пользователя %s: %w",
				rec.FileName, rec.UserID, metadata.ErrNameTaken)
		}
		return nil, fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return inserted, nil
}

// PromoteToActive продвигает PENDING запись в ACTIVE одним UPDATE.
// Конфликт hash или external_id среди ACTIVE ловится по индексам;
// при конфликте UPDATE откатывается и запись остаётся PENDING.
func (s *Store) PromoteToActive(ctx context.Context, id, contentHash string, size int64) (*model.FileRecord, error) {
	query := fmt.Sprintf(`
		UPDATE files
		SET content_hash = $2, size = $3, status = 'ACTIVE'
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s`, fileColumns)

	promoted, err := scanRecord(s.db.QueryRow(ctx, query, id, contentHash, size))
	if err != nil {
		if isUniqueViolation(err, constraintUserHash) || isUniqueViolation(err, constraintExternalID) {
			return nil, fmt.Errorf("запись %s: %w", id, metadata.ErrContentExists)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("запись %s не найдена в статусе PENDING: %w", id, metadata.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка продвижения записи: %w", err)
	}
	return promoted, nil
}

// MarkFailed безусловно переводит запись в FAILED.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, model.StatusFailed)
}

// MarkDeleted безусловно переводит запись в DELETED.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, model.StatusDeleted)
}

func (s *Store) setStatus(ctx context.Context, id string, status model.FileStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE files SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("запись %s: %w", id, metadata.ErrNotFound)
	}
	return nil
}

// UpdateContentType обновляет content_type записи.
func (s *Store) UpdateContentType(ctx context.Context, id, contentType string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE files SET content_type = $2 WHERE id = $1`, id, contentType)
	if err != nil {
		return fmt.Errorf("ошибка обновления content_type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("запись %s: %w", id, metadata.ErrNotFound)
	}
	return nil
}

// FindActiveByExternalID возвращает ACTIVE запись по external_id.
func (s *Store) FindActiveByExternalID(ctx context.Context, externalID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM files WHERE external_id = $1 AND status = 'ACTIVE'`, fileColumns)

	rec, err := scanRecord(s.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("external_id %s: %w", externalID, metadata.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка поиска записи: %w", err)
	}
	return rec, nil
}

// ListByUser возвращает ACTIVE файлы владельца с фильтрами и пагинацией.
func (s *Store) ListByUser(ctx context.Context, userID string, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	where := []string{`status = 'ACTIVE'`, `user_id = $1`}
	args := []any{userID}

	if params.Visibility != "" {
		args = append(args, string(params.Visibility))
		where = append(where, fmt.Sprintf(`visibility = $%d`, len(args)))
	}
	if params.Tag != "" {
		args = append(args, strings.ToLower(params.Tag))
		where = append(where, fmt.Sprintf(`$%d = ANY(tags)`, len(args)))
	}

	return s.list(ctx, where, args, params)
}

// ListPublic возвращает публичные ACTIVE файлы.
func (s *Store) ListPublic(ctx context.Context, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	where := []string{`status = 'ACTIVE'`, `visibility = 'PUBLIC'`}
	var args []any

	if params.Tag != "" {
		args = append(args, strings.ToLower(params.Tag))
		where = append(where, fmt.Sprintf(`$%d = ANY(tags)`, len(args)))
	}

	return s.list(ctx, where, args, params)
}

// list выполняет запрос данных с пагинацией и запрос общего количества
// с одинаковыми фильтрами.
func (s *Store) list(ctx context.Context, where []string, args []any, params metadata.ListParams) ([]*model.FileRecord, int, error) {
	whereClause := "WHERE " + strings.Join(where, " AND ")
	orderBy := buildOrderBy(params)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM files %s %s LIMIT $%d OFFSET $%d`,
		fileColumns, whereClause, orderBy, len(args)+1, len(args)+2,
	)
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	dataArgs := append(append([]any{}, args...), limit, params.Offset)

	rows, err := s.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка листинга файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, whereClause)
	var total int
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	return result, total, nil
}

// AccessibleTags возвращает уникальные lower-case теги по собственным
// и публичным ACTIVE файлам.
func (s *Store) AccessibleTags(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT lower(tag)
		FROM files, unnest(tags) AS tag
		WHERE status = 'ACTIVE' AND (user_id = $1 OR visibility = 'PUBLIC')
		ORDER BY 1`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тегов: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("ошибка сканирования тега: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации тегов: %w", err)
	}
	return tags, nil
}

// ListStalePending возвращает записи, застрявшие в PENDING
// с временем загрузки раньше cutoff.
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM files WHERE status = 'PENDING' AND uploaded_at < $1`, fileColumns)

	rows, err := s.db.Query(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска застрявших записей: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// scanRecord читает FileRecord из строки результата (pgx.Row или pgx.Rows).
func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	var (
		rec        model.FileRecord
		visibility string
		status     string
	)
	err := row.Scan(
		&rec.ID, &rec.ExternalID, &rec.UserID, &rec.FileName, &visibility,
		&rec.Tags, &rec.UploadedAtMillis, &rec.ContentType, &rec.Size,
		&rec.ContentHash, &status,
	)
	if err != nil {
		return nil, err
	}
	rec.Visibility = model.Visibility(visibility)
	rec.Status = model.FileStatus(status)
	return &rec, nil
}

// buildOrderBy строит ORDER BY по whitelist полей сортировки.
// Недопустимые значения заменяются значением по умолчанию.
func buildOrderBy(params metadata.ListParams) string {
	column := "uploaded_at"
	switch params.SortBy {
	case metadata.SortByFileName:
		column = "file_name"
	case metadata.SortBySize:
		column = "size"
	case metadata.SortByUploadedAt, "":
		column = "uploaded_at"
	}

	direction := "ASC"
	if params.Descending || params.SortBy == "" {
		direction = "DESC"
	}

	return fmt.Sprintf("ORDER BY %s %s", column, direction)
}

// isUniqueViolation проверяет, что ошибка — нарушение уникальности
// указанного индекса.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraint
}
