package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
)

// sqliteStudyRepo — реализация StudyRepository через database/sql (modernc.org/sqlite).
type sqliteStudyRepo struct {
	db *sql.DB
}

// NewSQLiteStudyRepository создаёт репозиторий исследований поверх SQLite.
func NewSQLiteStudyRepository(db *sql.DB) StudyRepository {
	return &sqliteStudyRepo{db: db}
}

// UpsertMany записывает пакет исследований в одной транзакции.
// Для каждой записи: существует — UPDATE всех неключевых столбцов, иначе — INSERT.
// Любая ошибка откатывает весь пакет.
func (r *sqliteStudyRepo) UpsertMany(
	ctx context.Context,
	records []*model.StudyRecord,
	opts UpsertOptions,
) (*UpsertStats, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // откат после коммита — no-op

	existsStmt, err := tx.PrepareContext(ctx, `SELECT 1 FROM studies WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("подготовка проверки существования: %w", err)
	}
	defer existsStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO studies (id, patient_name, patient_id, patient_sex,
			institution_name, study_date, description, json_completo, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("подготовка INSERT: %w", err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE studies SET
			patient_name = ?, patient_id = ?, patient_sex = ?,
			institution_name = ?, study_date = ?, description = ?,
			json_completo = ?, synced_at = ?
		WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("подготовка UPDATE: %w", err)
	}
	defer updateStmt.Close()

	stats := &UpsertStats{}
	now := time.Now().UTC().UnixMilli()

	for _, rec := range records {
		var one int
		err := existsStmt.QueryRowContext(ctx, rec.ID).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := insertStmt.ExecContext(ctx,
				rec.ID, rec.PatientName, rec.PatientID, rec.PatientSex,
				rec.InstitutionName, rec.StudyDate, rec.Description, rawOrEmpty(rec), now,
			); err != nil {
				return nil, fmt.Errorf("ошибка вставки исследования %q: %w", rec.ID, err)
			}
			stats.Added++
		case err != nil:
			return nil, fmt.Errorf("ошибка проверки исследования %q: %w", rec.ID, err)
		default:
			if _, err := updateStmt.ExecContext(ctx,
				rec.PatientName, rec.PatientID, rec.PatientSex,
				rec.InstitutionName, rec.StudyDate, rec.Description, rawOrEmpty(rec), now,
				rec.ID,
			); err != nil {
				return nil, fmt.Errorf("ошибка обновления исследования %q: %w", rec.ID, err)
			}
			stats.Updated++
		}
	}

	if opts.PruneMissing {
		deleted, err := r.deleteMissing(ctx, tx, idSet(records))
		if err != nil {
			return nil, err
		}
		stats.Deleted = deleted
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return stats, nil
}

// deleteMissing удаляет строки, идентификаторов которых нет в keep.
func (r *sqliteStudyRepo) deleteMissing(ctx context.Context, tx *sql.Tx, keep map[string]struct{}) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM studies`)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения идентификаторов: %w", err)
	}
	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("ошибка сканирования идентификатора: %w", err)
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("ошибка итерации идентификаторов: %w", err)
	}

	stale := missingIDs(existing, keep)
	if len(stale) == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM studies WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("подготовка DELETE: %w", err)
	}
	defer stmt.Close()

	for _, id := range stale {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return 0, fmt.Errorf("ошибка удаления исследования %q: %w", id, err)
		}
	}
	return len(stale), nil
}

// Query возвращает страницу исследований.
func (r *sqliteStudyRepo) Query(ctx context.Context, q StudyQuery) ([]*model.StudyRecord, error) {
	q = normalizeQuery(q)

	where, args := buildStudyWhere(q.Term, dialectSQLite, 1)
	query := fmt.Sprintf(`SELECT %s FROM studies %s %s LIMIT ? OFFSET ?`,
		studyListColumns, where, studyOrderBy)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска исследований: %w", err)
	}
	defer rows.Close()

	result := make([]*model.StudyRecord, 0, q.Limit)
	for rows.Next() {
		s := &model.StudyRecord{}
		if err := rows.Scan(
			&s.ID, &s.PatientName, &s.PatientID, &s.PatientSex,
			&s.InstitutionName, &s.StudyDate, &s.Description,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования исследования: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, nil
}

// Count возвращает количество исследований с тем же фильтром, что и Query.
func (r *sqliteStudyRepo) Count(ctx context.Context, term string) (int, error) {
	where, args := buildStudyWhere(normalizeTerm(term), dialectSQLite, 1)

	var total int
	if err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM studies %s`, where), args...,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта исследований: %w", err)
	}
	return total, nil
}

// GetByID возвращает исследование по идентификатору или ErrNotFound.
func (r *sqliteStudyRepo) GetByID(ctx context.Context, id string) (*model.StudyRecord, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM studies WHERE id = ?`, studyFullColumns), id)

	s, err := scanSQLiteFullStudy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения исследования: %w", err)
	}
	return s, nil
}

// All передаёт в fn все исследования в порядке id.
func (r *sqliteStudyRepo) All(ctx context.Context, fn func(*model.StudyRecord) error) error {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM studies ORDER BY id`, studyFullColumns))
	if err != nil {
		return fmt.Errorf("ошибка чтения исследований: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSQLiteFullStudy(rows)
		if err != nil {
			return fmt.Errorf("ошибка сканирования исследования: %w", err)
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ошибка итерации исследований: %w", err)
	}
	return nil
}

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSQLiteFullStudy сканирует строку со всеми столбцами studies.
func scanSQLiteFullStudy(row rowScanner) (*model.StudyRecord, error) {
	s := &model.StudyRecord{}
	var raw string
	var syncedAt int64
	if err := row.Scan(
		&s.ID, &s.PatientName, &s.PatientID, &s.PatientSex,
		&s.InstitutionName, &s.StudyDate, &s.Description, &raw, &syncedAt,
	); err != nil {
		return nil, err
	}
	s.RawRecord = []byte(raw)
	if syncedAt > 0 {
		s.SyncedAt = time.UnixMilli(syncedAt).UTC()
	}
	return s, nil
}
