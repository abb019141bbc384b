package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
)

// pgStudyRepo — реализация StudyRepository через pgx.
type pgStudyRepo struct {
	db DBTX
	tx *TxRunner
}

// NewPostgresStudyRepository создаёт репозиторий исследований поверх PostgreSQL.
func NewPostgresStudyRepository(pool *pgxpool.Pool) StudyRepository {
	return &pgStudyRepo{db: pool, tx: NewTxRunner(pool)}
}

// UpsertMany записывает пакет исследований в одной транзакции
// (проверка существования, затем INSERT или UPDATE).
func (r *pgStudyRepo) UpsertMany(
	ctx context.Context,
	records []*model.StudyRecord,
	opts UpsertOptions,
) (*UpsertStats, error) {
	stats := &UpsertStats{}

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM studies WHERE id = $1)`, rec.ID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("ошибка проверки исследования %q: %w", rec.ID, err)
			}

			if exists {
				if _, err := tx.Exec(ctx, `
					UPDATE studies SET
						patient_name = $2, patient_id = $3, patient_sex = $4,
						institution_name = $5, study_date = $6, description = $7,
						json_completo = $8, synced_at = NOW()
					WHERE id = $1`,
					rec.ID, rec.PatientName, rec.PatientID, rec.PatientSex,
					rec.InstitutionName, rec.StudyDate, rec.Description, rawOrEmpty(rec),
				); err != nil {
					return fmt.Errorf("ошибка обновления исследования %q: %w", rec.ID, err)
				}
				stats.Updated++
				continue
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO studies (id, patient_name, patient_id, patient_sex,
					institution_name, study_date, description, json_completo, synced_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
				rec.ID, rec.PatientName, rec.PatientID, rec.PatientSex,
				rec.InstitutionName, rec.StudyDate, rec.Description, rawOrEmpty(rec),
			); err != nil {
				return fmt.Errorf("ошибка вставки исследования %q: %w", rec.ID, err)
			}
			stats.Added++
		}

		if opts.PruneMissing {
			deleted, err := pgDeleteMissing(ctx, tx, idSet(records))
			if err != nil {
				return err
			}
			stats.Deleted = deleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// pgDeleteMissing удаляет строки, идентификаторов которых нет в keep.
func pgDeleteMissing(ctx context.Context, tx pgx.Tx, keep map[string]struct{}) (int, error) {
	rows, err := tx.Query(ctx, `SELECT id FROM studies`)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения идентификаторов: %w", err)
	}
	existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("ошибка сканирования идентификаторов: %w", err)
	}

	stale := missingIDs(existing, keep)
	if len(stale) == 0 {
		return 0, nil
	}

	tag, err := tx.Exec(ctx, `DELETE FROM studies WHERE id = ANY($1)`, stale)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления исследований: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Query возвращает страницу исследований.
func (r *pgStudyRepo) Query(ctx context.Context, q StudyQuery) ([]*model.StudyRecord, error) {
	q = normalizeQuery(q)

	where, args := buildStudyWhere(q.Term, dialectPostgres, 1)
	argNum := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM studies %s %s LIMIT $%d OFFSET $%d`,
		studyListColumns, where, studyOrderBy, argNum, argNum+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.Query(ctx, query, args...)
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
func (r *pgStudyRepo) Count(ctx context.Context, term string) (int, error) {
	where, args := buildStudyWhere(normalizeTerm(term), dialectPostgres, 1)

	var total int
	if err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM studies %s`, where), args...,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта исследований: %w", err)
	}
	return total, nil
}

// GetByID возвращает исследование по идентификатору или ErrNotFound.
func (r *pgStudyRepo) GetByID(ctx context.Context, id string) (*model.StudyRecord, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM studies WHERE id = $1`, studyFullColumns), id)

	s, err := scanPgFullStudy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения исследования: %w", err)
	}
	return s, nil
}

// All передаёт в fn все исследования в порядке id.
func (r *pgStudyRepo) All(ctx context.Context, fn func(*model.StudyRecord) error) error {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM studies ORDER BY id`, studyFullColumns))
	if err != nil {
		return fmt.Errorf("ошибка чтения исследований: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanPgFullStudy(rows)
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

// scanPgFullStudy сканирует строку со всеми столбцами studies.
func scanPgFullStudy(row pgx.Row) (*model.StudyRecord, error) {
	s := &model.StudyRecord{}
	var raw []byte
	if err := row.Scan(
		&s.ID, &s.PatientName, &s.PatientID, &s.PatientSex,
		&s.InstitutionName, &s.StudyDate, &s.Description, &raw, &s.SyncedAt,
	); err != nil {
		return nil, err
	}
	s.RawRecord = raw
	return s, nil
}
