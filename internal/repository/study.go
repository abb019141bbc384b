package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/sanitize"
)

// Границы пагинации.
const (
	minLimit = 1
	maxLimit = 1000
)

// studyListColumns — проекция для списка исследований (без json_completo).
const studyListColumns = `id, patient_name, patient_id, patient_sex,
	institution_name, study_date, description`

// studyFullColumns — все столбцы таблицы studies.
const studyFullColumns = studyListColumns + `, json_completo, synced_at`

// studyOrderBy — сортировка выдачи: новые исследования первыми, id — детерминированный tie-break.
const studyOrderBy = `ORDER BY study_date DESC, id ASC`

// searchColumns — поля, по которым выполняется поиск подстроки.
var searchColumns = []string{"patient_name", "patient_id", "description", "institution_name"}

// StudyQuery — параметры выборки исследований.
type StudyQuery struct {
	// Limit — размер выборки, приводится к [1, 1000]
	Limit int
	// Offset — смещение, приводится к >= 0
	Offset int
	// Term — подстрока поиска (очищается, лимит 100 символов)
	Term string
}

// UpsertOptions — параметры пакетной записи.
type UpsertOptions struct {
	// PruneMissing — удалить в той же транзакции строки, отсутствующие в пакете
	PruneMissing bool
}

// UpsertStats — результат пакетной записи.
type UpsertStats struct {
	Added   int
	Updated int
	Deleted int
}

// StudyRepository — интерфейс доступа к таблице studies.
type StudyRepository interface {
	// UpsertMany записывает пакет в одной транзакции: все строки фиксируются вместе или ни одна.
	UpsertMany(ctx context.Context, records []*model.StudyRecord, opts UpsertOptions) (*UpsertStats, error)
	// Query возвращает страницу исследований, отсортированную по study_date DESC.
	Query(ctx context.Context, q StudyQuery) ([]*model.StudyRecord, error)
	// Count возвращает количество исследований, подходящих под фильтр.
	Count(ctx context.Context, term string) (int, error)
	// GetByID возвращает исследование со всеми столбцами или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.StudyRecord, error)
	// All последовательно передаёт в fn все исследования (для экспорта).
	All(ctx context.Context, fn func(*model.StudyRecord) error) error
}

// normalizeQuery приводит limit/offset к допустимым границам и очищает термин поиска.
func normalizeQuery(q StudyQuery) StudyQuery {
	if q.Limit < minLimit {
		q.Limit = minLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Term = normalizeTerm(q.Term)
	return q
}

// normalizeTerm очищает поисковый термин.
func normalizeTerm(term string) string {
	return sanitize.String(term, sanitize.MaxSearchTerm)
}

// dialect — SQL-диалект хранилища.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// buildStudyWhere строит WHERE-условие поиска подстроки по четырём полям.
// Поиск чувствителен к регистру на обоих драйверах:
// SQLite — instr() (LIKE в SQLite регистронезависим для ASCII),
// PostgreSQL — LIKE с экранированием % и _.
// startArg — номер первого $-параметра (только для PostgreSQL).
func buildStudyWhere(term string, d dialect, startArg int) (whereClause string, args []any) {
	if term == "" {
		return "", nil
	}

	conditions := make([]string, 0, len(searchColumns))

	switch d {
	case dialectPostgres:
		for _, col := range searchColumns {
			conditions = append(conditions, fmt.Sprintf(`%s LIKE $%d ESCAPE '\'`, col, startArg))
		}
		args = []any{"%" + escapeLike(term) + "%"}
	default:
		for _, col := range searchColumns {
			conditions = append(conditions, fmt.Sprintf("instr(%s, ?) > 0", col))
			args = append(args, term)
		}
	}

	return "WHERE " + strings.Join(conditions, " OR "), args
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// emptyRaw — значение json_completo, если исходная запись отсутствует.
const emptyRaw = "{}"

// rawOrEmpty возвращает исходную запись или "{}".
func rawOrEmpty(rec *model.StudyRecord) string {
	if len(rec.RawRecord) == 0 {
		return emptyRaw
	}
	return string(rec.RawRecord)
}

// missingIDs возвращает идентификаторы из existing, которых нет в keep.
func missingIDs(existing []string, keep map[string]struct{}) []string {
	var out []string
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// idSet строит множество идентификаторов пакета.
func idSet(records []*model.StudyRecord) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, rec := range records {
		set[rec.ID] = struct{}{}
	}
	return set
}
