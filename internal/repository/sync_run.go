package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
)

// SyncRunRepository — история запусков синхронизации (таблица sync_runs).
type SyncRunRepository interface {
	// Create сохраняет запись о завершённом запуске.
	Create(ctx context.Context, run *model.SyncRun) error
	// Latest возвращает последний запуск или ErrNotFound.
	Latest(ctx context.Context) (*model.SyncRun, error)
}

const syncRunColumns = `id, started_at, finished_at, status,
	fetched, added, updated, deleted, skipped, error_message`

// --- SQLite ---

// sqliteSyncRunRepo — реализация SyncRunRepository через database/sql.
// Время хранится в unix-миллисекундах.
type sqliteSyncRunRepo struct {
	db *sql.DB
}

// NewSQLiteSyncRunRepository создаёт репозиторий истории синхронизаций поверх SQLite.
func NewSQLiteSyncRunRepository(db *sql.DB) SyncRunRepository {
	return &sqliteSyncRunRepo{db: db}
}

func (r *sqliteSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO sync_runs (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, syncRunColumns),
		run.ID, run.StartedAt.UTC().UnixMilli(), run.FinishedAt.UTC().UnixMilli(), run.Status,
		run.Fetched, run.Added, run.Updated, run.Deleted, run.Skipped, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения запуска синхронизации: %w", err)
	}
	return nil
}

func (r *sqliteSyncRunRepo) Latest(ctx context.Context) (*model.SyncRun, error) {
	run := &model.SyncRun{}
	var startedAt, finishedAt int64
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sync_runs ORDER BY started_at DESC LIMIT 1`, syncRunColumns),
	).Scan(
		&run.ID, &startedAt, &finishedAt, &run.Status,
		&run.Fetched, &run.Added, &run.Updated, &run.Deleted, &run.Skipped, &run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последнего запуска: %w", err)
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.FinishedAt = time.UnixMilli(finishedAt).UTC()
	return run, nil
}

// --- PostgreSQL ---

// pgSyncRunRepo — реализация SyncRunRepository через pgx.
type pgSyncRunRepo struct {
	db DBTX
}

// NewPostgresSyncRunRepository создаёт репозиторий истории синхронизаций поверх PostgreSQL.
func NewPostgresSyncRunRepository(pool *pgxpool.Pool) SyncRunRepository {
	return &pgSyncRunRepo{db: pool}
}

func (r *pgSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO sync_runs (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, syncRunColumns),
		run.ID, run.StartedAt, run.FinishedAt, run.Status,
		run.Fetched, run.Added, run.Updated, run.Deleted, run.Skipped, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения запуска синхронизации: %w", err)
	}
	return nil
}

func (r *pgSyncRunRepo) Latest(ctx context.Context) (*model.SyncRun, error) {
	run := &model.SyncRun{}
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM sync_runs ORDER BY started_at DESC LIMIT 1`, syncRunColumns),
	).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.Fetched, &run.Added, &run.Updated, &run.Deleted, &run.Skipped, &run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последнего запуска: %w", err)
	}
	return run, nil
}
