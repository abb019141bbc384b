// Пакет repository — слой доступа к локальному кэшу исследований.
// Чистый SQL без ORM: database/sql для SQLite, pgx для PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/dicomviewer/internal/database"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
)

// DBTX — интерфейс для выполнения SQL-запросов через pgx.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Repositories — набор репозиториев для выбранного драйвера хранилища.
type Repositories struct {
	Studies  StudyRepository
	SyncRuns SyncRunRepository
}

// New создаёт репозитории поверх открытого хранилища.
func New(db *database.DB) (*Repositories, error) {
	switch {
	case db.SQLite != nil:
		return &Repositories{
			Studies:  NewSQLiteStudyRepository(db.SQLite),
			SyncRuns: NewSQLiteSyncRunRepository(db.SQLite),
		}, nil
	case db.Pool != nil:
		return &Repositories{
			Studies:  NewPostgresStudyRepository(db.Pool),
			SyncRuns: NewPostgresSyncRunRepository(db.Pool),
		}, nil
	default:
		return nil, errors.New("хранилище не открыто")
	}
}
