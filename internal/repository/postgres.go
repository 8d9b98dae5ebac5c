// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrLineNotFound возвращается, если строка заказа не найдена.
	ErrLineNotFound = errors.New("order line not found")
	// ErrVariantNotFound возвращается, если вариант товара не найден.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrAccountNotFound возвращается, если учётная запись не найдена.
	ErrAccountNotFound = errors.New("account not found")
	// ErrBalanceNotFound возвращается, если у дилера нет баланса.
	ErrBalanceNotFound = errors.New("dealer balance not found")
	// ErrInsufficientBalance возвращается при списании сверх кредитного лимита.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotEditable возвращается при попытке изменить заказ вне статуса cart.
	ErrOrderNotEditable = errors.New("order is not editable")
	// ErrEmptyCart возвращается при оформлении заказа без строк.
	ErrEmptyCart = errors.New("order has no lines")
	// ErrIllegalTransition возвращается при недопустимом переходе статуса.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrConflict возвращается, когда конкурентный конфликт не удалось
	// разрешить ретраями; вызывающий может повторить операцию.
	ErrConflict = errors.New("concurrent modification conflict")
)

// StockShortage описывает нехватку остатка по одной строке заказа.
type StockShortage struct {
	LineID    int64 `json:"line_id"`
	VariantID int64 `json:"variant_id"`
	Requested int64 `json:"requested"`
	Available int64 `json:"available"`
}

// StockError перечисляет все строки заказа с недостаточным остатком.
type StockError struct {
	Shortages []StockShortage
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d order line(s)", len(e.Shortages))
}

// Repository предоставляет доступ к хранилищу данных в PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New создаёт новый репозиторий и инициализирует схему БД через миграции.
func New(dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Repository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *Repository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// inTx выполняет fn внутри одной транзакции с откатом при ошибке.
func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func isRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// withConflictRetry повторяет транзакцию при serialization failure или
// deadlock; исчерпав попытки, возвращает ErrConflict.
func (r *Repository) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if isRetryableConflict(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil && isRetryableConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
