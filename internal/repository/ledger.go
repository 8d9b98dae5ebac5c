package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avoronin/dealermarket-system/internal/model"
)

// GetBalance возвращает баланс дилера.
func (r *Repository) GetBalance(ctx context.Context, accountID int64) (*model.DealerBalance, error) {
	return scanBalance(r.pool.QueryRow(ctx,
		`SELECT account_id, balance_cents, credit_limit_cents, currency, last_transaction_at
		 FROM dealer_balances WHERE account_id = $1`,
		accountID,
	))
}

func scanBalance(row pgx.Row) (*model.DealerBalance, error) {
	var b model.DealerBalance
	err := row.Scan(&b.AccountID, &b.BalanceCents, &b.CreditLimitCents, &b.Currency, &b.LastTransactionAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("scan balance: %w", err)
	}
	return &b, nil
}

// lockBalance блокирует строку баланса до конца транзакции: проверка лимита
// и запись нового баланса не могут разойтись с конкурентным списанием.
func lockBalance(ctx context.Context, tx pgx.Tx, accountID int64) (*model.DealerBalance, error) {
	return scanBalance(tx.QueryRow(ctx,
		`SELECT account_id, balance_cents, credit_limit_cents, currency, last_transaction_at
		 FROM dealer_balances WHERE account_id = $1 FOR UPDATE`,
		accountID,
	))
}

// applyLedger мутирует заблокированный баланс и пишет парную запись журнала
// в той же транзакции. Для списаний проверяет кредитный лимит; при нехватке
// средств состояние не меняется.
func applyLedger(ctx context.Context, tx pgx.Tx, b *model.DealerBalance, kind model.TransactionKind, amountCents int64, note string, orderID *int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("ledger amount must be positive, got %d", amountCents)
	}

	newBalance := b.Credited(amountCents)
	if kind.Debit() {
		var ok bool
		newBalance, ok = b.Debited(amountCents)
		if !ok {
			return ErrInsufficientBalance
		}
	}

	now := time.Now()
	_, err := tx.Exec(ctx,
		`UPDATE dealer_balances SET balance_cents = $2, last_transaction_at = $3 WHERE account_id = $1`,
		b.AccountID, newBalance, now,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balance_transactions (account_id, kind, amount_cents, order_id, note)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.AccountID, kind, amountCents, orderID, note,
	)
	if err != nil {
		return fmt.Errorf("insert balance transaction: %w", err)
	}

	b.BalanceCents = newBalance
	b.LastTransactionAt = &now
	return nil
}

// CreditBalance пополняет баланс дилера записью указанного типа.
func (r *Repository) CreditBalance(ctx context.Context, accountID int64, kind model.TransactionKind, amountCents int64, note string, orderID *int64) (*model.DealerBalance, error) {
	if kind.Debit() {
		return nil, fmt.Errorf("credit with debit kind %s", kind)
	}

	var balance *model.DealerBalance
	err := r.withConflictRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			b, err := lockBalance(ctx, tx, accountID)
			if err != nil {
				return err
			}
			if err := applyLedger(ctx, tx, b, kind, amountCents, note, orderID); err != nil {
				return err
			}
			balance = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// DeductBalance списывает сумму с баланса дилера. При превышении кредитного
// лимита возвращает ErrInsufficientBalance без каких-либо изменений.
func (r *Repository) DeductBalance(ctx context.Context, accountID int64, kind model.TransactionKind, amountCents int64, note string, orderID *int64) (*model.DealerBalance, error) {
	if !kind.Debit() {
		return nil, fmt.Errorf("deduct with credit kind %s", kind)
	}

	var balance *model.DealerBalance
	err := r.withConflictRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			b, err := lockBalance(ctx, tx, accountID)
			if err != nil {
				return err
			}
			if err := applyLedger(ctx, tx, b, kind, amountCents, note, orderID); err != nil {
				return err
			}
			balance = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// ListBalanceTransactions возвращает журнал операций по балансу, новые первыми.
func (r *Repository) ListBalanceTransactions(ctx context.Context, accountID int64) ([]model.BalanceTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, kind, amount_cents, order_id, note, created_at
		 FROM balance_transactions WHERE account_id = $1 ORDER BY created_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select balance transactions: %w", err)
	}
	defer rows.Close()

	var res []model.BalanceTransaction
	for rows.Next() {
		var t model.BalanceTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Kind, &t.AmountCents, &t.OrderID, &t.Note, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan balance transaction: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
