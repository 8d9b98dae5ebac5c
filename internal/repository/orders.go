package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avoronin/dealermarket-system/internal/model"
	"github.com/avoronin/dealermarket-system/internal/pricing"
	"github.com/avoronin/dealermarket-system/internal/validation"
)

// RecomputeFunc пересчитывает итоги заказа по его текущим строкам.
// Репозиторий вызывает её внутри транзакции мутации строк, чтобы итоги
// никогда не расходились со строками.
type RecomputeFunc func(lines []model.OrderLine) pricing.Totals

// querier объединяет пул и транзакцию для общих методов чтения.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const orderColumns = `id, number, account_id, status, production_status, payment_method, currency,
	subtotal_cents, discount_cents, shipping_cents, tax_cents, total_cents,
	shipping_address, billing_address, metadata, paid_at, shipped_at, cancelled_at, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.ID, &o.Number, &o.AccountID, &o.Status, &o.ProductionStatus, &o.PaymentMethod, &o.Currency,
		&o.SubtotalCents, &o.DiscountCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&o.ShippingAddress, &o.BillingAddress, &o.Metadata, &o.PaidAt, &o.ShippedAt, &o.CancelledAt, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

// CreateCartOrder создаёт новый заказ в статусе cart и присваивает ему номер.
func (r *Repository) CreateCartOrder(ctx context.Context, accountID *int64, currency string) (*model.Order, error) {
	var order *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO orders (account_id, currency) VALUES ($1, $2) RETURNING id`,
			accountID, currency,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		number := validation.PaymentReference(id)
		if _, err := tx.Exec(ctx, `UPDATE orders SET number = $2 WHERE id = $1`, id, number); err != nil {
			return fmt.Errorf("assign order number: %w", err)
		}

		order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderByNumber возвращает заказ по его номеру (платёжной ссылке шлюза).
func (r *Repository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number))
}

// ListOrdersByAccount возвращает заказы учётной записи, новые первыми.
func (r *Repository) ListOrdersByAccount(ctx context.Context, accountID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// lockOrder блокирует строку заказа до конца транзакции и возвращает её.
// Все операции над одним заказом сериализуются через эту блокировку.
func lockOrder(ctx context.Context, tx pgx.Tx, id int64) (*model.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func loadLines(ctx context.Context, q querier, orderID int64) ([]model.OrderLine, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, product_id, variant_id, quantity, unit_price_cents, total_cents, reserved_quantity
		 FROM order_lines WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	var lines []model.OrderLine
	byID := make(map[int64]int)
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.VariantID, &l.Quantity,
			&l.UnitPriceCents, &l.TotalCents, &l.ReservedQuantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		byID[l.ID] = len(lines)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(lines) == 0 {
		return nil, nil
	}

	optRows, err := q.Query(ctx,
		`SELECT o.line_id, o.option_value_id, o.label, o.mode, o.price_cents
		 FROM order_line_options o
		 JOIN order_lines l ON l.id = o.line_id
		 WHERE l.order_id = $1
		 ORDER BY o.id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select line options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var lineID int64
		var opt model.OptionCharge
		if err := optRows.Scan(&lineID, &opt.OptionValueID, &opt.Label, &opt.Mode, &opt.PriceCents); err != nil {
			return nil, fmt.Errorf("scan line option: %w", err)
		}
		if idx, ok := byID[lineID]; ok {
			lines[idx].Options = append(lines[idx].Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// GetOrderLines возвращает строки заказа с выбранными опциями.
func (r *Repository) GetOrderLines(ctx context.Context, orderID int64) ([]model.OrderLine, error) {
	return loadLines(ctx, r.pool, orderID)
}

func saveTotals(ctx context.Context, tx pgx.Tx, orderID int64, t pricing.Totals) error {
	// Все пять денежных полей пишутся одним оператором: частично
	// обновлённых итогов не бывает.
	_, err := tx.Exec(ctx,
		`UPDATE orders
		 SET subtotal_cents = $2, discount_cents = $3, shipping_cents = $4, tax_cents = $5, total_cents = $6
		 WHERE id = $1`,
		orderID, t.SubtotalCents, t.DiscountCents, t.ShippingCents, t.TaxCents, t.TotalCents,
	)
	if err != nil {
		return fmt.Errorf("save totals: %w", err)
	}
	return nil
}

func insertStatusLog(ctx context.Context, tx pgx.Tx, orderID int64, kind model.StatusLogKind, actor, from, to string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO order_status_log (order_id, kind, actor, from_status, to_status) VALUES ($1, $2, $3, $4, $5)`,
		orderID, kind, actor, from, to,
	)
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

func insertLineOptions(ctx context.Context, tx pgx.Tx, lineID int64, options []model.OptionCharge) error {
	for _, opt := range options {
		_, err := tx.Exec(ctx,
			`INSERT INTO order_line_options (line_id, option_value_id, label, mode, price_cents)
			 VALUES ($1, $2, $3, $4, $5)`,
			lineID, opt.OptionValueID, opt.Label, opt.Mode, opt.PriceCents,
		)
		if err != nil {
			return fmt.Errorf("insert line option: %w", err)
		}
	}
	return nil
}

// AddOrderLine добавляет строку в заказ-корзину и в той же транзакции
// пересчитывает итоги заказа.
func (r *Repository) AddOrderLine(ctx context.Context, orderID int64, line model.OrderLine, recompute RecomputeFunc) (int64, error) {
	var lineID int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != model.OrderStatusCart {
			return fmt.Errorf("%w: status %s", ErrOrderNotEditable, order.Status)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO order_lines (order_id, product_id, variant_id, quantity, unit_price_cents, total_cents)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			orderID, line.ProductID, line.VariantID, line.Quantity, line.UnitPriceCents, line.TotalCents,
		).Scan(&lineID)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}

		if err := insertLineOptions(ctx, tx, lineID, line.Options); err != nil {
			return err
		}

		lines, err := loadLines(ctx, tx, orderID)
		if err != nil {
			return err
		}

		return saveTotals(ctx, tx, orderID, recompute(lines))
	})
	if err != nil {
		return 0, err
	}

	return lineID, nil
}

// UpdateOrderLine изменяет строку заказа-корзины и пересчитывает итоги.
func (r *Repository) UpdateOrderLine(ctx context.Context, orderID int64, line model.OrderLine, recompute RecomputeFunc) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != model.OrderStatusCart {
			return fmt.Errorf("%w: status %s", ErrOrderNotEditable, order.Status)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE order_lines
			 SET quantity = $3, unit_price_cents = $4, total_cents = $5
			 WHERE id = $1 AND order_id = $2`,
			line.ID, orderID, line.Quantity, line.UnitPriceCents, line.TotalCents,
		)
		if err != nil {
			return fmt.Errorf("update order line: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrLineNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM order_line_options WHERE line_id = $1`, line.ID); err != nil {
			return fmt.Errorf("delete line options: %w", err)
		}
		if err := insertLineOptions(ctx, tx, line.ID, line.Options); err != nil {
			return err
		}

		lines, err := loadLines(ctx, tx, orderID)
		if err != nil {
			return err
		}

		return saveTotals(ctx, tx, orderID, recompute(lines))
	})
}

// DeleteOrderLine удаляет строку заказа-корзины и пересчитывает итоги.
func (r *Repository) DeleteOrderLine(ctx context.Context, orderID, lineID int64, recompute RecomputeFunc) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != model.OrderStatusCart {
			return fmt.Errorf("%w: status %s", ErrOrderNotEditable, order.Status)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM order_lines WHERE id = $1 AND order_id = $2`,
			lineID, orderID,
		)
		if err != nil {
			return fmt.Errorf("delete order line: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrLineNotFound
		}

		lines, err := loadLines(ctx, tx, orderID)
		if err != nil {
			return err
		}

		return saveTotals(ctx, tx, orderID, recompute(lines))
	})
}

// ListStatusLog возвращает журнал переходов статусов заказа в порядке записи.
func (r *Repository) ListStatusLog(ctx context.Context, orderID int64) ([]model.StatusLogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, kind, actor, from_status, to_status, created_at
		 FROM order_status_log WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select status log: %w", err)
	}
	defer rows.Close()

	var res []model.StatusLogEntry
	for rows.Next() {
		var e model.StatusLogEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Kind, &e.Actor, &e.From, &e.To, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status log entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
