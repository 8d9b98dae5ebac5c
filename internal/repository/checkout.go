package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avoronin/dealermarket-system/internal/model"
)

// ErrCashLimitExceeded возвращается, когда итог заказа превышает предел
// оплаты наличными при доставке.
var ErrCashLimitExceeded = errors.New("cash on delivery limit exceeded")

// ErrAmountMismatch возвращается, когда сумма платёжного уведомления не
// совпадает с итогом заказа.
var ErrAmountMismatch = errors.New("payment amount mismatch")

// CheckoutParams — входные данные атомарного оформления заказа.
type CheckoutParams struct {
	OrderID         int64
	PaymentMethod   model.PaymentMethod
	ShippingAddress model.Address
	BillingAddress  model.Address
	// Metadata сливается поверх текущих метаданных заказа (платёжный токен,
	// реквизиты банковского перевода и т.п.).
	Metadata  map[string]string
	Recompute RecomputeFunc
	// ExpectedTotalCents — итог, на который создана платёжная сессия шлюза;
	// расхождение с пересчётом внутри транзакции прерывает оформление.
	ExpectedTotalCents *int64
	// CashOnDeliveryCapCents — предел итога для оплаты наличными, 0 — без предела.
	CashOnDeliveryCapCents int64
	Actor                  string
}

// Checkout атомарно оформляет заказ-корзину: пересчёт итогов, адреса,
// резервирование остатков, списание с баланса дилера (для dealer_balance)
// и переход статуса. Любая ошибка откатывает все изменения.
func (r *Repository) Checkout(ctx context.Context, p CheckoutParams) (*model.Order, error) {
	var order *model.Order

	err := r.withConflictRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := lockOrder(ctx, tx, p.OrderID)
			if err != nil {
				return err
			}
			if o.Status != model.OrderStatusCart {
				return fmt.Errorf("%w: status %s", ErrOrderNotEditable, o.Status)
			}

			lines, err := loadLines(ctx, tx, p.OrderID)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return ErrEmptyCart
			}

			totals := p.Recompute(lines)
			if p.ExpectedTotalCents != nil && *p.ExpectedTotalCents != totals.TotalCents {
				return fmt.Errorf("%w: expected %d, recomputed %d",
					ErrConflict, *p.ExpectedTotalCents, totals.TotalCents)
			}
			if p.PaymentMethod == model.PaymentMethodCashOnDelivery &&
				p.CashOnDeliveryCapCents > 0 && totals.TotalCents > p.CashOnDeliveryCapCents {
				return fmt.Errorf("%w: total %d, cap %d",
					ErrCashLimitExceeded, totals.TotalCents, p.CashOnDeliveryCapCents)
			}

			if err := saveTotals(ctx, tx, p.OrderID, totals); err != nil {
				return err
			}

			billing := p.BillingAddress
			if billing.Empty() {
				billing = p.ShippingAddress
			}

			metadata := o.Metadata
			if metadata == nil {
				metadata = make(map[string]string)
			}
			for k, v := range p.Metadata {
				metadata[k] = v
			}

			_, err = tx.Exec(ctx,
				`UPDATE orders
				 SET payment_method = $2, shipping_address = $3, billing_address = $4, metadata = $5
				 WHERE id = $1`,
				p.OrderID, p.PaymentMethod, p.ShippingAddress, billing, metadata,
			)
			if err != nil {
				return fmt.Errorf("update checkout fields: %w", err)
			}

			if err := reserveStock(ctx, tx, lines); err != nil {
				return err
			}

			next := model.OrderStatusPending
			now := time.Now()

			if p.PaymentMethod == model.PaymentMethodDealerBalance {
				if o.AccountID == nil {
					return ErrBalanceNotFound
				}
				// Нулевой итог (полная скидка) не порождает записи журнала:
				// журнал хранит только положительные суммы.
				if totals.TotalCents > 0 {
					b, err := lockBalance(ctx, tx, *o.AccountID)
					if err != nil {
						return err
					}
					if err := applyLedger(ctx, tx, b, model.TransactionOrderPayment, totals.TotalCents,
						"order payment "+o.Number, &o.ID); err != nil {
						return err
					}
				}

				next = model.OrderStatusPaid
				if _, err := tx.Exec(ctx, `UPDATE orders SET paid_at = $2 WHERE id = $1`, p.OrderID, now); err != nil {
					return fmt.Errorf("set paid_at: %w", err)
				}
			}

			if !o.Status.CanTransition(next) {
				return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, next)
			}
			if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, p.OrderID, next); err != nil {
				return fmt.Errorf("set status: %w", err)
			}
			if err := insertStatusLog(ctx, tx, p.OrderID, model.StatusLogOrder, p.Actor, string(o.Status), string(next)); err != nil {
				return err
			}

			order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, p.OrderID))
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// requiredQuantities суммирует запрошенные количества по вариантам строк.
func requiredQuantities(lines []model.OrderLine) map[int64]int64 {
	required := make(map[int64]int64)
	for _, l := range lines {
		if l.VariantID != nil {
			required[*l.VariantID] += l.Quantity
		}
	}
	return required
}

// reservedQuantities суммирует зафиксированные при оформлении резервы по
// вариантам строк: именно эти количества возвращаются на склад при отмене.
func reservedQuantities(lines []model.OrderLine) map[int64]int64 {
	reserved := make(map[int64]int64)
	for _, l := range lines {
		if l.VariantID != nil && l.ReservedQuantity > 0 {
			reserved[*l.VariantID] += l.ReservedQuantity
		}
	}
	return reserved
}

func sortedVariantIDs(quantities map[int64]int64) []int64 {
	ids := make([]int64, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// reserveStock блокирует варианты строк заказа и списывает остатки.
// Варианты блокируются в порядке возрастания id, чтобы конкурентные
// оформления не взаимоблокировались.
func reserveStock(ctx context.Context, tx pgx.Tx, lines []model.OrderLine) error {
	required := requiredQuantities(lines)
	if len(required) == 0 {
		return nil
	}

	ids := sortedVariantIDs(required)

	stock := make(map[int64]model.Variant)
	for _, id := range ids {
		var v model.Variant
		err := tx.QueryRow(ctx,
			`SELECT id, product_id, sku, unit_price_cents, stock_quantity, track_stock
			 FROM product_variants WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&v.ID, &v.ProductID, &v.SKU, &v.UnitPriceCents, &v.StockQuantity, &v.TrackStock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: id %d", ErrVariantNotFound, id)
			}
			return fmt.Errorf("lock variant: %w", err)
		}
		stock[id] = v
	}

	var stockErr StockError
	for _, l := range lines {
		if l.VariantID == nil {
			continue
		}
		v := stock[*l.VariantID]
		if v.TrackStock && required[v.ID] > v.StockQuantity {
			stockErr.Shortages = append(stockErr.Shortages, StockShortage{
				LineID:    l.ID,
				VariantID: v.ID,
				Requested: required[v.ID],
				Available: v.StockQuantity,
			})
		}
	}
	if len(stockErr.Shortages) > 0 {
		return &stockErr
	}

	for _, id := range ids {
		if !stock[id].TrackStock {
			continue
		}
		_, err := tx.Exec(ctx,
			`UPDATE product_variants SET stock_quantity = stock_quantity - $2 WHERE id = $1`,
			id, required[id],
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
	}

	for _, l := range lines {
		if l.VariantID == nil {
			continue
		}
		if !stock[*l.VariantID].TrackStock {
			continue
		}
		_, err := tx.Exec(ctx,
			`UPDATE order_lines SET reserved_quantity = quantity WHERE id = $1`,
			l.ID,
		)
		if err != nil {
			return fmt.Errorf("record reservation: %w", err)
		}
	}

	return nil
}

// settleState решает судьбу платёжного уведомления по текущему статусу
// заказа: уже оплачен (no-op), ожидает отметки об оплате, либо уведомление
// незаконно. Отметка разрешена только из pending: шлюз подтверждает лишь
// прошедшие оформление заказы, и подписанное уведомление по заказу, чьё
// оформление откатилось и оставило его корзиной, не должно помечать
// неоформленную корзину оплаченной.
func settleState(o *model.Order) (settled bool, err error) {
	switch o.Status {
	case model.OrderStatusPaid, model.OrderStatusShipped:
		return true, nil
	case model.OrderStatusPending:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s -> paid", ErrIllegalTransition, o.Status)
	}
}

// MarkOrderPaid идемпотентно помечает заказ оплаченным по платёжной ссылке.
// Повторное или опоздавшее уведомление об уже оплаченном заказе — no-op.
func (r *Repository) MarkOrderPaid(ctx context.Context, number string, amountCents *int64, actor string) (*model.Order, bool, error) {
	var order *model.Order
	var changed bool

	err := r.withConflictRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := scanOrder(tx.QueryRow(ctx,
				`SELECT `+orderColumns+` FROM orders WHERE number = $1 FOR UPDATE`, number))
			if err != nil {
				return err
			}

			settled, err := settleState(o)
			if err != nil {
				return err
			}
			if settled {
				order, changed = o, false
				return nil
			}
			if amountCents != nil && *amountCents != o.TotalCents {
				return fmt.Errorf("%w: got %d, order total %d", ErrAmountMismatch, *amountCents, o.TotalCents)
			}

			now := time.Now()
			_, err = tx.Exec(ctx,
				`UPDATE orders SET status = $2, paid_at = $3 WHERE id = $1`,
				o.ID, model.OrderStatusPaid, now,
			)
			if err != nil {
				return fmt.Errorf("set paid: %w", err)
			}
			if err := insertStatusLog(ctx, tx, o.ID, model.StatusLogOrder, actor, string(o.Status), string(model.OrderStatusPaid)); err != nil {
				return err
			}

			order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, o.ID))
			changed = true
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}

	return order, changed, nil
}

// CancelOrder отменяет заказ, возвращает зарезервированные остатки на склад
// и, для оплаченных с баланса заказов, возвращает деньги в журнал баланса.
func (r *Repository) CancelOrder(ctx context.Context, orderID int64, actor string) (*model.Order, error) {
	var order *model.Order

	err := r.withConflictRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := lockOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if !o.Status.CanTransition(model.OrderStatusCancelled) {
				return fmt.Errorf("%w: %s -> cancelled", ErrIllegalTransition, o.Status)
			}

			lines, err := loadLines(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if err := restoreStock(ctx, tx, lines); err != nil {
				return err
			}

			if o.Status == model.OrderStatusPaid && o.TotalCents > 0 &&
				o.PaymentMethod == model.PaymentMethodDealerBalance && o.AccountID != nil {
				b, err := lockBalance(ctx, tx, *o.AccountID)
				if err != nil {
					return err
				}
				if err := applyLedger(ctx, tx, b, model.TransactionRefund, o.TotalCents,
					"order cancelled "+o.Number, &o.ID); err != nil {
					return err
				}
			}

			now := time.Now()
			_, err = tx.Exec(ctx,
				`UPDATE orders SET status = $2, cancelled_at = $3 WHERE id = $1`,
				orderID, model.OrderStatusCancelled, now,
			)
			if err != nil {
				return fmt.Errorf("set cancelled: %w", err)
			}
			if err := insertStatusLog(ctx, tx, orderID, model.StatusLogOrder, actor, string(o.Status), string(model.OrderStatusCancelled)); err != nil {
				return err
			}

			order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// restoreStock возвращает на склад ровно те количества, что были
// зарезервированы при оформлении.
func restoreStock(ctx context.Context, tx pgx.Tx, lines []model.OrderLine) error {
	restore := reservedQuantities(lines)
	if len(restore) == 0 {
		return nil
	}

	ids := sortedVariantIDs(restore)

	for _, id := range ids {
		var dummy int64
		err := tx.QueryRow(ctx, `SELECT id FROM product_variants WHERE id = $1 FOR UPDATE`, id).Scan(&dummy)
		if err != nil {
			return fmt.Errorf("lock variant: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE product_variants SET stock_quantity = stock_quantity + $2 WHERE id = $1`,
			id, restore[id],
		)
		if err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	_, err := tx.Exec(ctx,
		`UPDATE order_lines SET reserved_quantity = 0 WHERE order_id = $1`,
		lines[0].OrderID,
	)
	if err != nil {
		return fmt.Errorf("clear reservations: %w", err)
	}

	return nil
}

// AdvanceProduction переводит производственный статус оплаченного заказа.
// Переход в shipped также переводит сам заказ в shipped и сохраняет
// перевозчика и трек-номер в метаданных.
func (r *Repository) AdvanceProduction(ctx context.Context, orderID int64, to model.ProductionStatus, actor, carrier, trackingNumber string) (*model.Order, error) {
	var order *model.Order

	err := r.withConflictRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := lockOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if o.Status != model.OrderStatusPaid {
				return fmt.Errorf("%w: production transitions require paid order, status %s", ErrIllegalTransition, o.Status)
			}
			if !o.ProductionStatus.CanTransition(to) {
				return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.ProductionStatus, to)
			}

			if _, err := tx.Exec(ctx, `UPDATE orders SET production_status = $2 WHERE id = $1`, orderID, to); err != nil {
				return fmt.Errorf("set production status: %w", err)
			}
			if err := insertStatusLog(ctx, tx, orderID, model.StatusLogProduction, actor, string(o.ProductionStatus), string(to)); err != nil {
				return err
			}

			if to == model.ProductionStatusShipped {
				metadata := o.Metadata
				if metadata == nil {
					metadata = make(map[string]string)
				}
				metadata["carrier"] = carrier
				metadata["tracking_number"] = trackingNumber

				now := time.Now()
				_, err := tx.Exec(ctx,
					`UPDATE orders SET status = $2, shipped_at = $3, metadata = $4 WHERE id = $1`,
					orderID, model.OrderStatusShipped, now, metadata,
				)
				if err != nil {
					return fmt.Errorf("set shipped: %w", err)
				}
				if err := insertStatusLog(ctx, tx, orderID, model.StatusLogOrder, actor, string(o.Status), string(model.OrderStatusShipped)); err != nil {
					return err
				}
			}

			order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// ListPendingGatewayOrders возвращает ожидающие подтверждения шлюза заказы.
func (r *Repository) ListPendingGatewayOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND payment_method = $2
		 ORDER BY created_at
		 LIMIT $3`,
		model.OrderStatusPending, model.PaymentMethodCreditCard, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
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
