package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avoronin/dealermarket-system/internal/model"
)

// GetAccount возвращает учётную запись по идентификатору.
func (r *Repository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, kind, created_at FROM accounts WHERE id = $1`,
		id,
	)

	var a model.Account
	if err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &a, nil
}

// GetVariant возвращает вариант товара по идентификатору.
func (r *Repository) GetVariant(ctx context.Context, id int64) (*model.Variant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, product_id, sku, unit_price_cents, stock_quantity, track_stock
		 FROM product_variants WHERE id = $1`,
		id,
	)

	var v model.Variant
	if err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.UnitPriceCents, &v.StockQuantity, &v.TrackStock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	return &v, nil
}

// GetOptionValues возвращает значения опций по списку идентификаторов.
func (r *Repository) GetOptionValues(ctx context.Context, ids []int64) ([]model.OptionValue, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, label, mode, price_cents
		 FROM product_option_values WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select option values: %w", err)
	}
	defer rows.Close()

	var res []model.OptionValue
	for rows.Next() {
		var v model.OptionValue
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Label, &v.Mode, &v.PriceCents); err != nil {
			return nil, fmt.Errorf("scan option value: %w", err)
		}
		res = append(res, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetDealerDiscount возвращает скидку дилера на товар, nil если скидки нет.
func (r *Repository) GetDealerDiscount(ctx context.Context, accountID, productID int64) (*model.DealerDiscount, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT account_id, product_id, discount_percent, active
		 FROM dealer_discounts WHERE account_id = $1 AND product_id = $2`,
		accountID, productID,
	)

	var d model.DealerDiscount
	if err := row.Scan(&d.AccountID, &d.ProductID, &d.DiscountPercent, &d.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dealer discount: %w", err)
	}

	return &d, nil
}

// GetActiveDealerDiscounts возвращает все активные проценты скидок дилера:
// product_id -> percent. Карта строится целиком, чтобы пересчёт итогов под
// блокировкой заказа покрывал любой товар из его строк.
func (r *Repository) GetActiveDealerDiscounts(ctx context.Context, accountID int64) (map[int64]float64, error) {
	res := make(map[int64]float64)

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, discount_percent
		 FROM dealer_discounts
		 WHERE account_id = $1 AND active`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select dealer discounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID int64
		var percent float64
		if err := rows.Scan(&productID, &percent); err != nil {
			return nil, fmt.Errorf("scan dealer discount: %w", err)
		}
		res[productID] = percent
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
