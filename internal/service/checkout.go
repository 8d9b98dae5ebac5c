package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/avoronin/dealermarket-system/internal/gateway"
	"github.com/avoronin/dealermarket-system/internal/model"
	"github.com/avoronin/dealermarket-system/internal/repository"
	"github.com/avoronin/dealermarket-system/internal/validation"
)

// CheckoutRequest — запрос на оформление заказа-корзины.
type CheckoutRequest struct {
	OrderID         int64
	PaymentMethod   model.PaymentMethod
	ShippingAddress model.Address
	BillingAddress  model.Address
	CouponCode      string
	Actor           string
}

// CheckoutResult — результат оформления заказа.
type CheckoutResult struct {
	Order *model.Order `json:"order"`
	// PaymentRedirectURL заполняется для оплаты картой: адрес платёжной
	// страницы шлюза.
	PaymentRedirectURL string `json:"payment_redirect_url,omitempty"`
}

// Checkout оформляет заказ-корзину: валидация, платёжная сессия для оплаты
// картой, затем атомарное оформление в репозитории. Все ошибки валидации
// собираются и возвращаются одним списком без изменения состояния.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.GetOrderLines(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	verrs, err := s.validateCheckout(ctx, order, lines, req)
	if err != nil {
		return nil, err
	}

	pc, err := s.loadPricingContext(ctx, order)
	if err != nil {
		return nil, err
	}

	coupon, err := s.lookupCoupon(ctx, req.CouponCode)
	if err != nil {
		verrs = append(verrs, ValidationError{Field: "coupon_code", Message: "coupon lookup failed"})
	}

	recompute := s.recomputeFunc(pc, coupon)
	preview := recompute(lines)

	if req.PaymentMethod == model.PaymentMethodCashOnDelivery &&
		s.opts.CashOnDeliveryCapCents > 0 && preview.TotalCents > s.opts.CashOnDeliveryCapCents {
		verrs = append(verrs, ValidationError{
			Field:   "payment_method",
			Message: fmt.Sprintf("cash on delivery is limited to %d cents", s.opts.CashOnDeliveryCapCents),
		})
	}
	if req.PaymentMethod == model.PaymentMethodDealerBalance && order.AccountID != nil {
		sufficient, err := s.SufficientBalance(ctx, *order.AccountID, preview.TotalCents)
		if err != nil {
			if errors.Is(err, repository.ErrBalanceNotFound) {
				verrs = append(verrs, ValidationError{Field: "payment_method", Message: "dealer balance not found"})
			} else {
				return nil, err
			}
		} else if !sufficient {
			verrs = append(verrs, ValidationError{Field: "payment_method", Message: "insufficient dealer balance"})
		}
	}

	if len(verrs) > 0 {
		return nil, verrs
	}

	metadata := make(map[string]string)
	var redirectURL string
	var expected *int64

	switch req.PaymentMethod {
	case model.PaymentMethodCreditCard:
		// Сессия создаётся до транзакции на итог предварительного расчёта;
		// расхождение с пересчётом под блокировкой прервёт оформление.
		session, err := s.gateway.CreateSession(ctx, order.Number, preview.TotalCents, order.Currency)
		if err != nil {
			return nil, err
		}
		metadata["payment_session_token"] = session.Token
		redirectURL = session.RedirectURL
		total := preview.TotalCents
		expected = &total
	case model.PaymentMethodBankTransfer:
		metadata["payment_instructions"] = "bank transfer, reference " + order.Number
	}
	if req.CouponCode != "" {
		metadata["coupon_code"] = req.CouponCode
	}

	result, err := s.repo.Checkout(ctx, repository.CheckoutParams{
		OrderID:                req.OrderID,
		PaymentMethod:          req.PaymentMethod,
		ShippingAddress:        req.ShippingAddress,
		BillingAddress:         req.BillingAddress,
		Metadata:               metadata,
		Recompute:              recompute,
		ExpectedTotalCents:     expected,
		CashOnDeliveryCapCents: s.opts.CashOnDeliveryCapCents,
		Actor:                  req.Actor,
	})
	if err != nil {
		return nil, mapCheckoutError(err)
	}

	return &CheckoutResult{Order: result, PaymentRedirectURL: redirectURL}, nil
}

// validateCheckout собирает все ошибки валидации запроса на оформление.
func (s *Service) validateCheckout(ctx context.Context, order *model.Order, lines []model.OrderLine, req CheckoutRequest) (ValidationErrors, error) {
	var verrs ValidationErrors

	if order.Status != model.OrderStatusCart {
		verrs = append(verrs, ValidationError{Field: "order", Message: "order is not a cart"})
	}
	if len(lines) == 0 {
		verrs = append(verrs, ValidationError{Field: "lines", Message: "cart is empty"})
	}
	if !req.PaymentMethod.Supported() {
		verrs = append(verrs, ValidationError{Field: "payment_method", Message: "unsupported payment method"})
	}
	if req.ShippingAddress.Empty() {
		verrs = append(verrs, ValidationError{Field: "shipping_address", Message: "required"})
	}
	if !validation.IsValidCurrency(order.Currency) {
		verrs = append(verrs, ValidationError{Field: "currency", Message: "invalid currency code"})
	}

	if req.PaymentMethod == model.PaymentMethodCreditCard && s.gateway == nil {
		verrs = append(verrs, ValidationError{Field: "payment_method", Message: "card payments are not configured"})
	}

	if req.PaymentMethod == model.PaymentMethodDealerBalance {
		if order.AccountID == nil {
			verrs = append(verrs, ValidationError{Field: "payment_method", Message: "dealer balance requires a dealer account"})
		} else {
			account, err := s.repo.GetAccount(ctx, *order.AccountID)
			if err != nil {
				return nil, err
			}
			if account.Kind != model.AccountKindDealer {
				verrs = append(verrs, ValidationError{Field: "payment_method", Message: "dealer balance requires a dealer account"})
			}
		}
	}

	// Предварительная проверка остатков; решающая проверка выполняется
	// под блокировкой вариантов внутри транзакции оформления.
	required := make(map[int64]int64)
	for _, l := range lines {
		if l.VariantID != nil {
			required[*l.VariantID] += l.Quantity
		}
	}
	for id, qty := range required {
		v, err := s.repo.GetVariant(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.TrackStock && qty > v.StockQuantity {
			verrs = append(verrs, ValidationError{
				Field:   "lines",
				Message: fmt.Sprintf("variant %d: requested %d, available %d", id, qty, v.StockQuantity),
			})
		}
	}

	return verrs, nil
}

// mapCheckoutError переводит ошибки транзакции оформления в ошибки валидации
// там, где они вызваны состоянием корзины, а не гонкой.
func mapCheckoutError(err error) error {
	var stockErr *repository.StockError
	if errors.As(err, &stockErr) {
		var verrs ValidationErrors
		for _, sh := range stockErr.Shortages {
			verrs = append(verrs, ValidationError{
				Field:   "lines",
				Message: fmt.Sprintf("variant %d: requested %d, available %d", sh.VariantID, sh.Requested, sh.Available),
			})
		}
		return verrs
	}
	if errors.Is(err, repository.ErrEmptyCart) {
		return ValidationErrors{{Field: "lines", Message: "cart is empty"}}
	}
	if errors.Is(err, repository.ErrCashLimitExceeded) {
		return ValidationErrors{{Field: "payment_method", Message: "cash on delivery limit exceeded"}}
	}
	return err
}

// ConfirmPayment обрабатывает асинхронное платёжное уведомление шлюза.
// Уведомление с неверной подписью отбрасывается; подтверждение помечает
// заказ оплаченным идемпотентно, отказ отменяет ожидающий оплаты заказ.
func (s *Service) ConfirmPayment(ctx context.Context, orderRef, status string, amountCents int64, signature string) (*model.Order, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("payment gateway not configured")
	}
	if !s.gateway.VerifySignature(orderRef, status, amountCents, signature) {
		return nil, ErrInvalidSignature
	}
	if !validation.IsValidPaymentReference(orderRef) {
		return nil, fmt.Errorf("%w: bad reference %q", repository.ErrOrderNotFound, orderRef)
	}

	switch status {
	case gateway.StatusConfirmed:
		order, _, err := s.repo.MarkOrderPaid(ctx, orderRef, &amountCents, "gateway")
		return order, err
	case gateway.StatusFailed:
		order, err := s.repo.GetOrderByNumber(ctx, orderRef)
		if err != nil {
			return nil, err
		}
		if order.Status != model.OrderStatusPending {
			return order, nil
		}
		return s.repo.CancelOrder(ctx, order.ID, "gateway")
	default:
		return s.repo.GetOrderByNumber(ctx, orderRef)
	}
}

// StartPaymentStatusUpdates запускает фоновый опрос шлюза по заказам,
// ожидающим подтверждения оплаты картой. Останавливается по контексту.
func (s *Service) StartPaymentStatusUpdates(ctx context.Context, log *zap.Logger) {
	if s.gateway == nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wait := s.processPaymentBatch(ctx, log); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}
	}
}

// processPaymentBatch опрашивает шлюз по пачке ожидающих заказов.
// Возвращает паузу, рекомендованную шлюзом при превышении лимита запросов.
func (s *Service) processPaymentBatch(ctx context.Context, log *zap.Logger) time.Duration {
	orders, err := s.repo.ListPendingGatewayOrders(ctx, 100)
	if err != nil {
		log.Error("list pending orders", zap.Error(err))
		return 0
	}

	for _, o := range orders {
		status, code, retryAfter, err := s.gateway.GetPaymentStatus(ctx, o.Number)
		if err != nil {
			log.Warn("payment status request failed", zap.String("order", o.Number), zap.Error(err))
			continue
		}
		if code == http.StatusTooManyRequests {
			return retryAfter
		}
		if status == nil {
			continue
		}

		switch status.Status {
		case gateway.StatusConfirmed:
			if _, _, err := s.repo.MarkOrderPaid(ctx, o.Number, status.AmountCents, "gateway-poll"); err != nil {
				log.Error("mark order paid", zap.String("order", o.Number), zap.Error(err))
			}
		case gateway.StatusFailed:
			if _, err := s.repo.CancelOrder(ctx, o.ID, "gateway-poll"); err != nil {
				log.Error("cancel failed payment order", zap.String("order", o.Number), zap.Error(err))
			}
		}
	}

	return 0
}
