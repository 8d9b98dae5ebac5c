// Package service реализует бизнес-логику коммерческого сервиса.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avoronin/dealermarket-system/internal/gateway"
	"github.com/avoronin/dealermarket-system/internal/model"
	"github.com/avoronin/dealermarket-system/internal/pricing"
	"github.com/avoronin/dealermarket-system/internal/repository"
)

// ErrInvalidSignature возвращается при платёжном уведомлении с неверной подписью.
var ErrInvalidSignature = errors.New("invalid callback signature")

// ValidationError описывает одну ошибку валидации входных данных.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors — список ошибок валидации; возвращается целиком,
// ни одна из ошибок не сопровождается изменением состояния.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetVariant(ctx context.Context, id int64) (*model.Variant, error)
	GetOptionValues(ctx context.Context, ids []int64) ([]model.OptionValue, error)
	GetDealerDiscount(ctx context.Context, accountID, productID int64) (*model.DealerDiscount, error)
	GetActiveDealerDiscounts(ctx context.Context, accountID int64) (map[int64]float64, error)

	CreateCartOrder(ctx context.Context, accountID *int64, currency string) (*model.Order, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrdersByAccount(ctx context.Context, accountID int64) ([]model.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]model.OrderLine, error)
	AddOrderLine(ctx context.Context, orderID int64, line model.OrderLine, recompute repository.RecomputeFunc) (int64, error)
	UpdateOrderLine(ctx context.Context, orderID int64, line model.OrderLine, recompute repository.RecomputeFunc) error
	DeleteOrderLine(ctx context.Context, orderID, lineID int64, recompute repository.RecomputeFunc) error
	ListStatusLog(ctx context.Context, orderID int64) ([]model.StatusLogEntry, error)

	GetBalance(ctx context.Context, accountID int64) (*model.DealerBalance, error)
	CreditBalance(ctx context.Context, accountID int64, kind model.TransactionKind, amountCents int64, note string, orderID *int64) (*model.DealerBalance, error)
	DeductBalance(ctx context.Context, accountID int64, kind model.TransactionKind, amountCents int64, note string, orderID *int64) (*model.DealerBalance, error)
	ListBalanceTransactions(ctx context.Context, accountID int64) ([]model.BalanceTransaction, error)

	Checkout(ctx context.Context, p repository.CheckoutParams) (*model.Order, error)
	MarkOrderPaid(ctx context.Context, number string, amountCents *int64, actor string) (*model.Order, bool, error)
	CancelOrder(ctx context.Context, orderID int64, actor string) (*model.Order, error)
	AdvanceProduction(ctx context.Context, orderID int64, to model.ProductionStatus, actor, carrier, trackingNumber string) (*model.Order, error)
	ListPendingGatewayOrders(ctx context.Context, limit int) ([]model.Order, error)
}

// Gateway описывает контракт платёжного шлюза, используемый сервисом.
type Gateway interface {
	CreateSession(ctx context.Context, orderRef string, amountCents int64, currency string) (*gateway.Session, error)
	GetPaymentStatus(ctx context.Context, orderRef string) (*gateway.PaymentStatus, int, time.Duration, error)
	VerifySignature(orderRef, status string, amountCents int64, signature string) bool
}

// CouponService описывает контракт внешнего купонного сервиса.
type CouponService interface {
	Lookup(ctx context.Context, code string) (pricing.Coupon, error)
}

// Notifier уведомляет внешние системы об отгрузке заказа.
type Notifier interface {
	OrderShipped(ctx context.Context, order *model.Order, carrier, trackingNumber string)
}

// Options — параметры поведения сервиса.
type Options struct {
	Pricing                pricing.Params
	CashOnDeliveryCapCents int64
	DefaultCurrency        string
}

// Service содержит бизнес-логику коммерческого сервиса.
type Service struct {
	repo     Repository
	gateway  Gateway
	coupons  CouponService
	notifier Notifier
	opts     Options
}

// NewService создаёт новый сервис. Шлюз, купонный сервис и нотификатор
// опциональны: nil отключает соответствующую интеграцию.
func NewService(repo Repository, gw Gateway, coupons CouponService, notifier Notifier, opts Options) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "EUR"
	}
	return &Service{
		repo:     repo,
		gateway:  gw,
		coupons:  coupons,
		notifier: notifier,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateCart создаёт новый заказ-корзину. accountID nil — гостевая корзина.
func (s *Service) CreateCart(ctx context.Context, accountID *int64) (*model.Order, error) {
	if accountID != nil {
		if _, err := s.repo.GetAccount(ctx, *accountID); err != nil {
			return nil, err
		}
	}
	return s.repo.CreateCartOrder(ctx, accountID, s.opts.DefaultCurrency)
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders возвращает заказы учётной записи.
func (s *Service) ListOrders(ctx context.Context, accountID int64) ([]model.Order, error) {
	return s.repo.ListOrdersByAccount(ctx, accountID)
}

// GetOrderLines возвращает строки заказа.
func (s *Service) GetOrderLines(ctx context.Context, orderID int64) ([]model.OrderLine, error) {
	return s.repo.GetOrderLines(ctx, orderID)
}

// GetStatusLog возвращает журнал переходов статусов заказа.
func (s *Service) GetStatusLog(ctx context.Context, orderID int64) ([]model.StatusLogEntry, error) {
	return s.repo.ListStatusLog(ctx, orderID)
}

// LineRequest — запрос на добавление или изменение строки заказа.
type LineRequest struct {
	VariantID      int64   `json:"variant_id"`
	Quantity       int64   `json:"quantity"`
	OptionValueIDs []int64 `json:"option_value_ids"`
}

// pricingContext собирает данные ценообразования покупателя заказа.
type pricingContext struct {
	isDealer  bool
	discounts map[int64]float64
}

func (s *Service) loadPricingContext(ctx context.Context, order *model.Order) (pricingContext, error) {
	var pc pricingContext
	if order.AccountID == nil {
		return pc, nil
	}

	account, err := s.repo.GetAccount(ctx, *order.AccountID)
	if err != nil {
		return pc, err
	}
	if account.Kind != model.AccountKindDealer {
		return pc, nil
	}

	pc.isDealer = true
	pc.discounts, err = s.repo.GetActiveDealerDiscounts(ctx, *order.AccountID)
	if err != nil {
		return pc, err
	}
	return pc, nil
}

// recomputeFunc строит чистую функцию пересчёта итогов заказа для
// выполнения внутри транзакции репозитория.
func (s *Service) recomputeFunc(pc pricingContext, coupon pricing.Coupon) repository.RecomputeFunc {
	return func(lines []model.OrderLine) pricing.Totals {
		in := pricing.OrderInput{
			IsDealer: pc.isDealer,
			Coupon:   coupon,
			Params:   s.opts.Pricing,
		}
		for _, l := range lines {
			in.Lines = append(in.Lines, pricing.LineTotals{
				TotalCents:      l.TotalCents,
				DiscountPercent: pc.discounts[l.ProductID],
			})
		}
		return pricing.ComputeTotals(in)
	}
}

// buildLine собирает строку заказа из запроса, валидируя вариант и опции.
func (s *Service) buildLine(ctx context.Context, order *model.Order, req LineRequest) (*model.OrderLine, *pricing.LineBreakdown, error) {
	var verrs ValidationErrors

	if req.Quantity <= 0 {
		verrs = append(verrs, ValidationError{Field: "quantity", Message: "must be positive"})
	}

	variant, err := s.repo.GetVariant(ctx, req.VariantID)
	if err != nil {
		if errors.Is(err, repository.ErrVariantNotFound) {
			verrs = append(verrs, ValidationError{Field: "variant_id", Message: "unknown variant"})
			return nil, nil, verrs
		}
		return nil, nil, err
	}

	options, err := s.repo.GetOptionValues(ctx, req.OptionValueIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(options) != len(req.OptionValueIDs) {
		verrs = append(verrs, ValidationError{Field: "option_value_ids", Message: "unknown option value"})
	}
	for _, opt := range options {
		if opt.ProductID != variant.ProductID {
			verrs = append(verrs, ValidationError{
				Field:   "option_value_ids",
				Message: fmt.Sprintf("option %d does not belong to product %d", opt.ID, variant.ProductID),
			})
		}
	}
	if len(verrs) > 0 {
		return nil, nil, verrs
	}

	var discount *model.DealerDiscount
	if order.AccountID != nil {
		account, err := s.repo.GetAccount(ctx, *order.AccountID)
		if err != nil {
			return nil, nil, err
		}
		if account.Kind == model.AccountKindDealer {
			discount, err = s.repo.GetDealerDiscount(ctx, *order.AccountID, variant.ProductID)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	breakdown, err := pricing.PriceLine(pricing.LineInput{
		Variant:  variant,
		Quantity: req.Quantity,
		Options:  options,
		Discount: discount,
		TaxRate:  s.opts.Pricing.TaxRate,
	})
	if err != nil {
		return nil, nil, err
	}

	charges := make([]model.OptionCharge, 0, len(options))
	for _, opt := range options {
		charges = append(charges, model.OptionCharge{
			OptionValueID: opt.ID,
			Label:         opt.Label,
			Mode:          opt.Mode,
			PriceCents:    opt.PriceCents,
		})
	}

	line := &model.OrderLine{
		OrderID:        order.ID,
		ProductID:      variant.ProductID,
		VariantID:      &variant.ID,
		Quantity:       req.Quantity,
		UnitPriceCents: variant.UnitPriceCents,
		// Скидка и налог уровня заказа в сумму строки не входят:
		// их применяет агрегатор итогов.
		TotalCents: breakdown.SubtotalCents + breakdown.OptionsCents,
		Options:    charges,
	}

	return line, breakdown, nil
}

// AddLine добавляет строку в корзину и пересчитывает итоги заказа.
// Возвращает пошаговую раскладку цены строки для отображения.
func (s *Service) AddLine(ctx context.Context, orderID int64, req LineRequest) (*pricing.LineBreakdown, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	line, breakdown, err := s.buildLine(ctx, order, req)
	if err != nil {
		return nil, err
	}

	pc, err := s.loadPricingContext(ctx, order)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.AddOrderLine(ctx, orderID, *line, s.recomputeFunc(pc, nil)); err != nil {
		return nil, err
	}

	return breakdown, nil
}

// UpdateLine изменяет строку корзины и пересчитывает итоги заказа.
func (s *Service) UpdateLine(ctx context.Context, orderID, lineID int64, req LineRequest) (*pricing.LineBreakdown, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	line, breakdown, err := s.buildLine(ctx, order, req)
	if err != nil {
		return nil, err
	}
	line.ID = lineID

	pc, err := s.loadPricingContext(ctx, order)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateOrderLine(ctx, orderID, *line, s.recomputeFunc(pc, nil)); err != nil {
		return nil, err
	}

	return breakdown, nil
}

// RemoveLine удаляет строку корзины и пересчитывает итоги заказа.
func (s *Service) RemoveLine(ctx context.Context, orderID, lineID int64) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	pc, err := s.loadPricingContext(ctx, order)
	if err != nil {
		return err
	}

	return s.repo.DeleteOrderLine(ctx, orderID, lineID, s.recomputeFunc(pc, nil))
}

// Preview считает итоги заказа по текущим строкам без сохранения.
func (s *Service) Preview(ctx context.Context, orderID int64, couponCode string) (*pricing.Totals, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}

	pc, err := s.loadPricingContext(ctx, order)
	if err != nil {
		return nil, err
	}

	coupon, err := s.lookupCoupon(ctx, couponCode)
	if err != nil {
		return nil, err
	}

	totals := s.recomputeFunc(pc, coupon)(lines)
	return &totals, nil
}

func (s *Service) lookupCoupon(ctx context.Context, code string) (pricing.Coupon, error) {
	if code == "" || s.coupons == nil {
		return nil, nil
	}
	return s.coupons.Lookup(ctx, code)
}

// BalanceView — баланс дилера с вычисленным доступным остатком.
type BalanceView struct {
	BalanceCents     int64  `json:"balance_cents"`
	CreditLimitCents int64  `json:"credit_limit_cents"`
	AvailableCents   int64  `json:"available_cents"`
	Currency         string `json:"currency"`
}

func balanceView(b *model.DealerBalance) *BalanceView {
	return &BalanceView{
		BalanceCents:     b.BalanceCents,
		CreditLimitCents: b.CreditLimitCents,
		AvailableCents:   b.AvailableCents(),
		Currency:         b.Currency,
	}
}

// GetBalance возвращает баланс дилера.
func (s *Service) GetBalance(ctx context.Context, accountID int64) (*BalanceView, error) {
	b, err := s.repo.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return balanceView(b), nil
}

// SufficientBalance сообщает, покрывает ли доступный остаток требуемую сумму.
func (s *Service) SufficientBalance(ctx context.Context, accountID, requiredCents int64) (bool, error) {
	b, err := s.repo.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return b.Sufficient(requiredCents), nil
}

// AddCredit пополняет баланс дилера системным начислением.
func (s *Service) AddCredit(ctx context.Context, accountID, amountCents int64, note string) (*BalanceView, error) {
	return s.creditAs(ctx, accountID, model.TransactionCredit, amountCents, note)
}

// Topup пополняет баланс дилера ручной загрузкой средств.
func (s *Service) Topup(ctx context.Context, accountID, amountCents int64, note string) (*BalanceView, error) {
	return s.creditAs(ctx, accountID, model.TransactionTopup, amountCents, note)
}

// Adjust пополняет баланс дилера корректировкой оператора.
func (s *Service) Adjust(ctx context.Context, accountID, amountCents int64, note string) (*BalanceView, error) {
	return s.creditAs(ctx, accountID, model.TransactionAdjustment, amountCents, note)
}

// Debit списывает сумму с баланса дилера операцией оператора. При превышении
// кредитного лимита возвращает ErrInsufficientBalance без изменений.
func (s *Service) Debit(ctx context.Context, accountID, amountCents int64, note string) (*BalanceView, error) {
	if amountCents <= 0 {
		return nil, ValidationErrors{{Field: "amount_cents", Message: "must be positive"}}
	}

	b, err := s.repo.DeductBalance(ctx, accountID, model.TransactionDebit, amountCents, note, nil)
	if err != nil {
		return nil, err
	}
	return balanceView(b), nil
}

func (s *Service) creditAs(ctx context.Context, accountID int64, kind model.TransactionKind, amountCents int64, note string) (*BalanceView, error) {
	if amountCents <= 0 {
		return nil, ValidationErrors{{Field: "amount_cents", Message: "must be positive"}}
	}

	b, err := s.repo.CreditBalance(ctx, accountID, kind, amountCents, note, nil)
	if err != nil {
		return nil, err
	}
	return balanceView(b), nil
}

// GetBalanceTransactions возвращает журнал операций по балансу дилера.
func (s *Service) GetBalanceTransactions(ctx context.Context, accountID int64) ([]model.BalanceTransaction, error) {
	return s.repo.ListBalanceTransactions(ctx, accountID)
}

// Cancel отменяет заказ. Операция доступна только из статусов cart и paid;
// зарезервированные остатки возвращаются на склад, оплаченные с баланса
// заказы возвращаются на баланс записью refund.
func (s *Service) Cancel(ctx context.Context, orderID int64, actor string) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusCart && order.Status != model.OrderStatusPaid {
		return nil, fmt.Errorf("%w: cancel from %s", repository.ErrIllegalTransition, order.Status)
	}
	return s.repo.CancelOrder(ctx, orderID, actor)
}

// AdvanceProduction переводит производственный статус заказа. Переход в
// shipped требует перевозчика и трек-номера и запускает уведомление.
func (s *Service) AdvanceProduction(ctx context.Context, orderID int64, to model.ProductionStatus, actor, carrier, trackingNumber string) (*model.Order, error) {
	if to == model.ProductionStatusShipped {
		var verrs ValidationErrors
		if carrier == "" {
			verrs = append(verrs, ValidationError{Field: "carrier", Message: "required for shipping"})
		}
		if trackingNumber == "" {
			verrs = append(verrs, ValidationError{Field: "tracking_number", Message: "required for shipping"})
		}
		if len(verrs) > 0 {
			return nil, verrs
		}
	}

	order, err := s.repo.AdvanceProduction(ctx, orderID, to, actor, carrier, trackingNumber)
	if err != nil {
		return nil, err
	}

	if to == model.ProductionStatusShipped && s.notifier != nil {
		s.notifier.OrderShipped(ctx, order, carrier, trackingNumber)
	}

	return order, nil
}
