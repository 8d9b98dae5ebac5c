// Package handler содержит HTTP-обработчики API коммерческого сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avoronin/dealermarket-system/internal/gateway"
	"github.com/avoronin/dealermarket-system/internal/middleware"
	"github.com/avoronin/dealermarket-system/internal/model"
	"github.com/avoronin/dealermarket-system/internal/pricing"
	"github.com/avoronin/dealermarket-system/internal/repository"
	"github.com/avoronin/dealermarket-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateCart(ctx context.Context, accountID *int64) (*model.Order, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	ListOrders(ctx context.Context, accountID int64) ([]model.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]model.OrderLine, error)
	GetStatusLog(ctx context.Context, orderID int64) ([]model.StatusLogEntry, error)

	AddLine(ctx context.Context, orderID int64, req service.LineRequest) (*pricing.LineBreakdown, error)
	UpdateLine(ctx context.Context, orderID, lineID int64, req service.LineRequest) (*pricing.LineBreakdown, error)
	RemoveLine(ctx context.Context, orderID, lineID int64) error
	Preview(ctx context.Context, orderID int64, couponCode string) (*pricing.Totals, error)

	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	Cancel(ctx context.Context, orderID int64, actor string) (*model.Order, error)
	AdvanceProduction(ctx context.Context, orderID int64, to model.ProductionStatus, actor, carrier, trackingNumber string) (*model.Order, error)
	ConfirmPayment(ctx context.Context, orderRef, status string, amountCents int64, signature string) (*model.Order, error)

	GetBalance(ctx context.Context, accountID int64) (*service.BalanceView, error)
	GetBalanceTransactions(ctx context.Context, accountID int64) ([]model.BalanceTransaction, error)
	Topup(ctx context.Context, accountID, amountCents int64, note string) (*service.BalanceView, error)
	AddCredit(ctx context.Context, accountID, amountCents int64, note string) (*service.BalanceView, error)
	Adjust(ctx context.Context, accountID, amountCents int64, note string) (*service.BalanceView, error)
	Debit(ctx context.Context, accountID, amountCents int64, note string) (*service.BalanceView, error)
}

// Handler реализует HTTP-обработчики API коммерческого сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verrs service.ValidationErrors
	if errors.As(err, &verrs) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": verrs})
		return
	}

	switch {
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrLineNotFound),
		errors.Is(err, repository.ErrVariantNotFound),
		errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrBalanceNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrOrderNotEditable),
		errors.Is(err, repository.ErrIllegalTransition),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrAmountMismatch):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, gateway.ErrUnavailable):
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	case errors.Is(err, service.ErrInvalidSignature):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// actor возвращает строку инициатора операции для журнала статусов.
func actor(r *http.Request) string {
	identity, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		return "guest"
	}
	return string(identity.Kind) + ":" + strconv.FormatInt(identity.AccountID, 10)
}

// canAccessOrder проверяет, что заказ принадлежит текущей учётной записи.
// Гостевые заказы доступны по идентификатору, админ видит всё.
func canAccessOrder(r *http.Request, order *model.Order) bool {
	if order.AccountID == nil {
		return true
	}
	identity, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		return false
	}
	return identity.Kind == model.AccountKindAdmin || identity.AccountID == *order.AccountID
}

type orderResponse struct {
	ID               int64             `json:"id"`
	Number           string            `json:"number"`
	Status           string            `json:"status"`
	ProductionStatus string            `json:"production_status"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	Currency         string            `json:"currency"`
	SubtotalCents    int64             `json:"subtotal_cents"`
	DiscountCents    int64             `json:"discount_cents"`
	ShippingCents    int64             `json:"shipping_cents"`
	TaxCents         int64             `json:"tax_cents"`
	TotalCents       int64             `json:"total_cents"`
	ShippingAddress  *model.Address    `json:"shipping_address,omitempty"`
	BillingAddress   *model.Address    `json:"billing_address,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	PaidAt           string            `json:"paid_at,omitempty"`
	ShippedAt        string            `json:"shipped_at,omitempty"`
	CancelledAt      string            `json:"cancelled_at,omitempty"`
	CreatedAt        string            `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		Number:           o.Number,
		Status:           string(o.Status),
		ProductionStatus: string(o.ProductionStatus),
		PaymentMethod:    string(o.PaymentMethod),
		Currency:         o.Currency,
		SubtotalCents:    o.SubtotalCents,
		DiscountCents:    o.DiscountCents,
		ShippingCents:    o.ShippingCents,
		TaxCents:         o.TaxCents,
		TotalCents:       o.TotalCents,
		Metadata:         o.Metadata,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
	}
	if !o.ShippingAddress.Empty() {
		addr := o.ShippingAddress
		resp.ShippingAddress = &addr
	}
	if !o.BillingAddress.Empty() {
		addr := o.BillingAddress
		resp.BillingAddress = &addr
	}
	if o.PaidAt != nil {
		resp.PaidAt = o.PaidAt.Format(time.RFC3339)
	}
	if o.ShippedAt != nil {
		resp.ShippedAt = o.ShippedAt.Format(time.RFC3339)
	}
	if o.CancelledAt != nil {
		resp.CancelledAt = o.CancelledAt.Format(time.RFC3339)
	}
	return resp
}

type optionChargeResponse struct {
	OptionValueID int64  `json:"option_value_id"`
	Label         string `json:"label"`
	Mode          string `json:"mode"`
	PriceCents    int64  `json:"price_cents"`
}

type lineResponse struct {
	ID             int64                  `json:"id"`
	ProductID      int64                  `json:"product_id"`
	VariantID      *int64                 `json:"variant_id,omitempty"`
	Quantity       int64                  `json:"quantity"`
	UnitPriceCents int64                  `json:"unit_price_cents"`
	TotalCents     int64                  `json:"total_cents"`
	Options        []optionChargeResponse `json:"options,omitempty"`
}

func toLineResponses(lines []model.OrderLine) []lineResponse {
	resp := make([]lineResponse, 0, len(lines))
	for _, l := range lines {
		lr := lineResponse{
			ID:             l.ID,
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			TotalCents:     l.TotalCents,
		}
		for _, opt := range l.Options {
			lr.Options = append(lr.Options, optionChargeResponse{
				OptionValueID: opt.OptionValueID,
				Label:         opt.Label,
				Mode:          string(opt.Mode),
				PriceCents:    opt.PriceCents,
			})
		}
		resp = append(resp, lr)
	}
	return resp
}

// CreateOrder создаёт новый заказ-корзину. Аутентификация необязательна:
// без неё создаётся гостевая корзина.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var accountID *int64
	if identity, ok := middleware.AccountFromContext(r.Context()); ok {
		accountID = &identity.AccountID
	}

	order, err := h.service.CreateCart(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrder возвращает заказ со строками.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !canAccessOrder(r, order) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	lines, err := h.service.GetOrderLines(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order": toOrderResponse(order),
		"lines": toLineResponses(lines),
	})
}

// ListOrders возвращает заказы текущей учётной записи.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), identity.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStatusLog возвращает журнал переходов статусов заказа.
func (h *Handler) GetStatusLog(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !canAccessOrder(r, order) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	log, err := h.service.GetStatusLog(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	type entryResponse struct {
		Kind      string `json:"kind"`
		Actor     string `json:"actor"`
		From      string `json:"from"`
		To        string `json:"to"`
		CreatedAt string `json:"created_at"`
	}

	resp := make([]entryResponse, 0, len(log))
	for _, e := range log {
		resp = append(resp, entryResponse{
			Kind:      string(e.Kind),
			Actor:     e.Actor,
			From:      e.From,
			To:        e.To,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddLine добавляет строку в корзину.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req service.LineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.orderAccessible(w, r, orderID) {
		return
	}

	breakdown, err := h.service.AddLine(r.Context(), orderID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, breakdown)
}

// UpdateLine изменяет строку корзины.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	orderID, okOrder := urlID(r, "orderID")
	lineID, okLine := urlID(r, "lineID")
	if !okOrder || !okLine {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req service.LineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.orderAccessible(w, r, orderID) {
		return
	}

	breakdown, err := h.service.UpdateLine(r.Context(), orderID, lineID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}

// RemoveLine удаляет строку корзины.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	orderID, okOrder := urlID(r, "orderID")
	lineID, okLine := urlID(r, "lineID")
	if !okOrder || !okLine {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.orderAccessible(w, r, orderID) {
		return
	}

	if err := h.service.RemoveLine(r.Context(), orderID, lineID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Preview возвращает итоги заказа без сохранения.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.orderAccessible(w, r, orderID) {
		return
	}

	totals, err := h.service.Preview(r.Context(), orderID, r.URL.Query().Get("coupon"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) orderAccessible(w http.ResponseWriter, r *http.Request, orderID int64) bool {
	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return false
	}
	if !canAccessOrder(r, order) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return false
	}
	return true
}

type checkoutRequest struct {
	PaymentMethod   string        `json:"payment_method"`
	ShippingAddress model.Address `json:"shipping_address"`
	BillingAddress  model.Address `json:"billing_address"`
	CouponCode      string        `json:"coupon_code"`
}

// Checkout оформляет заказ-корзину.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.orderAccessible(w, r, orderID) {
		return
	}

	res, err := h.service.Checkout(r.Context(), service.CheckoutRequest{
		OrderID:         orderID,
		PaymentMethod:   model.PaymentMethod(req.PaymentMethod),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		CouponCode:      req.CouponCode,
		Actor:           actor(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":                toOrderResponse(res.Order),
		"payment_redirect_url": res.PaymentRedirectURL,
	})
}

// CancelOrder отменяет заказ по запросу покупателя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.orderAccessible(w, r, orderID) {
		return
	}

	order, err := h.service.Cancel(r.Context(), orderID, actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type productionRequest struct {
	Status         string `json:"status"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

// AdvanceProduction переводит производственный статус заказа.
func (h *Handler) AdvanceProduction(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req productionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.AdvanceProduction(r.Context(), orderID,
		model.ProductionStatus(req.Status), actor(r), req.Carrier, req.TrackingNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type paymentCallbackRequest struct {
	OrderRef    string `json:"order_ref"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Signature   string `json:"signature"`
}

// PaymentCallback принимает асинхронное уведомление платёжного шлюза.
// Маршрут не требует аутентификации: доверие обеспечивает подпись.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.service.ConfirmPayment(r.Context(), req.OrderRef, req.Status, req.AmountCents, req.Signature); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает баланс текущего дилера.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), identity.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type transactionResponse struct {
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note,omitempty"`
	OrderID     *int64 `json:"order_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// GetBalanceTransactions возвращает журнал операций по балансу текущего дилера.
func (h *Handler) GetBalanceTransactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	transactions, err := h.service.GetBalanceTransactions(r.Context(), identity.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, tr := range transactions {
		resp = append(resp, transactionResponse{
			Kind:        string(tr.Kind),
			AmountCents: tr.AmountCents,
			Note:        tr.Note,
			OrderID:     tr.OrderID,
			CreatedAt:   tr.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type amountRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note"`
}

// Topup пополняет баланс текущего дилера.
func (h *Handler) Topup(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.Topup(r.Context(), identity.AccountID, req.AmountCents, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

// AddCredit пополняет баланс дилера от имени оператора.
func (h *Handler) AddCredit(w http.ResponseWriter, r *http.Request) {
	h.adminCredit(w, r, h.service.AddCredit)
}

// Adjust применяет ручную корректировку баланса дилера.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.adminCredit(w, r, h.service.Adjust)
}

// Debit списывает сумму с баланса дилера от имени оператора.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	h.adminCredit(w, r, h.service.Debit)
}

func (h *Handler) adminCredit(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, int64, string) (*service.BalanceView, error)) {
	accountID, ok := urlID(r, "accountID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := op(r.Context(), accountID, req.AmountCents, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}
