// Package model содержит доменные сущности коммерческого сервиса.
package model

import "time"

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusCart      OrderStatus = "cart"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions — полная таблица допустимых переходов статуса заказа.
// Статусы shipped и cancelled терминальны.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusCart: {
		OrderStatusPending:   true,
		OrderStatusPaid:      true,
		OrderStatusCancelled: true,
	},
	OrderStatusPending: {
		OrderStatusPaid:      true,
		OrderStatusCancelled: true,
	},
	OrderStatusPaid: {
		OrderStatusShipped:   true,
		OrderStatusCancelled: true,
	},
	OrderStatusShipped:   {},
	OrderStatusCancelled: {},
}

// CanTransition сообщает, допустим ли переход заказа из текущего статуса в целевой.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return orderTransitions[s][to]
}

// Terminal сообщает, является ли статус терминальным.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// ProductionStatus описывает производственный подстатус оплаченного заказа.
type ProductionStatus string

const (
	ProductionStatusPending      ProductionStatus = "pending"
	ProductionStatusInProduction ProductionStatus = "in_production"
	ProductionStatusReady        ProductionStatus = "ready"
	ProductionStatusShipped      ProductionStatus = "shipped"
)

// Производственная цепочка строго линейна.
var productionTransitions = map[ProductionStatus]ProductionStatus{
	ProductionStatusPending:      ProductionStatusInProduction,
	ProductionStatusInProduction: ProductionStatusReady,
	ProductionStatusReady:        ProductionStatusShipped,
}

// CanTransition сообщает, допустим ли переход производственного статуса.
func (s ProductionStatus) CanTransition(to ProductionStatus) bool {
	return productionTransitions[s] == to
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodDealerBalance  PaymentMethod = "dealer_balance"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Supported сообщает, поддерживается ли способ оплаты.
func (m PaymentMethod) Supported() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDealerBalance,
		PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// AccountKind описывает тип учётной записи покупателя.
type AccountKind string

const (
	AccountKindCustomer AccountKind = "customer"
	AccountKindDealer   AccountKind = "dealer"
	AccountKindAdmin    AccountKind = "admin"
)

// Account — учётная запись покупателя.
type Account struct {
	ID        int64
	Name      string
	Kind      AccountKind
	CreatedAt time.Time
}

// Address содержит почтовый адрес доставки или выставления счёта.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Empty сообщает, заполнен ли адрес.
func (a Address) Empty() bool {
	return a.Line1 == "" && a.City == "" && a.PostalCode == "" && a.Country == ""
}

// Order представляет заказ. Денежные поля производные: их пишет только
// агрегатор цен заказа, вручную они не редактируются.
type Order struct {
	ID               int64
	Number           string
	AccountID        *int64
	Status           OrderStatus
	ProductionStatus ProductionStatus
	PaymentMethod    PaymentMethod
	Currency         string
	SubtotalCents    int64
	DiscountCents    int64
	ShippingCents    int64
	TaxCents         int64
	TotalCents       int64
	ShippingAddress  Address
	BillingAddress   Address
	Metadata         map[string]string
	PaidAt           *time.Time
	ShippedAt        *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
}

// ChargeMode описывает способ начисления доплаты за опцию.
type ChargeMode string

const (
	// ChargeModeFlat — доплата начисляется один раз на строку заказа.
	ChargeModeFlat ChargeMode = "flat"
	// ChargeModePerUnit — доплата умножается на количество.
	ChargeModePerUnit ChargeMode = "per_unit"
)

// OptionCharge — выбранное значение опции с её доплатой.
type OptionCharge struct {
	OptionValueID int64
	Label         string
	Mode          ChargeMode
	PriceCents    int64
}

// OrderLine представляет строку заказа.
type OrderLine struct {
	ID             int64
	OrderID        int64
	ProductID      int64
	VariantID      *int64
	Quantity       int64
	UnitPriceCents int64
	TotalCents     int64
	Options        []OptionCharge
	// ReservedQuantity фиксируется при оформлении и используется при
	// возврате остатков на склад при отмене.
	ReservedQuantity int64
}

// Variant — вариант товара из каталога: цена и остаток на складе.
type Variant struct {
	ID             int64
	ProductID      int64
	SKU            string
	UnitPriceCents int64
	StockQuantity  int64
	TrackStock     bool
}

// OptionValue — значение опции товара из каталога.
type OptionValue struct {
	ID         int64
	ProductID  int64
	Label      string
	Mode       ChargeMode
	PriceCents int64
}

// DealerBalance — денормализованный баланс дилера с кредитным лимитом.
// Инвариант: balance_cents >= -credit_limit_cents после любого списания.
type DealerBalance struct {
	AccountID         int64
	BalanceCents      int64
	CreditLimitCents  int64
	Currency          string
	LastTransactionAt *time.Time
}

// AvailableCents возвращает доступный остаток: баланс плюс кредитный лимит.
func (b DealerBalance) AvailableCents() int64 {
	return b.BalanceCents + b.CreditLimitCents
}

// Sufficient сообщает, покрывает ли доступный остаток требуемую сумму.
func (b DealerBalance) Sufficient(requiredCents int64) bool {
	return b.AvailableCents() >= requiredCents
}

// Debited возвращает баланс после списания amountCents и признак того,
/// что новый баланс не выходит за кредитный лимит. Сам баланс не меняется:
// применять результат или нет, решает вызывающая сторона.
func (b DealerBalance) Debited(amountCents int64) (int64, bool) {
	newBalance := b.BalanceCents - amountCents
	return newBalance, newBalance >= -b.CreditLimitCents
}

// Credited возвращает баланс после пополнения amountCents.
func (b DealerBalance) Credited(amountCents int64) int64 {
	return b.BalanceCents + amountCents
}

// TransactionKind описывает тип операции по балансу дилера.
type TransactionKind string

const (
	TransactionCredit       TransactionKind = "credit"
	TransactionDebit        TransactionKind = "debit"
	TransactionTopup        TransactionKind = "topup"
	TransactionOrderPayment TransactionKind = "order_payment"
	TransactionRefund       TransactionKind = "refund"
	TransactionAdjustment   TransactionKind = "adjustment"
)

// Debit сообщает, уменьшает ли операция баланс.
// Сумма в журнале всегда хранится положительной, знак определяет тип.
func (k TransactionKind) Debit() bool {
	return k == TransactionDebit || k == TransactionOrderPayment
}

// BalanceTransaction — неизменяемая запись журнала операций по балансу.
type BalanceTransaction struct {
	ID          int64
	AccountID   int64
	Kind        TransactionKind
	AmountCents int64
	OrderID     *int64
	Note        string
	CreatedAt   time.Time
}

// DealerDiscount — персональная скидка дилера на товар в процентах.
type DealerDiscount struct {
	AccountID       int64
	ProductID       int64
	DiscountPercent float64
	Active          bool
}

// StatusLogKind различает журналы статусов заказа и производства.
type StatusLogKind string

const (
	StatusLogOrder      StatusLogKind = "order"
	StatusLogProduction StatusLogKind = "production"
)

// StatusLogEntry — запись append-only журнала переходов статусов.
type StatusLogEntry struct {
	ID        int64
	OrderID   int64
	Kind      StatusLogKind
	Actor     string
	From      string
	To        string
	CreatedAt time.Time
}
