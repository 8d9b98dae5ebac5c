package model

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusCart, OrderStatusPending, true},
		{OrderStatusCart, OrderStatusPaid, true},
		{OrderStatusCart, OrderStatusCancelled, true},
		{OrderStatusCart, OrderStatusShipped, false},
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusPaid, OrderStatusShipped, true},
		{OrderStatusPaid, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusCart, false},
		{OrderStatusCancelled, OrderStatusPaid, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if !OrderStatusShipped.Terminal() {
		t.Fatalf("shipped must be terminal")
	}
	if !OrderStatusCancelled.Terminal() {
		t.Fatalf("cancelled must be terminal")
	}
	if OrderStatusCart.Terminal() || OrderStatusPending.Terminal() || OrderStatusPaid.Terminal() {
		t.Fatalf("non-terminal status reported as terminal")
	}
}

func TestProductionStatusTransitions(t *testing.T) {
	tests := []struct {
		from ProductionStatus
		to   ProductionStatus
		want bool
	}{
		{ProductionStatusPending, ProductionStatusInProduction, true},
		{ProductionStatusInProduction, ProductionStatusReady, true},
		{ProductionStatusReady, ProductionStatusShipped, true},
		{ProductionStatusPending, ProductionStatusReady, false},
		{ProductionStatusPending, ProductionStatusShipped, false},
		{ProductionStatusReady, ProductionStatusInProduction, false},
		{ProductionStatusShipped, ProductionStatusPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPaymentMethodSupported(t *testing.T) {
	for _, m := range []PaymentMethod{
		PaymentMethodCreditCard,
		PaymentMethodDealerBalance,
		PaymentMethodBankTransfer,
		PaymentMethodCashOnDelivery,
	} {
		if !m.Supported() {
			t.Fatalf("%s must be supported", m)
		}
	}

	if PaymentMethod("crypto").Supported() {
		t.Fatalf("unknown payment method reported as supported")
	}
}

func TestDealerBalanceAvailable(t *testing.T) {
	b := DealerBalance{BalanceCents: -30000, CreditLimitCents: 50000}

	if got := b.AvailableCents(); got != 20000 {
		t.Fatalf("AvailableCents = %d, want 20000", got)
	}
	if !b.Sufficient(20000) {
		t.Fatalf("Sufficient(20000) = false, want true")
	}
	if b.Sufficient(20001) {
		t.Fatalf("Sufficient(20001) = true, want false")
	}
}

func TestDealerBalanceDebited_LimitBoundary(t *testing.T) {
	tests := []struct {
		name        string
		balance     int64
		creditLimit int64
		amount      int64
		wantBalance int64
		wantOK      bool
	}{
		{"within balance", 10000, 0, 4000, 6000, true},
		{"into credit", 1000, 5000, 4000, -3000, true},
		{"exactly at limit", 0, 5000, 5000, -5000, true},
		{"one cent over limit", 0, 5000, 5001, -5001, false},
		{"no credit, one cent short", 999, 0, 1000, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DealerBalance{BalanceCents: tt.balance, CreditLimitCents: tt.creditLimit}
			got, ok := b.Debited(tt.amount)
			if ok != tt.wantOK {
				t.Fatalf("Debited(%d) ok = %v, want %v", tt.amount, ok, tt.wantOK)
			}
			if got != tt.wantBalance {
				t.Fatalf("Debited(%d) = %d, want %d", tt.amount, got, tt.wantBalance)
			}
			if b.BalanceCents != tt.balance {
				t.Fatalf("Debited must not mutate the balance")
			}
		})
	}
}

// Серия пополнений и списаний: отклонённое списание не двигает баланс,
// принятые никогда не уводят его ниже -credit_limit_cents.
func TestDealerBalanceDebited_Sequence(t *testing.T) {
	b := DealerBalance{BalanceCents: 0, CreditLimitCents: 10000}

	steps := []struct {
		kind        TransactionKind
		amount      int64
		wantOK      bool
		wantBalance int64
	}{
		{TransactionTopup, 5000, true, 5000},
		{TransactionOrderPayment, 12000, true, -7000},
		{TransactionOrderPayment, 4000, false, -7000},
		{TransactionDebit, 3000, true, -10000},
		{TransactionDebit, 1, false, -10000},
		{TransactionRefund, 12000, true, 2000},
		{TransactionOrderPayment, 12000, true, -10000},
	}

	for i, st := range steps {
		if st.kind.Debit() {
			newBalance, ok := b.Debited(st.amount)
			if ok != st.wantOK {
				t.Fatalf("step %d: Debited(%d) ok = %v, want %v (balance %d)", i, st.amount, ok, st.wantOK, b.BalanceCents)
			}
			if ok {
				b.BalanceCents = newBalance
			}
		} else {
			b.BalanceCents = b.Credited(st.amount)
		}

		if b.BalanceCents != st.wantBalance {
			t.Fatalf("step %d: balance = %d, want %d", i, b.BalanceCents, st.wantBalance)
		}
		if b.BalanceCents < -b.CreditLimitCents {
			t.Fatalf("step %d: balance %d below credit limit %d", i, b.BalanceCents, -b.CreditLimitCents)
		}
	}

	if b.BalanceCents != -10000 {
		t.Fatalf("final balance = %d, want -10000", b.BalanceCents)
	}
}

func TestTransactionKindDebit(t *testing.T) {
	if !TransactionDebit.Debit() || !TransactionOrderPayment.Debit() {
		t.Fatalf("debit kinds must decrease balance")
	}
	if TransactionCredit.Debit() || TransactionTopup.Debit() || TransactionRefund.Debit() || TransactionAdjustment.Debit() {
		t.Fatalf("credit kinds must not decrease balance")
	}
}
