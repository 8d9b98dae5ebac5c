package validation

import "testing"

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"EUR", true},
		{"USD", true},
		{"RUB", true},
		{"eur", false},
		{"EU", false},
		{"EURO", false},
		{"E1R", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidCurrency(tt.code); got != tt.want {
			t.Fatalf("IsValidCurrency(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestPaymentReference_RoundTrip(t *testing.T) {
	for _, id := range []int64{1, 7, 42, 1000, 999999999} {
		ref := PaymentReference(id)
		if len(ref) != 10 {
			t.Fatalf("PaymentReference(%d) = %q, want 10 digits", id, ref)
		}
		if !IsValidPaymentReference(ref) {
			t.Fatalf("PaymentReference(%d) = %q fails Luhn check", id, ref)
		}
	}
}

func TestIsValidPaymentReference(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"12345678903", true},
		{"4561261212345467", true},
		{"12345678901", false},
		{"1234abc", false},
		{"", false},
		{"0", true},
	}

	for _, tt := range tests {
		if got := IsValidPaymentReference(tt.ref); got != tt.want {
			t.Fatalf("IsValidPaymentReference(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}
