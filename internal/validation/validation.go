// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"unicode"
)

// IsValidCurrency проверяет, что код валюты состоит из трёх заглавных латинских букв.
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, ch := range code {
		if ch < 'A' || ch > 'Z' {
			return false
		}
	}
	return true
}

// PaymentReference строит номер заказа с контрольной цифрой Луна.
// Этот номер служит платёжной ссылкой во взаимодействии со шлюзом.
func PaymentReference(id int64) string {
	base := fmt.Sprintf("%09d", id)

	sum := 0
	double := true
	for i := len(base) - 1; i >= 0; i-- {
		digit := int(base[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return fmt.Sprintf("%s%d", base, (10-sum%10)%10)
}

// IsValidPaymentReference проверяет корректность платёжной ссылки
// по алгоритму Луна.
func IsValidPaymentReference(ref string) bool {
	if ref == "" {
		return false
	}

	sum := 0
	double := false

	for i := len(ref) - 1; i >= 0; i-- {
		ch := rune(ref[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}
