// Package money содержит примитивы целочисленной денежной арифметики в центах.
package money

import "math"

// Round округляет значение до ближайшего цента, половины — от нуля.
// Единственное правило округления во всей системе: скидки и налоги
// считаются через него, чтобы итоги были воспроизводимы.
func Round(v float64) int64 {
	return int64(math.Round(v))
}

// Percent возвращает процент от суммы в центах с округлением по Round.
func Percent(amountCents int64, percent float64) int64 {
	return Round(float64(amountCents) * percent / 100)
}

// Rate применяет ставку (например налоговую, 0..1) к сумме в центах.
func Rate(amountCents int64, rate float64) int64 {
	return Round(float64(amountCents) * rate)
}
