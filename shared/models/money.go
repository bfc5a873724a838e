package models

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places every amount column stores.
const MoneyScale = 2

// IsMoneyAmount reports whether d is stored without rounding.
func IsMoneyAmount(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}
