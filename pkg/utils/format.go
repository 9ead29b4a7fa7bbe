// Package utils provides shared formatting helpers.
package utils

import (
	"fmt"
	"strings"
)

// FormatIndianCurrency formats an amount with the Indian digit
// grouping (12,34,567.89).
func FormatIndianCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "₹" + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// Last group of 3, then groups of 2
	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPnL formats a P&L amount with an explicit sign for gains.
func FormatPnL(pnl float64) string {
	formatted := FormatIndianCurrency(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a quantity with Indian digit grouping.
func FormatQuantity(qty int) string {
	sign := ""
	if qty < 0 {
		sign = "-"
		qty = -qty
	}
	return sign + formatIndianNumber(fmt.Sprintf("%d", qty))
}
