package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies whose minor unit is not 1/100 of the major unit.
var (
	zeroDecimalCurrencies = map[string]bool{
		"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
		"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
		"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
		"XPF": true,
	}
	threeDecimalCurrencies = map[string]bool{
		"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
	}
)

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// CurrencyExponent returns the number of minor-unit digits for currency.
func CurrencyExponent(currency string) int32 {
	code := NormalizeCurrency(currency)
	switch {
	case zeroDecimalCurrencies[code]:
		return 0
	case threeDecimalCurrencies[code]:
		return 3
	default:
		return 2
	}
}

// FromMinorUnits converts a provider amount to major units, e.g. 5000 EUR
// cents to 50.00.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}
