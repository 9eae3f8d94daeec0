package validate

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

var (
	ErrAmountFormat   = errors.New("malformed amount")
	ErrAmountPositive = errors.New("amount must be positive")
	ErrCurrency       = errors.New("unknown currency")
	ErrDate           = errors.New("malformed date")
)

// currencySymbols maps printed symbols to their ISO 4217 code.
var currencySymbols = map[string]string{
	"€": "EUR",
	"$": "USD",
	"£": "GBP",
	"¥": "JPY",
}

// ParseAmount reads a printed amount ("1.234,56", "1,234.56", "450.00", "450")
// and returns it as a plain decimal with two fraction digits.
func ParseAmount(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "\u00a0", "", "'", "", "’", "").Replace(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrAmountFormat
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = singleSeparator(s, ",")
	case lastDot >= 0:
		s = singleSeparator(s, ".")
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrAmountFormat, raw)
	}
	return r.FloatString(2), nil
}

// singleSeparator resolves a number using only one separator kind: a lone
// separator followed by exactly three digits, or a repeated one, groups thousands.
func singleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.Index(s, sep)
	if len(s)-idx-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

// Amount checks that a normalized amount is a positive decimal.
func Amount(amount string) error {
	r, ok := new(big.Rat).SetString(amount)
	if !ok {
		return ErrAmountFormat
	}
	if r.Sign() <= 0 {
		return ErrAmountPositive
	}
	return nil
}

// NormalizeCurrency maps a printed code or symbol to an ISO 4217 code.
func NormalizeCurrency(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if code, ok := currencySymbols[s]; ok {
		return code, nil
	}
	s = strings.ToUpper(s)
	if err := Currency(s); err != nil {
		return "", err
	}
	return s, nil
}

// Currency checks that code is a recognized ISO 4217 currency.
func Currency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: %q", ErrCurrency, code)
	}
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("%w: %q", ErrCurrency, code)
	}
	return nil
}

var dateLayouts = []string{"2.1.2006", "2006-01-02", "2/1/2006", "20060102"}

// ParseDate reads the printed date layouts found on invoices and returns YYYY-MM-DD.
func ParseDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrDate, raw)
}
