package models

import (
	"errors"
	"strconv"
	"strings"
)

// Money is an amount in minor units (cents). It marshals as a JSON number
// with two decimals.
type Money int64

var ErrInvalidMoney = errors.New("invalid money amount")

func ParseMoney(raw string) (Money, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, ErrInvalidMoney
	}
	negative := false
	if value[0] == '-' || value[0] == '+' {
		negative = value[0] == '-'
		value = value[1:]
	}
	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, ErrInvalidMoney
	}
	if hasFrac && (frac == "" || len(frac) > 2) {
		return 0, ErrInvalidMoney
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, ErrInvalidMoney
			}
		}
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidMoney
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	if units > (1<<63-1-cents)/100 {
		return 0, ErrInvalidMoney
	}
	amount := Money(units*100 + cents)
	if negative {
		amount = -amount
	}
	return amount, nil
}

func (m Money) String() string {
	value := int64(m)
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	cents := strconv.FormatInt(value%100, 10)
	if len(cents) == 1 {
		cents = "0" + cents
	}
	return sign + strconv.FormatInt(value/100, 10) + "." + cents
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string with at most two
// decimals.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
