package entity

import (
	"fmt"
	"strconv"
)

// Money is an amount in cents.
type Money int64

func Dollars(d int64) Money { return Money(d * 100) }

// String renders the amount with two decimals, e.g. "6.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	if f < 0 {
		*m = Money(f*100 - 0.5)
	} else {
		*m = Money(f*100 + 0.5)
	}
	return nil
}
