package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Amount is a non-negative quantity in the single atomic unit.
// Values are immutable: arithmetic returns a new Amount.
type Amount struct {
	v *big.Int
}

// NewAmount returns an Amount holding n.
func NewAmount(n int64) Amount {
	return Amount{v: big.NewInt(n)}
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount must not be negative: %s", s)
	}
	return Amount{v: v}, nil
}

// MustAmount parses s and panics on error. Intended for tests and constants.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.int())
}

func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.int(), b.int())}
}

// Sub returns a-b. The result may be negative; callers compare before subtracting.
func (a Amount) Sub(b Amount) Amount {
	return Amount{v: new(big.Int).Sub(a.int(), b.int())}
}

func (a Amount) Mul(b Amount) Amount {
	return Amount{v: new(big.Int).Mul(a.int(), b.int())}
}

// Div returns a/b rounded down. Division by zero yields zero.
func (a Amount) Div(b Amount) Amount {
	if b.Sign() == 0 {
		return Amount{}
	}
	return Amount{v: new(big.Int).Quo(a.int(), b.int())}
}

func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

func (a Amount) Sign() int {
	return a.int().Sign()
}

func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// Float64 is a lossy conversion for metrics.
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).SetInt(a.int()).Float64()
	return f
}

func (a Amount) String() string {
	return a.int().String()
}

// MarshalJSON encodes the amount as a decimal string so no client truncates it.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a bare JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value stores amounts as TEXT.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		return a.Scan(string(v))
	case int64:
		*a = NewAmount(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}

// SumAmounts adds all values.
func SumAmounts(values ...Amount) Amount {
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, v.int())
	}
	return Amount{v: total}
}
