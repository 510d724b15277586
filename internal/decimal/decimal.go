// Package decimal provides the fixed-point number type used everywhere a
// price or quantity crosses a component boundary. It wraps
// github.com/shopspring/decimal (arbitrary-precision, backed by big.Int) so
// that price/size arithmetic never loses significant digits to float64
// rounding, matching the reference precision of 9 fractional digits called
// for by the venues this core targets.
package decimal

import (
	"fmt"

	shopspring "github.com/shopspring/decimal"
)

// Scale is the reference precision: 9 fractional digits, enough to represent
// both USDC-denominated prices and the smallest perpetual contract sizes
// exactly for every supported venue.
const Scale = 9

// Decimal is an exact fixed-point number. The zero value is zero.
type Decimal struct {
	d shopspring.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: shopspring.Zero}

// NewFromInt constructs a Decimal from an integer with no fractional part.
func NewFromInt(v int64) Decimal {
	return Decimal{d: shopspring.NewFromInt(v)}
}

// NewFromFloat constructs a Decimal from a float64. This is lossy: float64
// cannot represent most decimal fractions exactly, so round-tripping a value
// built this way is not guaranteed. Prefer NewFromString for exact values
// (wire payloads, user input).
func NewFromFloat(v float64) Decimal {
	return Decimal{d: shopspring.NewFromFloat(v)}
}

// NewFromString parses an exact decimal string such as "1234.56700000".
// Round-tripping via String is guaranteed for any value built this way.
func NewFromString(s string) (Decimal, error) {
	d, err := shopspring.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("decimal: parse %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustFromString panics on parse failure. Reserved for compiled-in constants.
func MustFromString(s string) Decimal {
	d, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the exact decimal value with no trailing precision loss.
func (x Decimal) String() string { return x.d.String() }

// Float64 converts to float64 for display or non-exact math. Lossy for
// values outside float64's exact integer/fraction range.
func (x Decimal) Float64() float64 {
	f, _ := x.d.Float64()
	return f
}

// Add returns x + y, exact.
func (x Decimal) Add(y Decimal) Decimal { return Decimal{d: x.d.Add(y.d)} }

// Sub returns x - y, exact.
func (x Decimal) Sub(y Decimal) Decimal { return Decimal{d: x.d.Sub(y.d)} }

// Mul returns x * y, exact.
func (x Decimal) Mul(y Decimal) Decimal { return Decimal{d: x.d.Mul(y.d)} }

// Neg returns -x.
func (x Decimal) Neg() Decimal { return Decimal{d: x.d.Neg()} }

// Abs returns |x|.
func (x Decimal) Abs() Decimal { return Decimal{d: x.d.Abs()} }

// DivChecked divides x by y to the given scale (fractional digits),
// rounding half-away-from-zero. Returns an error if y is zero — division is
// never silent about loss of a defined result.
func (x Decimal) DivChecked(y Decimal, scale int32) (Decimal, error) {
	if y.IsZero() {
		return Decimal{}, fmt.Errorf("decimal: division by zero")
	}
	return Decimal{d: x.d.DivRound(y.d, scale)}, nil
}

// Cmp returns -1, 0, or 1 as x is less than, equal to, or greater than y.
func (x Decimal) Cmp(y Decimal) int { return x.d.Cmp(y.d) }

// LessThan reports whether x < y.
func (x Decimal) LessThan(y Decimal) bool { return x.d.LessThan(y.d) }

// GreaterThan reports whether x > y.
func (x Decimal) GreaterThan(y Decimal) bool { return x.d.GreaterThan(y.d) }

// LessThanOrEqual reports whether x <= y.
func (x Decimal) LessThanOrEqual(y Decimal) bool { return x.d.LessThanOrEqual(y.d) }

// GreaterThanOrEqual reports whether x >= y.
func (x Decimal) GreaterThanOrEqual(y Decimal) bool { return x.d.GreaterThanOrEqual(y.d) }

// Equal reports whether x == y (value equality, not representation equality).
func (x Decimal) Equal(y Decimal) bool { return x.d.Equal(y.d) }

// IsZero reports whether x is exactly zero.
func (x Decimal) IsZero() bool { return x.d.IsZero() }

// Sign returns -1, 0, or 1 for the sign of x.
func (x Decimal) Sign() int { return x.d.Sign() }

// Round rounds x to the given number of fractional digits, half-away-from-zero.
func (x Decimal) Round(places int32) Decimal { return Decimal{d: x.d.Round(places)} }

// MarshalJSON encodes as a JSON string to preserve exact precision — venues
// and wire payloads in this system always carry price/size as strings, never
// as JSON numbers.
func (x Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.d.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number, since
// some venues emit numeric fields.
func (x *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		x.d = shopspring.Zero
		return nil
	}
	d, err := shopspring.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decimal: unmarshal %q: %w", s, err)
	}
	x.d = d
	return nil
}
