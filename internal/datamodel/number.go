package datamodel

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// maxPlainExponent bounds the exponents that are expanded into plain digits.
// Expanding 1e30000000 builds a thirty million digit integer.
const maxPlainExponent = 64

// IsPlain reports whether d has an exponent small enough to be rescaled,
// compared or printed digit by digit.
func IsPlain(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= -maxPlainExponent && exp <= maxPlainExponent
}

// FormatNumber returns d in plain notation, or in scientific notation such as
// 1.5E+30000000 when d is not plain.
func FormatNumber(d decimal.Decimal) string {
	if IsPlain(d) {
		return d.String()
	}
	digits := d.Coefficient().String()
	var b strings.Builder
	if strings.HasPrefix(digits, "-") {
		b.WriteByte('-')
		digits = digits[1:]
	}
	b.WriteString(digits[:1])
	if len(digits) > 1 {
		b.WriteByte('.')
		b.WriteString(digits[1:])
	}
	b.WriteByte('E')
	adjusted := int64(d.Exponent()) + int64(len(digits)) - 1
	if adjusted >= 0 {
		b.WriteByte('+')
	}
	b.WriteString(strconv.FormatInt(adjusted, 10))
	return b.String()
}

// Float64 returns the float64 nearest to d. Magnitudes out of range become
// an infinity or zero.
func Float64(d decimal.Decimal) float64 {
	f, _ := strconv.ParseFloat(FormatNumber(d), 64)
	return f
}
