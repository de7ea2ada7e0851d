package datamodel

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Native converts a literal into a plain Go value:
//
//   - Number becomes int when integral and in range, float64 when the decimal
//     survives the round trip, and decimal.Decimal otherwise; numbers that are
//     not plain (see IsPlain) always stay decimal.Decimal
//   - Boolean, String and NonFinite become bool, string and float64
//   - Null becomes nil
//   - List and *Map become []any and map[string]any
//   - *XMLDocument becomes the mxj.Map of the document
//   - DateTime, Date and TimeOfDay are returned unchanged
func Native(l Literal) (any, error) {
	switch v := l.(type) {
	case nil, Null:
		return nil, nil
	case Number:
		return nativeNumber(v.Value), nil
	case Boolean:
		return bool(v), nil
	case String:
		return string(v), nil
	case NonFinite:
		switch v {
		case PositiveInfinity:
			return math.Inf(1), nil
		case NegativeInfinity:
			return math.Inf(-1), nil
		}
		return math.NaN(), nil
	case List:
		out := make([]any, len(v))
		for i, item := range v {
			n, err := Native(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case *Map:
		return v.Native()
	case *XMLDocument:
		m, err := v.Map()
		if err != nil {
			return nil, err
		}
		return map[string]any(m), nil
	case DateTime, Date, TimeOfDay:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported literal %T", l)
}

// Native converts every entry with the package-level Native function.
func (m *Map) Native() (map[string]any, error) {
	out := make(map[string]any, m.Len())
	if m == nil {
		return out, nil
	}
	for _, e := range m.Entries {
		v, err := Native(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		out[e.Name] = v
	}
	return out, nil
}

func nativeNumber(d decimal.Decimal) any {
	if !IsPlain(d) {
		return d
	}
	if d.IsInteger() {
		if i := d.IntPart(); decimal.NewFromInt(i).Equal(d) {
			return int(i)
		}
		return d
	}
	f, _ := d.Float64()
	if strconv.FormatFloat(f, 'f', -1, 64) == d.String() {
		return f
	}
	return d
}
