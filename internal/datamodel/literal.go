// Package datamodel parses the name=value text that accompanies a template into
// typed literals, and converts those literals into plain Go values for template
// engines.
package datamodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Literal is a typed value parsed from data-model text. The concrete types are
// Number, Boolean, Null, NonFinite, String, List, *Map, DateTime, Date,
// TimeOfDay and *XMLDocument.
type Literal interface {
	isLiteral()
}

// Number is an arbitrary-precision decimal.
type Number struct {
	Value decimal.Decimal
}

// Boolean is true or false.
type Boolean bool

// Null is the explicit null value.
type Null struct{}

// NonFinite is one of the special floating point values.
type NonFinite int8

const (
	NaN NonFinite = iota
	PositiveInfinity
	NegativeInfinity
)

// String is a string value, either quoted (JSON) or verbatim.
type String string

// List is an ordered sequence of literals.
type List []Literal

// DateTime is a point in time.
type DateTime struct {
	time.Time
}

// Date is a calendar date, stored as midnight of that day in its zone.
type Date struct {
	time.Time
}

// TimeOfDay is a wall clock time, stored on 1970-01-01 in its zone.
type TimeOfDay struct {
	time.Time
}

func (Number) isLiteral() {}
func (Boolean) isLiteral() {}
func (Null) isLiteral() {}
func (NonFinite) isLiteral() {}
func (String) isLiteral() {}
func (List) isLiteral() {}
func (*Map) isLiteral() {}
func (DateTime) isLiteral() {}
func (Date) isLiteral() {}
func (TimeOfDay) isLiteral() {}
func (*XMLDocument) isLiteral() {}

func (n NonFinite) String() string {
	switch n {
	case PositiveInfinity:
		return "Infinity"
	case NegativeInfinity:
		return "-Infinity"
	default:
		return "NaN"
	}
}

// Entry is one name/value pair of a Map.
type Entry struct {
	Name  string
	Value Literal
}

// Map is an insertion-ordered mapping with unique names. It is both the JSON
// object literal and the top-level data model.
type Map struct {
	Entries []Entry
}

// DataModel is the top-level mapping produced by Parse.
type DataModel = Map

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{}
}

// Set stores v under name. An existing name keeps its position and gets the
// new value.
func (m *Map) Set(name string, v Literal) {
	for i := range m.Entries {
		if m.Entries[i].Name == name {
			m.Entries[i].Value = v
			return
		}
	}
	m.Entries = append(m.Entries, Entry{Name: name, Value: v})
}

// Get returns the value stored under name.
func (m *Map) Get(name string) (Literal, bool) {
	if m == nil {
		return nil, false
	}
	for _, e := range m.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// Names returns the entry names in insertion order.
func (m *Map) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		names[i] = e.Name
	}
	return names
}
