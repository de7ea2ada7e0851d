package datamodel

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// assignmentStart matches a line starting like "someName=".
var assignmentStart = regexp.MustCompile(`(?m)^\s*(\pL[\pL\pN.:\-_$@]*)[ \t]*=\s*`)

// numberLike matches values that start like a number, or were probably meant to.
var numberLike = regexp.MustCompile(`^[+-]?[.,]?[0-9]`)

const (
	keywordTrue             = "true"
	keywordFalse            = "false"
	keywordNull             = "null"
	keywordNaN              = "NaN"
	keywordInfinity         = "Infinity"
	keywordPositiveInfinity = "+Infinity"
	keywordNegativeInfinity = "-Infinity"
)

// ParseError describes data-model text that could not be parsed. Name is the
// binding whose value failed, or empty when the structure itself is wrong.
type ParseError struct {
	Name string
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Name == "" {
		return e.Msg
	}
	return "Failed to parse the value of \"" + e.Name + "\":\n" + e.Msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse turns data-model text into an ordered mapping. Each binding starts at
// the beginning of a line with a name followed by "=", and its value runs until
// the next binding or the end of the text. Values without an explicit zone
// offset that denote dates or times are interpreted in loc.
//
// Blank text yields an empty model.
func Parse(src string, loc *time.Location) (*Map, error) {
	m := NewMap()
	if strings.TrimSpace(src) == "" {
		return m, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	matches := assignmentStart.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 || matches[0][0] != 0 {
		return nil, &ParseError{Msg: "The data model specification must start with an assignment (name=value)."}
	}

	for i, match := range matches {
		name := src[match[2]:match[3]]
		end := len(src)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		value, err := parseValue(strings.TrimSpace(src[match[1]:end]), loc)
		if err != nil {
			err.Name = name
			return nil, err
		}
		m.Set(name, value)
	}
	return m, nil
}

// parseValue classifies a single trimmed value. When the input doesn't look
// like anything else it becomes a verbatim string, so suspicious inputs are
// rejected rather than silently turned into strings.
func parseValue(value string, loc *time.Location) (Literal, *ParseError) {
	if strings.HasSuffix(value, ";") {
		value = strings.TrimSpace(value[:len(value)-1])
	}

	switch {
	case numberLike.MatchString(value):
		return parseNumberLike(value, loc)
	case strings.HasPrefix(value, `"`):
		v, err := parseJSON(value)
		if err != nil {
			return nil, &ParseError{Msg: "Malformed quoted string (using JSON syntax): " + err.Error(), Err: err}
		}
		s, ok := v.(String)
		if !ok {
			return nil, &ParseError{Msg: "Malformed quoted string (using JSON syntax): value is not a string"}
		}
		return s, nil
	case strings.HasPrefix(value, "'"):
		return nil, &ParseError{Msg: `Malformed quoted string (using JSON syntax): Use " character for quotation, not ' character.`}
	case strings.HasPrefix(value, "["):
		v, err := parseJSON(value)
		if err != nil {
			return nil, &ParseError{Msg: "Malformed list (using JSON syntax): " + err.Error(), Err: err}
		}
		return v, nil
	case strings.HasPrefix(value, "{"):
		v, err := parseJSON(value)
		if err != nil {
			return nil, &ParseError{Msg: "Malformed map (using JSON syntax): " + err.Error(), Err: err}
		}
		return v, nil
	case strings.HasPrefix(value, "<"):
		doc, err := parseXML(value)
		if err != nil {
			return nil, &ParseError{Msg: "Malformed XML: " + err.Error(), Err: err}
		}
		return doc, nil
	}

	if lit, ok, err := parseKeyword(value); ok || err != nil {
		return lit, err
	}
	if value == "" {
		return nil, &ParseError{Msg: `Empty value. (If you indeed wanted a 0 length string, quote it, like "".)`}
	}
	return String(value), nil
}

func parseKeyword(value string) (Literal, bool, *ParseError) {
	keywords := []struct {
		word string
		lit  Literal
	}{
		{keywordTrue, Boolean(true)},
		{keywordFalse, Boolean(false)},
		{keywordNull, Null{}},
		{keywordNaN, NaN},
		{keywordInfinity, PositiveInfinity},
		{keywordPositiveInfinity, PositiveInfinity},
		{keywordNegativeInfinity, NegativeInfinity},
	}
	for _, k := range keywords {
		if !strings.EqualFold(value, k.word) {
			continue
		}
		if value != k.word {
			return nil, false, &ParseError{Msg: "Keywords are case sensitive; the correct form is: " + k.word}
		}
		return k.lit, true, nil
	}
	return nil, false, nil
}

// parseNumberLike parses a decimal number, falling back to ISO 8601 temporal
// values when the text has the shape of one.
func parseNumberLike(value string, loc *time.Location) (Literal, *ParseError) {
	d, numErr := decimal.NewFromString(value)
	if numErr == nil {
		return Number{Value: d}, nil
	}

	dashIdx := strings.IndexByte(value, '-')
	colonIdx := strings.IndexByte(value, ':')

	var kind string
	var err error
	switch {
	case strings.IndexByte(value, 'T') > 1 || (dashIdx > 1 && colonIdx > dashIdx):
		var t time.Time
		if t, err = parseISODateTime(value, loc); err == nil {
			return DateTime{t}, nil
		}
		kind = "date-time"
	case dashIdx > 1:
		var t time.Time
		if t, err = parseISODate(value, loc); err == nil {
			return Date{t}, nil
		}
		kind = "date"
	case colonIdx > 1:
		var t time.Time
		if t, err = parseISOTime(value, loc); err == nil {
			return TimeOfDay{t}, nil
		}
		kind = "time"
	default:
		return nil, &ParseError{Msg: "Malformed number: " + value, Err: numErr}
	}
	return nil, &ParseError{Msg: "Malformed ISO 8601 " + kind + " (or malformed number): " + err.Error(), Err: err}
}
