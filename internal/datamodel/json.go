package datamodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

var errUnexpectedEnd = errors.New("unexpected end of JSON input")

// parseJSON decodes a single JSON value. Objects keep their key order and
// numbers keep their full precision.
func parseJSON(src string) (Literal, error) {
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()

	v, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("unexpected content after the value at offset %d", dec.InputOffset())
	}
	return v, nil
}

func decodeJSONValue(dec *json.Decoder) (Literal, error) {
	tok, err := dec.Token()
	if err == io.EOF {
		return nil, errUnexpectedEnd
	}
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			return decodeJSONArray(dec)
		case '{':
			return decodeJSONObject(dec)
		}
		return nil, fmt.Errorf("unexpected %q", rune(t))
	case string:
		return String(t), nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", t, err)
		}
		return Number{Value: d}, nil
	case bool:
		return Boolean(t), nil
	case nil:
		return Null{}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func decodeJSONArray(dec *json.Decoder) (Literal, error) {
	list := List{}
	for dec.More() {
		v, err := decodeJSONValue(dec)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	if err := expectClose(dec, ']'); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeJSONObject(dec *json.Decoder) (Literal, error) {
	m := NewMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key must be a string, got %v", tok)
		}
		v, err := decodeJSONValue(dec)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	if err := expectClose(dec, '}'); err != nil {
		return nil, err
	}
	return m, nil
}

func expectClose(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err == io.EOF {
		return errUnexpectedEnd
	}
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", rune(want), tok)
	}
	return nil
}
