// Package gotmpl runs Go text/template templates against the data model.
//
// Rendering checks for cancellation only when the template writes output, so a
// template that loops without printing runs until the engine abandons it.
package gotmpl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/datamodel"
	"github.com/seantiz/anvil/internal/settings"
)

// Name is the registry name of the engine.
const Name = "gotmpl"

// maxSeqLength bounds the number of items seq returns.
const maxSeqLength = 1 << 16

// template: name:LINE:COL: message
var errLocation = regexp.MustCompile(`^template: [^:]*:(\d+)(?::(\d+))?: (?s)(.*)$`)

// executing "name" at <ACTION>: message
var errAction = regexp.MustCompile(`^executing "[^"]*" at <(.*?)>: (?s)(.*)$`)

var escapers = map[string]func(string) string{
	settings.OutputFormatHTML:  template.HTMLEscapeString,
	settings.OutputFormatXHTML: template.HTMLEscapeString,
	settings.OutputFormatXML:   template.HTMLEscapeString,
	settings.OutputFormatRTF:   strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`).Replace,
}

// Engine compiles text/template templates.
type Engine struct{}

// New returns an Engine.
func New() *Engine {
	return &Engine{}
}

// Compile implements backend.Backend.
func (e *Engine) Compile(src string, opts backend.Options) (backend.Template, error) {
	zone := opts.TimeZone
	if zone == nil {
		zone = time.UTC
	}
	tag := settings.LocaleTag(opts.Locale)
	escape := escapers[opts.OutputFormat]
	if escape == nil {
		escape = func(s string) string { return s }
	}

	t, err := template.New("template").
		Option("missingkey=error").
		Funcs(funcs(tag, zone, escape)).
		Parse(src)
	if err != nil {
		return nil, parseError(err)
	}
	return &Template{tmpl: t}, nil
}

// Capabilities implements backend.Backend.
func (e *Engine) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:        Name,
		Description: "Go text/template templates",
		OutputFormats: []string{
			settings.OutputFormatUndefined,
			settings.OutputFormatPlainText,
		},
		Interruptible: false,
	}
}

// Template is a compiled text/template.
type Template struct {
	tmpl *template.Template
}

// Render implements backend.Template.
func (t *Template) Render(ctx context.Context, w io.Writer, data *datamodel.Map) error {
	dot := map[string]any{}
	if data != nil {
		native, err := data.Native()
		if err != nil {
			return &backend.EvalError{Msg: err.Error(), Err: err}
		}
		dot = scientific(native).(map[string]any)
	}

	cw := &ctxWriter{ctx: ctx, w: w}
	err := t.tmpl.Execute(cw, dot)
	if err == nil {
		return nil
	}
	if cw.err != nil {
		// Errors of the destination and cancellation pass through unchanged.
		return cw.err
	}
	var execErr template.ExecError
	if errors.As(err, &execErr) {
		return evalError(execErr.Err)
	}
	return evalError(err)
}

// ctxWriter fails writes once ctx is done, which stops text/template at its
// next output.
type ctxWriter struct {
	ctx context.Context
	w   io.Writer
	err error
}

func (cw *ctxWriter) Write(p []byte) (int, error) {
	if err := cw.ctx.Err(); err != nil {
		cw.err = err
		return 0, err
	}
	n, err := cw.w.Write(p)
	if err != nil {
		cw.err = err
	}
	return n, err
}

func parseError(err error) error {
	msg := err.Error()
	pe := &backend.ParseError{Msg: msg}
	if m := errLocation.FindStringSubmatch(msg); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
		pe.Column, _ = strconv.Atoi(m[2])
		pe.Msg = m[3]
	}
	return pe
}

func evalError(err error) error {
	msg := err.Error()
	ee := &backend.EvalError{Msg: msg, Err: err}
	if m := errLocation.FindStringSubmatch(msg); m != nil {
		ee.Line, _ = strconv.Atoi(m[1])
		ee.Column, _ = strconv.Atoi(m[2])
		ee.Msg = m[3]
		if m := errAction.FindStringSubmatch(ee.Msg); m != nil {
			ee.Expr, ee.Msg = m[1], m[2]
		}
	}
	return ee
}

func funcs(tag language.Tag, zone *time.Location, escape func(string) string) template.FuncMap {
	return template.FuncMap{
		"upper":      cases.Upper(tag).String,
		"lower":      cases.Lower(tag).String,
		"title":      cases.Title(tag, cases.NoLower).String,
		"trim":       strings.TrimSpace,
		"replace":    func(s, old, repl string) string { return strings.ReplaceAll(s, old, repl) },
		"contains":   func(s, sub string) bool { return strings.Contains(s, sub) },
		"hasPrefix":  func(s, prefix string) bool { return strings.HasPrefix(s, prefix) },
		"hasSuffix":  func(s, suffix string) bool { return strings.HasSuffix(s, suffix) },
		"split":      func(s, sep string) []string { return strings.Split(s, sep) },
		"join":       join,
		"escape":     escape,
		"noescape":   func(s string) string { return s },
		"iso":        func(v any) (string, error) { return iso(v, zone) },
		"fromMillis": func(ms int) time.Time { return time.UnixMilli(int64(ms)).In(zone) },
		"now":        func() time.Time { return time.Now().In(zone) },
		"default": func(def, v any) any {
			if v == nil {
				return def
			}
			return v
		},
		"seq": func(from, to int) ([]int, error) {
			if to >= from && to-from >= maxSeqLength {
				return nil, fmt.Errorf("seq: %d..%d has more than %d items", from, to, maxSeqLength)
			}
			var out []int
			for i := from; i <= to; i++ {
				out = append(out, i)
			}
			return out, nil
		},
	}
}

// scientific replaces numbers whose exponent is too large to print digit by
// digit with their scientific notation text.
func scientific(v any) any {
	switch v := v.(type) {
	case decimal.Decimal:
		if !datamodel.IsPlain(v) {
			return datamodel.FormatNumber(v)
		}
	case []any:
		for i, item := range v {
			v[i] = scientific(item)
		}
	case map[string]any:
		for k, item := range v {
			v[k] = scientific(item)
		}
	}
	return v
}

func iso(v any, zone *time.Location) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.In(zone).Format(time.RFC3339), nil
	case datamodel.DateTime:
		return t.In(zone).Format(time.RFC3339), nil
	case datamodel.Date:
		return t.Format(time.DateOnly), nil
	case datamodel.TimeOfDay:
		return t.Format(time.TimeOnly), nil
	}
	return "", fmt.Errorf("iso: %T is not a date", v)
}

func join(items []any, sep string) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, sep)
}
