// Package jstmpl runs JavaScript template literals with goja. The template
// source is the body of a template literal, so ${expr} interpolates any
// JavaScript expression and the data model entries are globals.
package jstmpl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/datamodel"
	"github.com/seantiz/anvil/internal/settings"
)

// Name is the registry name of the engine.
const Name = "jstmpl"

const (
	renderTag = "__render"
	prefix    = "(function () { " + renderTag + "`"
	suffix    = "`; })();"
)

var (
	syntaxPosition = regexp.MustCompile(`template:(\d+):(\d+)`)

	escapers = map[string]*strings.Replacer{
		settings.OutputFormatHTML:  strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;"),
		settings.OutputFormatXHTML: strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;"),
		settings.OutputFormatXML:   strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;"),
		settings.OutputFormatRTF:   strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`),
	}
)

// Engine compiles JavaScript template literals.
type Engine struct{}

// New returns an Engine.
func New() *Engine {
	return &Engine{}
}

// Compile implements backend.Backend.
func (e *Engine) Compile(src string, opts backend.Options) (backend.Template, error) {
	program, err := goja.Compile("template", prefix+src+suffix, true)
	if err != nil {
		return nil, syntaxError(err)
	}
	zone := opts.TimeZone
	if zone == nil {
		zone = time.UTC
	}
	return &Template{program: program, escape: escapers[opts.OutputFormat], zone: zone, locale: opts.Locale}, nil
}

// Capabilities implements backend.Backend.
func (e *Engine) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:        Name,
		Description: "JavaScript template literals",
		OutputFormats: []string{
			settings.OutputFormatUndefined,
			settings.OutputFormatHTML,
			settings.OutputFormatXML,
			settings.OutputFormatXHTML,
			settings.OutputFormatRTF,
			settings.OutputFormatPlainText,
		},
		Interruptible: true,
	}
}

// Template is a compiled template literal.
type Template struct {
	program *goja.Program
	escape  *strings.Replacer
	zone    *time.Location
	locale  string
}

// Render implements backend.Template.
func (t *Template) Render(ctx context.Context, w io.Writer, data *datamodel.Map) error {
	vm := goja.New()
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())

	if data != nil {
		globals, err := data.Native()
		if err != nil {
			return &backend.EvalError{Msg: err.Error(), Err: err}
		}
		for k, v := range globals {
			vm.Set(k, t.jsValue(v))
		}
	}
	vm.Set("locale", t.locale)
	vm.Set("timeZone", t.zone.String())

	var writeErr error
	write := func(s string) {
		if writeErr != nil {
			panic(vm.NewGoError(writeErr))
		}
		if _, err := io.WriteString(w, s); err != nil {
			writeErr = err
			panic(vm.NewGoError(err))
		}
	}
	vm.Set(renderTag, func(call goja.FunctionCall) goja.Value {
		strs := call.Argument(0).ToObject(vm)
		n := int(strs.Get("length").ToInteger())
		for i := 0; i < n; i++ {
			write(strs.Get(strconv.Itoa(i)).String())
			if i < n-1 {
				write(t.display(vm, call.Argument(i+1), i))
			}
		}
		return goja.Undefined()
	})
	vm.Set("print", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			write(arg.String())
		}
		return goja.Undefined()
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	_, err := vm.RunProgram(t.program)
	if err == nil {
		return nil
	}
	if writeErr != nil {
		return writeErr
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &backend.EvalError{Msg: ex.Value().String(), Err: err}
	}
	return &backend.EvalError{Msg: err.Error(), Err: err}
}

// display converts the i-th substitution to escaped output text.
func (t *Template) display(vm *goja.Runtime, v goja.Value, i int) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		panic(vm.NewTypeError(fmt.Sprintf("The interpolation number %d has evaluated to null or undefined.", i+1)))
	}
	s := v.String()
	if t.escape != nil {
		s = t.escape.Replace(s)
	}
	return s
}

// jsValue converts a native data model value to something goja exposes
// naturally: dates become ISO strings and decimals become numbers.
func (t *Template) jsValue(v any) any {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = t.jsValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = t.jsValue(item)
		}
		return out
	case decimal.Decimal:
		return datamodel.Float64(v)
	case datamodel.DateTime:
		return v.In(t.zone).Format(time.RFC3339Nano)
	case datamodel.Date:
		return v.Format(time.DateOnly)
	case datamodel.TimeOfDay:
		return v.Format(time.TimeOnly)
	}
	return v
}

func syntaxError(err error) error {
	msg := err.Error()
	pe := &backend.ParseError{Msg: msg}
	if m := syntaxPosition.FindStringSubmatch(msg); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
		pe.Column, _ = strconv.Atoi(m[2])
		if pe.Line == 1 {
			pe.Column = max(1, pe.Column-len(prefix))
		}
	}
	return pe
}
