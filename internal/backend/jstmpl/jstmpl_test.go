package jstmpl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/datamodel"
	"github.com/seantiz/anvil/internal/output"
	"github.com/seantiz/anvil/internal/settings"
)

func render(t *testing.T, src, data string, opts backend.Options) (string, error) {
	t.Helper()
	m, err := datamodel.Parse(data, time.UTC)
	if err != nil {
		t.Fatalf("datamodel.Parse(%q) error: %v", data, err)
	}
	tmpl, err := New().Compile(src, opts)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	err = tmpl.Render(context.Background(), &sb, m)
	return sb.String(), err
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data string
		want string
	}{
		{"plain", "test", "", "test"},
		{"variable", "Welcome ${user}", "user=John", "Welcome John"},
		{"expression", "${a + b * 2}", "a=1\nb=2", "5"},
		{"method", "${s.toUpperCase()}", "s=abc", "ABC"},
		{"map", `${xs.map(x => x * 2).join(",")}`, "xs=[1, 2, 3]", "2,4,6"},
		{"member", "${m.k}", `m={"k": "v"}`, "v"},
		{"date", "${d}", "d=2014-02-12", "2014-02-12"},
		{"print", `${(() => { print("a"); return "b" })()}`, "", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := render(t, tt.src, tt.data, backend.Options{})
			if err != nil {
				t.Fatalf("render(%q) error: %v", tt.src, err)
			}
			if got != tt.want {
				t.Errorf("render(%q) = %q, want %q", tt.src, got, tt.want)
			}
		})
	}
}

func TestOutputFormatEscapes(t *testing.T) {
	got, err := render(t, "<b>${s}</b>", `s="<&>"`, backend.Options{OutputFormat: settings.OutputFormatHTML})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if got != "<b>&lt;&amp;&gt;</b>" {
		t.Errorf("output = %q, want %q", got, "<b>&lt;&amp;&gt;</b>")
	}
}

func TestSyntaxError(t *testing.T) {
	_, err := New().Compile("${", backend.Options{})
	var pe *backend.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Compile error = %v, want *backend.ParseError", err)
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"${missing}", "missing"},
		{"${m.nope}", "null or undefined"},
		{`${(() => { throw new Error("boom") })()}`, "boom"},
	}
	for _, tt := range tests {
		_, err := render(t, tt.src, `m={"k": 1}`, backend.Options{})
		var ee *backend.EvalError
		if !errors.As(err, &ee) {
			t.Errorf("render(%q) error = %v, want *backend.EvalError", tt.src, err)
			continue
		}
		if !strings.Contains(ee.Msg, tt.want) {
			t.Errorf("render(%q) Msg = %q, want it to contain %q", tt.src, ee.Msg, tt.want)
		}
	}
}

func TestWriterErrorsPassThrough(t *testing.T) {
	tmpl, err := New().Compile(`${(() => { for (let i = 1; i <= 100; i++) print(i); return "" })()}`, backend.Options{})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	var sb strings.Builder
	err = tmpl.Render(context.Background(), output.NewLimitedWriter(&sb, 3), nil)
	if !errors.Is(err, output.ErrLimitExceeded) {
		t.Fatalf("Render error = %v, want output.ErrLimitExceeded", err)
	}
	if sb.String() != "123" {
		t.Errorf("output = %q, want %q", sb.String(), "123")
	}
}

func TestInfiniteLoopIsInterrupted(t *testing.T) {
	tmpl, err := New().Compile("${(() => { while (true) {} })()}", backend.Options{})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- tmpl.Render(ctx, &strings.Builder{}, nil)
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Render error = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Render was not interrupted")
	}
}

func TestHugeExponentBecomesInfinity(t *testing.T) {
	got, err := render(t, "${a} ${b}", "a=1e30000000\nb=-1e30000000", backend.Options{})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if want := "Infinity -Infinity"; got != want {
		t.Errorf("render = %q, want %q", got, want)
	}
}
