package datamodel

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func entries(kv ...any) *Map {
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(Literal))
	}
	return m
}

func num(s string) Number {
	return Number{Value: decimal.RequireFromString(s)}
}

func mustParse(t *testing.T, src string) *Map {
	t.Helper()
	m, err := Parse(src, time.UTC)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", src, err)
	}
	return m
}

func parseErr(t *testing.T, src string) string {
	t.Helper()
	_, err := Parse(src, time.UTC)
	if err == nil {
		t.Fatalf("Parse(%q) succeeded, want error", src)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Parse(%q) error type = %T, want *ParseError", src, err)
	}
	return err.Error()
}

func TestParseEmpty(t *testing.T) {
	for _, src := range []string{"", " \n ", "\t"} {
		if m := mustParse(t, src); m.Len() != 0 {
			t.Errorf("Parse(%q).Len() = %d, want 0", src, m.Len())
		}
	}
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		src  string
		want *Map
	}{
		{"n=v", entries("n", String("v"))},
		{"\n\n\tn\t= v", entries("n", String("v"))},
		{"longerN=longer v", entries("longerN", String("longer v"))},
		{"a:b.c-d$@ = foo bar\nbaaz", entries("a:b.c-d$@", String("foo bar\nbaaz"))},
		{"n1=v1\nn2=v2\nn3=v3", entries("n1", String("v1"), "n2", String("v2"), "n3", String("v3"))},
		{" n1 = v1 \r\n\r\n\tn2=v2\nn3 = v3\n\n", entries("n1", String("v1"), "n2", String("v2"), "n3", String("v3"))},
		{"n1==\n=v \n n2=l1\nl2\n\nl3\nn3=v3", entries("n1", String("=\n=v"), "n2", String("l1\nl2\n\nl3"), "n3", String("v3"))},
		{"user=John", entries("user", String("John"))},
		{"a=1\na=2", entries("a", num("2"))},
	}

	for _, tt := range tests {
		got := mustParse(t, tt.src)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.src, diff)
		}
	}
}

func TestParseKeepsOrder(t *testing.T) {
	m := mustParse(t, "z=1\na=2\nm=3\na=4")
	want := []string{"z", "a", "m"}
	if diff := cmp.Diff(want, m.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMustStartWithAssignment(t *testing.T) {
	for _, src := range []string{"x", "x\n=y", "userJohn", "1=2"} {
		msg := parseErr(t, src)
		if !strings.Contains(msg, "must start with an assignment") {
			t.Errorf("Parse(%q) error = %q, want it to mention the missing assignment", src, msg)
		}
	}
}

func TestParseStrings(t *testing.T) {
	got := mustParse(t, "a=C:\\x\n"+
		"b=foo\nbar\n"+
		"c=foo\t\"bar\"\n"+
		"d=\"foo\\t\\\"bar\\\"\"\n"+
		"e=\"Foo's\"\n"+
		"f=\"\"\n"+
		"g=\"x\";")
	want := entries(
		"a", String(`C:\x`),
		"b", String("foo\nbar"),
		"c", String("foo\t\"bar\""),
		"d", String("foo\t\"bar\""),
		"e", String("Foo's"),
		"f", String(""),
		"g", String("x"),
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseValueErrors(t *testing.T) {
	tests := []struct {
		src  string
		want []string
	}{
		{`a="foo`, []string{`Failed to parse the value of "a"`, "quoted"}},
		{`a='foo'`, []string{"quoted", `not ' character`}},
		{`a="\x"`, []string{"escape"}},
		{"a=1,5", []string{"Malformed number"}},
		{"a=2012T123", []string{"ISO 8601 date-time"}},
		{"a=2012-0102", []string{"ISO 8601 date"}},
		{"a=25:00", []string{"ISO 8601 time"}},
		{"a=2014-02-30", []string{"ISO 8601 date", "Day"}},
		{"n={1:2}", []string{"Malformed map", "JSON"}},
		{"n=[", []string{"Malformed list", "JSON"}},
		{"n=<ns:e />", []string{"Malformed XML"}},
		{"n=<a><b></a>", []string{"Malformed XML"}},
		{"n=<a/><b/>", []string{"Malformed XML"}},
		{"a=True", []string{"Keywords are case sensitive", "true"}},
		{"a=NULL", []string{"null"}},
		{"a=nan", []string{"NaN"}},
		{"n=", []string{"Empty value"}},
		{"n=;", []string{"Empty value"}},
	}

	for _, tt := range tests {
		msg := parseErr(t, tt.src)
		for _, want := range tt.want {
			if !strings.Contains(msg, want) {
				t.Errorf("Parse(%q) error = %q, want it to contain %q", tt.src, msg, want)
			}
		}
	}
}

func TestParseMalformedNumberIsNotTemporal(t *testing.T) {
	msg := parseErr(t, "a=1,5")
	if strings.Contains(msg, "ISO") {
		t.Errorf("error = %q, should not mention ISO 8601", msg)
	}
}

func TestParseNumbers(t *testing.T) {
	got := mustParse(t, "a=1\nb=1.5\nc=-1.5\nd=+1.5\ne=-12.5e-2\nf=.5\ng=123456789012345678901234567890")
	want := entries(
		"a", num("1"),
		"b", num("1.5"),
		"c", num("-1.5"),
		"d", num("1.5"),
		"e", num("-0.125"),
		"f", num("0.5"),
		"g", num("123456789012345678901234567890"),
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSpecialNumbers(t *testing.T) {
	got := mustParse(t, "a=NaN\nb=Infinity\nc=-Infinity\nd=+Infinity")
	want := entries("a", NaN, "b", PositiveInfinity, "c", NegativeInfinity, "d", PositiveInfinity)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBooleansAndNull(t *testing.T) {
	got := mustParse(t, "a=true\nb=false\nc=null;")
	want := entries("a", Boolean(true), "b", Boolean(false), "c", Null{})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTemporals(t *testing.T) {
	got := mustParse(t, "a=2014-02-12T01:02:03Z\nb=2014-02-12\nc=01:02:03Z\nd=2014-02-12T01:02:03.5+02:00\ne=20140212T010203Z")
	want := entries(
		"a", DateTime{time.Date(2014, time.February, 12, 1, 2, 3, 0, time.UTC)},
		"b", Date{time.Date(2014, time.February, 12, 0, 0, 0, 0, time.UTC)},
		"c", TimeOfDay{time.Date(1970, time.January, 1, 1, 2, 3, 0, time.UTC)},
		"d", DateTime{time.Date(2014, time.February, 11, 23, 2, 3, 500000000, time.UTC)},
		"e", DateTime{time.Date(2014, time.February, 12, 1, 2, 3, 0, time.UTC)},
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTemporalUsesLocation(t *testing.T) {
	loc := time.FixedZone("test", -8*3600)
	m, err := Parse("d=2014-02-12T10:00:00", loc)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	v, _ := m.Get("d")
	got := v.(DateTime).UTC()
	want := time.Date(2014, time.February, 12, 18, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("d = %v, want %v", got, want)
	}
}

func TestParseLists(t *testing.T) {
	got := mustParse(t, `n=[1, "two", [true, null]]`)
	want := entries("n", List{num("1"), String("two"), List{Boolean(true), Null{}}})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMaps(t *testing.T) {
	got := mustParse(t, "n = {\n\t\"b\": 1,\n\t\"a\": {\"x\": 2}\n}")
	want := entries("n", entries("b", num("1"), "a", entries("x", num("2"))))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseXML(t *testing.T) {
	m := mustParse(t, "n=<e xmlns='foo:/bar' a='123'>text<!-- c --> more</e>")
	v, ok := m.Get("n")
	if !ok {
		t.Fatal("n missing from model")
	}
	doc, ok := v.(*XMLDocument)
	if !ok {
		t.Fatalf("n type = %T, want *XMLDocument", v)
	}

	root := doc.Root
	if root.Name != "e" {
		t.Errorf("root name = %q, want %q", root.Name, "e")
	}
	if root.Namespace != "foo:/bar" {
		t.Errorf("root namespace = %q, want %q", root.Namespace, "foo:/bar")
	}
	if len(root.Attrs) != 1 || root.Attrs[0].Name != "a" || root.Attrs[0].Value != "123" {
		t.Errorf("root attrs = %+v, want a=123 only", root.Attrs)
	}
	if len(root.Children) != 1 || root.Children[0].Text != "text more" {
		t.Errorf("root children = %+v, want one merged text node", root.Children)
	}
}

func TestParseXMLPrefixes(t *testing.T) {
	m := mustParse(t, `n=<p:e xmlns:p="urn:p"><p:c xml:lang="en"/></p:e>`)
	v, _ := m.Get("n")
	root := v.(*XMLDocument).Root
	if root.Namespace != "urn:p" {
		t.Errorf("root namespace = %q, want %q", root.Namespace, "urn:p")
	}
	child := root.Children[0]
	if child.Namespace != "urn:p" {
		t.Errorf("child namespace = %q, want %q", child.Namespace, "urn:p")
	}
	if child.Attrs[0].Namespace != xmlNamespace {
		t.Errorf("xml:lang namespace = %q, want %q", child.Attrs[0].Namespace, xmlNamespace)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	src := "a=1\nb=\"x\"\nc=[1,2]\nd={\"k\": 2014-02-12}\ne=2014-02-12"
	_, err1 := Parse(src, time.UTC)
	_, err2 := Parse(src, time.UTC)
	if err1 == nil || err2 == nil || err1.Error() != err2.Error() {
		t.Errorf("Parse errors differ between runs: %v / %v", err1, err2)
	}

	ok := "a=1\nb=\"x\"\nc=[1,2]"
	m1, _ := Parse(ok, time.UTC)
	m2, _ := Parse(ok, time.UTC)
	if diff := cmp.Diff(m1, m2); diff != "" {
		t.Errorf("Parse results differ between runs:\n%s", diff)
	}
}
