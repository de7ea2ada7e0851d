package settings

import (
	"testing"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDefaults(t *testing.T) {
	c := newCatalog(t)

	if got, ok := c.OutputFormat(""); !ok || got != OutputFormatUndefined {
		t.Errorf("OutputFormat(\"\") = %q, %v; want %q", got, ok, OutputFormatUndefined)
	}
	if got, ok := c.Locale(""); !ok || got != "en_US" {
		t.Errorf("Locale(\"\") = %q, %v; want en_US", got, ok)
	}
	if got, ok := c.TimeZone(""); !ok || got.String() != "America/Los_Angeles" {
		t.Errorf("TimeZone(\"\") = %v, %v; want America/Los_Angeles", got, ok)
	}
	if got, ok := c.TagSyntax(""); !ok || got != TagSyntaxAngleBracket {
		t.Errorf("TagSyntax(\"\") = %q, %v; want %q", got, ok, TagSyntaxAngleBracket)
	}
	if got, ok := c.InterpolationSyntax(""); !ok || got != InterpolationLegacy {
		t.Errorf("InterpolationSyntax(\"\") = %q, %v; want %q", got, ok, InterpolationLegacy)
	}
}

func TestLookups(t *testing.T) {
	c := newCatalog(t)

	tests := []struct {
		name   string
		lookup func(string) bool
		key    string
		want   bool
	}{
		{"html", func(k string) bool { _, ok := c.OutputFormat(k); return ok }, "HTML", true},
		{"html lower", func(k string) bool { _, ok := c.OutputFormat(k); return ok }, "html", false},
		{"square tags", func(k string) bool { _, ok := c.TagSyntax(k); return ok }, "squareBracket", true},
		{"bad tags", func(k string) bool { _, ok := c.TagSyntax(k); return ok }, "curly", false},
		{"dollar", func(k string) bool { _, ok := c.InterpolationSyntax(k); return ok }, "dollar", true},
		{"bad interpolation", func(k string) bool { _, ok := c.InterpolationSyntax(k); return ok }, "hash", false},
		{"hungarian", func(k string) bool { _, ok := c.Locale(k); return ok }, "hu_HU", true},
		{"language only", func(k string) bool { _, ok := c.Locale(k); return ok }, "de", true},
		{"non canonical locale", func(k string) bool { _, ok := c.Locale(k); return ok }, "en_us", false},
		{"garbage locale", func(k string) bool { _, ok := c.Locale(k); return ok }, "xx_!!", false},
		{"budapest", func(k string) bool { _, ok := c.TimeZone(k); return ok }, "Europe/Budapest", true},
		{"utc", func(k string) bool { _, ok := c.TimeZone(k); return ok }, "UTC", true},
		{"local zone", func(k string) bool { _, ok := c.TimeZone(k); return ok }, "Local", false},
		{"bad zone", func(k string) bool { _, ok := c.TimeZone(k); return ok }, "Mars/Olympus", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lookup(tt.key); got != tt.want {
				t.Errorf("lookup(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestChoicesAreValid(t *testing.T) {
	c := newCatalog(t)
	ch := c.Choices()

	for _, k := range ch.Locales {
		if _, ok := c.Locale(k); !ok {
			t.Errorf("suggested locale %q is rejected", k)
		}
	}
	for _, k := range ch.TimeZones {
		if _, ok := c.TimeZone(k); !ok {
			t.Errorf("suggested time zone %q is rejected", k)
		}
	}
	if len(ch.OutputFormats) != 6 {
		t.Errorf("len(OutputFormats) = %d, want 6", len(ch.OutputFormats))
	}

	ch.OutputFormats[0] = "mutated"
	if c.Choices().OutputFormats[0] == "mutated" {
		t.Error("Choices returned shared slice")
	}
}

func TestLocaleTag(t *testing.T) {
	if got := LocaleTag("tr_TR").String(); got != "tr-TR" {
		t.Errorf("LocaleTag(tr_TR) = %q, want tr-TR", got)
	}
	if got := LocaleTag("nope!").String(); got != "en-US" {
		t.Errorf("LocaleTag(nope!) = %q, want en-US", got)
	}
}
