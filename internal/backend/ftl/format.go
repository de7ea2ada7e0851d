package ftl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/datamodel"
	"github.com/seantiz/anvil/internal/settings"
)

// markup is text that is already in the output format and is not escaped
// again.
type markup string

var (
	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;")
	xmlEscaper  = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	rtfEscaper  = strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`)
)

// config holds the settings a template is compiled with.
type config struct {
	outputFormat  string
	locale        string
	tag           language.Tag
	zone          *time.Location
	tagSyntax     string
	interpolation string
}

func newConfig(opts backend.Options) *config {
	cfg := &config{
		outputFormat:  opts.OutputFormat,
		locale:        opts.Locale,
		zone:          opts.TimeZone,
		tagSyntax:     opts.TagSyntax,
		interpolation: opts.InterpolationSyntax,
	}
	if cfg.outputFormat == "" {
		cfg.outputFormat = settings.DefaultOutputFormat
	}
	if cfg.locale == "" {
		cfg.locale = settings.DefaultLocale
	}
	if cfg.zone == nil {
		cfg.zone = time.UTC
	}
	if cfg.tagSyntax == "" {
		cfg.tagSyntax = settings.DefaultTagSyntax
	}
	if cfg.interpolation == "" {
		cfg.interpolation = settings.DefaultInterpolationSyntax
	}
	cfg.tag = settings.LocaleTag(cfg.locale)
	return cfg
}

// fingerprint identifies the settings compiled expressions depend on.
func (c *config) fingerprint() string {
	return strings.Join([]string{c.outputFormat, c.locale, c.zone.String()}, "|")
}

// escape converts plain text to the output format.
func (c *config) escape(s string) string {
	switch c.outputFormat {
	case settings.OutputFormatHTML, settings.OutputFormatXHTML:
		return htmlEscaper.Replace(s)
	case settings.OutputFormatXML:
		return xmlEscaper.Replace(s)
	case settings.OutputFormatRTF:
		return rtfEscaper.Replace(s)
	}
	return s
}

// autoEscapes reports whether the output format escapes interpolations.
func (c *config) autoEscapes() bool {
	switch c.outputFormat {
	case settings.OutputFormatHTML, settings.OutputFormatXHTML, settings.OutputFormatXML, settings.OutputFormatRTF:
		return true
	}
	return false
}

// display converts an interpolated value to output text.
func (c *config) display(v any) (string, error) {
	if m, ok := v.(markup); ok {
		return string(m), nil
	}
	s, err := c.text(v)
	if err != nil {
		return "", err
	}
	return c.escape(s), nil
}

// text converts a scalar value to its plain text form.
func (c *config) text(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case markup:
		return string(v), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case datamodel.DateTime:
		return v.In(c.zone).Format(time.RFC3339Nano), nil
	case datamodel.Date:
		return v.Format(time.DateOnly), nil
	case datamodel.TimeOfDay:
		return v.Format(time.TimeOnly), nil
	case time.Time:
		return v.In(c.zone).Format(time.RFC3339Nano), nil
	case []any, map[string]any:
		return "", fmt.Errorf("Can't convert a %s to string; only strings, numbers, dates and booleans can be printed.", typeName(v))
	}
	if s, ok := formatNumber(v); ok {
		return s, nil
	}
	return "", fmt.Errorf("Can't convert a %s to string.", typeName(v))
}

// formatNumber formats a number in computer format.
func formatNumber(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case float32:
		return formatFloat(float64(n)), true
	case float64:
		return formatFloat(n), true
	case decimal.Decimal:
		return datamodel.FormatNumber(n), true
	}
	return "", false
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// maxFractionDigits caps the fraction digit counts of number formats.
const maxFractionDigits = 64

// formatFraction formats a number for a #{...} interpolation, with at least
// minFrac and at most maxFrac fraction digits. A negative maxFrac means no
// upper bound. Numbers that are not plain keep their scientific notation.
func formatFraction(v any, minFrac, maxFrac int) (string, error) {
	d, err := toDecimal(v)
	if err != nil {
		return "", err
	}
	if !datamodel.IsPlain(d) {
		return datamodel.FormatNumber(d), nil
	}
	minFrac = min(minFrac, maxFractionDigits)
	if maxFrac > maxFractionDigits {
		maxFrac = maxFractionDigits
	}
	if maxFrac >= 0 {
		d = d.Round(int32(maxFrac))
	}
	s := d.String()
	if minFrac > 0 {
		frac := 0
		if i := strings.IndexByte(s, '.'); i >= 0 {
			frac = len(s) - i - 1
		} else {
			s += "."
		}
		s += strings.Repeat("0", max(0, minFrac-frac))
	}
	return s, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, fmt.Errorf("%s can't be formatted with a fraction digit count.", formatFloat(n))
		}
		return decimal.NewFromFloat(n), nil
	}
	return decimal.Decimal{}, fmt.Errorf("Expected a number, but this has evaluated to a %s.", typeName(v))
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case markup:
		return "markup"
	case bool:
		return "boolean"
	case int, int32, int64, uint, uint64, float32, float64, decimal.Decimal:
		return "number"
	case datamodel.DateTime, datamodel.Date, datamodel.TimeOfDay, time.Time:
		return "date"
	case []any:
		return "sequence"
	case map[string]any:
		return "hash"
	case *loopState:
		return "loop state"
	}
	return fmt.Sprintf("%T", v)
}
