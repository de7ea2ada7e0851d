// Package settings holds the read-only catalog of setting values a request may
// select: output formats, locales, time zones, tag syntaxes and interpolation
// syntaxes.
package settings

import (
	"fmt"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/language"
)

// Output format keys.
const (
	OutputFormatUndefined = "undefined"
	OutputFormatPlainText = "plainText"
	OutputFormatHTML      = "HTML"
	OutputFormatXHTML     = "XHTML"
	OutputFormatXML       = "XML"
	OutputFormatRTF       = "RTF"
)

// Tag syntax keys.
const (
	TagSyntaxAngleBracket  = "angleBracket"
	TagSyntaxSquareBracket = "squareBracket"
	TagSyntaxAutoDetect    = "autoDetect"
)

// Interpolation syntax keys.
const (
	InterpolationLegacy        = "legacy"
	InterpolationDollar        = "dollar"
	InterpolationSquareBracket = "squareBracket"
)

// Defaults used when a request leaves a setting empty.
const (
	DefaultOutputFormat        = OutputFormatUndefined
	DefaultLocale              = "en_US"
	DefaultTimeZone            = "America/Los_Angeles"
	DefaultTagSyntax           = TagSyntaxAngleBracket
	DefaultInterpolationSyntax = InterpolationLegacy
)

var (
	outputFormats         = []string{OutputFormatUndefined, OutputFormatHTML, OutputFormatXML, OutputFormatXHTML, OutputFormatRTF, OutputFormatPlainText}
	tagSyntaxes           = []string{TagSyntaxAngleBracket, TagSyntaxSquareBracket, TagSyntaxAutoDetect}
	interpolationSyntaxes = []string{InterpolationLegacy, InterpolationDollar, InterpolationSquareBracket}

	// suggestedLocales and suggestedTimeZones are offered to clients; any other
	// well-formed key is accepted as well.
	suggestedLocales = []string{
		"ar_EG", "cs_CZ", "da_DK", "de_AT", "de_CH", "de_DE", "el_GR", "en_AU", "en_CA", "en_GB",
		"en_IE", "en_IN", "en_NZ", "en_US", "es_AR", "es_ES", "es_MX", "fi_FI", "fr_BE", "fr_CA",
		"fr_CH", "fr_FR", "he_IL", "hi_IN", "hu_HU", "id_ID", "it_IT", "ja_JP", "ko_KR", "nb_NO",
		"nl_BE", "nl_NL", "pl_PL", "pt_BR", "pt_PT", "ro_RO", "ru_RU", "sk_SK", "sv_SE", "th_TH",
		"tr_TR", "uk_UA", "vi_VN", "zh_CN", "zh_TW",
	}
	suggestedTimeZones = []string{
		"UTC", "GMT", "America/Los_Angeles", "America/Denver", "America/Chicago", "America/New_York",
		"America/Sao_Paulo", "Europe/London", "Europe/Paris", "Europe/Berlin", "Europe/Budapest",
		"Europe/Moscow", "Africa/Cairo", "Asia/Dubai", "Asia/Kolkata", "Asia/Shanghai", "Asia/Tokyo",
		"Australia/Sydney", "Pacific/Auckland",
	}
)

// Choices lists the selectable values of every setting, with the defaults.
type Choices struct {
	OutputFormats              []string `json:"outputFormats"`
	DefaultOutputFormat        string   `json:"defaultOutputFormat"`
	Locales                    []string `json:"locales"`
	DefaultLocale              string   `json:"defaultLocale"`
	TimeZones                  []string `json:"timeZones"`
	DefaultTimeZone            string   `json:"defaultTimeZone"`
	TagSyntaxes                []string `json:"tagSyntaxes"`
	DefaultTagSyntax           string   `json:"defaultTagSyntax"`
	InterpolationSyntaxes      []string `json:"interpolationSyntaxes"`
	DefaultInterpolationSyntax string   `json:"defaultInterpolationSyntax"`
}

// Catalog validates setting keys. It is immutable and safe for concurrent use.
type Catalog struct {
	defaultZone *time.Location
}

// New builds the catalog. It fails only if the default time zone cannot be
// loaded.
func New() (*Catalog, error) {
	loc, err := time.LoadLocation(DefaultTimeZone)
	if err != nil {
		return nil, err
	}
	return &Catalog{defaultZone: loc}, nil
}

// Choices returns copies of the selectable values.
func (c *Catalog) Choices() Choices {
	return Choices{
		OutputFormats:              slices.Clone(outputFormats),
		DefaultOutputFormat:        DefaultOutputFormat,
		Locales:                    slices.Clone(suggestedLocales),
		DefaultLocale:              DefaultLocale,
		TimeZones:                  slices.Clone(suggestedTimeZones),
		DefaultTimeZone:            DefaultTimeZone,
		TagSyntaxes:                slices.Clone(tagSyntaxes),
		DefaultTagSyntax:           DefaultTagSyntax,
		InterpolationSyntaxes:      slices.Clone(interpolationSyntaxes),
		DefaultInterpolationSyntax: DefaultInterpolationSyntax,
	}
}

// OutputFormat validates an output format key. Empty selects the default.
func (c *Catalog) OutputFormat(key string) (string, bool) {
	return choose(key, DefaultOutputFormat, outputFormats)
}

// TagSyntax validates a tag syntax key. Empty selects the default.
func (c *Catalog) TagSyntax(key string) (string, bool) {
	return choose(key, DefaultTagSyntax, tagSyntaxes)
}

// InterpolationSyntax validates an interpolation syntax key. Empty selects the
// default.
func (c *Catalog) InterpolationSyntax(key string) (string, bool) {
	return choose(key, DefaultInterpolationSyntax, interpolationSyntaxes)
}

// Locale validates a locale key such as "en_US". Empty selects the default.
func (c *Catalog) Locale(key string) (string, bool) {
	if key == "" {
		return DefaultLocale, true
	}
	if _, err := ParseLocale(key); err != nil {
		return "", false
	}
	return key, true
}

// TimeZone resolves an IANA time zone name. Empty selects the default.
func (c *Catalog) TimeZone(key string) (*time.Location, bool) {
	if key == "" {
		return c.defaultZone, true
	}
	if key == "Local" {
		return nil, false
	}
	loc, err := time.LoadLocation(key)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// DefaultZone returns the location of DefaultTimeZone.
func (c *Catalog) DefaultZone() *time.Location {
	return c.defaultZone
}

// ParseLocale converts an underscore separated locale key into a language tag.
// The key must already be in canonical form, so "en_us" is rejected.
func ParseLocale(key string) (language.Tag, error) {
	tag, err := language.Parse(strings.ReplaceAll(key, "_", "-"))
	if err != nil {
		return language.Und, err
	}
	if strings.ReplaceAll(tag.String(), "-", "_") != key {
		return language.Und, fmt.Errorf("locale %q is not in canonical form", key)
	}
	return tag, nil
}

// LocaleTag is ParseLocale with a fallback to the default locale.
func LocaleTag(key string) language.Tag {
	if tag, err := ParseLocale(key); err == nil {
		return tag
	}
	return language.AmericanEnglish
}

func choose(key, def string, allowed []string) (string, bool) {
	if key == "" {
		return def, true
	}
	if slices.Contains(allowed, key) {
		return key, true
	}
	return "", false
}
