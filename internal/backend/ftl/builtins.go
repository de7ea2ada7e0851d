package ftl

import (
	"fmt"
	"math"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/seantiz/anvil/internal/datamodel"
)

// maxStringLength is the largest string, in bytes, a built-in or an
// expression may produce.
const maxStringLength = 1 << 20

var errStringTooLong = fmt.Errorf("The resulting string would exceed the %d byte limit set for this service.", maxStringLength)

// builtinFunc implements x?name(args); args[0] is x.
type builtinFunc func(cfg *config, args []any) (any, error)

var builtinTable = map[string]builtinFunc{
	// strings
	"upper_case":   upperCase,
	"lower_case":   lowerCase,
	"cap_first":    capFirst,
	"uncap_first":  uncapFirst,
	"capitalize":   capitalize,
	"trim":         stringFunc(strings.TrimSpace),
	"length":       length,
	"contains":     stringPredicate(strings.Contains),
	"starts_with":  stringPredicate(strings.HasPrefix),
	"ends_with":    stringPredicate(strings.HasSuffix),
	"index_of":     indexOf,
	"replace":      replace,
	"split":        split,
	"left_pad":     pad(true),
	"right_pad":    pad(false),
	"url":          urlEscape,
	"html":         escapeAs(htmlEscaper),
	"xhtml":        escapeAs(htmlEscaper),
	"xml":          escapeAs(xmlEscaper),
	"rtf":          escapeAs(rtfEscaper),
	"j_string":     jString,
	"no_esc":       noEscape,
	"number":       parseNumber,
	"word_list":    wordList,

	"chop_linebreak": stringFunc(func(s string) string {
		return strings.TrimSuffix(strings.TrimSuffix(s, "\n"), "\r")
	}),

	// numbers
	"c":                  computerFormat,
	"string":             toText,
	"abs":                abs,
	"round":              rounding(func(f float64) float64 { return math.Floor(f + 0.5) }),
	"floor":              rounding(math.Floor),
	"ceiling":            rounding(math.Ceil),
	"int":                rounding(math.Trunc),
	"number_to_datetime": numberToTemporal(func(t time.Time) any { return datamodel.DateTime{Time: t} }),
	"number_to_date":     numberToTemporal(func(t time.Time) any { return datamodel.Date{Time: t} }),
	"number_to_time":     numberToTemporal(func(t time.Time) any { return datamodel.TimeOfDay{Time: t} }),

	// sequences
	"size":         size,
	"first":        first,
	"last":         last,
	"reverse":      reverse,
	"sort":         sortSeq,
	"join":         join,
	"seq_contains": seqContains,
	"seq_index_of": seqIndexOf,

	// hashes
	"keys":   keys,
	"values": values,

	// everything
	"has_content": hasContent,
	"exists":      func(_ *config, args []any) (any, error) { return args[0] != nil, nil },
	"default":     defaultValue,
	"then":        then,
	"is_string":   isType("string"),
	"is_number":   isType("number"),
	"is_boolean":  isType("boolean"),
	"is_date":     isType("date"),
	"is_sequence": isType("sequence"),
	"is_hash":     isType("hash"),
}

// builtinAliases maps camel case names to their snake case originals.
var builtinAliases = map[string]string{
	"upperCase":        "upper_case",
	"lowerCase":        "lower_case",
	"capFirst":         "cap_first",
	"uncapFirst":       "uncap_first",
	"startsWith":       "starts_with",
	"endsWith":         "ends_with",
	"indexOf":          "index_of",
	"leftPad":          "left_pad",
	"rightPad":         "right_pad",
	"jString":          "j_string",
	"noEsc":            "no_esc",
	"wordList":         "word_list",
	"chopLinebreak":    "chop_linebreak",
	"numberToDatetime": "number_to_datetime",
	"numberToDate":     "number_to_date",
	"numberToTime":     "number_to_time",
	"seqContains":      "seq_contains",
	"seqIndexOf":       "seq_index_of",
	"hasContent":       "has_content",
	"isString":         "is_string",
	"isNumber":         "is_number",
	"isBoolean":        "is_boolean",
	"isDate":           "is_date",
	"isSequence":       "is_sequence",
	"isHash":           "is_hash",
}

// nullSafe built-ins accept a null or missing left operand.
var nullSafe = map[string]bool{"has_content": true, "exists": true, "default": true}

func isBuiltin(name string) bool {
	if _, ok := builtinTable[name]; ok {
		return true
	}
	_, ok := builtinAliases[name]
	return ok
}

// builtins binds every built-in to cfg, keyed by the name used in templates.
func builtins(cfg *config) map[string]func(params ...any) (any, error) {
	bind := func(name, canonical string, fn builtinFunc) func(params ...any) (any, error) {
		return func(params ...any) (any, error) {
			if len(params) == 0 {
				return nil, fmt.Errorf("?%s must be applied to a value.", name)
			}
			if params[0] == nil && !nullSafe[canonical] {
				return nil, fmt.Errorf("The left operand of ?%s has evaluated to null or missing.", name)
			}
			v, err := fn(cfg, params)
			if err != nil {
				return nil, fmt.Errorf("?%s: %w", name, err)
			}
			return v, nil
		}
	}

	out := make(map[string]func(params ...any) (any, error), len(builtinTable)+len(builtinAliases))
	for name, fn := range builtinTable {
		out[name] = bind(name, name, fn)
	}
	for alias, name := range builtinAliases {
		out[alias] = bind(alias, name, builtinTable[name])
	}
	return out
}

func argCount(args []any, lo, hi int) error {
	n := len(args) - 1
	if n < lo || n > hi {
		if lo == hi {
			return fmt.Errorf("expects %d argument(s), but got %d.", lo, n)
		}
		return fmt.Errorf("expects %d to %d arguments, but got %d.", lo, hi, n)
	}
	return nil
}

func asString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case markup:
		return string(v), nil
	}
	if s, ok := formatNumber(v); ok {
		return s, nil
	}
	return "", fmt.Errorf("Expected a string, but this has evaluated to a %s.", typeName(v))
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case decimal.Decimal:
		if datamodel.IsPlain(n) && n.IsInteger() {
			if i := n.IntPart(); decimal.NewFromInt(i).Equal(n) {
				return int(i), nil
			}
		}
	}
	return 0, fmt.Errorf("Expected an integer, but this has evaluated to %v.", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case decimal.Decimal:
		return datamodel.Float64(n), nil
	}
	return 0, fmt.Errorf("Expected a number, but this has evaluated to a %s.", typeName(v))
}

func stringFunc(fn func(string) string) builtinFunc {
	return func(_ *config, args []any) (any, error) {
		if err := argCount(args, 0, 0); err != nil {
			return nil, err
		}
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func stringPredicate(fn func(s, sub string) bool) builtinFunc {
	return func(_ *config, args []any) (any, error) {
		if err := argCount(args, 1, 1); err != nil {
			return nil, err
		}
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		sub, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		return fn(s, sub), nil
	}
}

func upperCase(cfg *config, args []any) (any, error) {
	return stringFunc(cases.Upper(cfg.tag).String)(cfg, args)
}

func lowerCase(cfg *config, args []any) (any, error) {
	return stringFunc(cases.Lower(cfg.tag).String)(cfg, args)
}

func capitalize(cfg *config, args []any) (any, error) {
	return stringFunc(cases.Title(cfg.tag, cases.NoLower).String)(cfg, args)
}

func capFirst(cfg *config, args []any) (any, error) {
	return stringFunc(func(s string) string { return mapFirstLetter(s, unicode.ToUpper) })(cfg, args)
}

func uncapFirst(cfg *config, args []any) (any, error) {
	return stringFunc(func(s string) string { return mapFirstLetter(s, unicode.ToLower) })(cfg, args)
}

// mapFirstLetter applies fn to the first non-whitespace rune of s.
func mapFirstLetter(s string, fn func(rune) rune) string {
	for i, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		return s[:i] + string(fn(r)) + s[i+utf8.RuneLen(r):]
	}
	return s
}

func length(_ *config, args []any) (any, error) {
	if err := argCount(args, 0, 0); err != nil {
		return nil, err
	}
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	return utf8.RuneCountInString(s), nil
}

func indexOf(_ *config, args []any) (any, error) {
	if err := argCount(args, 1, 1); err != nil {
		return nil, err
	}
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	sub, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	i := strings.Index(s, sub)
	if i < 0 {
		return -1, nil
	}
	return utf8.RuneCountInString(s[:i]), nil
}

func replace(_ *config, args []any) (any, error) {
	if err := argCount(args, 2, 2); err != nil {
		return nil, err
	}
	var parts [3]string
	for i := range parts {
		s, err := asString(args[i])
		if err != nil {
			return nil, err
		}
		parts[i] = s
	}
	n := strings.Count(parts[0], parts[1])
	if len(parts[0])+n*(len(parts[2])-len(parts[1])) > maxStringLength {
		return nil, errStringTooLong
	}
	return strings.ReplaceAll(parts[0], parts[1], parts[2]), nil
}

func split(_ *config, args []any) (any, error) {
	if err := argCount(args, 1, 1); err != nil {
		return nil, err
	}
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	sep, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func wordList(_ *config, args []any) (any, error) {
	if err := argCount(args, 0, 0); err != nil {
		return nil, err
	}
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	words := strings.Fields(s)
	out := make([]any, len(words))
	for i, w := range words {
		out[i] = w
	}
	return out, nil
}

func pad(left bool) builtinFunc {
	return func(_ *config, args []any) (any, error) {
		if err := argCount(args, 1, 2); err != nil {
			return nil, err
		}
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		width, err := asInt(args[1])
		if err != nil {
			return nil, err
		}
		filler := " "
		if len(args) == 3 {
			if filler, err = asString(args[2]); err != nil {
				return nil, err
			}
			if filler == "" {
				return nil, fmt.Errorf("the padding string can't be empty.")
			}
		}
		missing := width - utf8.RuneCountInString(s)
		if missing <= 0 {
			return s, nil
		}
		if len(s)+missing*utf8.UTFMax > maxStringLength {
			return nil, errStringTooLong
		}
		fill := []rune(strings.Repeat(filler, missing/utf8.RuneCountInString(filler)+1))[:missing]
		if left {
			return string(fill) + s, nil
		}
		return s + string(fill), nil
	}
}

func urlEscape(_ *config, args []any) (any, error) {
	return stringFunc(func(s string) string {
		return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	})(nil, args)
}

func escapeAs(r *strings.Replacer) builtinFunc {
	return func(_ *config, args []any) (any, error) {
		if err := argCount(args, 0, 0); err != nil {
			return nil, err
		}
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		return markup(r.Replace(s)), nil
	}
}

func jString(_ *config, args []any) (any, error) {
	return stringFunc(func(s string) string {
		q := strconv.Quote(s)
		return q[1 : len(q)-1]
	})(nil, args)
}

func noEscape(_ *config, args []any) (any, error) {
	if err := argCount(args, 0, 0); err != nil {
		return nil, err
	}
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	return markup(s), nil
}

func parseNumber(_ *config, args []any) (any, error) {
	if err := argCount(args, 0, 0); err != nil {
		return nil, err
	}
	if _, ok := formatNumber(args[0]); ok {
		return args[0], nil
	}
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%q can't be converted to a number.", s)
	}
	if !datamodel.IsPlain(d) {
		return d, nil
	}
	if f, _ := d.Float64(); decimal.NewFromFloat(f).Equal(d) {
		return f, nil
	}
	return d, nil
}

func computerFormat(cfg *config, args []any) (any, error) {
	if err := argCount(args, 0, 0); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		return strconv.Quote(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	if s, ok := formatNumber(args[0]); ok {
		return s, nil
	}
	return nil, fmt.Errorf("Expected a number, boolean or string, but this has evaluated to a %s.", typeName(args[0]))
}

func toText(cfg *config, args []any) (any, error) {
	if b, ok := args[0].(bool); ok && len(args) == 3 {
		if b {
			return asString(args[1])
		}
		return asString(args[2])
	}
	if err := argCount(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 2 {
		layout, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		if t, ok := timeOf(args[0], cfg); ok {
			return t.Format(goLayout(layout)), nil
		}
		if _, ok := formatNumber(args[0]); ok {
			return formatPattern(args[0], layout)
		}
		return nil, fmt.Errorf("a format argument can only be used with numbers and dates.")
	}
	return cfg.text(args[0])
}

func timeOf(v any, cfg *config) (time.Time, bool) {
	switch v := v.(type) {
	case datamodel.DateTime:
		return v.In(cfg.zone), true
	case datamodel.Date:
		return v.Time, true
	case datamodel.TimeOfDay:
		return v.Time, true
	case time.Time:
		return v.In(cfg.zone), true
	}
	return time.Time{}, false
}

var layoutTokens = strings.NewReplacer(
	"yyyy", "2006", "yy", "06",
	"MMMM", "January", "MMM", "Jan", "MM", "01",
	"dd", "02", "EEEE", "Monday", "EEE", "Mon",
	"HH", "15", "hh", "03", "mm", "04", "ss", "05",
	"SSS", "000", "a", "PM", "XXX", "Z07:00", "Z", "-0700", "z", "MST",
)

// goLayout converts a date pattern such as "yyyy-MM-dd HH:mm" to a time
// layout.
func goLayout(pattern string) string {
	switch pattern {
	case "iso":
		return time.RFC3339
	case "short":
		return "1/2/06 3:04 PM"
	case "medium":
		return "Jan 2, 2006 3:04:05 PM"
	case "long":
		return "January 2, 2006 3:04:05 PM MST"
	}
	return layoutTokens.Replace(pattern)
}

// formatPattern formats a number with a pattern like "0.00" or "#.##", or
// with one of the named formats.
func formatPattern(v any, pattern string) (any, error) {
	switch pattern {
	case "computer", "c":
		s, _ := formatNumber(v)
		return s, nil
	case "0":
		return formatFraction(v, 0, 0)
	}
	i := strings.IndexByte(pattern, '.')
	if i < 0 {
		return formatFraction(v, 0, 0)
	}
	frac := pattern[i+1:]
	minFrac := strings.Count(frac, "0")
	return formatFraction(v, minFrac, len(frac))
}

func abs(_ *config, args []any) (any, error) {
	if err := argCount(args, 0, 0); err != nil {
		return nil, err
	}
	switch n := args[0].(type) {
	case int:
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case decimal.Decimal:
		return n.Abs(), nil
	}
	f, err := asFloat(args[0])
	if err != nil {
		return nil, err
	}
	return math.Abs(f), nil
}

func rounding(fn func(float64) float64) builtinFunc {
	return func(_ *config, args []any) (any, error) {
		if err := argCount(args, 0, 0); err != nil {
			return nil, err
		}
		if n, ok := args[0].(int); ok {
			return n, nil
		}
		f, err := asFloat(args[0])
		if err != nil {
			return nil, err
		}
		r := fn(f)
		if r >= math.MinInt64 && r <= math.MaxInt64 {
			return int(r), nil
		}
		return r, nil
	}
}

func numberToTemporal(wrap func(time.Time) any) builtinFunc {
	return func(cfg *config, args []any) (any, error) {
		if err := argCount(args, 0, 0); err != nil {
			return nil, err
		}
		f, err := asFloat(args[0])
		if err != nil {
			return nil, err
		}
		return wrap(time.UnixMilli(int64(f)).In(cfg.zone)), nil
	}
}

// sequence returns v as a slice of values.
func sequence(v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("Expected a sequence, but this has evaluated to a %s.", typeName(v))
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func size(_ *config, args []any) (any, error) {
	if err := argCount(args, 0, 0); err != nil {
		return nil, err
	}
	if m, ok := args[0].(map[string]any); ok {
		return len(m), nil
	}
	s, err := sequence(args[0])
	if err != nil {
		return nil, err
	}
	return len(s), nil
}

func first(_ *config, args []any) (any, error) {
	s, err := sequence(args[0])
	if err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	return s[0], nil
}

func last(_ *config, args []any) (any, error) {
	s, err := sequence(args[0])
	if err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	return s[len(s)-1], nil
}

func reverse(_ *config, args []any) (any, error) {
	s, err := sequence(args[0])
	if err != nil {
		return nil, err
	}
	out := slices.Clone(s)
	slices.Reverse(out)
	return out, nil
}

func sortSeq(_ *config, args []any) (any, error) {
	s, err := sequence(args[0])
	if err != nil {
		return nil, err
	}
	out := slices.Clone(s)
	var sortErr error
	slices.SortStableFunc(out, func(a, b any) int {
		c, err := compareValues(a, b)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

func compareValues(a, b any) (int, error) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), nil
		}
	}
	af, aerr := asFloat(a)
	bf, berr := asFloat(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("can only sort sequences of only strings or only numbers; found %s and %s.", typeName(a), typeName(b))
}

func join(cfg *config, args []any) (any, error) {
	if err := argCount(args, 1, 1); err != nil {
		return nil, err
	}
	s, err := sequence(args[0])
	if err != nil {
		return nil, err
	}
	sep, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(s))
	size := 0
	for _, v := range s {
		if v == nil {
			continue
		}
		text, err := cfg.text(v)
		if err != nil {
			return nil, err
		}
		if size += len(text) + len(sep); size > maxStringLength {
			return nil, errStringTooLong
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, sep), nil
}

func seqContains(cfg *config, args []any) (any, error) {
	i, err := seqIndexOf(cfg, args)
	if err != nil {
		return nil, err
	}
	return i.(int) >= 0, nil
}

func seqIndexOf(_ *config, args []any) (any, error) {
	if err := argCount(args, 1, 1); err != nil {
		return nil, err
	}
	s, err := sequence(args[0])
	if err != nil {
		return nil, err
	}
	for i, v := range s {
		if c, err := compareValues(v, args[1]); err == nil && c == 0 {
			return i, nil
		}
		if reflect.DeepEqual(v, args[1]) {
			return i, nil
		}
	}
	return -1, nil
}

func hash(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Expected a hash, but this has evaluated to a %s.", typeName(v))
	}
	return m, nil
}

func keys(_ *config, args []any) (any, error) {
	m, err := hash(args[0])
	if err != nil {
		return nil, err
	}
	names := sortedKeys(m)
	out := make([]any, len(names))
	for i, k := range names {
		out[i] = k
	}
	return out, nil
}

func values(_ *config, args []any) (any, error) {
	m, err := hash(args[0])
	if err != nil {
		return nil, err
	}
	names := sortedKeys(m)
	out := make([]any, len(names))
	for i, k := range names {
		out[i] = m[k]
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func hasContent(_ *config, args []any) (any, error) {
	switch v := args[0].(type) {
	case nil:
		return false, nil
	case string:
		return v != "", nil
	case markup:
		return v != "", nil
	case []any:
		return len(v) > 0, nil
	case map[string]any:
		return len(v) > 0, nil
	}
	return true, nil
}

func defaultValue(_ *config, args []any) (any, error) {
	if args[0] != nil {
		return args[0], nil
	}
	for _, v := range args[1:] {
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func then(_ *config, args []any) (any, error) {
	if err := argCount(args, 2, 2); err != nil {
		return nil, err
	}
	b, ok := args[0].(bool)
	if !ok {
		return nil, fmt.Errorf("Expected a boolean, but this has evaluated to a %s.", typeName(args[0]))
	}
	if b {
		return args[1], nil
	}
	return args[2], nil
}

func isType(name string) builtinFunc {
	return func(_ *config, args []any) (any, error) {
		return typeName(args[0]) == name, nil
	}
}
