package ftl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	gocache "github.com/patrickmn/go-cache"
)

const (
	programTTL     = 10 * time.Minute
	programCleanup = 20 * time.Minute
	maxPrograms    = 5000

	specialPrefix = "__dot_"
	loopPrefix    = "__loop_"
	builtinPrefix = "__bi_"
)

var memberChain = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)+$`)

var specialVariables = map[string]bool{
	"locale":        true,
	"lang":          true,
	"now":           true,
	"output_format": true,
	"auto_esc":      true,
	"time_zone":     true,
	"version":       true,
}

// loopBuiltins read the state of the #list the operand is the loop variable of.
var loopBuiltins = map[string]string{
	"index":    "Index",
	"counter":  "Counter",
	"has_next": "HasNext",
	"hasNext":  "HasNext",
	"is_first": "IsFirst",
	"isFirst":  "IsFirst",
	"is_last":  "IsLast",
	"isLast":   "IsLast",
}

// expression is a compiled template expression.
type expression struct {
	src     string
	pos     position
	program *vm.Program
}

// exprCompiler turns template expressions into expr programs. Programs are
// cached across templates compiled with the same settings.
type exprCompiler struct {
	cache   *gocache.Cache
	key     string
	options []expr.Option
}

func newExprCache() *gocache.Cache {
	return gocache.New(programTTL, programCleanup)
}

func newExprCompiler(cache *gocache.Cache, cfg *config) *exprCompiler {
	opts := []expr.Option{
		expr.AllowUndefinedVariables(),
		expr.DisableBuiltin("env"),
	}
	for name, fn := range builtins(cfg) {
		opts = append(opts, expr.Function(builtinPrefix+name, fn))
	}
	return &exprCompiler{cache: cache, key: cfg.fingerprint(), options: opts}
}

func (c *exprCompiler) compile(src string) (*expression, error) {
	rewritten, err := rewrite(src)
	if err != nil {
		return nil, err
	}

	key := c.key + "\x00" + rewritten
	if cached, ok := c.cache.Get(key); ok {
		if program, ok := cached.(*vm.Program); ok {
			return &expression{src: strings.TrimSpace(src), program: program}, nil
		}
	}

	program, err := expr.Compile(rewritten, c.options...)
	if err != nil {
		return nil, fmt.Errorf("Invalid expression %q: %w", strings.TrimSpace(src), err)
	}
	if c.cache.ItemCount() >= maxPrograms {
		c.cache.DeleteExpired()
	}
	if c.cache.ItemCount() < maxPrograms {
		c.cache.Set(key, program, gocache.DefaultExpiration)
	}
	return &expression{src: strings.TrimSpace(src), program: program}, nil
}

// rewrite translates template expression syntax into expr syntax:
//
//   - x?name and x?name(args) built-in calls become function calls
//   - x?? becomes an existence test
//   - .name special variables become environment lookups
//   - the gt, gte, lt and lte keywords become operators
//   - a single = becomes ==
func rewrite(src string) (string, error) {
	var out []byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			j := skipString(src, i)
			if j < 0 {
				return "", errors.New("Unclosed string literal.")
			}
			out = append(out, src[i:j+1]...)
			i = j

		case c == 'r' && i+1 < len(src) && (src[i+1] == '"' || src[i+1] == '\'') && !precededByIdent(src, i):
			// Raw string: no escapes.
			end := strings.IndexByte(src[i+2:], src[i+1])
			if end < 0 {
				return "", errors.New("Unclosed string literal.")
			}
			raw := src[i+2 : i+2+end]
			out = append(out, '`')
			out = append(out, strings.ReplaceAll(raw, "`", "")...)
			out = append(out, '`')
			i += 2 + end

		case c == '?' && strings.HasPrefix(src[i:], "??") && existenceTest(src[i+2:]):
			start, err := operandStart(out)
			if err != nil {
				return "", err
			}
			operand := safeChain(string(out[start:]))
			out = append(out[:start], fmt.Sprintf("(%s != nil)", operand)...)
			i++

		case c == '?' && i+1 < len(src) && isLetter(src[i+1]):
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			name := src[i+1 : j]
			if field, ok := loopBuiltins[name]; ok {
				start, err := operandStart(out)
				if err != nil {
					return "", err
				}
				loopVar := string(out[start:])
				if !isIdentifier(loopVar) {
					return "", fmt.Errorf("?%s can only be applied to a loop variable, not to %q.", name, loopVar)
				}
				out = append(out[:start], loopPrefix+loopVar+"."+field...)
				i = j - 1
				continue
			}
			if !isBuiltin(name) {
				if strings.HasPrefix(src[j:], " ") || strings.HasPrefix(src[j:], ":") {
					// Ternary operator.
					out = append(out, c)
					continue
				}
				return "", fmt.Errorf("Unknown built-in: ?%s", name)
			}
			start, err := operandStart(out)
			if err != nil {
				return "", fmt.Errorf("?%s: %w", name, err)
			}
			operand := string(out[start:])
			if nullSafe[name] || nullSafe[builtinAliases[name]] {
				operand = safeChain(operand)
			}
			args := ""
			if j < len(src) && src[j] == '(' {
				end, ok := scanClose(src, j+1, ')')
				if !ok {
					return "", fmt.Errorf("Unclosed argument list of ?%s.", name)
				}
				inner, err := rewrite(src[j+1 : end])
				if err != nil {
					return "", err
				}
				if strings.TrimSpace(inner) != "" {
					args = ", " + inner
				}
				j = end + 1
			}
			out = append(out[:start], fmt.Sprintf("%s%s(%s%s)", builtinPrefix, name, operand, args)...)
			i = j - 1

		case c == '!' && (i+1 >= len(src) || src[i+1] != '=') && continuesOperand(out):
			start, err := operandStart(out)
			if err != nil {
				return "", err
			}
			operand := safeChain(string(out[start:]))
			end := operandEnd(src, i+1)
			fallback := `""`
			if end > i+1 {
				if fallback, err = rewrite(src[i+1 : end]); err != nil {
					return "", err
				}
			}
			out = append(out[:start], fmt.Sprintf("(%s ?? %s)", operand, fallback)...)
			i = end - 1

		case c == '.' && i+1 < len(src) && isLetter(src[i+1]) && !continuesOperand(out):
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			name := src[i+1 : j]
			if !specialVariables[name] {
				return "", fmt.Errorf("Unknown special variable name: %q.", "."+name)
			}
			out = append(out, specialPrefix+name...)
			i = j - 1

		case isLetter(c) && !precededByIdent(src, i):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			word := src[i:j]
			switch word {
			case "gt":
				word = ">"
			case "gte":
				word = ">="
			case "lt":
				word = "<"
			case "lte":
				word = "<="
			}
			out = append(out, word...)
			i = j - 1

		case c == '=':
			prev := byte(0)
			if i > 0 {
				prev = src[i-1]
			}
			next := byte(0)
			if i+1 < len(src) {
				next = src[i+1]
			}
			switch {
			case next == '=':
				out = append(out, "=="...)
				i++
			case prev == '!' || prev == '<' || prev == '>':
				out = append(out, c)
			default:
				out = append(out, "=="...)
			}

		default:
			out = append(out, c)
		}
	}
	return string(out), nil
}

// existenceTest reports whether "??" followed by rest is the postfix existence
// operator rather than the binary default operator.
func existenceTest(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ')', ']', '&', '|', ',', '}':
		return true
	}
	return strings.HasPrefix(rest, "and ") || strings.HasPrefix(rest, "or ")
}

// operandStart returns where the postfix operand that ends at the end of b
// starts: an identifier or member chain, a call or index expression, a
// parenthesized expression, or a literal.
func operandStart(b []byte) (int, error) {
	i := len(b)
	for i > 0 {
		c := b[i-1]
		switch {
		case c == ')' || c == ']' || c == '}':
			j := matchOpen(b, i-1)
			if j < 0 {
				return 0, errors.New("unbalanced brackets")
			}
			i = j
		case c == '"' || c == '\'' || c == '`':
			j := i - 2
			for j >= 0 && (b[j] != c || (j > 0 && b[j-1] == '\\')) {
				j--
			}
			if j < 0 {
				return 0, errors.New("unbalanced quotes")
			}
			i = j
		case isIdentByte(c) || c == '.':
			i--
		default:
			if i == len(b) {
				return 0, errors.New("missing operand")
			}
			return i, nil
		}
	}
	if i == len(b) {
		return 0, errors.New("missing operand")
	}
	return i, nil
}

// operandEnd returns where the default value of a x!default expression that
// starts at i ends.
func operandEnd(src string, i int) int {
	j := i
	if j < len(src) && (src[j] == '-' || src[j] == '+') {
		j++
	}
	for j < len(src) {
		c := src[j]
		switch {
		case c == '"' || c == '\'':
			k := skipString(src, j)
			if k < 0 {
				return len(src)
			}
			j = k + 1
		case c == '(' || c == '[' || c == '{':
			right := map[byte]byte{'(': ')', '[': ']', '{': '}'}[c]
			k, ok := scanClose(src, j+1, right)
			if !ok {
				return len(src)
			}
			j = k + 1
		case isIdentByte(c) || c == '.' || c == '?':
			if c == '?' && (j+1 >= len(src) || !isLetter(src[j+1])) {
				return j
			}
			if c == '.' && strings.HasPrefix(src[j:], "..") {
				return j
			}
			j++
		default:
			return j
		}
	}
	return j
}

// matchOpen returns the index of the bracket opening the one at b[end].
func matchOpen(b []byte, end int) int {
	depth := 0
	for i := end; i >= 0; i-- {
		switch b[i] {
		case ')', ']', '}':
			depth++
		case '(', '[', '{':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// continuesOperand reports whether a '.' appended to b would be member access
// or a decimal point rather than the start of a special variable.
func continuesOperand(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	c := b[len(b)-1]
	return isIdentByte(c) || c == ')' || c == ']' || c == '}' || c == '"' || c == '\'' || c == '`' || c == '.'
}

// safeChain turns the member accesses of a plain a.b.c chain into optional
// chaining, so that a missing intermediate yields nil instead of an error.
func safeChain(operand string) string {
	if !memberChain.MatchString(operand) {
		return operand
	}
	return strings.ReplaceAll(operand, ".", "?.")
}

func precededByIdent(src string, i int) bool {
	return i > 0 && (isIdentByte(src[i-1]) || src[i-1] == '.')
}

func isIdentifier(s string) bool {
	if s == "" || !(isLetter(s[0]) || s[0] == '_') {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
