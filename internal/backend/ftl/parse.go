package ftl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/settings"
)

type tagStyle int

const (
	tagUndecided tagStyle = iota
	tagAngle
	tagSquare
)

var (
	listParams   = regexp.MustCompile(`(?s)^(.*?)\s+as\s+([A-Za-z_][A-Za-z0-9_]*)(?:\s*,\s*([A-Za-z_][A-Za-z0-9_]*))?$`)
	assignParams = regexp.MustCompile(`(?s)^([A-Za-z][A-Za-z0-9_]*)\s*=\s*(.+)$`)
	numericFmt   = regexp.MustCompile(`^(?:m([0-9]+))?(?:M([0-9]+))?$`)
)

// tag is a directive start or end tag as it appears in the source.
type tag struct {
	off       int
	name      string
	params    string
	paramsOff int
	closing   bool
}

func (t *tag) String() string {
	if t.closing {
		return "</#" + t.name + ">"
	}
	return "<#" + t.name + ">"
}

type parser struct {
	src    string
	pos    int
	tags   tagStyle
	interp string
	exprs  *exprCompiler
}

func newParser(src string, cfg *config, exprs *exprCompiler) *parser {
	p := &parser{src: src, interp: cfg.interpolation, exprs: exprs}
	switch cfg.tagSyntax {
	case settings.TagSyntaxSquareBracket:
		p.tags = tagSquare
	case settings.TagSyntaxAutoDetect:
		p.tags = tagUndecided
	default:
		p.tags = tagAngle
	}
	return p
}

func (p *parser) parse() ([]node, error) {
	nodes, end, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	if end != nil {
		return nil, p.errorf(end.off, "Unexpected %s tag; there is no matching directive to close or continue.", end)
	}
	return nodes, nil
}

// parseBody reads nodes until the end of the source or until a tag that
// belongs to an enclosing directive (an end tag, #else or #elseif), which is
// returned to the caller.
func (p *parser) parseBody() ([]node, *tag, error) {
	var (
		nodes     []node
		text      []byte
		textStart int
	)
	flush := func() {
		if len(text) > 0 {
			nodes = append(nodes, &textNode{pos: p.position(textStart), text: string(text)})
			text = nil
		}
	}
	trim := func(n int) {
		text = text[:len(text)-min(n, len(text))]
	}

	for p.pos < len(p.src) {
		skipped, strip, err := p.skipComment()
		if err != nil {
			return nil, nil, err
		}
		if skipped {
			trim(strip)
			continue
		}

		t, strip, err := p.readTag()
		if err != nil {
			return nil, nil, err
		}
		if t != nil {
			trim(strip)
			flush()
			if t.closing || t.name == "else" || t.name == "elseif" {
				return nodes, t, nil
			}
			n, err := p.parseDirective(t)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, n)
			continue
		}

		n, err := p.readInterpolation()
		if err != nil {
			return nil, nil, err
		}
		if n != nil {
			flush()
			nodes = append(nodes, n)
			continue
		}

		if len(text) == 0 {
			textStart = p.pos
		}
		text = append(text, p.src[p.pos])
		p.pos++
	}
	flush()
	return nodes, nil, nil
}

func (p *parser) styles() []tagStyle {
	if p.tags == tagUndecided {
		return []tagStyle{tagAngle, tagSquare}
	}
	return []tagStyle{p.tags}
}

func delimiters(style tagStyle) (left, right byte) {
	if style == tagSquare {
		return '[', ']'
	}
	return '<', '>'
}

// skipComment skips a <#-- ... --> (or [#-- ... --]) comment at the current
// position. strip is the number of already collected text bytes to drop
// because the comment stands alone on its line.
func (p *parser) skipComment() (bool, int, error) {
	for _, style := range p.styles() {
		left, right := delimiters(style)
		prefix := string(left) + "#--"
		if !strings.HasPrefix(p.src[p.pos:], prefix) {
			continue
		}
		terminator := "--" + string(right)
		end := strings.Index(p.src[p.pos+len(prefix):], terminator)
		if end < 0 {
			return false, 0, p.errorf(p.pos, "Unclosed comment; reached the end of the template.")
		}
		start := p.pos
		p.pos += len(prefix) + end + len(terminator)
		return true, p.stripLine(start), nil
	}
	return false, 0, nil
}

// readTag reads a directive start or end tag at the current position. It
// returns a nil tag when there is none.
func (p *parser) readTag() (*tag, int, error) {
	rest := p.src[p.pos:]
	for _, style := range p.styles() {
		left, right := delimiters(style)

		var n int
		closing := false
		switch {
		case strings.HasPrefix(rest, string(left)+"/#"):
			n, closing = 3, true
		case strings.HasPrefix(rest, string(left)+"#"):
			n = 2
		default:
			continue
		}

		nameEnd := p.pos + n
		for nameEnd < len(p.src) && isIdentByte(p.src[nameEnd]) {
			nameEnd++
		}
		if nameEnd == p.pos+n || !isLetter(p.src[p.pos+n]) {
			continue
		}
		p.tags = style

		end, ok := scanClose(p.src, nameEnd, right)
		start := p.pos
		name := p.src[p.pos+n : nameEnd]
		if !ok {
			return nil, 0, p.errorf(start, "Unclosed %s%s tag; reached the end of the template.", p.src[start:p.pos+n], name)
		}

		raw := p.src[nameEnd:end]
		params := strings.TrimSpace(raw)
		params = strings.TrimSpace(strings.TrimSuffix(params, "/"))
		t := &tag{
			off:       start,
			name:      name,
			params:    params,
			paramsOff: nameEnd + (len(raw) - len(strings.TrimLeft(raw, " \t\r\n"))),
			closing:   closing,
		}
		if closing && params != "" {
			return nil, 0, p.errorf(start, "End tag %s must not have parameters.", t)
		}
		p.pos = end + 1
		return t, p.stripLine(start), nil
	}
	return nil, 0, nil
}

// stripLine removes the line a tag or comment occupied when nothing else is on
// it. It consumes the trailing whitespace and line break, and returns how many
// bytes of leading whitespace precede start on that line.
func (p *parser) stripLine(start int) int {
	lineStart := strings.LastIndexByte(p.src[:start], '\n') + 1
	if strings.TrimLeft(p.src[lineStart:start], " \t") != "" {
		return 0
	}
	rest := p.src[p.pos:]
	nl := strings.IndexByte(rest, '\n')
	tail := rest
	if nl >= 0 {
		tail = rest[:nl]
	}
	if strings.TrimRight(tail, " \t\r") != "" {
		return 0
	}
	if nl >= 0 {
		p.pos += nl + 1
	} else {
		p.pos = len(p.src)
	}
	return start - lineStart
}

// readInterpolation reads an interpolation at the current position, or returns
// nil when there is none.
func (p *parser) readInterpolation() (node, error) {
	rest := p.src[p.pos:]
	var open string
	var right byte
	switch p.interp {
	case settings.InterpolationSquareBracket:
		if strings.HasPrefix(rest, "[=") {
			open, right = "[=", ']'
		}
	case settings.InterpolationDollar:
		if strings.HasPrefix(rest, "${") {
			open, right = "${", '}'
		}
	default:
		if strings.HasPrefix(rest, "${") || strings.HasPrefix(rest, "#{") {
			open, right = rest[:2], '}'
		}
	}
	if open == "" {
		return nil, nil
	}

	start := p.pos
	exprStart := start + len(open)
	end, ok := scanClose(p.src, exprStart, right)
	if !ok {
		return nil, p.errorf(start, "Unclosed %q interpolation; reached the end of the template.", open)
	}
	body := p.src[exprStart:end]
	p.pos = end + 1

	n := &interpNode{pos: p.position(start), raw: p.src[start:p.pos], numeric: open == "#{"}
	if n.numeric {
		if i := strings.LastIndexByte(body, ';'); i >= 0 {
			spec := strings.TrimSpace(body[i+1:])
			m := numericFmt.FindStringSubmatch(spec)
			if m == nil {
				return nil, p.errorf(exprStart+i+1, "Invalid number format %q in #{...}; expected something like m1M3.", spec)
			}
			n.minFrac, n.maxFrac = atoiOr(m[1], 0), atoiOr(m[2], -1)
			if n.maxFrac >= 0 && n.maxFrac < n.minFrac {
				n.maxFrac = n.minFrac
			}
			body = body[:i]
		} else {
			n.maxFrac = -1
		}
	}
	if strings.TrimSpace(body) == "" {
		return nil, p.errorf(start, "Empty %s...%c interpolation.", open, right)
	}

	e, err := p.compile(body, exprStart)
	if err != nil {
		return nil, err
	}
	n.expr = e
	return n, nil
}

func (p *parser) parseDirective(t *tag) (node, error) {
	switch t.name {
	case "if":
		return p.parseIf(t)
	case "list":
		return p.parseList(t)
	case "assign":
		return p.parseAssign(t)
	case "break":
		if t.params != "" {
			return nil, p.errorf(t.off, "#break doesn't have parameters.")
		}
		return &breakNode{pos: p.position(t.off)}, nil
	case "stop":
		n := &stopNode{pos: p.position(t.off)}
		if t.params != "" {
			e, err := p.compile(t.params, t.paramsOff)
			if err != nil {
				return nil, err
			}
			n.msg = e
		}
		return n, nil
	case "noparse":
		return p.parseNoParse(t)
	}
	return nil, p.errorf(t.off, "Unknown directive: #%s.", t.name)
}

func (p *parser) parseIf(t *tag) (node, error) {
	if t.params == "" {
		return nil, p.errorf(t.off, "#if must have a condition parameter.")
	}
	cond, err := p.compile(t.params, t.paramsOff)
	if err != nil {
		return nil, err
	}

	n := &ifNode{pos: p.position(t.off)}
	seenElse := false
	for {
		body, end, err := p.parseBody()
		if err != nil {
			return nil, err
		}
		if end == nil {
			return nil, p.errorf(t.off, "Unclosed #if directive; reached the end of the template.")
		}
		n.branches = append(n.branches, ifBranch{cond: cond, body: body})

		switch {
		case end.closing && end.name == "if":
			return n, nil
		case end.closing:
			return nil, p.errorf(end.off, "Unexpected %s; expected </#if>.", end)
		case seenElse:
			return nil, p.errorf(end.off, "Unexpected %s after #else.", end)
		case end.name == "elseif":
			if end.params == "" {
				return nil, p.errorf(end.off, "#elseif must have a condition parameter.")
			}
			if cond, err = p.compile(end.params, end.paramsOff); err != nil {
				return nil, err
			}
		case end.name == "else":
			if end.params != "" {
				return nil, p.errorf(end.off, "#else doesn't have parameters.")
			}
			seenElse, cond = true, nil
		}
	}
}

func (p *parser) parseList(t *tag) (node, error) {
	m := listParams.FindStringSubmatch(t.params)
	if m == nil {
		return nil, p.errorf(t.off, "#list parameters must look like: sequence as item")
	}
	n := &listNode{pos: p.position(t.off), raw: t.params, vars: []string{m[2]}}
	if m[3] != "" {
		n.vars = append(n.vars, m[3])
	}

	source := m[1]
	if i := rangeOperator(source); i >= 0 {
		from, err := p.compile(source[:i], t.paramsOff)
		if err != nil {
			return nil, err
		}
		n.rng = &rangeSource{from: from}
		rest := source[i+2:]
		if strings.HasPrefix(rest, "<") || strings.HasPrefix(rest, "!") {
			n.rng.exclusive = true
			rest = rest[1:]
		}
		if strings.TrimSpace(rest) != "" {
			if n.rng.to, err = p.compile(rest, t.paramsOff+i+2); err != nil {
				return nil, err
			}
		} else if n.rng.exclusive {
			return nil, p.errorf(t.off, "An exclusive range must have an end.")
		}
		if len(n.vars) == 2 {
			return nil, p.errorf(t.off, "A range can only be listed with a single loop variable.")
		}
	} else {
		seq, err := p.compile(source, t.paramsOff)
		if err != nil {
			return nil, err
		}
		n.seq = seq
	}

	body, end, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	if end != nil && !end.closing && end.name == "else" {
		n.body = body
		if body, end, err = p.parseBody(); err != nil {
			return nil, err
		}
		n.elseBody = body
	} else {
		n.body = body
	}
	if end == nil {
		return nil, p.errorf(t.off, "Unclosed #list directive; reached the end of the template.")
	}
	if !end.closing || end.name != "list" {
		return nil, p.errorf(end.off, "Unexpected %s; expected </#list>.", end)
	}
	return n, nil
}

func (p *parser) parseAssign(t *tag) (node, error) {
	m := assignParams.FindStringSubmatch(t.params)
	if m == nil {
		return nil, p.errorf(t.off, "#assign parameters must look like: name = value")
	}
	e, err := p.compile(m[2], t.paramsOff+strings.Index(t.params, m[2]))
	if err != nil {
		return nil, err
	}
	return &assignNode{pos: p.position(t.off), name: m[1], value: e}, nil
}

// parseNoParse copies everything up to the matching end tag verbatim.
func (p *parser) parseNoParse(t *tag) (node, error) {
	left, right := delimiters(p.tags)
	endTag := string(left) + "/#noparse" + string(right)
	i := strings.Index(p.src[p.pos:], endTag)
	if i < 0 {
		return nil, p.errorf(t.off, "Unclosed #noparse directive; reached the end of the template.")
	}
	n := &textNode{pos: p.position(p.pos), text: p.src[p.pos : p.pos+i]}
	start := p.pos + i
	p.pos = start + len(endTag)
	if strip := p.stripLine(start); strip > 0 {
		n.text = n.text[:len(n.text)-strip]
	}
	return n, nil
}

func (p *parser) compile(src string, off int) (*expression, error) {
	e, err := p.exprs.compile(src)
	if err != nil {
		return nil, p.errorf(off, "%s", err)
	}
	e.pos = p.position(off)
	return e, nil
}

func (p *parser) position(off int) position {
	if off > len(p.src) {
		off = len(p.src)
	}
	before := p.src[:off]
	line := strings.Count(before, "\n") + 1
	lineStart := strings.LastIndexByte(before, '\n') + 1
	return position{line: line, col: utf8.RuneCountInString(before[lineStart:]) + 1}
}

func (p *parser) errorf(off int, format string, args ...any) error {
	pos := p.position(off)
	return &backend.ParseError{Line: pos.line, Column: pos.col, Msg: fmt.Sprintf(format, args...)}
}

// scanClose finds the index of close at nesting depth zero, starting at from
// and skipping string literals. For '}' braces nest; for ']' and '>' both
// brackets and parentheses nest.
func scanClose(src string, from int, right byte) (int, bool) {
	depth := 0
	for i := from; i < len(src); i++ {
		c := src[i]
		switch c {
		case '"', '\'':
			j := skipString(src, i)
			if j < 0 {
				return 0, false
			}
			i = j
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 && c == right {
				return i, true
			}
			if depth > 0 {
				depth--
			}
		case '>':
			if depth == 0 && right == '>' {
				return i, true
			}
		}
	}
	return 0, false
}

// skipString returns the index of the quote that closes the string literal
// starting at i, or -1.
func skipString(src string, i int) int {
	quote := src[i]
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case quote:
			return j
		}
	}
	return -1
}

// rangeOperator returns the index of a top-level ".." in src, or -1.
func rangeOperator(src string) int {
	depth := 0
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '\'':
			j := skipString(src, i)
			if j < 0 {
				return -1
			}
			i = j
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '.':
			if depth == 0 && strings.HasPrefix(src[i:], "..") && !strings.HasPrefix(src[i:], "...") {
				return i
			}
		}
	}
	return -1
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentByte(c byte) bool {
	return isLetter(c) || c == '_' || c >= '0' && c <= '9'
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
