package ftl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/vm"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/datamodel"
)

// errBreak unwinds the body of the innermost #list.
var errBreak = errors.New("#break")

// loopState is what the loop built-ins (item?index, item?has_next, ...) see.
type loopState struct {
	Index   int
	Counter int
	HasNext bool
	IsFirst bool
	IsLast  bool
}

// Template is a compiled ftl template.
type Template struct {
	nodes []node
	cfg   *config
}

// Render implements backend.Template.
func (t *Template) Render(ctx context.Context, w io.Writer, data *datamodel.Map) error {
	env := map[string]any{}
	if data != nil {
		globals, err := data.Native()
		if err != nil {
			return &backend.EvalError{Msg: err.Error(), Err: err}
		}
		for k, v := range globals {
			env[k] = v
		}
	}
	env[specialPrefix+"locale"] = t.cfg.locale
	env[specialPrefix+"lang"] = t.cfg.tag.String()
	if base, _ := t.cfg.tag.Base(); base.String() != "" {
		env[specialPrefix+"lang"] = base.String()
	}
	env[specialPrefix+"now"] = datamodel.DateTime{Time: time.Now().In(t.cfg.zone)}
	env[specialPrefix+"output_format"] = t.cfg.outputFormat
	env[specialPrefix+"auto_esc"] = t.cfg.autoEscapes()
	env[specialPrefix+"time_zone"] = t.cfg.zone.String()
	env[specialPrefix+"version"] = Version

	r := &renderer{ctx: ctx, w: w, cfg: t.cfg, env: env}
	err := r.exec(t.nodes)
	if errors.Is(err, errBreak) {
		return &backend.EvalError{Msg: "#break must be inside a #list."}
	}
	return err
}

type renderer struct {
	ctx     context.Context
	w       io.Writer
	cfg     *config
	env     map[string]any
	machine vm.VM
}

func (r *renderer) exec(nodes []node) error {
	for _, n := range nodes {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		if err := r.execNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) execNode(n node) error {
	switch n := n.(type) {
	case *textNode:
		_, err := io.WriteString(r.w, n.text)
		return err

	case *interpNode:
		v, err := r.eval(n.expr)
		if err != nil {
			return err
		}
		if v == nil {
			return r.missing(n.expr)
		}
		var s string
		if n.numeric {
			s, err = formatFraction(v, n.minFrac, n.maxFrac)
			s = r.cfg.escape(s)
		} else {
			s, err = r.cfg.display(v)
		}
		if err != nil {
			return r.fail(n.expr, err)
		}
		_, err = io.WriteString(r.w, s)
		return err

	case *ifNode:
		for _, b := range n.branches {
			if b.cond == nil {
				return r.exec(b.body)
			}
			ok, err := r.condition(b.cond)
			if err != nil {
				return err
			}
			if ok {
				return r.exec(b.body)
			}
		}
		return nil

	case *listNode:
		return r.list(n)

	case *assignNode:
		v, err := r.eval(n.value)
		if err != nil {
			return err
		}
		if v == nil {
			return r.missing(n.value)
		}
		r.env[n.name] = v
		return nil

	case *breakNode:
		return errBreak

	case *stopNode:
		msg := "Stopped with #stop directive."
		if n.msg != nil {
			v, err := r.eval(n.msg)
			if err != nil {
				return err
			}
			s, err := r.cfg.text(v)
			if err != nil {
				return r.fail(n.msg, err)
			}
			msg = "Stopped with #stop directive: " + s
		}
		return &backend.EvalError{Line: n.pos.line, Column: n.pos.col, Expr: "#stop", Msg: msg}
	}
	return fmt.Errorf("unknown node %T", n)
}

func (r *renderer) eval(e *expression) (any, error) {
	v, err := r.machine.Run(e.program, r.env)
	if err != nil {
		return nil, r.fail(e, err)
	}
	switch s := v.(type) {
	case string:
		if len(s) > maxStringLength {
			return nil, r.fail(e, errStringTooLong)
		}
	case markup:
		if len(s) > maxStringLength {
			return nil, r.fail(e, errStringTooLong)
		}
	}
	return v, nil
}

func (r *renderer) condition(e *expression) (bool, error) {
	v, err := r.eval(e)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		if v == nil {
			return false, r.missing(e)
		}
		return false, r.fail(e, fmt.Errorf("Expected a boolean, but this has evaluated to a %s.", typeName(v)))
	}
	return b, nil
}

func (r *renderer) fail(e *expression, err error) error {
	msg := err.Error()
	var fe *file.Error
	if errors.As(err, &fe) {
		msg = fe.Message
	}
	return &backend.EvalError{Line: e.pos.line, Column: e.pos.col, Expr: e.src, Msg: msg, Err: err}
}

func (r *renderer) missing(e *expression) error {
	return &backend.EvalError{
		Line:   e.pos.line,
		Column: e.pos.col,
		Expr:   e.src,
		Msg: "The following has evaluated to null or missing:\n==> " + e.src + "\n\n" +
			"Tip: If the failing expression is known to legally refer to something that's sometimes null " +
			"or missing, either specify a default value like myOptionalVar!myDefault, or use " +
			"<#if myOptionalVar??>when-present<#else>when-missing</#if>.",
	}
}

func (r *renderer) list(n *listNode) error {
	loopVar := loopPrefix + n.vars[0]
	saved := make(map[string]any, 3)
	for _, name := range append([]string{loopVar}, n.vars...) {
		if v, ok := r.env[name]; ok {
			saved[name] = v
		}
	}
	defer func() {
		for _, name := range append([]string{loopVar}, n.vars...) {
			if v, ok := saved[name]; ok {
				r.env[name] = v
			} else {
				delete(r.env, name)
			}
		}
	}()

	var (
		count int
		err   error
	)
	if n.rng != nil {
		count, err = r.listRange(n)
	} else {
		count, err = r.listSequence(n)
	}
	if errors.Is(err, errBreak) {
		return nil
	}
	if err != nil {
		return err
	}
	if count == 0 && n.elseBody != nil {
		return r.exec(n.elseBody)
	}
	return nil
}

// iterate runs the body of n once with the loop variables bound to vals.
func (r *renderer) iterate(n *listNode, i int, hasNext bool, vals ...any) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	for k, name := range n.vars {
		r.env[name] = vals[k]
	}
	r.env[loopPrefix+n.vars[0]] = &loopState{
		Index:   i,
		Counter: i + 1,
		HasNext: hasNext,
		IsFirst: i == 0,
		IsLast:  !hasNext,
	}
	return r.exec(n.body)
}

func (r *renderer) listSequence(n *listNode) (int, error) {
	v, err := r.eval(n.seq)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, r.missing(n.seq)
	}

	if m, ok := v.(map[string]any); ok {
		if len(n.vars) != 2 {
			return 0, r.fail(n.seq, errors.New("Listing a hash needs two loop variables, like <#list hash as key, value>."))
		}
		names := sortedKeys(m)
		for i, k := range names {
			if err := r.iterate(n, i, i < len(names)-1, k, m[k]); err != nil {
				return i + 1, err
			}
		}
		return len(names), nil
	}

	items, err := sequence(v)
	if err != nil {
		return 0, r.fail(n.seq, err)
	}
	if len(n.vars) != 1 {
		return 0, r.fail(n.seq, errors.New("Listing a sequence needs exactly one loop variable."))
	}
	for i, item := range items {
		if err := r.iterate(n, i, i < len(items)-1, item); err != nil {
			return i + 1, err
		}
	}
	return len(items), nil
}

// listRange iterates a numeric range lazily, so an open-ended range runs until
// #break or cancellation.
func (r *renderer) listRange(n *listNode) (int, error) {
	from, err := r.rangeBound(n.rng.from)
	if err != nil {
		return 0, err
	}
	if n.rng.to == nil {
		for i := 0; ; i++ {
			if err := r.iterate(n, i, true, from+i); err != nil {
				return i + 1, err
			}
		}
	}

	to, err := r.rangeBound(n.rng.to)
	if err != nil {
		return 0, err
	}
	step, count := 1, to-from+1
	if to < from {
		step, count = -1, from-to+1
	}
	if n.rng.exclusive {
		count--
	}
	for i := 0; i < count; i++ {
		if err := r.iterate(n, i, i < count-1, from+i*step); err != nil {
			return i + 1, err
		}
	}
	return count, nil
}

func (r *renderer) rangeBound(e *expression) (int, error) {
	v, err := r.eval(e)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, r.missing(e)
	}
	i, err := asInt(v)
	if err != nil {
		return 0, r.fail(e, fmt.Errorf("Range limits must be whole numbers: %w", err))
	}
	return i, nil
}
