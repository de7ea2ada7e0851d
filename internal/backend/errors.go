package backend

import "fmt"

// ParseError reports a template that could not be compiled.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return "Syntax error in template:\n" + e.Msg
	}
	return fmt.Sprintf("Syntax error in template in line %d, column %d:\n%s", e.Line, e.Column, e.Msg)
}

// EvalError reports a failure while rendering a compiled template.
type EvalError struct {
	Line   int
	Column int
	// Expr is the failing expression or directive as written in the template.
	Expr string
	Msg  string
	Err  error
}

func (e *EvalError) Error() string {
	if e.Expr == "" {
		return e.Msg
	}
	if e.Line == 0 {
		return fmt.Sprintf("%s\n\n----\nFailed at: %s", e.Msg, e.Expr)
	}
	return fmt.Sprintf("%s\n\n----\nFailed at: %s  [in template at line %d, column %d]", e.Msg, e.Expr, e.Line, e.Column)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
