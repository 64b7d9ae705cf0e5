package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Semantic checks: warnings that do not stop compilation
// ---------------------------------------------------------------------------

// analyzer walks a method looking for unreachable statements, unused
// temporaries and names that shadow an outer declaration. Undefined
// variables are errors and are reported by code generation instead.
type analyzer struct {
	warnings []string
	frames   []*frame
}

type frame struct {
	declared map[string]Node
	used     map[string]bool
	order    []string
	temps    map[string]bool
}

// checkMethod returns the warnings for method.
func checkMethod(method *MethodDef) []string {
	a := &analyzer{}
	a.enter(method, method.Parameters, method.Temps)
	a.statements(method.Statements)
	a.leave()
	return a.warnings
}

func (a *analyzer) warnAt(node Node, format string, args ...interface{}) {
	pos := node.Span().Start
	a.warnings = append(a.warnings, fmt.Sprintf("line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...)))
}

func (a *analyzer) enter(node Node, params, temps []string) {
	f := &frame{declared: make(map[string]Node), used: make(map[string]bool), temps: make(map[string]bool)}
	declare := func(name string) {
		if a.lookup(name) != nil {
			a.warnAt(node, "%s shadows an outer variable", name)
		}
		f.declared[name] = node
		f.order = append(f.order, name)
	}
	for _, p := range params {
		declare(p)
	}
	for _, t := range temps {
		declare(t)
		f.temps[t] = true
	}
	a.frames = append(a.frames, f)
}

func (a *analyzer) leave() {
	f := a.frames[len(a.frames)-1]
	a.frames = a.frames[:len(a.frames)-1]
	for _, name := range f.order {
		if f.temps[name] && !f.used[name] {
			a.warnAt(f.declared[name], "temporary %s is never used", name)
		}
	}
}

func (a *analyzer) lookup(name string) *frame {
	for i := len(a.frames) - 1; i >= 0; i-- {
		if _, ok := a.frames[i].declared[name]; ok {
			return a.frames[i]
		}
	}
	return nil
}

func (a *analyzer) use(name string) {
	if f := a.lookup(name); f != nil {
		f.used[name] = true
	}
}

func (a *analyzer) statements(stmts []Stmt) {
	for i, stmt := range stmts {
		switch s := stmt.(type) {
		case *ExprStmt:
			a.expr(s.Expr)
		case *Return:
			a.expr(s.Value)
			if i < len(stmts)-1 {
				a.warnAt(stmts[i+1], "unreachable code after return")
				return
			}
		}
	}
}

func (a *analyzer) expr(expr Expr) {
	switch e := expr.(type) {
	case *Variable:
		a.use(e.Name)
	case *Assignment:
		a.use(e.Variable)
		a.expr(e.Value)
	case *UnaryMessage:
		a.expr(e.Receiver)
	case *BinaryMessage:
		a.expr(e.Receiver)
		a.expr(e.Argument)
	case *KeywordMessage:
		a.expr(e.Receiver)
		for _, arg := range e.Arguments {
			a.expr(arg)
		}
	case *Cascade:
		a.expr(e.Receiver)
		for _, msg := range e.Messages {
			for _, arg := range msg.Arguments {
				a.expr(arg)
			}
		}
	case *DynamicArray:
		for _, el := range e.Elements {
			a.expr(el)
		}
	case *Block:
		a.enter(e, e.Parameters, e.Temps)
		a.statements(e.Statements)
		a.leave()
	}
}
