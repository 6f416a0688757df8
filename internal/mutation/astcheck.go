package mutation

import (
	"fmt"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/security"
)

// ASTValidator gates structural rewrites before they replace a candidate:
// the output must parse, pass the security screen, and contain no loop the
// heuristic below judges unbounded. Any error is a hard failure, the
// rewrite is discarded whole.
type ASTValidator struct {
	sec *security.Validator
}

// NewASTValidator wraps a security validator, nil selects the default one.
func NewASTValidator(sec *security.Validator) *ASTValidator {
	if sec == nil {
		sec = security.NewValidator(security.Config{})
	}
	return &ASTValidator{sec: sec}
}

// Validate screens rewritten snippet text.
func (v *ASTValidator) Validate(code string) security.ValidationResult {
	result := v.sec.Validate(code)
	if !result.Valid {
		return result
	}
	mod, err := dsl.Parse(code)
	if err != nil {
		// Unreachable after a valid security pass, kept for safety.
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", security.MsgSyntaxError, err))
		return result
	}
	v.checkLoops(mod, &result)
	return result
}

// checkLoops flags while loops that cannot terminate: a constant-true
// condition with no way out, or a condition none of whose variables are
// reassigned inside the body.
func (v *ASTValidator) checkLoops(mod *dsl.Module, result *security.ValidationResult) {
	dsl.Walk(mod, func(n dsl.Node) bool {
		loop, ok := n.(*dsl.While)
		if !ok {
			return true
		}
		if hasLoopExit(loop.Body) {
			return true
		}
		if constantTrue(loop.Cond) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: while %s without break (line %d)",
				security.MsgUnboundedLoop, dsl.RenderExpr(loop.Cond), loop.Pos().Line))
			return true
		}
		condVars := nameSet(loop.Cond)
		if len(condVars) == 0 {
			return true
		}
		assigned := assignedNames(loop.Body)
		for name := range condVars {
			if assigned[name] {
				return true
			}
		}
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("%s: condition variables never reassigned (line %d)",
			security.MsgUnboundedLoop, loop.Pos().Line))
		return true
	})
}

// hasLoopExit reports whether the body can leave its loop: a break at this
// nesting level or a return at any depth.
func hasLoopExit(body []dsl.Stmt) bool {
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *dsl.Break, *dsl.Return:
			return true
		case *dsl.If:
			if hasLoopExit(s.Body) || hasLoopExit(s.Else) {
				return true
			}
		case *dsl.While:
			// A break inside binds to the inner loop, only return escapes.
			if hasReturn(s.Body) {
				return true
			}
		case *dsl.For:
			if hasReturn(s.Body) {
				return true
			}
		}
	}
	return false
}

func hasReturn(body []dsl.Stmt) bool {
	found := false
	for _, stmt := range body {
		dsl.Walk(stmt, func(n dsl.Node) bool {
			if _, ok := n.(*dsl.Return); ok {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// constantTrue recognizes `while True` and nonzero numeric conditions.
func constantTrue(cond dsl.Expr) bool {
	switch c := cond.(type) {
	case *dsl.BoolLit:
		return c.Value
	case *dsl.NumberLit:
		return c.Value != 0
	}
	return false
}

// nameSet collects the names read by an expression.
func nameSet(e dsl.Expr) map[string]bool {
	names := make(map[string]bool)
	dsl.Walk(e, func(n dsl.Node) bool {
		if ref, ok := n.(*dsl.NameRef); ok {
			names[ref.Name] = true
		}
		return true
	})
	return names
}

// assignedNames collects names written anywhere in a statement list.
func assignedNames(body []dsl.Stmt) map[string]bool {
	names := make(map[string]bool)
	for _, stmt := range body {
		dsl.Walk(stmt, func(n dsl.Node) bool {
			switch s := n.(type) {
			case *dsl.Assign:
				if target, ok := s.Target.(*dsl.NameRef); ok {
					names[target.Name] = true
				}
			case *dsl.AugAssign:
				if target, ok := s.Target.(*dsl.NameRef); ok {
					names[target.Name] = true
				}
			case *dsl.For:
				names[s.Var] = true
			}
			return true
		})
	}
	return names
}
