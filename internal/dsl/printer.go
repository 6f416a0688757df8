package dsl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const indentUnit = "    "

// Render prints a module back to snippet text. Parsing the result yields a
// structurally identical tree; unchanged numeric literals keep their
// original spelling through NumberLit.Raw.
func Render(mod *Module) string {
	var sb strings.Builder
	renderStmts(&sb, mod.Body, 0)
	return sb.String()
}

// RenderExpr prints a single expression.
func RenderExpr(e Expr) string {
	return exprString(e, 0)
}

// FormatNumber renders a mutated numeric value the way literals appear in
// snippets: integers without a decimal point, floats with 4 decimal places.
func FormatNumber(v float64, isInt bool) string {
	if isInt {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// SetNumber rewrites a numeric literal in place, keeping Raw consistent.
func SetNumber(n *NumberLit, v float64) {
	if n.IsInt {
		v = math.Round(v)
	}
	n.Value = v
	n.Raw = FormatNumber(v, n.IsInt)
}

func renderStmts(sb *strings.Builder, stmts []Stmt, depth int) {
	for _, s := range stmts {
		renderStmt(sb, s, depth)
	}
}

func renderStmt(sb *strings.Builder, stmt Stmt, depth int) {
	ind := strings.Repeat(indentUnit, depth)
	switch s := stmt.(type) {
	case *Assign:
		fmt.Fprintf(sb, "%s%s = %s\n", ind, exprString(s.Target, 0), exprString(s.Value, 0))
	case *AugAssign:
		fmt.Fprintf(sb, "%s%s %s= %s\n", ind, exprString(s.Target, 0), s.Op, exprString(s.Value, 0))
	case *ExprStmt:
		fmt.Fprintf(sb, "%s%s\n", ind, exprString(s.Value, 0))
	case *Import:
		fmt.Fprintf(sb, "%simport %s\n", ind, s.Module)
	case *FromImport:
		fmt.Fprintf(sb, "%sfrom %s import %s\n", ind, s.Module, strings.Join(s.Names, ", "))
	case *If:
		renderIf(sb, s, depth, "if")
	case *While:
		fmt.Fprintf(sb, "%swhile %s:\n", ind, exprString(s.Cond, 0))
		renderStmts(sb, s.Body, depth+1)
	case *For:
		fmt.Fprintf(sb, "%sfor %s in %s:\n", ind, s.Var, exprString(s.Iter, 0))
		renderStmts(sb, s.Body, depth+1)
	case *FuncDef:
		fmt.Fprintf(sb, "%sdef %s(%s):\n", ind, s.Name, strings.Join(s.Params, ", "))
		renderStmts(sb, s.Body, depth+1)
	case *Return:
		if s.Value != nil {
			fmt.Fprintf(sb, "%sreturn %s\n", ind, exprString(s.Value, 0))
		} else {
			fmt.Fprintf(sb, "%sreturn\n", ind)
		}
	case *Break:
		fmt.Fprintf(sb, "%sbreak\n", ind)
	case *Continue:
		fmt.Fprintf(sb, "%scontinue\n", ind)
	case *Pass:
		fmt.Fprintf(sb, "%spass\n", ind)
	}
}

// renderIf prints elif chains the way ast.unparse does: a lone If in the
// else branch becomes an elif head.
func renderIf(sb *strings.Builder, s *If, depth int, head string) {
	ind := strings.Repeat(indentUnit, depth)
	fmt.Fprintf(sb, "%s%s %s:\n", ind, head, exprString(s.Cond, 0))
	renderStmts(sb, s.Body, depth+1)
	if len(s.Else) == 0 {
		return
	}
	if len(s.Else) == 1 {
		if elif, ok := s.Else[0].(*If); ok {
			renderIf(sb, elif, depth, "elif")
			return
		}
	}
	fmt.Fprintf(sb, "%selse:\n", ind)
	renderStmts(sb, s.Else, depth+1)
}

// operator precedence, higher binds tighter
const (
	precOr = iota + 1
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precUnary
	precPower
	precPostfix
)

func opPrec(op string) int {
	switch op {
	case "+", "-":
		return precAdd
	case "*", "/", "%":
		return precMul
	case "**":
		return precPower
	}
	return precPostfix
}

func exprPrec(e Expr) int {
	switch x := e.(type) {
	case *BoolOpExpr:
		if x.Op == "or" {
			return precOr
		}
		return precAnd
	case *UnaryExpr:
		if x.Op == "not" {
			return precNot
		}
		return precUnary
	case *CompareExpr:
		return precCompare
	case *BinaryExpr:
		return opPrec(x.Op)
	}
	return precPostfix
}

func exprString(e Expr, parent int) string {
	var s string
	switch x := e.(type) {
	case *NumberLit:
		s = x.Raw
	case *StringLit:
		s = x.Quote + x.Value + x.Quote
	case *NameRef:
		s = x.Name
	case *BoolLit:
		if x.Value {
			s = "True"
		} else {
			s = "False"
		}
	case *NoneLit:
		s = "None"
	case *AttrRef:
		s = exprString(x.Target, precPostfix) + "." + x.Name
	case *CallExpr:
		parts := make([]string, 0, len(x.Args)+len(x.Kwargs))
		for _, a := range x.Args {
			parts = append(parts, exprString(a, 0))
		}
		for _, kw := range x.Kwargs {
			parts = append(parts, kw.Name+"="+exprString(kw.Value, 0))
		}
		s = exprString(x.Fn, precPostfix) + "(" + strings.Join(parts, ", ") + ")"
	case *IndexExpr:
		s = exprString(x.Target, precPostfix) + "[" + exprString(x.Index, 0) + "]"
	case *UnaryExpr:
		if x.Op == "not" {
			s = "not " + exprString(x.Operand, precNot)
		} else {
			s = x.Op + exprString(x.Operand, precUnary)
		}
	case *BinaryExpr:
		p := opPrec(x.Op)
		if x.Op == "**" {
			s = exprString(x.Left, p+1) + " ** " + exprString(x.Right, p)
		} else {
			s = exprString(x.Left, p) + " " + x.Op + " " + exprString(x.Right, p+1)
		}
	case *CompareExpr:
		var sb strings.Builder
		sb.WriteString(exprString(x.Left, precCompare+1))
		for i, op := range x.Ops {
			sb.WriteString(" " + op + " ")
			sb.WriteString(exprString(x.Comparators[i], precCompare+1))
		}
		s = sb.String()
	case *BoolOpExpr:
		p := exprPrec(x)
		s = exprString(x.Left, p) + " " + x.Op + " " + exprString(x.Right, p+1)
	case *ListLit:
		parts := make([]string, len(x.Elems))
		for i, el := range x.Elems {
			parts[i] = exprString(el, 0)
		}
		s = "[" + strings.Join(parts, ", ") + "]"
	default:
		s = fmt.Sprintf("<%T>", e)
	}
	if exprPrec(e) < parent {
		return "(" + s + ")"
	}
	return s
}
