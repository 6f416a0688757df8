// Package security screens candidate strategy snippets before any mutation
// or execution touches them. The checks are purely static: the snippet is
// parsed once and its tree is walked for forbidden constructs.
package security

import (
	"fmt"
	"strings"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
)

// Canonical violation messages. Callers match on these prefixes, so they
// are part of the package contract.
const (
	MsgImportNotAllowed  = "Import statement not allowed"
	MsgForbiddenCall     = "Forbidden function call"
	MsgNegativeShift     = "Negative shift not allowed"
	MsgSyntaxError       = "Syntax error"
	MsgSnippetTooLarge   = "Snippet exceeds size limit"
	MsgEmptySnippet      = "Snippet has no statements"
	MsgWhileInVectorCode = "While loop in vectorized strategy code"
	MsgUnboundedLoop     = "Potentially unbounded loop"
)

// defaultForbiddenCalls are the callables that allow dynamic code or I/O in
// the source runtime and therefore never pass screening.
var defaultForbiddenCalls = []string{"eval", "exec", "compile", "__import__", "open"}

// Config tunes the validator. The zero value is usable.
type Config struct {
	// ExtraForbiddenCalls extends the builtin blocklist.
	ExtraForbiddenCalls []string `yaml:"extra_forbidden_calls"`
	// MaxSnippetBytes rejects oversized snippets, <=0 selects the default.
	MaxSnippetBytes int `yaml:"max_snippet_bytes"`
}

const defaultMaxSnippetBytes = 64 * 1024

// ValidationResult aggregates every violation found in one pass.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Merge folds another result into this one. The combined result is valid
// only when both inputs were.
func (r *ValidationResult) Merge(other ValidationResult) {
	r.Valid = r.Valid && other.Valid
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ErrorString joins the errors for logging and error wrapping.
func (r ValidationResult) ErrorString() string {
	return strings.Join(r.Errors, "; ")
}

func valid() ValidationResult { return ValidationResult{Valid: true} }

func (r *ValidationResult) addError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Validator rejects snippets containing imports, dynamic-code or file I/O
// calls, and look-ahead series access. Safe for concurrent use.
type Validator struct {
	forbidden map[string]bool
	maxBytes  int
}

// NewValidator builds a validator from config.
func NewValidator(cfg Config) *Validator {
	forbidden := make(map[string]bool, len(defaultForbiddenCalls)+len(cfg.ExtraForbiddenCalls))
	for _, name := range defaultForbiddenCalls {
		forbidden[name] = true
	}
	for _, name := range cfg.ExtraForbiddenCalls {
		forbidden[name] = true
	}
	maxBytes := cfg.MaxSnippetBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxSnippetBytes
	}
	return &Validator{forbidden: forbidden, maxBytes: maxBytes}
}

// Validate parses the snippet and screens the tree. Unparseable input
// yields exactly one syntax error.
func (v *Validator) Validate(code string) ValidationResult {
	result := valid()
	if len(code) > v.maxBytes {
		result.addError(fmt.Sprintf("%s: %d bytes (max %d)", MsgSnippetTooLarge, len(code), v.maxBytes))
		return result
	}
	mod, err := dsl.Parse(code)
	if err != nil {
		result.addError(fmt.Sprintf("%s: %v", MsgSyntaxError, err))
		return result
	}
	result.Merge(v.CheckTree(mod))
	return result
}

// CheckTree screens an already parsed tree. Mutation-side validators reuse
// this to gate rewritten trees without reparsing.
func (v *Validator) CheckTree(mod *dsl.Module) ValidationResult {
	result := valid()
	if len(mod.Body) == 0 {
		result.addWarning(MsgEmptySnippet)
	}
	dsl.Walk(mod, func(n dsl.Node) bool {
		switch node := n.(type) {
		case *dsl.Import:
			result.addError(fmt.Sprintf("%s: import %s (line %d)", MsgImportNotAllowed, node.Module, node.Pos().Line))
		case *dsl.FromImport:
			result.addError(fmt.Sprintf("%s: from %s import ... (line %d)", MsgImportNotAllowed, node.Module, node.Pos().Line))
		case *dsl.While:
			result.addWarning(fmt.Sprintf("%s (line %d)", MsgWhileInVectorCode, node.Pos().Line))
		case *dsl.CallExpr:
			v.checkCall(node, &result)
		}
		return true
	})
	return result
}

func (v *Validator) checkCall(call *dsl.CallExpr, result *ValidationResult) {
	switch fn := call.Fn.(type) {
	case *dsl.NameRef:
		if v.forbidden[fn.Name] {
			result.addError(fmt.Sprintf("%s: %s (line %d)", MsgForbiddenCall, fn.Name, fn.Pos().Line))
		}
	case *dsl.AttrRef:
		if v.forbidden[fn.Name] {
			result.addError(fmt.Sprintf("%s: .%s (line %d)", MsgForbiddenCall, fn.Name, fn.Pos().Line))
		}
		if fn.Name == "shift" {
			v.checkShift(call, result)
		}
	}
}

// checkShift rejects literal non-positive shift periods: shift(0) and
// shift(-k) read current or future bars, which leaks look-ahead data into
// the strategy. Non-literal arguments cannot be judged statically and pass.
func (v *Validator) checkShift(call *dsl.CallExpr, result *ValidationResult) {
	args := make([]dsl.Expr, 0, len(call.Args)+1)
	args = append(args, call.Args...)
	for _, kw := range call.Kwargs {
		if kw.Name == "periods" {
			args = append(args, kw.Value)
		}
	}
	for _, arg := range args {
		if value, ok := literalValue(arg); ok && value <= 0 {
			result.addError(fmt.Sprintf("%s: shift(%s) (line %d)",
				MsgNegativeShift, dsl.RenderExpr(arg), arg.Pos().Line))
		}
	}
}

// literalValue resolves a numeric literal, folding a leading unary sign.
func literalValue(e dsl.Expr) (float64, bool) {
	switch x := e.(type) {
	case *dsl.NumberLit:
		return x.Value, true
	case *dsl.UnaryExpr:
		if inner, ok := x.Operand.(*dsl.NumberLit); ok {
			switch x.Op {
			case "-":
				return -inner.Value, true
			case "+":
				return inner.Value, true
			}
		}
	}
	return 0, false
}
