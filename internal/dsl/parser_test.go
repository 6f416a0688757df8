package dsl

import (
	"strings"
	"testing"
)

func TestParseSimpleAssignments(t *testing.T) {
	mod, err := Parse("stop_loss_pct = 0.10\ntake_profit_pct = 0.15\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(mod.Body) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(mod.Body))
	}
	assign, ok := mod.Body[0].(*Assign)
	if !ok {
		t.Fatalf("expected *Assign, got %T", mod.Body[0])
	}
	name, ok := assign.Target.(*NameRef)
	if !ok || name.Name != "stop_loss_pct" {
		t.Fatalf("unexpected target: %#v", assign.Target)
	}
	num, ok := assign.Value.(*NumberLit)
	if !ok {
		t.Fatalf("expected *NumberLit, got %T", assign.Value)
	}
	if num.Raw != "0.10" || num.Value != 0.10 || num.IsInt {
		t.Errorf("literal mismatch: raw=%q value=%v isInt=%v", num.Raw, num.Value, num.IsInt)
	}
}

func TestParseMethodChain(t *testing.T) {
	mod, err := Parse("signal = close.rolling(20).mean() > close.shift(1)\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	assign := mod.Body[0].(*Assign)
	cmp, ok := assign.Value.(*CompareExpr)
	if !ok {
		t.Fatalf("expected comparison, got %T", assign.Value)
	}
	if len(cmp.Ops) != 1 || cmp.Ops[0] != ">" {
		t.Fatalf("unexpected ops: %v", cmp.Ops)
	}
}

func TestParseBlocks(t *testing.T) {
	src := strings.Join([]string{
		"def risk(x):",
		"    if x > 1:",
		"        return x * 2",
		"    elif x > 0:",
		"        return x",
		"    else:",
		"        return 0",
		"total = risk(3)",
		"",
	}, "\n")
	mod, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(mod.Body) != 2 {
		t.Fatalf("expected 2 top-level statements, got %d", len(mod.Body))
	}
	def, ok := mod.Body[0].(*FuncDef)
	if !ok {
		t.Fatalf("expected *FuncDef, got %T", mod.Body[0])
	}
	ifStmt, ok := def.Body[0].(*If)
	if !ok {
		t.Fatalf("expected *If, got %T", def.Body[0])
	}
	if len(ifStmt.Else) != 1 {
		t.Fatalf("expected elif chain in else, got %d statements", len(ifStmt.Else))
	}
	if _, ok := ifStmt.Else[0].(*If); !ok {
		t.Fatalf("expected nested *If for elif, got %T", ifStmt.Else[0])
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"unclosed paren", "x = (1 + 2\n"},
		{"dangling operator", "x = 1 +\n"},
		{"bad indent", "if x:\n        y = 1\n      z = 2\n"},
		{"missing colon", "if x\n    y = 1\n"},
		{"unterminated string", "s = 'abc\n"},
		{"garbage", "x = @!\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			if err == nil {
				t.Fatalf("expected syntax error for %q", tc.src)
			}
			if _, ok := err.(*SyntaxError); !ok {
				t.Fatalf("expected *SyntaxError, got %T", err)
			}
		})
	}
}

func TestParseKeywordArguments(t *testing.T) {
	mod, err := Parse("m = close.rolling(window=20).mean()\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	assign := mod.Body[0].(*Assign)
	outer, ok := assign.Value.(*CallExpr)
	if !ok {
		t.Fatalf("expected call, got %T", assign.Value)
	}
	attr := outer.Fn.(*AttrRef)
	inner := attr.Target.(*CallExpr)
	if len(inner.Kwargs) != 1 || inner.Kwargs[0].Name != "window" {
		t.Fatalf("unexpected kwargs: %#v", inner.Kwargs)
	}
}

func TestParseComments(t *testing.T) {
	src := "# exit config\nstop_loss_pct = 0.10  # tight\n\nx = 1\n"
	mod, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(mod.Body) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(mod.Body))
	}
}

func TestRenderRoundTrip(t *testing.T) {
	sources := []string{
		"stop_loss_pct = 0.10\n",
		"signal = close.shift(1) > close.rolling(20).mean()\n",
		"momentum = close.pct_change(10)\nsignal = momentum > 0.02\n",
		"if x > 1:\n    y = 2\nelse:\n    y = 3\n",
		"for i in range(10):\n    total = total + i\n",
		"value = (a + b) * c - d / (e + 1)\n",
		"flag = not a and b or c\n",
		"w = [1, 2, 3]\n",
		"r = x ** 2 + close.shift(-1)\n",
	}
	for _, src := range sources {
		mod, err := Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", src, err)
		}
		rendered := Render(mod)
		mod2, err := Parse(rendered)
		if err != nil {
			t.Fatalf("reparse of %q failed: %v\nrendered: %q", src, err, rendered)
		}
		again := Render(mod2)
		if rendered != again {
			t.Errorf("render not stable for %q:\nfirst:  %q\nsecond: %q", src, rendered, again)
		}
	}
}

func TestRenderPreservesLiteralSpelling(t *testing.T) {
	mod, err := Parse("stop_loss_pct = 0.10\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := Render(mod); got != "stop_loss_pct = 0.10\n" {
		t.Errorf("raw literal not preserved: %q", got)
	}
}

func TestWalkVisitsAllNodes(t *testing.T) {
	mod, err := Parse("signal = close.shift(1) > open\nif signal:\n    x = 1\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	var calls, names int
	Walk(mod, func(n Node) bool {
		calls++
		if _, ok := n.(*NameRef); ok {
			names++
		}
		return true
	})
	if calls < 8 {
		t.Errorf("expected at least 8 visited nodes, got %d", calls)
	}
	if names != 5 {
		t.Errorf("expected 5 name references, got %d", names)
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		v     float64
		isInt bool
		want  string
	}{
		{0.1, false, "0.1000"},
		{0.12345678, false, "0.1235"},
		{10, true, "10"},
		{9.6, true, "10"},
	}
	for _, tc := range cases {
		if got := FormatNumber(tc.v, tc.isInt); got != tc.want {
			t.Errorf("FormatNumber(%v, %v) = %q, want %q", tc.v, tc.isInt, got, tc.want)
		}
	}
}
