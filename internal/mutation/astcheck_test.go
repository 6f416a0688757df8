package mutation

import (
	"strings"
	"testing"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/security"
)

func TestASTValidatorLoopHeuristics(t *testing.T) {
	v := NewASTValidator(nil)

	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			"while true without break",
			"while True:\n    x = 1\n",
			false,
		},
		{
			"while true with break",
			"x = 0\nwhile True:\n    x = x + 1\n    if x > 10:\n        break\n",
			true,
		},
		{
			"while nonzero constant",
			"while 1:\n    y = 2\n",
			false,
		},
		{
			"condition variable reassigned",
			"n = 10\nwhile n > 0:\n    n = n - 1\n",
			true,
		},
		{
			"condition variable augmented",
			"n = 10\nwhile n > 0:\n    n -= 1\n",
			true,
		},
		{
			"condition variable never reassigned",
			"n = 10\nwhile n > 0:\n    total = total + n\n",
			false,
		},
		{
			"return escapes loop",
			"def f():\n    while True:\n        return 1\nx = 1\n",
			true,
		},
		{
			"for loops are bounded",
			"total = 0\nfor i in range(10):\n    total = total + i\n",
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.code)
			if res.Valid != tt.valid {
				t.Fatalf("Validate(%q).Valid = %v, want %v (errors: %v)", tt.code, res.Valid, tt.valid, res.Errors)
			}
			if !tt.valid {
				found := false
				for _, e := range res.Errors {
					if strings.Contains(e, security.MsgUnboundedLoop) {
						found = true
					}
				}
				if !found {
					t.Fatalf("expected %q in errors, got %v", security.MsgUnboundedLoop, res.Errors)
				}
			}
		})
	}
}

func TestASTValidatorReusesSecurityScreen(t *testing.T) {
	v := NewASTValidator(security.NewValidator(security.Config{}))

	res := v.Validate("x = eval(\"1\")\n")
	if res.Valid {
		t.Fatal("eval call must be rejected")
	}
	assertOneMessage(t, res.Errors, security.MsgForbiddenCall)

	res = v.Validate("import os\n")
	if res.Valid {
		t.Fatal("import must be rejected")
	}
	assertOneMessage(t, res.Errors, security.MsgImportNotAllowed)
}

func TestASTValidatorSyntaxErrorIsSingle(t *testing.T) {
	v := NewASTValidator(nil)

	res := v.Validate("if close >\n")
	if res.Valid {
		t.Fatal("broken snippet must be invalid")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("want exactly one syntax error, got %d: %v", len(res.Errors), res.Errors)
	}
	if !strings.Contains(res.Errors[0], security.MsgSyntaxError) {
		t.Fatalf("error %q does not mention the syntax failure", res.Errors[0])
	}
}

func assertOneMessage(t *testing.T, errs []string, want string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e, want) {
			return
		}
	}
	t.Fatalf("expected message %q in %v", want, errs)
}
