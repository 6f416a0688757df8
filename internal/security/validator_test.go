package security

import (
	"strings"
	"testing"
)

func TestValidateRejectsImports(t *testing.T) {
	v := NewValidator(Config{})

	result := v.Validate("import os\nx = 1\n")
	if result.Valid {
		t.Fatal("import should be rejected")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(result.Errors), result.Errors)
	}
	if !strings.Contains(result.Errors[0], MsgImportNotAllowed) {
		t.Errorf("error should mention %q, got %q", MsgImportNotAllowed, result.Errors[0])
	}
}

func TestValidateRejectsFromImport(t *testing.T) {
	v := NewValidator(Config{})

	result := v.Validate("from os import path\n")
	if result.Valid {
		t.Fatal("from-import should be rejected")
	}
	if !strings.Contains(result.Errors[0], MsgImportNotAllowed) {
		t.Errorf("error should mention %q, got %q", MsgImportNotAllowed, result.Errors[0])
	}
}

func TestValidateRejectsNegativeShift(t *testing.T) {
	cases := []string{
		"signal = close.shift(-1) > close\n",
		"x = close.shift(0)\n",
		"y = volume.shift(periods=-5)\n",
	}
	v := NewValidator(Config{})
	for _, src := range cases {
		result := v.Validate(src)
		if result.Valid {
			t.Errorf("%q should be rejected", src)
			continue
		}
		if !strings.Contains(result.Errors[0], MsgNegativeShift) {
			t.Errorf("%q: error should mention %q, got %q", src, MsgNegativeShift, result.Errors[0])
		}
	}
}

func TestValidateAllowsPositiveShift(t *testing.T) {
	v := NewValidator(Config{})
	result := v.Validate("prev = close.shift(1)\nsignal = prev > close\n")
	if !result.Valid {
		t.Fatalf("positive shift should pass, got errors: %v", result.Errors)
	}
}

func TestValidateAllowsVariableShift(t *testing.T) {
	// non-literal periods cannot be judged statically
	v := NewValidator(Config{})
	result := v.Validate("n = 3\nprev = close.shift(n)\n")
	if !result.Valid {
		t.Fatalf("variable shift should pass, got errors: %v", result.Errors)
	}
}

func TestValidateRejectsForbiddenCalls(t *testing.T) {
	cases := []struct {
		src  string
		name string
	}{
		{"eval('1+1')\n", "eval"},
		{"x = exec('pass')\n", "exec"},
		{"c = compile('x', 'f', 'exec')\n", "compile"},
		{"m = __import__('os')\n", "__import__"},
		{"f = open('data.csv')\n", "open"},
		{"h = os.open('x')\n", ".open"},
	}
	v := NewValidator(Config{})
	for _, tc := range cases {
		result := v.Validate(tc.src)
		if result.Valid {
			t.Errorf("%q should be rejected", tc.src)
			continue
		}
		if !strings.Contains(result.Errors[0], MsgForbiddenCall) {
			t.Errorf("%q: error should mention %q, got %q", tc.src, MsgForbiddenCall, result.Errors[0])
		}
		if !strings.Contains(result.Errors[0], tc.name) {
			t.Errorf("%q: error should name %q, got %q", tc.src, tc.name, result.Errors[0])
		}
	}
}

func TestValidateAllowsOpenAsSeriesName(t *testing.T) {
	// open is an OHLC column, only calling it is forbidden
	v := NewValidator(Config{})
	result := v.Validate("signal = open > close\ngap = open - close.shift(1)\n")
	if !result.Valid {
		t.Fatalf("open used as a name should pass, got errors: %v", result.Errors)
	}
}

func TestValidateSyntaxErrorIsSingle(t *testing.T) {
	v := NewValidator(Config{})
	result := v.Validate("x = (1 +\nimport os\n")
	if result.Valid {
		t.Fatal("unparseable snippet should be rejected")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly 1 error for unparseable input, got %d: %v", len(result.Errors), result.Errors)
	}
	if !strings.Contains(result.Errors[0], MsgSyntaxError) {
		t.Errorf("error should mention %q, got %q", MsgSyntaxError, result.Errors[0])
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	src := "import os\nsignal = close.shift(-1) > close\nf = open('x')\n"
	v := NewValidator(Config{})
	result := v.Validate(src)
	if result.Valid {
		t.Fatal("snippet should be rejected")
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(result.Errors), result.Errors)
	}
}

func TestValidateExtraForbiddenCalls(t *testing.T) {
	v := NewValidator(Config{ExtraForbiddenCalls: []string{"getattr"}})
	result := v.Validate("x = getattr(close, 'shift')\n")
	if result.Valid {
		t.Fatal("configured extra call should be rejected")
	}
}

func TestValidateSizeLimit(t *testing.T) {
	v := NewValidator(Config{MaxSnippetBytes: 16})
	result := v.Validate("x = 1\ny = 2\nz = 3\n")
	if result.Valid {
		t.Fatal("oversized snippet should be rejected")
	}
	if !strings.Contains(result.Errors[0], MsgSnippetTooLarge) {
		t.Errorf("error should mention %q, got %q", MsgSnippetTooLarge, result.Errors[0])
	}
}

func TestValidateWhileWarns(t *testing.T) {
	v := NewValidator(Config{})
	result := v.Validate("i = 0\nwhile i < 10:\n    i += 1\n")
	if !result.Valid {
		t.Fatalf("bounded while should pass, got errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("while loop should produce a warning")
	}
}

func TestValidationResultMerge(t *testing.T) {
	a := ValidationResult{Valid: true, Warnings: []string{"w1"}}
	b := ValidationResult{Valid: false, Errors: []string{"e1"}}
	a.Merge(b)
	if a.Valid {
		t.Error("merged result should be invalid")
	}
	if len(a.Errors) != 1 || len(a.Warnings) != 1 {
		t.Errorf("merge lost entries: %+v", a)
	}
}
