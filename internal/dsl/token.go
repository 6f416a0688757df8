package dsl

import "fmt"

// TokenKind identifies a lexical token class.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenNewline
	TokenIndent
	TokenDedent
	TokenName
	TokenNumber
	TokenString
	TokenKeyword
	TokenOp
)

var tokenKindNames = map[TokenKind]string{
	TokenEOF:     "EOF",
	TokenNewline: "NEWLINE",
	TokenIndent:  "INDENT",
	TokenDedent:  "DEDENT",
	TokenName:    "NAME",
	TokenNumber:  "NUMBER",
	TokenString:  "STRING",
	TokenKeyword: "KEYWORD",
	TokenOp:      "OP",
}

func (k TokenKind) String() string {
	if s, ok := tokenKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is a single lexical unit with its source position.
type Token struct {
	Kind TokenKind
	Text string
	Pos  Position
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Kind, t.Text, t.Pos.Line, t.Pos.Col)
}

// keywords reserved by the snippet language.
var keywords = map[string]bool{
	"import":   true,
	"from":     true,
	"if":       true,
	"elif":     true,
	"else":     true,
	"while":    true,
	"for":      true,
	"in":       true,
	"def":      true,
	"return":   true,
	"break":    true,
	"continue": true,
	"pass":     true,
	"and":      true,
	"or":       true,
	"not":      true,
	"True":     true,
	"False":    true,
	"None":     true,
}

// operators holds every multi and single character operator, longest first
// so the lexer can match greedily.
var operators = []string{
	"**", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=",
	"+", "-", "*", "/", "%", "<", ">", "=",
	"(", ")", "[", "]", "{", "}", ",", ":", ".",
}
