package dsl

import (
	"fmt"
	"strings"
)

// SyntaxError reports the single parse failure for a snippet.
type SyntaxError struct {
	Msg string
	Pos Position
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Pos.Line, e.Pos.Col, e.Msg)
}

type lexer struct {
	src     string
	offset  int
	line    int
	col     int
	indents []int
	pending []Token
	parens  int
	atLine  bool // at the start of a logical line
	done    bool
}

func newLexer(src string) *lexer {
	return &lexer{
		src:     src,
		line:    1,
		col:     1,
		indents: []int{0},
		atLine:  true,
	}
}

func (l *lexer) errorf(pos Position, format string, args ...interface{}) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}

func (l *lexer) pos() Position { return Position{Line: l.line, Col: l.col} }

func (l *lexer) peekByte() byte {
	if l.offset >= len(l.src) {
		return 0
	}
	return l.src[l.offset]
}

func (l *lexer) peekAt(n int) byte {
	if l.offset+n >= len(l.src) {
		return 0
	}
	return l.src[l.offset+n]
}

func (l *lexer) advance() byte {
	c := l.src[l.offset]
	l.offset++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

// Next returns the next token, synthesizing INDENT/DEDENT/NEWLINE tokens
// the way Python's tokenizer does.
func (l *lexer) Next() (Token, error) {
	if len(l.pending) > 0 {
		t := l.pending[0]
		l.pending = l.pending[1:]
		return t, nil
	}
	if l.done {
		return Token{Kind: TokenEOF, Pos: l.pos()}, nil
	}

	if l.atLine && l.parens == 0 {
		if tok, emitted, err := l.handleIndentation(); err != nil {
			return Token{}, err
		} else if emitted {
			return tok, nil
		}
	}

	l.skipSpacesAndComments()

	if l.offset >= len(l.src) {
		return l.finish()
	}

	c := l.peekByte()

	if c == '\n' {
		l.advance()
		if l.parens > 0 {
			return l.Next()
		}
		l.atLine = true
		return Token{Kind: TokenNewline, Text: "\n", Pos: l.pos()}, nil
	}

	// explicit line continuation
	if c == '\\' && l.peekAt(1) == '\n' {
		l.advance()
		l.advance()
		return l.Next()
	}

	if isNameStart(c) {
		return l.lexName(), nil
	}
	if isDigit(c) || (c == '.' && isDigit(l.peekAt(1))) {
		return l.lexNumber()
	}
	if c == '\'' || c == '"' {
		return l.lexString()
	}
	return l.lexOperator()
}

// handleIndentation consumes leading whitespace on a fresh line and emits
// INDENT/DEDENT tokens against the indent stack. Blank and comment-only
// lines produce no tokens at all.
func (l *lexer) handleIndentation() (Token, bool, error) {
	for {
		width := 0
		for l.offset < len(l.src) {
			switch l.peekByte() {
			case ' ':
				width++
				l.advance()
			case '\t':
				width += 4 - width%4
				l.advance()
			case '\r':
				l.advance()
			default:
				goto measured
			}
		}
	measured:
		if l.offset >= len(l.src) {
			l.atLine = false
			return Token{}, false, nil
		}
		c := l.peekByte()
		if c == '\n' {
			l.advance()
			continue // blank line
		}
		if c == '#' {
			for l.offset < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
			continue
		}
		l.atLine = false
		top := l.indents[len(l.indents)-1]
		switch {
		case width > top:
			l.indents = append(l.indents, width)
			return Token{Kind: TokenIndent, Pos: l.pos()}, true, nil
		case width < top:
			for len(l.indents) > 1 && l.indents[len(l.indents)-1] > width {
				l.indents = l.indents[:len(l.indents)-1]
				l.pending = append(l.pending, Token{Kind: TokenDedent, Pos: l.pos()})
			}
			if l.indents[len(l.indents)-1] != width {
				return Token{}, false, l.errorf(l.pos(), "inconsistent indentation")
			}
			t := l.pending[0]
			l.pending = l.pending[1:]
			return t, true, nil
		default:
			return Token{}, false, nil
		}
	}
}

func (l *lexer) skipSpacesAndComments() {
	for l.offset < len(l.src) {
		c := l.peekByte()
		if c == ' ' || c == '\t' || c == '\r' {
			l.advance()
			continue
		}
		if c == '#' {
			for l.offset < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
			continue
		}
		return
	}
}

// finish emits the trailing NEWLINE, any outstanding DEDENTs and EOF.
func (l *lexer) finish() (Token, error) {
	l.done = true
	pos := l.pos()
	l.pending = append(l.pending, Token{Kind: TokenNewline, Text: "\n", Pos: pos})
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.pending = append(l.pending, Token{Kind: TokenDedent, Pos: pos})
	}
	l.pending = append(l.pending, Token{Kind: TokenEOF, Pos: pos})
	t := l.pending[0]
	l.pending = l.pending[1:]
	return t, nil
}

func (l *lexer) lexName() Token {
	pos := l.pos()
	start := l.offset
	for l.offset < len(l.src) && isNamePart(l.peekByte()) {
		l.advance()
	}
	text := l.src[start:l.offset]
	kind := TokenName
	if keywords[text] {
		kind = TokenKeyword
	}
	return Token{Kind: kind, Text: text, Pos: pos}
}

func (l *lexer) lexNumber() (Token, error) {
	pos := l.pos()
	start := l.offset
	seenDot := false
	for l.offset < len(l.src) {
		c := l.peekByte()
		switch {
		case isDigit(c):
			l.advance()
		case c == '.' && !seenDot:
			seenDot = true
			l.advance()
		case (c == 'e' || c == 'E') && l.offset > start:
			next := l.peekAt(1)
			if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peekAt(2))) {
				l.advance()
				l.advance()
				for l.offset < len(l.src) && isDigit(l.peekByte()) {
					l.advance()
				}
			}
			return Token{Kind: TokenNumber, Text: l.src[start:l.offset], Pos: pos}, nil
		default:
			return Token{Kind: TokenNumber, Text: l.src[start:l.offset], Pos: pos}, nil
		}
	}
	return Token{Kind: TokenNumber, Text: l.src[start:l.offset], Pos: pos}, nil
}

func (l *lexer) lexString() (Token, error) {
	pos := l.pos()
	quote := l.peekByte()
	// triple-quoted string
	if l.peekAt(1) == quote && l.peekAt(2) == quote {
		l.advance()
		l.advance()
		l.advance()
		var sb strings.Builder
		for {
			if l.offset >= len(l.src) {
				return Token{}, l.errorf(pos, "unterminated string")
			}
			if l.peekByte() == quote && l.peekAt(1) == quote && l.peekAt(2) == quote {
				l.advance()
				l.advance()
				l.advance()
				q := strings.Repeat(string(quote), 3)
				return Token{Kind: TokenString, Text: q + sb.String() + q, Pos: pos}, nil
			}
			sb.WriteByte(l.advance())
		}
	}
	l.advance()
	var sb strings.Builder
	for {
		if l.offset >= len(l.src) {
			return Token{}, l.errorf(pos, "unterminated string")
		}
		c := l.advance()
		if c == '\n' {
			return Token{}, l.errorf(pos, "unterminated string")
		}
		if c == '\\' && l.offset < len(l.src) {
			sb.WriteByte(c)
			sb.WriteByte(l.advance())
			continue
		}
		if c == quote {
			return Token{Kind: TokenString, Text: string(quote) + sb.String() + string(quote), Pos: pos}, nil
		}
		sb.WriteByte(c)
	}
}

func (l *lexer) lexOperator() (Token, error) {
	pos := l.pos()
	for _, op := range operators {
		if strings.HasPrefix(l.src[l.offset:], op) {
			for range op {
				l.advance()
			}
			switch op {
			case "(", "[", "{":
				l.parens++
			case ")", "]", "}":
				if l.parens > 0 {
					l.parens--
				}
			}
			return Token{Kind: TokenOp, Text: op, Pos: pos}, nil
		}
	}
	return Token{}, l.errorf(pos, "unexpected character %q", string(l.peekByte()))
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c byte) bool { return isNameStart(c) || isDigit(c) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
