package dsl

import "strconv"

// Parse turns snippet text into a Module. It returns exactly one error for
// unparseable input, always a *SyntaxError carrying the failure position.
func Parse(src string) (*Module, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.next(); err != nil {
		return nil, err
	}
	mod := &Module{}
	for p.tok.Kind != TokenEOF {
		if p.tok.Kind == TokenNewline {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		mod.Body = append(mod.Body, stmt)
	}
	return mod, nil
}

type parser struct {
	lex    *lexer
	tok    Token
	backup []Token
}

func (p *parser) next() error {
	if n := len(p.backup); n > 0 {
		p.tok = p.backup[n-1]
		p.backup = p.backup[:n-1]
		return nil
	}
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// pushback arranges for tok to be returned by the next call to next(),
// restoring cur as the current token.
func (p *parser) pushback(tok, cur Token) {
	p.backup = append(p.backup, tok)
	p.tok = cur
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return p.lex.errorf(p.tok.Pos, format, args...)
}

func (p *parser) at(kind TokenKind, text string) bool {
	return p.tok.Kind == kind && p.tok.Text == text
}

func (p *parser) accept(kind TokenKind, text string) (bool, error) {
	if p.at(kind, text) {
		return true, p.next()
	}
	return false, nil
}

func (p *parser) expect(kind TokenKind, text string) error {
	if !p.at(kind, text) {
		return p.errorf("expected %q, found %q", text, p.tok.Text)
	}
	return p.next()
}

func (p *parser) expectNewline() error {
	if p.tok.Kind == TokenEOF {
		return nil
	}
	if p.tok.Kind != TokenNewline {
		return p.errorf("expected end of line, found %q", p.tok.Text)
	}
	return p.next()
}

func (p *parser) parseStatement() (Stmt, error) {
	if p.tok.Kind == TokenKeyword {
		switch p.tok.Text {
		case "import":
			return p.parseImport()
		case "from":
			return p.parseFromImport()
		case "if":
			return p.parseIf()
		case "while":
			return p.parseWhile()
		case "for":
			return p.parseFor()
		case "def":
			return p.parseFuncDef()
		case "return", "break", "continue", "pass":
			return p.parseSimpleKeyword()
		}
	}
	return p.parseExprOrAssign()
}

func (p *parser) parseImport() (Stmt, error) {
	pos := p.tok.Pos
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokenName {
		return nil, p.errorf("expected module name after import")
	}
	name := p.tok.Text
	if err := p.next(); err != nil {
		return nil, err
	}
	// dotted module path
	for p.at(TokenOp, ".") {
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind != TokenName {
			return nil, p.errorf("expected name after '.'")
		}
		name += "." + p.tok.Text
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return &Import{position: position{pos}, Module: name}, nil
}

func (p *parser) parseFromImport() (Stmt, error) {
	pos := p.tok.Pos
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokenName {
		return nil, p.errorf("expected module name after from")
	}
	module := p.tok.Text
	if err := p.next(); err != nil {
		return nil, err
	}
	for p.at(TokenOp, ".") {
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind != TokenName {
			return nil, p.errorf("expected name after '.'")
		}
		module += "." + p.tok.Text
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(TokenKeyword, "import"); err != nil {
		return nil, err
	}
	var names []string
	for {
		if p.at(TokenOp, "*") {
			names = append(names, "*")
			if err := p.next(); err != nil {
				return nil, err
			}
			break
		}
		if p.tok.Kind != TokenName {
			return nil, p.errorf("expected imported name")
		}
		names = append(names, p.tok.Text)
		if err := p.next(); err != nil {
			return nil, err
		}
		if ok, err := p.accept(TokenOp, ","); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return &FromImport{position: position{pos}, Module: module, Names: names}, nil
}

func (p *parser) parseIf() (Stmt, error) {
	pos := p.tok.Pos
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	stmt := &If{position: position{pos}, Cond: cond, Body: body}
	switch {
	case p.at(TokenKeyword, "elif"):
		elif, err := p.parseIf() // elif heads parse exactly like if
		if err != nil {
			return nil, err
		}
		stmt.Else = []Stmt{elif}
	case p.at(TokenKeyword, "else"):
		if err := p.next(); err != nil {
			return nil, err
		}
		stmt.Else, err = p.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseWhile() (Stmt, error) {
	pos := p.tok.Pos
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &While{position: position{pos}, Cond: cond, Body: body}, nil
}

func (p *parser) parseFor() (Stmt, error) {
	pos := p.tok.Pos
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokenName {
		return nil, p.errorf("expected loop variable")
	}
	v := p.tok.Text
	if err := p.next(); err != nil {
		return nil, err
	}
	if err := p.expect(TokenKeyword, "in"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &For{position: position{pos}, Var: v, Iter: iter, Body: body}, nil
}

func (p *parser) parseFuncDef() (Stmt, error) {
	pos := p.tok.Pos
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokenName {
		return nil, p.errorf("expected function name")
	}
	name := p.tok.Text
	if err := p.next(); err != nil {
		return nil, err
	}
	if err := p.expect(TokenOp, "("); err != nil {
		return nil, err
	}
	var params []string
	for !p.at(TokenOp, ")") {
		if p.tok.Kind != TokenName {
			return nil, p.errorf("expected parameter name")
		}
		params = append(params, p.tok.Text)
		if err := p.next(); err != nil {
			return nil, err
		}
		if ok, err := p.accept(TokenOp, ","); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if err := p.expect(TokenOp, ")"); err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &FuncDef{position: position{pos}, Name: name, Params: params, Body: body}, nil
}

func (p *parser) parseSimpleKeyword() (Stmt, error) {
	pos := p.tok.Pos
	kw := p.tok.Text
	if err := p.next(); err != nil {
		return nil, err
	}
	var stmt Stmt
	switch kw {
	case "return":
		ret := &Return{position: position{pos}}
		if p.tok.Kind != TokenNewline && p.tok.Kind != TokenEOF {
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			ret.Value = v
		}
		stmt = ret
	case "break":
		stmt = &Break{position{pos}}
	case "continue":
		stmt = &Continue{position{pos}}
	case "pass":
		stmt = &Pass{position{pos}}
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseSuite parses ':' followed by either an inline statement or an
// indented block.
func (p *parser) parseSuite() ([]Stmt, error) {
	if err := p.expect(TokenOp, ":"); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokenNewline {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return []Stmt{stmt}, nil
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	for p.tok.Kind == TokenNewline {
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if p.tok.Kind != TokenIndent {
		return nil, p.errorf("expected an indented block")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	var body []Stmt
	for p.tok.Kind != TokenDedent && p.tok.Kind != TokenEOF {
		if p.tok.Kind == TokenNewline {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
	}
	if p.tok.Kind == TokenDedent {
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if len(body) == 0 {
		return nil, p.errorf("empty block")
	}
	return body, nil
}

func (p *parser) parseExprOrAssign() (Stmt, error) {
	pos := p.tok.Pos
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.at(TokenOp, "=") {
		if !assignable(expr) {
			return nil, p.errorf("cannot assign to this expression")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectNewline(); err != nil {
			return nil, err
		}
		return &Assign{position: position{pos}, Target: expr, Value: value}, nil
	}
	for _, aug := range []string{"+=", "-=", "*=", "/="} {
		if p.at(TokenOp, aug) {
			if !assignable(expr) {
				return nil, p.errorf("cannot assign to this expression")
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectNewline(); err != nil {
				return nil, err
			}
			return &AugAssign{position: position{pos}, Target: expr, Op: aug[:1], Value: value}, nil
		}
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return &ExprStmt{position: position{pos}, Value: expr}, nil
}

func assignable(e Expr) bool {
	switch e.(type) {
	case *NameRef, *AttrRef, *IndexExpr:
		return true
	}
	return false
}

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(TokenKeyword, "or") {
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BoolOpExpr{position: position{pos}, Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.at(TokenKeyword, "and") {
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BoolOpExpr{position: position{pos}, Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.at(TokenKeyword, "not") {
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{position: position{pos}, Op: "not", Operand: operand}, nil
	}
	return p.parseComparison()
}

var compareOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != TokenOp || !compareOps[p.tok.Text] {
		return left, nil
	}
	cmp := &CompareExpr{position: position{left.Pos()}, Left: left}
	for p.tok.Kind == TokenOp && compareOps[p.tok.Text] {
		op := p.tok.Text
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		cmp.Ops = append(cmp.Ops, op)
		cmp.Comparators = append(cmp.Comparators, right)
	}
	return cmp, nil
}

func (p *parser) parseArith() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokenOp && (p.tok.Text == "+" || p.tok.Text == "-") {
		op := p.tok.Text
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{position: position{pos}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokenOp && (p.tok.Text == "*" || p.tok.Text == "/" || p.tok.Text == "%") {
		op := p.tok.Text
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{position: position{pos}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.Kind == TokenOp && (p.tok.Text == "-" || p.tok.Text == "+") {
		op := p.tok.Text
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{position: position{pos}, Op: op, Operand: operand}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Expr, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.at(TokenOp, "**") {
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		exp, err := p.parseUnary() // right associative
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{position: position{pos}, Op: "**", Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(TokenOp, "."):
			pos := p.tok.Pos
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.tok.Kind != TokenName {
				return nil, p.errorf("expected attribute name after '.'")
			}
			expr = &AttrRef{position: position{pos}, Target: expr, Name: p.tok.Text}
			if err := p.next(); err != nil {
				return nil, err
			}
		case p.at(TokenOp, "("):
			call, err := p.parseCall(expr)
			if err != nil {
				return nil, err
			}
			expr = call
		case p.at(TokenOp, "["):
			pos := p.tok.Pos
			if err := p.next(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenOp, "]"); err != nil {
				return nil, err
			}
			expr = &IndexExpr{position: position{pos}, Target: expr, Index: idx}
		default:
			return expr, nil
		}
	}
}

func (p *parser) parseCall(fn Expr) (Expr, error) {
	pos := p.tok.Pos
	if err := p.next(); err != nil {
		return nil, err
	}
	call := &CallExpr{position: position{pos}, Fn: fn}
	for !p.at(TokenOp, ")") {
		// keyword argument: NAME '=' expr
		if p.tok.Kind == TokenName {
			nameTok := p.tok
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.at(TokenOp, "=") {
				if err := p.next(); err != nil {
					return nil, err
				}
				value, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Kwargs = append(call.Kwargs, KwArg{Name: nameTok.Text, Value: value})
				if ok, err := p.accept(TokenOp, ","); err != nil {
					return nil, err
				} else if !ok {
					break
				}
				continue
			}
			p.pushback(p.tok, nameTok)
		}
		if len(call.Kwargs) > 0 {
			return nil, p.errorf("positional argument after keyword argument")
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if ok, err := p.accept(TokenOp, ","); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if err := p.expect(TokenOp, ")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseAtom() (Expr, error) {
	pos := p.tok.Pos
	switch p.tok.Kind {
	case TokenNumber:
		raw := p.tok.Text
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, p.errorf("invalid number literal %q", raw)
		}
		isInt := true
		for _, c := range raw {
			if c == '.' || c == 'e' || c == 'E' {
				isInt = false
				break
			}
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return &NumberLit{position: position{pos}, Raw: raw, Value: value, IsInt: isInt}, nil
	case TokenString:
		raw := p.tok.Text
		quote, value := splitQuoted(raw)
		if err := p.next(); err != nil {
			return nil, err
		}
		return &StringLit{position: position{pos}, Value: value, Quote: quote}, nil
	case TokenName:
		name := p.tok.Text
		if err := p.next(); err != nil {
			return nil, err
		}
		return &NameRef{position: position{pos}, Name: name}, nil
	case TokenKeyword:
		switch p.tok.Text {
		case "True", "False":
			v := p.tok.Text == "True"
			if err := p.next(); err != nil {
				return nil, err
			}
			return &BoolLit{position: position{pos}, Value: v}, nil
		case "None":
			if err := p.next(); err != nil {
				return nil, err
			}
			return &NoneLit{position{pos}}, nil
		}
		return nil, p.errorf("unexpected keyword %q", p.tok.Text)
	case TokenOp:
		switch p.tok.Text {
		case "(":
			if err := p.next(); err != nil {
				return nil, err
			}
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenOp, ")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			if err := p.next(); err != nil {
				return nil, err
			}
			list := &ListLit{position: position{pos}}
			for !p.at(TokenOp, "]") {
				elem, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				list.Elems = append(list.Elems, elem)
				if ok, err := p.accept(TokenOp, ","); err != nil {
					return nil, err
				} else if !ok {
					break
				}
			}
			if err := p.expect(TokenOp, "]"); err != nil {
				return nil, err
			}
			return list, nil
		}
	}
	return nil, p.errorf("unexpected token %q", p.tok.Text)
}

// splitQuoted separates the quote marker from the string body.
func splitQuoted(raw string) (quote, value string) {
	if len(raw) >= 6 && (raw[:3] == `"""` || raw[:3] == "'''") {
		return raw[:3], raw[3 : len(raw)-3]
	}
	return raw[:1], raw[1 : len(raw)-1]
}
