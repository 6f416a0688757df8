package dsl

// Position locates a node in the original snippet text (1-based).
type Position struct {
	Line int
	Col  int
}

// Node is implemented by every AST node.
type Node interface {
	Pos() Position
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Module is the root of a parsed snippet.
type Module struct {
	Body []Stmt
}

func (m *Module) Pos() Position {
	if len(m.Body) > 0 {
		return m.Body[0].Pos()
	}
	return Position{Line: 1, Col: 1}
}

type position struct{ pos Position }

func (p position) Pos() Position { return p.pos }

// Assign is `target = value`. Target is restricted to names, attributes
// and subscripts by the parser.
type Assign struct {
	position
	Target Expr
	Value  Expr
}

// AugAssign is `target op= value`, Op one of "+", "-", "*", "/".
type AugAssign struct {
	position
	Target Expr
	Op     string
	Value  Expr
}

// ExprStmt is a bare expression used as a statement.
type ExprStmt struct {
	position
	Value Expr
}

// Import is `import module`.
type Import struct {
	position
	Module string
}

// FromImport is `from module import a, b`.
type FromImport struct {
	position
	Module string
	Names  []string
}

// If is a conditional with optional elif chain (nested in Else) and else body.
type If struct {
	position
	Cond Expr
	Body []Stmt
	Else []Stmt
}

// While is a condition-guarded loop.
type While struct {
	position
	Cond Expr
	Body []Stmt
}

// For iterates a variable over an iterable expression.
type For struct {
	position
	Var  string
	Iter Expr
	Body []Stmt
}

// FuncDef declares a function with positional parameters.
type FuncDef struct {
	position
	Name   string
	Params []string
	Body   []Stmt
}

// Return exits a function, Value may be nil.
type Return struct {
	position
	Value Expr
}

type Break struct{ position }

type Continue struct{ position }

type Pass struct{ position }

func (*Assign) stmtNode()     {}
func (*AugAssign) stmtNode()  {}
func (*ExprStmt) stmtNode()   {}
func (*Import) stmtNode()     {}
func (*FromImport) stmtNode() {}
func (*If) stmtNode()         {}
func (*While) stmtNode()      {}
func (*For) stmtNode()        {}
func (*FuncDef) stmtNode()    {}
func (*Return) stmtNode()     {}
func (*Break) stmtNode()      {}
func (*Continue) stmtNode()   {}
func (*Pass) stmtNode()       {}

// NumberLit keeps the raw source text so unchanged literals render
// byte-identically.
type NumberLit struct {
	position
	Raw   string
	Value float64
	IsInt bool
}

// StringLit preserves the original quote style.
type StringLit struct {
	position
	Value string
	Quote string
}

type NameRef struct {
	position
	Name string
}

type BoolLit struct {
	position
	Value bool
}

type NoneLit struct{ position }

// AttrRef is `target.name`.
type AttrRef struct {
	position
	Target Expr
	Name   string
}

// KwArg is a `name=value` call argument.
type KwArg struct {
	Name  string
	Value Expr
}

// CallExpr is `fn(args..., kwargs...)`.
type CallExpr struct {
	position
	Fn     Expr
	Args   []Expr
	Kwargs []KwArg
}

// IndexExpr is `target[index]`.
type IndexExpr struct {
	position
	Target Expr
	Index  Expr
}

// UnaryExpr is a prefix operation, Op one of "-", "+", "not".
type UnaryExpr struct {
	position
	Op      string
	Operand Expr
}

// BinaryExpr is arithmetic, Op one of "+", "-", "*", "/", "%", "**".
type BinaryExpr struct {
	position
	Op    string
	Left  Expr
	Right Expr
}

// CompareExpr supports chained comparisons: Left Ops[0] Comparators[0]
// Ops[1] Comparators[1] ...
type CompareExpr struct {
	position
	Left        Expr
	Ops         []string
	Comparators []Expr
}

// BoolOpExpr is `left and right` or `left or right`.
type BoolOpExpr struct {
	position
	Op    string
	Left  Expr
	Right Expr
}

type ListLit struct {
	position
	Elems []Expr
}

func (*NumberLit) exprNode()   {}
func (*StringLit) exprNode()   {}
func (*NameRef) exprNode()     {}
func (*BoolLit) exprNode()     {}
func (*NoneLit) exprNode()     {}
func (*AttrRef) exprNode()     {}
func (*CallExpr) exprNode()    {}
func (*IndexExpr) exprNode()   {}
func (*UnaryExpr) exprNode()   {}
func (*BinaryExpr) exprNode()  {}
func (*CompareExpr) exprNode() {}
func (*BoolOpExpr) exprNode()  {}
func (*ListLit) exprNode()     {}

// Walk calls fn for node and every child, depth first. Walking stops for a
// subtree when fn returns false.
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *Module:
		walkStmts(n.Body, fn)
	case *Assign:
		Walk(n.Target, fn)
		Walk(n.Value, fn)
	case *AugAssign:
		Walk(n.Target, fn)
		Walk(n.Value, fn)
	case *ExprStmt:
		Walk(n.Value, fn)
	case *If:
		Walk(n.Cond, fn)
		walkStmts(n.Body, fn)
		walkStmts(n.Else, fn)
	case *While:
		Walk(n.Cond, fn)
		walkStmts(n.Body, fn)
	case *For:
		Walk(n.Iter, fn)
		walkStmts(n.Body, fn)
	case *FuncDef:
		walkStmts(n.Body, fn)
	case *Return:
		if n.Value != nil {
			Walk(n.Value, fn)
		}
	case *AttrRef:
		Walk(n.Target, fn)
	case *CallExpr:
		Walk(n.Fn, fn)
		for _, a := range n.Args {
			Walk(a, fn)
		}
		for _, kw := range n.Kwargs {
			Walk(kw.Value, fn)
		}
	case *IndexExpr:
		Walk(n.Target, fn)
		Walk(n.Index, fn)
	case *UnaryExpr:
		Walk(n.Operand, fn)
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *CompareExpr:
		Walk(n.Left, fn)
		for _, c := range n.Comparators {
			Walk(c, fn)
		}
	case *BoolOpExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *ListLit:
		for _, e := range n.Elems {
			Walk(e, fn)
		}
	}
}

func walkStmts(stmts []Stmt, fn func(Node) bool) {
	for _, s := range stmts {
		Walk(s, fn)
	}
}
