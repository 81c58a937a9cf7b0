// Package parser implements the smog language parser.
//
// The parser converts a stream of tokens (from the lexer) into the AST
// shape pkg/compiler consumes (spec §6). It performs syntactic analysis
// and, once a full parse succeeds, a second pass that assigns every
// assigned-to identifier its local-variable slot.
//
// Parser Architecture:
//
// The parser uses a recursive descent strategy:
//   1. Each precedence level corresponds to one parsing function
//   2. The parser decides what to parse from curTok alone; peekTok is kept
//      filled, but no current rule consults it
//   3. Functions call the next-tighter-precedence function recursively
//
// Token Management:
//
// The parser maintains two tokens at all times:
//   - curTok: the token being examined
//   - peekTok: the next token
//
// Grammar (loosest to tightest binding):
//
//   Program      := Stmt*
//   Stmt         := Expr
//   Expr         := Assignment
//   Assignment   := Range ( "=" Assignment )?
//   Range        := LogicalOr ( (".."|"...") LogicalOr )?
//   LogicalOr    := LogicalAnd ( ("or"|"||") LogicalAnd )*
//   LogicalAnd   := Equality ( ("and"|"&&") Equality )*
//   Equality     := Comparison ( ("=="|"!=") Comparison )*
//   Comparison   := BitOr ( ("<"|"<="|">"|">=") BitOr )*
//   BitOr        := BitXor ( "|" BitXor )*
//   BitXor       := BitAnd ( "^" BitAnd )*
//   BitAnd       := Shift ( "&" Shift )*
//   Shift        := Additive ( ("<<"|">>") Additive )*
//   Additive     := Multiplicative ( ("+"|"-") Multiplicative )*
//   Multiplicative := Unary ( ("*"|"/") Unary )*
//   Unary        := "-" Unary | Postfix
//   Postfix      := Primary ( "." Ident ( "(" Args ")" )? )*
//   Primary      := Integer | Float | String | "true" | "false" | "nil"
//                 | "self" | Ident ( "(" Args ")" )? | Const | "(" Expr ")"
//                 | If | For | "break" | "next"
//   If           := "if" Expr "then" Stmt* ( "else" Stmt* )? "end"
//   For          := "for" Ident "in" Range "do" Stmt* "end"
//
// Error Handling:
//
// The parser accumulates errors in the errors slice rather than
// stopping at the first one, so Parse can report every syntax problem
// found in one pass.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smogvm/smog/pkg/ast"
	"github.com/smogvm/smog/pkg/ident"
	"github.com/smogvm/smog/pkg/lexer"
)

// Parser is stateful and single-use: construct a new one per source
// input.
type Parser struct {
	l       *lexer.Lexer
	idents  *ident.Table
	curTok  lexer.Token
	peekTok lexer.Token
	errors  []string
}

// New creates a Parser reading from input, interning identifiers and
// constants into idents as it encounters them.
func New(input string, idents *ident.Table) *Parser {
	p := &Parser{l: lexer.New(input), idents: idents}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

func (p *Parser) loc() ast.Loc {
	return ast.Loc{Line: p.curTok.Line, Col: p.curTok.Column}
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *Parser) expect(tt lexer.TokenType) bool {
	if p.curTok.Type != tt {
		p.errorf("line %d: expected %s, got %s (%q)", p.curTok.Line, tt, p.curTok.Type, p.curTok.Literal)
		return false
	}
	p.nextToken()
	return true
}

// Parse reads the entire input, builds the AST, runs the lvar
// collector over it and returns the finished TopLevel. If any syntax
// errors were accumulated, it returns them joined into a single error;
// the AST is still returned so a caller can inspect what did parse.
func (p *Parser) Parse() (*ast.TopLevel, error) {
	startLoc := p.loc()
	stmts := p.parseStmts(lexer.TokenEOF)

	var body ast.Node = ast.NewCompStmt(startLoc, stmts)
	if len(stmts) == 1 {
		body = stmts[0]
	}

	lvars := collectLvars(body)
	top := ast.NewTopLevel(startLoc, body, lvars)

	if len(p.errors) > 0 {
		return top, fmt.Errorf("parser errors:\n%s", strings.Join(p.errors, "\n"))
	}
	return top, nil
}

// parseStmts parses statements until curTok matches one of the given
// terminators (checked before each statement, so an empty body is
// legal) or EOF is reached unexpectedly.
func (p *Parser) parseStmts(terminators ...lexer.TokenType) []ast.Node {
	var stmts []ast.Node
	for !p.atAny(terminators) && p.curTok.Type != lexer.TokenEOF {
		expr := p.parseExpression()
		if expr == nil {
			// parseExpression already recorded an error; advance so we
			// don't loop forever on the same token.
			p.nextToken()
			continue
		}
		stmts = append(stmts, expr)
	}
	return stmts
}

func (p *Parser) atAny(types []lexer.TokenType) bool {
	for _, tt := range types {
		if p.curTok.Type == tt {
			return true
		}
	}
	return false
}

func (p *Parser) parseExpression() ast.Node {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() ast.Node {
	loc := p.loc()
	lhs := p.parseRange()
	if lhs == nil {
		return nil
	}
	if p.curTok.Type == lexer.TokenAssign {
		p.nextToken()
		rhs := p.parseAssignment()
		if rhs == nil {
			return nil
		}
		return ast.NewAssign(loc, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseRange() ast.Node {
	loc := p.loc()
	start := p.parseLogicalOr()
	if start == nil {
		return nil
	}
	switch p.curTok.Type {
	case lexer.TokenDotDot, lexer.TokenEllipsis:
		exclusive := p.curTok.Type == lexer.TokenEllipsis
		p.nextToken()
		end := p.parseLogicalOr()
		if end == nil {
			return nil
		}
		return ast.NewRangeExpr(loc, start, end, exclusive)
	}
	return start
}

func (p *Parser) parseLogicalOr() ast.Node {
	loc := p.loc()
	lhs := p.parseLogicalAnd()
	for lhs != nil && (p.curTok.Type == lexer.TokenOr || p.curTok.Type == lexer.TokenOrOr) {
		p.nextToken()
		rhs := p.parseLogicalAnd()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, ast.OpLOr, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseLogicalAnd() ast.Node {
	loc := p.loc()
	lhs := p.parseEquality()
	for lhs != nil && (p.curTok.Type == lexer.TokenAnd || p.curTok.Type == lexer.TokenAndAnd) {
		p.nextToken()
		rhs := p.parseEquality()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, ast.OpLAnd, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseEquality() ast.Node {
	loc := p.loc()
	lhs := p.parseComparison()
	for lhs != nil && (p.curTok.Type == lexer.TokenEq || p.curTok.Type == lexer.TokenNotEq) {
		op := ast.OpEq
		if p.curTok.Type == lexer.TokenNotEq {
			op = ast.OpNe
		}
		p.nextToken()
		rhs := p.parseComparison()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, op, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseComparison() ast.Node {
	loc := p.loc()
	lhs := p.parseBitOr()
	for lhs != nil {
		var op ast.BinOpKind
		switch p.curTok.Type {
		case lexer.TokenLess:
			op = ast.OpLt
		case lexer.TokenLessEq:
			op = ast.OpLe
		case lexer.TokenGreater:
			op = ast.OpGt
		case lexer.TokenGreaterEq:
			op = ast.OpGe
		default:
			return lhs
		}
		p.nextToken()
		rhs := p.parseBitOr()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, op, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseBitOr() ast.Node {
	loc := p.loc()
	lhs := p.parseBitXor()
	for lhs != nil && p.curTok.Type == lexer.TokenPipe {
		p.nextToken()
		rhs := p.parseBitXor()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, ast.OpBitOr, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseBitXor() ast.Node {
	loc := p.loc()
	lhs := p.parseBitAnd()
	for lhs != nil && p.curTok.Type == lexer.TokenCaret {
		p.nextToken()
		rhs := p.parseBitAnd()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, ast.OpBitXor, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseBitAnd() ast.Node {
	loc := p.loc()
	lhs := p.parseShift()
	for lhs != nil && p.curTok.Type == lexer.TokenAmp {
		p.nextToken()
		rhs := p.parseShift()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, ast.OpBitAnd, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseShift() ast.Node {
	loc := p.loc()
	lhs := p.parseAdditive()
	for lhs != nil {
		var op ast.BinOpKind
		switch p.curTok.Type {
		case lexer.TokenShl:
			op = ast.OpShl
		case lexer.TokenShr:
			op = ast.OpShr
		default:
			return lhs
		}
		p.nextToken()
		rhs := p.parseAdditive()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, op, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseAdditive() ast.Node {
	loc := p.loc()
	lhs := p.parseMultiplicative()
	for lhs != nil {
		var op ast.BinOpKind
		switch p.curTok.Type {
		case lexer.TokenPlus:
			op = ast.OpAdd
		case lexer.TokenMinus:
			op = ast.OpSub
		default:
			return lhs
		}
		p.nextToken()
		rhs := p.parseMultiplicative()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, op, lhs, rhs)
	}
	return lhs
}

func (p *Parser) parseMultiplicative() ast.Node {
	loc := p.loc()
	lhs := p.parseUnary()
	for lhs != nil {
		var op ast.BinOpKind
		switch p.curTok.Type {
		case lexer.TokenStar:
			op = ast.OpMul
		case lexer.TokenSlash:
			op = ast.OpDiv
		default:
			return lhs
		}
		p.nextToken()
		rhs := p.parseUnary()
		if rhs == nil {
			return nil
		}
		lhs = ast.NewBinOp(loc, op, lhs, rhs)
	}
	return lhs
}

// parseUnary handles a leading minus by desugaring -x into 0 - x: this
// core's BinOpKind set has no dedicated negation opcode, and Sub
// already does the right thing for both FixNum and FloatNum operands.
func (p *Parser) parseUnary() ast.Node {
	if p.curTok.Type == lexer.TokenMinus {
		loc := p.loc()
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return ast.NewBinOp(loc, ast.OpSub, ast.NewNumberLit(loc, 0), operand)
	}
	return p.parsePostfix()
}

// parsePostfix handles receiver.method and receiver.method(args) call
// chains, left-associative.
func (p *Parser) parsePostfix() ast.Node {
	expr := p.parsePrimary()
	for expr != nil && p.curTok.Type == lexer.TokenDot {
		loc := p.loc()
		p.nextToken()
		if p.curTok.Type != lexer.TokenIdent {
			p.errorf("line %d: expected a method name after '.', got %s", p.curTok.Line, p.curTok.Type)
			return nil
		}
		methodID := p.idents.Intern(p.curTok.Literal)
		method := ast.NewIdent(loc, methodID)
		p.nextToken()
		var args []ast.Node
		if p.curTok.Type == lexer.TokenLParen {
			args = p.parseArgs()
		}
		expr = ast.NewSend(loc, expr, method, args)
	}
	return expr
}

// parseArgs parses a parenthesized, comma-separated argument list.
// curTok is TokenLParen on entry.
func (p *Parser) parseArgs() []ast.Node {
	p.nextToken() // consume '('
	var args []ast.Node
	if p.curTok.Type == lexer.TokenRParen {
		p.nextToken()
		return args
	}
	for {
		arg := p.parseExpression()
		if arg == nil {
			return nil
		}
		args = append(args, arg)
		if p.curTok.Type != lexer.TokenComma {
			break
		}
		p.nextToken()
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}
	return args
}

func (p *Parser) parsePrimary() ast.Node {
	loc := p.loc()
	switch p.curTok.Type {
	case lexer.TokenInteger:
		v, err := strconv.ParseInt(p.curTok.Literal, 10, 64)
		if err != nil {
			p.errorf("line %d: invalid integer literal %q", p.curTok.Line, p.curTok.Literal)
			return nil
		}
		p.nextToken()
		return ast.NewNumberLit(loc, v)

	case lexer.TokenFloat:
		v, err := strconv.ParseFloat(p.curTok.Literal, 64)
		if err != nil {
			p.errorf("line %d: invalid float literal %q", p.curTok.Line, p.curTok.Literal)
			return nil
		}
		p.nextToken()
		return ast.NewFloatLit(loc, v)

	case lexer.TokenString:
		v := p.curTok.Literal
		p.nextToken()
		return ast.NewStringLit(loc, v)

	case lexer.TokenTrue:
		p.nextToken()
		return ast.NewBoolLit(loc, true)

	case lexer.TokenFalse:
		p.nextToken()
		return ast.NewBoolLit(loc, false)

	case lexer.TokenNil:
		p.nextToken()
		return ast.NewNilLit(loc)

	case lexer.TokenSelf:
		p.nextToken()
		return ast.NewSelfValue(loc)

	case lexer.TokenBreak:
		p.nextToken()
		return ast.NewBreak(loc)

	case lexer.TokenNext:
		p.nextToken()
		return ast.NewNext(loc)

	case lexer.TokenConst:
		id := p.idents.Intern(p.curTok.Literal)
		p.nextToken()
		return ast.NewConst(loc, id)

	case lexer.TokenIdent:
		id := p.idents.Intern(p.curTok.Literal)
		p.nextToken()
		if p.curTok.Type == lexer.TokenLParen {
			args := p.parseArgs()
			return ast.NewSend(loc, ast.NewSelfValue(loc), ast.NewIdent(loc, id), args)
		}
		return ast.NewIdent(loc, id)

	case lexer.TokenLParen:
		p.nextToken()
		expr := p.parseExpression()
		if expr == nil {
			return nil
		}
		if !p.expect(lexer.TokenRParen) {
			return nil
		}
		return expr

	case lexer.TokenIf:
		return p.parseIf()

	case lexer.TokenFor:
		return p.parseFor()

	default:
		p.errorf("line %d: unexpected token %s (%q)", p.curTok.Line, p.curTok.Type, p.curTok.Literal)
		p.nextToken()
		return nil
	}
}

func (p *Parser) parseIf() ast.Node {
	loc := p.loc()
	p.nextToken() // consume 'if'
	cond := p.parseExpression()
	if cond == nil {
		return nil
	}
	if !p.expect(lexer.TokenThen) {
		return nil
	}
	thenStmts := p.parseStmts(lexer.TokenElse, lexer.TokenEnd)
	thenBranch := ast.Node(ast.NewCompStmt(loc, thenStmts))
	if len(thenStmts) == 1 {
		thenBranch = thenStmts[0]
	}

	var elseBranch ast.Node = ast.NewCompStmt(loc, nil)
	if p.curTok.Type == lexer.TokenElse {
		p.nextToken()
		elseStmts := p.parseStmts(lexer.TokenEnd)
		elseBranch = ast.NewCompStmt(loc, elseStmts)
		if len(elseStmts) == 1 {
			elseBranch = elseStmts[0]
		}
	}
	if !p.expect(lexer.TokenEnd) {
		return nil
	}
	return ast.NewIf(loc, cond, thenBranch, elseBranch)
}

func (p *Parser) parseFor() ast.Node {
	loc := p.loc()
	p.nextToken() // consume 'for'
	if p.curTok.Type != lexer.TokenIdent {
		p.errorf("line %d: expected a loop variable name after 'for', got %s", p.curTok.Line, p.curTok.Type)
		return nil
	}
	varID := p.idents.Intern(p.curTok.Literal)
	loopVar := ast.NewIdent(loc, varID)
	p.nextToken()
	if !p.expect(lexer.TokenIn) {
		return nil
	}
	iter := p.parseRange()
	if iter == nil {
		return nil
	}
	if !p.expect(lexer.TokenDo) {
		return nil
	}
	bodyStmts := p.parseStmts(lexer.TokenEnd)
	body := ast.Node(ast.NewCompStmt(loc, bodyStmts))
	if len(bodyStmts) == 1 {
		body = bodyStmts[0]
	}
	if !p.expect(lexer.TokenEnd) {
		return nil
	}
	return ast.NewFor(loc, loopVar, iter, body)
}

// collectLvars walks the finished tree in source order and assigns
// every identifier that is ever an assignment target or a for-loop
// variable a dense slot id, in first-appearance order (spec §4.C/§6).
func collectLvars(node ast.Node) map[ident.ID]uint32 {
	table := make(map[ident.ID]uint32)
	var next uint32
	register := func(id ident.ID) {
		if _, ok := table[id]; !ok {
			table[id] = next
			next++
		}
	}
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		switch node := n.(type) {
		case nil:
			return
		case *ast.Assign:
			if lhs, ok := node.Lhs.(*ast.Ident); ok {
				register(lhs.ID)
			}
			walk(node.Lhs)
			walk(node.Rhs)
		case *ast.For:
			if v, ok := node.Var.(*ast.Ident); ok {
				register(v.ID)
			}
			walk(node.Var)
			walk(node.Iter)
			walk(node.Body)
		case *ast.CompStmt:
			for _, c := range node.Children {
				walk(c)
			}
		case *ast.If:
			walk(node.Cond)
			walk(node.Then)
			walk(node.Else)
		case *ast.BinOp:
			walk(node.Lhs)
			walk(node.Rhs)
		case *ast.RangeExpr:
			walk(node.Start)
			walk(node.End)
		case *ast.Send:
			walk(node.Receiver)
			for _, a := range node.Args {
				walk(a)
			}
		}
	}
	walk(node)
	return table
}
