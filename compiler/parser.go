package compiler

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Smalltalk syntax
// ---------------------------------------------------------------------------

// Parser parses Smalltalk source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []string
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token. Lexical errors are recorded and
// surface to the grammar as EOF so parsing stops.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.curToken.Type == TokenError {
		p.errorf("%s", p.curToken.Literal)
		p.curToken.Type = TokenEOF
		p.peekToken = Token{Type: TokenEOF, Pos: p.curToken.Pos}
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// errorf records a parse error.
func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf("line %d: %s", p.curToken.Pos.Line, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseKeywordSend()
}

// ParseDoIt parses optional temporaries followed by statements up to the
// end of the input.
func (p *Parser) ParseDoIt() *DoIt {
	startPos := p.curToken.Pos
	var temps []string
	if p.curTokenIs(TokenBar) {
		temps = p.parseTemporaries()
	}
	stmts := p.ParseStatements()
	if !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s", p.curToken)
	}
	return &DoIt{
		SpanVal:    MakeSpan(startPos, p.curToken.Pos),
		Temps:      temps,
		Statements: stmts,
	}
}

// ParseStatement parses a single statement.
func (p *Parser) ParseStatement() Stmt {
	if p.curTokenIs(TokenCaret) {
		return p.parseReturn()
	}

	expr := p.parseKeywordSend()
	if expr == nil {
		return nil
	}
	return &ExprStmt{SpanVal: expr.Span(), Expr: expr}
}

// ParseStatements parses statements separated by periods, stopping at
// EOF, a closing bracket or brace, or a statement without a period.
func (p *Parser) ParseStatements() []Stmt {
	var stmts []Stmt

	for !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenRBracket) && !p.curTokenIs(TokenRBrace) {
		stmt := p.ParseStatement()
		if stmt == nil {
			break
		}
		stmts = append(stmts, stmt)

		if !p.curTokenIs(TokenPeriod) {
			break
		}
		for p.curTokenIs(TokenPeriod) {
			p.nextToken()
		}
	}

	return stmts
}

// ParseMethod parses a method in method syntax: a signature, then an
// optional pragma and temporaries, then statements up to EOF.
func (p *Parser) ParseMethod() *MethodDef {
	startPos := p.curToken.Pos

	selector, params := p.parseMethodSignature()
	if selector == "" {
		return nil
	}
	m := &MethodDef{Selector: selector, Parameters: params}
	p.parseMethodBody(m)
	if !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s", p.curToken)
	}
	m.SpanVal = MakeSpan(startPos, p.curToken.Pos)
	return m
}

// parseMethodBody fills in the pragma, temporaries and statements of m.
func (p *Parser) parseMethodBody(m *MethodDef) {
	if p.atPragma() {
		m.Primitive = p.parsePragma()
	}
	if p.curTokenIs(TokenBar) {
		m.Temps = p.parseTemporaries()
	}
	if m.Primitive == "" && p.atPragma() {
		m.Primitive = p.parsePragma()
	}
	m.Statements = p.ParseStatements()
}

// atPragma reports whether the current token starts <primitive: 'Name'>.
func (p *Parser) atPragma() bool {
	return p.curTokenIs(TokenBinarySelector) && p.curToken.Literal == "<" &&
		p.peekTokenIs(TokenKeyword) && p.peekToken.Literal == "primitive:"
}

// parsePragma parses <primitive: 'Name'> and returns the name.
func (p *Parser) parsePragma() string {
	p.nextToken() // consume <
	p.nextToken() // consume primitive:
	if !p.curTokenIs(TokenString) {
		p.errorf("expected primitive name string, got %s", p.curToken)
		return ""
	}
	name := p.curToken.Literal
	p.nextToken()
	if !p.curTokenIs(TokenBinarySelector) || p.curToken.Literal != ">" {
		p.errorf("expected > to close the primitive pragma, got %s", p.curToken)
		return name
	}
	p.nextToken()
	return name
}

// parseMethodSignature parses a method signature.
func (p *Parser) parseMethodSignature() (string, []string) {
	switch {
	case p.curTokenIs(TokenIdentifier):
		selector := p.curToken.Literal
		p.nextToken()
		return selector, nil

	case p.curTokenIs(TokenBinarySelector) || p.curTokenIs(TokenBar):
		selector := p.curToken.Literal
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name after binary selector")
			return "", nil
		}
		param := p.curToken.Literal
		p.nextToken()
		return selector, []string{param}

	case p.curTokenIs(TokenKeyword):
		var selector strings.Builder
		var params []string
		for p.curTokenIs(TokenKeyword) {
			selector.WriteString(p.curToken.Literal)
			p.nextToken()
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected parameter name after keyword")
				return "", nil
			}
			params = append(params, p.curToken.Literal)
			p.nextToken()
		}
		return selector.String(), params

	default:
		p.errorf("expected method signature, got %s", p.curToken)
		return "", nil
	}
}

// parseTemporaries parses | temp1 temp2 |
func (p *Parser) parseTemporaries() []string {
	p.nextToken() // consume |
	var temps []string
	for p.curTokenIs(TokenIdentifier) {
		temps = append(temps, p.curToken.Literal)
		p.nextToken()
	}
	if !p.expect(TokenBar) {
		return nil
	}
	return temps
}

// parseReturn parses ^expr. Failure answers an untyped nil so callers
// can compare the Stmt against nil.
func (p *Parser) parseReturn() Stmt {
	startPos := p.curToken.Pos
	p.nextToken() // consume ^

	value := p.parseKeywordSend()
	if value == nil {
		return nil
	}

	return &Return{
		SpanVal: MakeSpan(startPos, value.Span().End),
		Value:   value,
	}
}

// ---------------------------------------------------------------------------
// Expression parsing (message precedence)
// ---------------------------------------------------------------------------

// parseKeywordSend parses keyword message sends (lowest precedence).
func (p *Parser) parseKeywordSend() Expr {
	receiver := p.parseBinarySend()
	if receiver == nil {
		return nil
	}

	result := receiver
	if p.curTokenIs(TokenKeyword) {
		result = p.parseKeywordMessage(receiver)
		if result == nil {
			return nil
		}
	}

	// A cascade applies to the whole keyword/binary message
	if p.curTokenIs(TokenSemicolon) {
		return p.parseCascade(result)
	}

	return result
}

// parseKeywordMessage parses a keyword message with given receiver.
func (p *Parser) parseKeywordMessage(receiver Expr) Expr {
	startPos := receiver.Span().Start

	var selector strings.Builder
	var keywords []string
	var args []Expr

	for p.curTokenIs(TokenKeyword) {
		keyword := p.curToken.Literal
		keywords = append(keywords, keyword)
		selector.WriteString(keyword)
		p.nextToken()

		arg := p.parseBinarySend()
		if arg == nil {
			return nil
		}
		args = append(args, arg)
	}

	return &KeywordMessage{
		SpanVal:   MakeSpan(startPos, p.curToken.Pos),
		Receiver:  receiver,
		Selector:  selector.String(),
		Keywords:  keywords,
		Arguments: args,
	}
}

// parseBinarySend parses binary message sends (middle precedence). The
// bar is a binary selector in expression context.
func (p *Parser) parseBinarySend() Expr {
	left := p.parseUnarySend()
	if left == nil {
		return nil
	}

	for p.curTokenIs(TokenBinarySelector) || p.curTokenIs(TokenBar) {
		selector := p.curToken.Literal
		p.nextToken()

		right := p.parseUnarySend()
		if right == nil {
			return nil
		}

		left = &BinaryMessage{
			SpanVal:  MakeSpan(left.Span().Start, right.Span().End),
			Receiver: left,
			Selector: selector,
			Argument: right,
		}
	}

	return left
}

// parseCascade parses cascaded messages. first is the first message
// send; its receiver becomes the receiver of the cascade.
func (p *Parser) parseCascade(first Expr) Expr {
	var receiver Expr
	var messages []CascadedMessage

	switch msg := first.(type) {
	case *UnaryMessage:
		receiver = msg.Receiver
		messages = append(messages, CascadedMessage{
			Type:     UnaryMsg,
			Selector: msg.Selector,
		})
	case *BinaryMessage:
		receiver = msg.Receiver
		messages = append(messages, CascadedMessage{
			Type:      BinaryMsg,
			Selector:  msg.Selector,
			Arguments: []Expr{msg.Argument},
		})
	case *KeywordMessage:
		receiver = msg.Receiver
		messages = append(messages, CascadedMessage{
			Type:      KeywordMsg,
			Selector:  msg.Selector,
			Keywords:  msg.Keywords,
			Arguments: msg.Arguments,
		})
	default:
		p.errorf("cascade requires a message send")
		return nil
	}

	for p.curTokenIs(TokenSemicolon) {
		p.nextToken() // consume ;

		msg := p.parseCascadedMessage()
		if msg == nil {
			return nil
		}
		messages = append(messages, *msg)
	}

	return &Cascade{
		SpanVal:  MakeSpan(first.Span().Start, p.curToken.Pos),
		Receiver: receiver,
		Messages: messages,
	}
}

// parseCascadedMessage parses a single cascaded message (without receiver).
func (p *Parser) parseCascadedMessage() *CascadedMessage {
	switch {
	case p.curTokenIs(TokenIdentifier):
		selector := p.curToken.Literal
		p.nextToken()
		return &CascadedMessage{
			Type:     UnaryMsg,
			Selector: selector,
		}

	case p.curTokenIs(TokenBinarySelector) || p.curTokenIs(TokenBar):
		selector := p.curToken.Literal
		p.nextToken()
		arg := p.parseUnarySend()
		if arg == nil {
			return nil
		}
		return &CascadedMessage{
			Type:      BinaryMsg,
			Selector:  selector,
			Arguments: []Expr{arg},
		}

	case p.curTokenIs(TokenKeyword):
		var selector strings.Builder
		var keywords []string
		var args []Expr
		for p.curTokenIs(TokenKeyword) {
			keyword := p.curToken.Literal
			keywords = append(keywords, keyword)
			selector.WriteString(keyword)
			p.nextToken()
			arg := p.parseBinarySend()
			if arg == nil {
				return nil
			}
			args = append(args, arg)
		}
		return &CascadedMessage{
			Type:      KeywordMsg,
			Selector:  selector.String(),
			Keywords:  keywords,
			Arguments: args,
		}

	default:
		p.errorf("expected message in cascade, got %s", p.curToken)
		return nil
	}
}

// parseUnarySend parses unary message sends (highest precedence).
func (p *Parser) parseUnarySend() Expr {
	primary := p.parsePrimary()
	if primary == nil {
		return nil
	}

	for p.curTokenIs(TokenIdentifier) && !p.peekTokenIs(TokenAssign) {
		selector := p.curToken.Literal
		p.nextToken()

		primary = &UnaryMessage{
			SpanVal:  MakeSpan(primary.Span().Start, p.curToken.Pos),
			Receiver: primary,
			Selector: selector,
		}
	}

	return primary
}

// parsePrimary parses primary expressions.
func (p *Parser) parsePrimary() Expr {
	switch p.curToken.Type {
	case TokenInteger:
		return p.parseInteger()
	case TokenString:
		return p.parseString()
	case TokenSymbol:
		return p.parseSymbol()
	case TokenCharacter:
		return p.parseCharacter()
	case TokenHashLParen:
		return p.parseLiteralArray()
	case TokenLParen:
		return p.parseParenExpr()
	case TokenLBracket:
		return p.parseBlock()
	case TokenLBrace:
		return p.parseDynamicArray()
	case TokenIdentifier:
		return p.parseIdentifier()
	case TokenSelf:
		return p.parseSelf()
	case TokenSuper:
		return p.parseSuper()
	case TokenThisContext:
		return p.parseThisContext()
	case TokenNil:
		return p.parseNil()
	case TokenTrue:
		return p.parseTrue()
	case TokenFalse:
		return p.parseFalse()
	case TokenEOF:
		p.errorf("unexpected end of input")
		return nil
	default:
		p.errorf("unexpected token: %s", p.curToken)
		return nil
	}
}

// ---------------------------------------------------------------------------
// Literal parsing
// ---------------------------------------------------------------------------

// parseIntegerLiteral converts 42, -7 and radix forms like 16rFF or
// -2r101 into an integer.
func parseIntegerLiteral(literal string) (*big.Int, error) {
	neg := strings.HasPrefix(literal, "-")
	digits := strings.TrimPrefix(literal, "-")
	radix := 10
	if idx := strings.IndexByte(digits, 'r'); idx > 0 {
		r, err := strconv.Atoi(digits[:idx])
		if err != nil || r < 2 || r > 36 {
			return nil, fmt.Errorf("invalid radix in %s", literal)
		}
		radix = r
		digits = digits[idx+1:]
		if strings.HasPrefix(digits, "-") {
			neg = !neg
			digits = digits[1:]
		}
	}
	n, ok := new(big.Int).SetString(digits, radix)
	if !ok {
		return nil, fmt.Errorf("invalid integer: %s", literal)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func (p *Parser) parseInteger() *IntLiteral {
	pos := p.curToken.Pos
	n, err := parseIntegerLiteral(p.curToken.Literal)
	if err != nil {
		p.errorf("%v", err)
		n = new(big.Int)
	}
	p.nextToken()
	lit := &IntLiteral{SpanVal: MakeSpan(pos, p.curToken.Pos)}
	if n.IsInt64() {
		lit.Value = n.Int64()
	} else {
		lit.Big = n
	}
	return lit
}

func (p *Parser) parseString() *StringLiteral {
	pos := p.curToken.Pos
	value := p.curToken.Literal
	p.nextToken()
	return &StringLiteral{
		SpanVal: MakeSpan(pos, p.curToken.Pos),
		Value:   value,
	}
}

func (p *Parser) parseSymbol() *SymbolLiteral {
	pos := p.curToken.Pos
	value := p.curToken.Literal
	p.nextToken()
	return &SymbolLiteral{
		SpanVal: MakeSpan(pos, p.curToken.Pos),
		Value:   value,
	}
}

func (p *Parser) parseCharacter() *CharLiteral {
	pos := p.curToken.Pos
	value := []rune(p.curToken.Literal)[0]
	p.nextToken()
	return &CharLiteral{
		SpanVal: MakeSpan(pos, p.curToken.Pos),
		Value:   byte(value),
	}
}

func (p *Parser) parseLiteralArray() *ArrayLiteral {
	pos := p.curToken.Pos
	p.nextToken() // consume #( or (

	var elements []Expr
	for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
		elem := p.parseLiteralArrayElement()
		if elem != nil {
			elements = append(elements, elem)
		}
	}

	p.expect(TokenRParen)

	return &ArrayLiteral{
		SpanVal:  MakeSpan(pos, p.curToken.Pos),
		Elements: elements,
	}
}

func (p *Parser) parseLiteralArrayElement() Expr {
	switch p.curToken.Type {
	case TokenInteger:
		return p.parseInteger()
	case TokenString:
		return p.parseString()
	case TokenSymbol:
		return p.parseSymbol()
	case TokenCharacter:
		return p.parseCharacter()
	case TokenIdentifier:
		// In literal arrays, bare identifiers and keywords are symbols
		return p.parseSymbol()
	case TokenKeyword:
		// at:put: arrives as adjacent keyword tokens
		pos := p.curToken.Pos
		var sb strings.Builder
		for {
			sb.WriteString(p.curToken.Literal)
			end := p.curToken.Pos.Offset + len(p.curToken.Literal)
			if !p.peekTokenIs(TokenKeyword) || p.peekToken.Pos.Offset != end {
				break
			}
			p.nextToken()
		}
		p.nextToken()
		return &SymbolLiteral{SpanVal: MakeSpan(pos, p.curToken.Pos), Value: sb.String()}
	case TokenBinarySelector, TokenBar:
		// A '-' glued to a following integer is a negative literal
		if p.curToken.Literal == "-" && p.peekTokenIs(TokenInteger) &&
			p.peekToken.Pos.Offset == p.curToken.Pos.Offset+1 {
			p.nextToken()
			lit := p.parseInteger()
			if lit.Big != nil {
				lit.Big.Neg(lit.Big)
			} else {
				lit.Value = -lit.Value
			}
			return lit
		}
		return p.parseSymbol()
	case TokenHashLParen, TokenLParen:
		return p.parseLiteralArray()
	case TokenNil:
		return p.parseNil()
	case TokenTrue:
		return p.parseTrue()
	case TokenFalse:
		return p.parseFalse()
	default:
		p.errorf("unexpected token in literal array: %s", p.curToken)
		p.nextToken()
		return nil
	}
}

func (p *Parser) parseParenExpr() Expr {
	p.nextToken() // consume (
	expr := p.parseKeywordSend()
	if expr == nil {
		return nil
	}
	if !p.expect(TokenRParen) {
		return nil
	}
	return expr
}

func (p *Parser) parseDynamicArray() Expr {
	pos := p.curToken.Pos
	p.nextToken() // consume {

	var elements []Expr
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		elem := p.parseKeywordSend()
		if elem == nil {
			return nil
		}
		elements = append(elements, elem)
		if p.curTokenIs(TokenPeriod) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRBrace) {
			break
		}
	}

	if !p.expect(TokenRBrace) {
		return nil
	}

	return &DynamicArray{
		SpanVal:  MakeSpan(pos, p.curToken.Pos),
		Elements: elements,
	}
}

func (p *Parser) parseBlock() Expr {
	pos := p.curToken.Pos
	p.nextToken() // consume [

	// Parameters :x :y |
	var params []string
	for p.curTokenIs(TokenColon) {
		p.nextToken() // consume :
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name after :")
			return nil
		}
		params = append(params, p.curToken.Literal)
		p.nextToken()
	}
	if len(params) > 0 {
		// [:x] has no body
		if !p.curTokenIs(TokenRBracket) && !p.expect(TokenBar) {
			return nil
		}
	}

	var temps []string
	if p.curTokenIs(TokenBar) {
		temps = p.parseTemporaries()
	}

	stmts := p.ParseStatements()

	if !p.expect(TokenRBracket) {
		return nil
	}

	return &Block{
		SpanVal:    MakeSpan(pos, p.curToken.Pos),
		Parameters: params,
		Temps:      temps,
		Statements: stmts,
	}
}

func (p *Parser) parseIdentifier() Expr {
	pos := p.curToken.Pos
	name := p.curToken.Literal
	p.nextToken()

	if p.curTokenIs(TokenAssign) {
		p.nextToken() // consume :=
		value := p.parseKeywordSend()
		if value == nil {
			return nil
		}
		return &Assignment{
			SpanVal:  MakeSpan(pos, value.Span().End),
			Variable: name,
			Value:    value,
		}
	}

	return &Variable{
		SpanVal: MakeSpan(pos, p.curToken.Pos),
		Name:    name,
	}
}

func (p *Parser) parseSelf() *Self {
	pos := p.curToken.Pos
	p.nextToken()
	return &Self{SpanVal: MakeSpan(pos, p.curToken.Pos)}
}

func (p *Parser) parseSuper() *Super {
	pos := p.curToken.Pos
	p.nextToken()
	return &Super{SpanVal: MakeSpan(pos, p.curToken.Pos)}
}

func (p *Parser) parseThisContext() *ThisContext {
	pos := p.curToken.Pos
	p.nextToken()
	return &ThisContext{SpanVal: MakeSpan(pos, p.curToken.Pos)}
}

func (p *Parser) parseNil() *NilLiteral {
	pos := p.curToken.Pos
	p.nextToken()
	return &NilLiteral{SpanVal: MakeSpan(pos, p.curToken.Pos)}
}

func (p *Parser) parseTrue() *TrueLiteral {
	pos := p.curToken.Pos
	p.nextToken()
	return &TrueLiteral{SpanVal: MakeSpan(pos, p.curToken.Pos)}
}

func (p *Parser) parseFalse() *FalseLiteral {
	pos := p.curToken.Pos
	p.nextToken()
	return &FalseLiteral{SpanVal: MakeSpan(pos, p.curToken.Pos)}
}

// ---------------------------------------------------------------------------
// Source file parsing
// ---------------------------------------------------------------------------

// ParseSourceFile parses a file of class definitions, class extensions
// and top-level statements.
//
// File format:
//
//	Point subclass: Object
//	  instanceVars: x y
//	  method: x [ ^x ]
//	  classMethod: new [ ^super new setX: 0 y: 0 ]
//
//	Integer extend [
//	  method: double [ ^self * 2 ]
//	]
//
//	Transcript show: Point new x printString.
//
// A class body may also be enclosed in brackets. The marker finalizes
// asks for finalize to be sent to unreachable instances.
func (p *Parser) ParseSourceFile() *SourceFile {
	startPos := p.curToken.Pos
	sf := &SourceFile{}

	for !p.curTokenIs(TokenEOF) {
		defStart := p.curToken.Pos
		switch {
		case p.atClassDef():
			name := p.curToken.Literal
			p.nextToken()
			if classDef := p.parseClassDefBody(name, defStart); classDef != nil {
				sf.Definitions = append(sf.Definitions, classDef)
			}

		case p.atExtension():
			name := p.curToken.Literal
			p.nextToken()
			if classDef := p.parseExtension(name, defStart); classDef != nil {
				sf.Definitions = append(sf.Definitions, classDef)
			}

		default:
			doIt := p.parseTopLevelStatements()
			if doIt == nil {
				// Skip the offending token so parsing makes progress
				p.nextToken()
				continue
			}
			sf.Definitions = append(sf.Definitions, doIt)
		}
	}

	sf.SpanVal = MakeSpan(startPos, p.curToken.Pos)
	return sf
}

// atClassDef reports whether the tokens start Name subclass: Super.
func (p *Parser) atClassDef() bool {
	return p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenKeyword) && p.peekToken.Literal == "subclass:"
}

// atExtension reports whether the tokens start Name extend [.
func (p *Parser) atExtension() bool {
	return p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenIdentifier) && p.peekToken.Literal == "extend"
}

// parseTopLevelStatements parses period-separated statements up to the
// next definition or EOF.
func (p *Parser) parseTopLevelStatements() *DoIt {
	startPos := p.curToken.Pos
	doIt := &DoIt{}
	if p.curTokenIs(TokenBar) {
		doIt.Temps = p.parseTemporaries()
	}
	for !p.curTokenIs(TokenEOF) && !p.atClassDef() && !p.atExtension() {
		stmt := p.ParseStatement()
		if stmt == nil {
			return nil
		}
		doIt.Statements = append(doIt.Statements, stmt)
		if !p.curTokenIs(TokenPeriod) && !p.curTokenIs(TokenEOF) {
			p.errorf("expected . after top-level statement, got %s", p.curToken)
			return nil
		}
		for p.curTokenIs(TokenPeriod) {
			p.nextToken()
		}
	}
	doIt.SpanVal = MakeSpan(startPos, p.curToken.Pos)
	return doIt
}

// parseClassDefBody parses the body of a class definition after the class
// name.
func (p *Parser) parseClassDefBody(className string, startPos Position) *ClassDef {
	p.nextToken() // consume "subclass:"

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected superclass name after 'subclass:'")
		return nil
	}
	classDef := &ClassDef{
		Name:       className,
		Superclass: p.curToken.Literal,
	}
	p.nextToken()

	bracketed := p.curTokenIs(TokenLBracket)
	if bracketed {
		p.nextToken()
	}
	p.parseClassBody(classDef, bracketed)

	classDef.SpanVal = MakeSpan(startPos, p.curToken.Pos)
	return classDef
}

// parseExtension parses Name extend [ ... ].
func (p *Parser) parseExtension(className string, startPos Position) *ClassDef {
	p.nextToken() // consume "extend"
	if !p.expect(TokenLBracket) {
		return nil
	}
	classDef := &ClassDef{Name: className, Extend: true}
	p.parseClassBody(classDef, true)
	classDef.SpanVal = MakeSpan(startPos, p.curToken.Pos)
	return classDef
}

// parseClassBody parses instanceVars:, finalizes, method: and
// classMethod: entries. An unbracketed body ends at the first token that
// starts none of them.
func (p *Parser) parseClassBody(classDef *ClassDef, bracketed bool) {
	for !p.curTokenIs(TokenEOF) {
		if bracketed && p.curTokenIs(TokenRBracket) {
			p.nextToken()
			return
		}

		switch {
		case p.curTokenIs(TokenKeyword) && (p.curToken.Literal == "instanceVars:" || p.curToken.Literal == "instanceVariables:"):
			if classDef.Extend {
				p.errorf("an extension cannot add instance variables")
			}
			classDef.InstanceVariables = append(classDef.InstanceVariables, p.parseInstanceVars()...)

		case p.curTokenIs(TokenIdentifier) && p.curToken.Literal == "finalizes":
			classDef.Finalizes = true
			p.nextToken()

		case p.curTokenIs(TokenKeyword) && p.curToken.Literal == "method:":
			method := p.parseMethodInBrackets()
			if method == nil {
				return
			}
			classDef.Methods = append(classDef.Methods, method)

		case p.curTokenIs(TokenKeyword) && p.curToken.Literal == "classMethod:":
			method := p.parseMethodInBrackets()
			if method == nil {
				return
			}
			classDef.ClassMethods = append(classDef.ClassMethods, method)

		default:
			if bracketed {
				p.errorf("unexpected %s in body of %s", p.curToken, classDef.Name)
				p.nextToken()
				continue
			}
			return
		}
	}
	if bracketed {
		p.errorf("missing ] at end of %s", classDef.Name)
	}
}

// parseInstanceVars parses instance variable declarations.
// Format: instanceVars: name1 name2 name3
// OR:     instanceVariables: 'name1 name2 name3'
func (p *Parser) parseInstanceVars() []string {
	p.nextToken() // consume "instanceVars:" or "instanceVariables:"

	if p.curTokenIs(TokenString) {
		str := p.curToken.Literal
		p.nextToken()
		return strings.Fields(str)
	}

	var vars []string
	for p.curTokenIs(TokenIdentifier) && p.curToken.Literal != "finalizes" &&
		!p.atClassDef() && !p.atExtension() {
		vars = append(vars, p.curToken.Literal)
		p.nextToken()
	}
	return vars
}

// parseMethodInBrackets parses method: selector [body] or
// classMethod: selector [body].
func (p *Parser) parseMethodInBrackets() *MethodDef {
	startPos := p.curToken.Pos
	p.nextToken() // consume "method:" or "classMethod:"

	selector, params := p.parseMethodSignature()
	if selector == "" {
		return nil
	}
	if !p.curTokenIs(TokenLBracket) {
		p.errorf("expected '[' after method signature %s", selector)
		return nil
	}
	p.nextToken() // consume [

	m := &MethodDef{Selector: selector, Parameters: params}
	p.parseMethodBody(m)

	if !p.expect(TokenRBracket) {
		return nil
	}
	m.SpanVal = MakeSpan(startPos, p.curToken.Pos)
	return m
}
