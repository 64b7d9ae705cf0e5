package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Smalltalk syntax
// ---------------------------------------------------------------------------

// Lexer tokenizes Smalltalk source code.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)

	// last is the type of the previous token; a '-' directly before a
	// digit starts a negative literal only where an operand is expected.
	last TokenType
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
		last:  TokenEOF,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	tok := l.next()
	l.last = tok.Type
	return tok
}

func (l *Lexer) next() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}

	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}

	case l.ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}

	case l.ch == '{':
		l.readChar()
		return Token{Type: TokenLBrace, Literal: "{", Pos: pos}

	case l.ch == '}':
		l.readChar()
		return Token{Type: TokenRBrace, Literal: "}", Pos: pos}

	case l.ch == '^':
		l.readChar()
		return Token{Type: TokenCaret, Literal: "^", Pos: pos}

	case l.ch == '.':
		l.readChar()
		return Token{Type: TokenPeriod, Literal: ".", Pos: pos}

	case l.ch == ';':
		l.readChar()
		return Token{Type: TokenSemicolon, Literal: ";", Pos: pos}

	case l.ch == ':':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenAssign, Literal: ":=", Pos: pos}
		}
		return Token{Type: TokenColon, Literal: ":", Pos: pos}

	case l.ch == '|':
		l.readChar()
		return Token{Type: TokenBar, Literal: "|", Pos: pos}

	case l.ch == '#':
		return l.readHashToken(pos)

	case l.ch == '\'':
		return l.readString(pos)

	case l.ch == '$':
		return l.readCharacter(pos)

	case isDigit(l.ch):
		return l.readNumber(pos)

	case l.ch == '-' && isDigit(l.peekChar()) && !l.afterOperand():
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		return l.readIdentifierOrKeyword(pos)

	case IsBinaryChar(l.ch):
		return l.readBinarySelector(pos)

	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %c", ch), Pos: pos}
	}
}

// afterOperand reports whether the previous token ends an operand, in
// which case '-' is a binary selector.
func (l *Lexer) afterOperand() bool {
	switch l.last {
	case TokenInteger, TokenString, TokenSymbol, TokenCharacter, TokenIdentifier,
		TokenRParen, TokenRBracket, TokenRBrace,
		TokenSelf, TokenSuper, TokenNil, TokenTrue, TokenFalse, TokenThisContext:
		return true
	}
	return false
}

// skipWhitespaceAndComments skips whitespace, "..." comments and # line
// comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}

		if l.ch == '"' {
			l.readChar()
			for l.ch != '"' && l.ch != 0 {
				l.readChar()
			}
			if l.ch == '"' {
				l.readChar()
			}
			continue
		}

		// Hash comments: # followed by whitespace or EOF
		if l.ch == '#' {
			peek := l.peekChar()
			if peek == ' ' || peek == '\t' || peek == '\n' || peek == '\r' || peek == 0 {
				for l.ch != '\n' && l.ch != 0 {
					l.readChar()
				}
				continue
			}
		}

		break
	}
}

// readHashToken reads a token starting with #.
func (l *Lexer) readHashToken(pos Position) Token {
	l.readChar() // consume #

	switch {
	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenHashLParen, Literal: "#(", Pos: pos}

	case l.ch == '\'':
		// #'hello world'
		s, ok := l.readQuoted()
		if !ok {
			return Token{Type: TokenError, Literal: "unterminated symbol", Pos: pos}
		}
		return Token{Type: TokenSymbol, Literal: s, Pos: pos}

	case isLetter(l.ch) || l.ch == '_':
		return l.readSymbol(pos)

	case IsBinaryChar(l.ch):
		// #+, #->, #~=
		start := l.pos
		for IsBinaryChar(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenSymbol, Literal: l.input[start:l.pos], Pos: pos}

	default:
		return Token{Type: TokenError, Literal: "bare #", Pos: pos}
	}
}

// readSymbol reads a symbol starting with a letter: #foo or #at:put:.
func (l *Lexer) readSymbol(pos Position) Token {
	start := l.pos
	for {
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		if l.ch == ':' && l.peekChar() != '=' {
			l.readChar()
			if isLetter(l.ch) || l.ch == '_' {
				continue
			}
		}
		break
	}
	return Token{Type: TokenSymbol, Literal: l.input[start:l.pos], Pos: pos}
}

// readQuoted reads a '...' body with doubled quotes as escapes. ok is
// false when the input ends first.
func (l *Lexer) readQuoted() (string, bool) {
	l.readChar() // consume opening '

	var sb strings.Builder
	for l.ch != 0 {
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				sb.WriteRune('\'')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // consume closing '
			return sb.String(), true
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	return sb.String(), false
}

// readString reads a string literal.
func (l *Lexer) readString(pos Position) Token {
	s, ok := l.readQuoted()
	if !ok {
		return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
	}
	return Token{Type: TokenString, Literal: s, Pos: pos}
}

// readCharacter reads a character literal. Characters are bytes, so only
// code points below 256 are accepted.
func (l *Lexer) readCharacter(pos Position) Token {
	l.readChar() // consume $

	if l.ch == 0 {
		return Token{Type: TokenError, Literal: "unexpected EOF in character literal", Pos: pos}
	}
	ch := l.ch
	l.readChar()
	if ch > 0xFF {
		return Token{Type: TokenError, Literal: fmt.Sprintf("character %U out of range", ch), Pos: pos}
	}
	return Token{Type: TokenCharacter, Literal: string(rune(ch)), Pos: pos}
}

// readNumber reads an integer literal: 42, -7, 16rFF, 36rZZ.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos

	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == 'r' && (isRadixDigit(l.peekChar()) || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '-' {
			l.readChar()
		}
		for isRadixDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

// readIdentifierOrKeyword reads an identifier, a reserved word or a
// keyword part.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos

	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[start:l.pos]

	if l.ch == ':' && l.peekChar() != '=' {
		l.readChar()
		return Token{Type: TokenKeyword, Literal: literal + ":", Pos: pos}
	}
	if tokType, ok := reservedWords[literal]; ok {
		return Token{Type: tokType, Literal: literal, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: literal, Pos: pos}
}

// readBinarySelector reads a binary selector. A '-' followed by a digit
// ends the selector so that x<-1 reads as x < -1.
func (l *Lexer) readBinarySelector(pos Position) Token {
	start := l.pos

	l.readChar()
	for IsBinaryChar(l.ch) && l.ch != '|' {
		if l.ch == '-' && isDigit(l.peekChar()) {
			break
		}
		l.readChar()
	}
	return Token{Type: TokenBinarySelector, Literal: l.input[start:l.pos], Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isRadixDigit(r rune) bool {
	return isDigit(r) || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

// Tokenize returns all tokens from the input.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}
