package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Smalltalk lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42, 16rFF, 2r1010, -7
	TokenString     // 'hello'
	TokenSymbol     // #foo, #'hello world', #+, #at:put:
	TokenCharacter  // $a
	TokenIdentifier // foo, Bar

	// Keywords and selectors
	TokenKeyword        // foo:
	TokenBinarySelector // +, -, *, /, <, >, =, @, etc.

	// Delimiters
	TokenLParen     // (
	TokenRParen     // )
	TokenLBracket   // [
	TokenRBracket   // ]
	TokenLBrace     // {
	TokenRBrace     // }
	TokenHashLParen // #(
	TokenCaret      // ^
	TokenPeriod     // .
	TokenSemicolon  // ;
	TokenAssign     // :=
	TokenColon      // :
	TokenBar        // |

	// Reserved identifiers
	TokenSelf
	TokenSuper
	TokenNil
	TokenTrue
	TokenFalse
	TokenThisContext
)

var tokenNames = map[TokenType]string{
	TokenEOF:            "EOF",
	TokenError:          "ERROR",
	TokenInteger:        "INTEGER",
	TokenString:         "STRING",
	TokenSymbol:         "SYMBOL",
	TokenCharacter:      "CHARACTER",
	TokenIdentifier:     "IDENTIFIER",
	TokenKeyword:        "KEYWORD",
	TokenBinarySelector: "BINARY",
	TokenLParen:         "(",
	TokenRParen:         ")",
	TokenLBracket:       "[",
	TokenRBracket:       "]",
	TokenLBrace:         "{",
	TokenRBrace:         "}",
	TokenHashLParen:     "#(",
	TokenCaret:          "^",
	TokenPeriod:         ".",
	TokenSemicolon:      ";",
	TokenAssign:         ":=",
	TokenColon:          ":",
	TokenBar:            "|",
	TokenSelf:           "self",
	TokenSuper:          "super",
	TokenNil:            "nil",
	TokenTrue:           "true",
	TokenFalse:          "false",
	TokenThisContext:    "thisContext",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text; the decoded value for strings, symbols and characters
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"self":        TokenSelf,
	"super":       TokenSuper,
	"nil":         TokenNil,
	"true":        TokenTrue,
	"false":       TokenFalse,
	"thisContext": TokenThisContext,
}

// IsBinaryChar returns true if r is a valid binary selector character.
func IsBinaryChar(r rune) bool {
	switch r {
	case '+', '-', '*', '/', '\\', '~', '<', '>', '=', '@', '%', '|', '&', '?', '!', ',':
		return true
	}
	return false
}
