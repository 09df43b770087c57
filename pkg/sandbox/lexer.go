package sandbox

import "strings"

type TokenType int

const (
	TOKEN_INT TokenType = iota
	TOKEN_FLOAT
	TOKEN_STRING
	TOKEN_IDENT
	TOKEN_TRUE
	TOKEN_FALSE
	TOKEN_NULL

	TOKEN_LET
	TOKEN_IF
	TOKEN_ELSE
	TOKEN_FUNCTION
	TOKEN_RETURN

	TOKEN_ASSIGN
	TOKEN_PLUS
	TOKEN_MINUS
	TOKEN_MULTIPLY
	TOKEN_DIVIDE
	TOKEN_MODULO
	TOKEN_EQ
	TOKEN_NEQ
	TOKEN_LT
	TOKEN_GT
	TOKEN_LTE
	TOKEN_GTE
	TOKEN_AND
	TOKEN_OR
	TOKEN_NOT

	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACE
	TOKEN_RBRACE
	TOKEN_LBRACKET
	TOKEN_RBRACKET
	TOKEN_COMMA
	TOKEN_SEMICOLON
	TOKEN_COLON
	TOKEN_DOT

	TOKEN_EOF
	TOKEN_ILLEGAL
)

var tokenNames = map[TokenType]string{
	TOKEN_INT:       "INT",
	TOKEN_FLOAT:     "FLOAT",
	TOKEN_STRING:    "STRING",
	TOKEN_IDENT:     "IDENT",
	TOKEN_TRUE:      "true",
	TOKEN_FALSE:     "false",
	TOKEN_NULL:      "null",
	TOKEN_LET:       "let",
	TOKEN_IF:        "if",
	TOKEN_ELSE:      "else",
	TOKEN_FUNCTION:  "fn",
	TOKEN_RETURN:    "return",
	TOKEN_ASSIGN:    "=",
	TOKEN_PLUS:      "+",
	TOKEN_MINUS:     "-",
	TOKEN_MULTIPLY:  "*",
	TOKEN_DIVIDE:    "/",
	TOKEN_MODULO:    "%",
	TOKEN_EQ:        "==",
	TOKEN_NEQ:       "!=",
	TOKEN_LT:        "<",
	TOKEN_GT:        ">",
	TOKEN_LTE:       "<=",
	TOKEN_GTE:       ">=",
	TOKEN_AND:       "&&",
	TOKEN_OR:        "||",
	TOKEN_NOT:       "!",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_LBRACE:    "{",
	TOKEN_RBRACE:    "}",
	TOKEN_LBRACKET:  "[",
	TOKEN_RBRACKET:  "]",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_COLON:     ":",
	TOKEN_DOT:       ".",
	TOKEN_EOF:       "EOF",
	TOKEN_ILLEGAL:   "ILLEGAL",
}

func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return "UNKNOWN"
}

type Token struct {
	Type    TokenType
	Literal string
	Line    int
}

var keywords = map[string]TokenType{
	"let":    TOKEN_LET,
	"if":     TOKEN_IF,
	"else":   TOKEN_ELSE,
	"fn":     TOKEN_FUNCTION,
	"return": TOKEN_RETURN,
	"true":   TOKEN_TRUE,
	"false":  TOKEN_FALSE,
	"null":   TOKEN_NULL,
}

type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
	line         int
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	if l.ch == '\n' {
		l.line++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) skipComment() {
	for l.ch != '\n' && l.ch != 0 {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber() (TokenType, string) {
	position := l.position
	dotFound := false
	for isDigit(l.ch) || l.ch == '.' {
		if l.ch == '.' {
			if dotFound || !isDigit(l.peekChar()) {
				break
			}
			dotFound = true
		}
		l.readChar()
	}
	if dotFound {
		return TOKEN_FLOAT, l.input[position:l.position]
	}
	return TOKEN_INT, l.input[position:l.position]
}

func (l *Lexer) readString(quote byte) string {
	var out strings.Builder
	for {
		l.readChar()
		if l.ch == quote || l.ch == 0 {
			break
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case '\'':
				out.WriteByte('\'')
			case '"':
				out.WriteByte('"')
			case '\\':
				out.WriteByte('\\')
			default:
				out.WriteByte('\\')
				out.WriteByte(l.ch)
			}
		} else {
			out.WriteByte(l.ch)
		}
	}
	return out.String()
}

func (l *Lexer) NextToken() Token {
	var tok Token

	for {
		l.skipWhitespace()
		if l.ch == '/' && l.peekChar() == '/' {
			l.skipComment()
			continue
		}
		if l.ch == '#' {
			l.skipComment()
			continue
		}
		break
	}

	tok.Line = l.line

	switch l.ch {
	case '=':
		if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TOKEN_EQ, Literal: string(ch) + string(l.ch), Line: tok.Line}
		} else {
			tok = Token{Type: TOKEN_ASSIGN, Literal: string(l.ch), Line: tok.Line}
		}
	case '+':
		tok = Token{Type: TOKEN_PLUS, Literal: string(l.ch), Line: tok.Line}
	case '-':
		tok = Token{Type: TOKEN_MINUS, Literal: string(l.ch), Line: tok.Line}
	case '*':
		tok = Token{Type: TOKEN_MULTIPLY, Literal: string(l.ch), Line: tok.Line}
	case '/':
		tok = Token{Type: TOKEN_DIVIDE, Literal: string(l.ch), Line: tok.Line}
	case '%':
		tok = Token{Type: TOKEN_MODULO, Literal: string(l.ch), Line: tok.Line}
	case '!':
		if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TOKEN_NEQ, Literal: string(ch) + string(l.ch), Line: tok.Line}
		} else {
			tok = Token{Type: TOKEN_NOT, Literal: string(l.ch), Line: tok.Line}
		}
	case '<':
		if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TOKEN_LTE, Literal: string(ch) + string(l.ch), Line: tok.Line}
		} else {
			tok = Token{Type: TOKEN_LT, Literal: string(l.ch), Line: tok.Line}
		}
	case '>':
		if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TOKEN_GTE, Literal: string(ch) + string(l.ch), Line: tok.Line}
		} else {
			tok = Token{Type: TOKEN_GT, Literal: string(l.ch), Line: tok.Line}
		}
	case '&':
		if l.peekChar() == '&' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TOKEN_AND, Literal: string(ch) + string(l.ch), Line: tok.Line}
		} else {
			tok = Token{Type: TOKEN_ILLEGAL, Literal: string(l.ch), Line: tok.Line}
		}
	case '|':
		if l.peekChar() == '|' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TOKEN_OR, Literal: string(ch) + string(l.ch), Line: tok.Line}
		} else {
			tok = Token{Type: TOKEN_ILLEGAL, Literal: string(l.ch), Line: tok.Line}
		}
	case '(':
		tok = Token{Type: TOKEN_LPAREN, Literal: string(l.ch), Line: tok.Line}
	case ')':
		tok = Token{Type: TOKEN_RPAREN, Literal: string(l.ch), Line: tok.Line}
	case '{':
		tok = Token{Type: TOKEN_LBRACE, Literal: string(l.ch), Line: tok.Line}
	case '}':
		tok = Token{Type: TOKEN_RBRACE, Literal: string(l.ch), Line: tok.Line}
	case '[':
		tok = Token{Type: TOKEN_LBRACKET, Literal: string(l.ch), Line: tok.Line}
	case ']':
		tok = Token{Type: TOKEN_RBRACKET, Literal: string(l.ch), Line: tok.Line}
	case ',':
		tok = Token{Type: TOKEN_COMMA, Literal: string(l.ch), Line: tok.Line}
	case ';':
		tok = Token{Type: TOKEN_SEMICOLON, Literal: string(l.ch), Line: tok.Line}
	case ':':
		tok = Token{Type: TOKEN_COLON, Literal: string(l.ch), Line: tok.Line}
	case '.':
		tok = Token{Type: TOKEN_DOT, Literal: string(l.ch), Line: tok.Line}
	case '"':
		tok.Type = TOKEN_STRING
		tok.Literal = l.readString('"')
	case '\'':
		tok.Type = TOKEN_STRING
		tok.Literal = l.readString('\'')
	case 0:
		tok.Literal = ""
		tok.Type = TOKEN_EOF
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = lookupIdent(tok.Literal)
			return tok
		} else if isDigit(l.ch) {
			tok.Type, tok.Literal = l.readNumber()
			return tok
		}
		tok = Token{Type: TOKEN_ILLEGAL, Literal: string(l.ch), Line: tok.Line}
	}

	l.readChar()
	return tok
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func lookupIdent(ident string) TokenType {
	if tt, ok := keywords[ident]; ok {
		return tt
	}
	return TOKEN_IDENT
}
