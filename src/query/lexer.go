package query

import (
	"fmt"
	"strings"

	"dictstore/src/models"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenOperator
	tokenCast
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// tokenize breaks a filter expression into tokens while preserving
// quoted strings. Single and double quotes both delimit string
// literals; a doubled quote inside the literal escapes it.
func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := input[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		if ch == '\'' || ch == '"' {
			quote := ch
			var sb strings.Builder
			start := i
			i++
			closed := false
			for i < len(input) {
				if input[i] == quote {
					if i+1 < len(input) && input[i+1] == quote {
						sb.WriteByte(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(input[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at position %d", models.ErrQuerySyntax, start)
			}
			tokens = append(tokens, token{kind: tokenString, text: sb.String(), pos: start})
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
			continue
		case '[':
			tokens = append(tokens, token{kind: tokenLBracket, text: "[", pos: i})
			i++
			continue
		case ']':
			tokens = append(tokens, token{kind: tokenRBracket, text: "]", pos: i})
			i++
			continue
		case ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++
			continue
		}

		if ch == ':' {
			if i+1 < len(input) && input[i+1] == ':' {
				start := i
				i += 2
				j := i
				for j < len(input) && isIdentChar(input[j]) {
					j++
				}
				if j == i {
					return nil, fmt.Errorf("%w: missing type name after '::' at position %d", models.ErrQuerySyntax, start)
				}
				tokens = append(tokens, token{kind: tokenCast, text: input[i:j], pos: start})
				i = j
				continue
			}
			return nil, fmt.Errorf("%w: unexpected ':' at position %d", models.ErrQuerySyntax, i)
		}

		if ch == '=' {
			tokens = append(tokens, token{kind: tokenOperator, text: "=", pos: i})
			i++
			continue
		}
		if ch == '!' || ch == '<' || ch == '>' {
			start := i
			op := string(ch)
			i++
			if i < len(input) && input[i] == '=' {
				op += "="
				i++
			}
			if op == "!" {
				return nil, fmt.Errorf("%w: unexpected '!' at position %d", models.ErrQuerySyntax, start)
			}
			tokens = append(tokens, token{kind: tokenOperator, text: op, pos: start})
			continue
		}

		if isDigit(ch) || (ch == '-' && i+1 < len(input) && isDigit(input[i+1])) {
			start := i
			i++
			for i < len(input) && (isDigit(input[i]) || input[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: input[start:i], pos: start})
			continue
		}

		if isIdentStart(ch) {
			start := i
			for i < len(input) && (isIdentChar(input[i]) || input[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: input[start:i], pos: start})
			continue
		}

		return nil, fmt.Errorf("%w: unexpected character %q at position %d", models.ErrQuerySyntax, string(ch), i)
	}

	tokens = append(tokens, token{kind: tokenEOF, text: "", pos: len(input)})
	return tokens, nil
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
