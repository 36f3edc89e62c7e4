package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokNull
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var keywords = map[string]tokenKind{
	"true":  tokTrue,
	"false": tokFalse,
	"null":  tokNull,
	"nil":   tokNull,
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
}

func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '&' || r == '|':
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, fmt.Errorf("unexpected %q at %d", r, i)
			}
			kind := tokAnd
			if r == '|' {
				kind = tokOr
			}
			tokens = append(tokens, token{kind: kind, text: string([]rune{r, r}), pos: i})
			i += 2
		case r == '=' || r == '!' || r == '<' || r == '>':
			tok, n, err := lexOperator(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += n
		case r == '"' || r == '\'':
			tok, n, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += n
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", text, start)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: f, pos: start})
		case isIdentStart(r):
			start := i
			for i < len(runes) && (isIdentPart(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			if strings.HasSuffix(text, ".") || strings.Contains(text, "..") {
				return nil, fmt.Errorf("invalid identifier %q at %d", text, start)
			}
			kind, ok := keywords[text]
			if !ok {
				kind = tokIdent
			}
			tokens = append(tokens, token{kind: kind, text: text, pos: start})
		default:
			return nil, fmt.Errorf("unexpected %q at %d", r, i)
		}
	}

	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}

func lexOperator(runes []rune, i int) (token, int, error) {
	r := runes[i]
	eq := i+1 < len(runes) && runes[i+1] == '='
	switch {
	case r == '=' && eq:
		return token{kind: tokEq, text: "==", pos: i}, 2, nil
	case r == '!' && eq:
		return token{kind: tokNeq, text: "!=", pos: i}, 2, nil
	case r == '!':
		return token{kind: tokNot, text: "!", pos: i}, 1, nil
	case r == '<' && eq:
		return token{kind: tokLte, text: "<=", pos: i}, 2, nil
	case r == '<':
		return token{kind: tokLt, text: "<", pos: i}, 1, nil
	case r == '>' && eq:
		return token{kind: tokGte, text: ">=", pos: i}, 2, nil
	case r == '>':
		return token{kind: tokGt, text: ">", pos: i}, 1, nil
	}
	return token{}, 0, fmt.Errorf("unexpected %q at %d", r, i)
}

func lexString(runes []rune, i int) (token, int, error) {
	quote := runes[i]
	var sb strings.Builder
	j := i + 1
	for j < len(runes) {
		r := runes[j]
		if r == '\\' && j+1 < len(runes) {
			sb.WriteRune(runes[j+1])
			j += 2
			continue
		}
		if r == quote {
			return token{kind: tokString, text: sb.String(), pos: i}, j - i + 1, nil
		}
		sb.WriteRune(r)
		j++
	}
	return token{}, 0, fmt.Errorf("unterminated string at %d", i)
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '-'
}
