package formula

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokDot
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
	num  float64
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch c {
	case '+':
		l.pos++
		return token{kind: tokPlus, text: "+", pos: start}, nil
	case '-':
		l.pos++
		return token{kind: tokMinus, text: "-", pos: start}, nil
	case '*':
		l.pos++
		return token{kind: tokStar, text: "*", pos: start}, nil
	case '/':
		l.pos++
		return token{kind: tokSlash, text: "/", pos: start}, nil
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '[':
		l.pos++
		return token{kind: tokLBracket, text: "[", pos: start}, nil
	case ']':
		l.pos++
		return token{kind: tokRBracket, text: "]", pos: start}, nil
	case '.':
		// A dot starting a number (".5") belongs to the literal.
		if l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
			return l.lexNumber()
		}
		l.pos++
		return token{kind: tokDot, text: ".", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	}
	if isDigit(c) {
		return l.lexNumber()
	}
	if isAlpha(c) {
		for l.pos < len(l.src) && (isAlpha(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	}
	return token{}, &CompileError{Src: l.src, Pos: start, Reason: fmt.Sprintf("unexpected character %q", c)}
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	// exponent
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		save := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		} else {
			l.pos = save
		}
	}
	text := l.src[start:l.pos]
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, &CompileError{Src: l.src, Pos: start, Reason: fmt.Sprintf("bad number %q", text)}
	}
	return token{kind: tokNumber, text: text, pos: start, num: v}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// --- recursive descent parser ---

var particleFields = map[string]struct{}{
	"e": {}, "px": {}, "py": {}, "pz": {}, "pt": {}, "eta": {}, "phi": {},
	"m": {}, "p": {}, "rapidity": {}, "theta": {}, "pdgid": {}, "status": {},
}

var functionArity = map[string]int{
	"abs": 1, "sqrt": 1, "log": 1, "exp": 1, "cos": 1, "sin": 1,
	"atan2": 2, "min": 2, "max": 2,
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		return p.errorf("expected %s, got %q", what, p.tok.text)
	}
	return p.advance()
}

func (p *parser) errorf(format string, args ...any) error {
	return &CompileError{Src: p.lex.src, Pos: p.tok.pos, Reason: fmt.Sprintf(format, args...)}
}

// parseExpr := term (('+'|'-') term)*
func (p *parser) parseExpr() (node, error) {
	lhs, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokPlus || p.tok.kind == tokMinus {
		op := byte('+')
		if p.tok.kind == tokMinus {
			op = '-'
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		lhs = binary{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

// parseTerm := factor (('*'|'/') factor)*
func (p *parser) parseTerm() (node, error) {
	lhs, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokStar || p.tok.kind == tokSlash {
		op := byte('*')
		if p.tok.kind == tokSlash {
			op = '/'
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		lhs = binary{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

// parseFactor := '-' factor | primary
func (p *parser) parseFactor() (node, error) {
	if p.tok.kind == tokMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		arg, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return unary{op: '-', arg: arg}, nil
	}
	return p.parsePrimary()
}

// parsePrimary := NUMBER | '(' expr ')' | IDENT callOrAccess
func (p *parser) parsePrimary() (node, error) {
	switch p.tok.kind {
	case tokNumber:
		n := literal(p.tok.num)
		return n, p.advance()
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return inner, p.expect(tokRParen, "')'")
	case tokIdent:
		return p.parseIdent()
	case tokEOF:
		return nil, p.errorf("unexpected end of formula")
	default:
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
}

func (p *parser) parseIdent() (node, error) {
	name := strings.ToLower(p.tok.text)
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch {
	case name == "nparticles":
		return nparticles{}, nil
	case name == "p" && p.tok.kind == tokLBracket:
		return p.parseParticleAccess()
	default:
		arity, ok := functionArity[name]
		if !ok {
			return nil, p.errorf("unknown identifier %q", name)
		}
		if err := p.expect(tokLParen, "'(' after function name"); err != nil {
			return nil, err
		}
		args := make([]node, 0, arity)
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		if len(args) != arity {
			return nil, p.errorf("%s takes %d argument(s), got %d", name, arity, len(args))
		}
		return call{name: name, args: args}, nil
	}
}

// parseParticleAccess := '[' expr ']' '.' FIELD
func (p *parser) parseParticleAccess() (node, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	index, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRBracket, "']'"); err != nil {
		return nil, err
	}
	if err := p.expect(tokDot, "'.' after particle index"); err != nil {
		return nil, err
	}
	if p.tok.kind != tokIdent {
		return nil, p.errorf("expected particle field, got %q", p.tok.text)
	}
	field := strings.ToLower(p.tok.text)
	if _, ok := particleFields[field]; !ok {
		return nil, p.errorf("unknown particle field %q", field)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return particleField{src: p.lex.src, index: index, field: field}, nil
}
