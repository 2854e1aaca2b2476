package sexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/atomdht/atom"
)

// parser is a small hand-written recursive-descent reader for the atom
// and value s-expression grammars. It is not exported: callers go through
// Codec's Encode/Decode methods.
type parser struct {
	s   string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && p.s[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseToken() string {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == ' ' || c == '(' || c == ')' {
			break
		}
		p.pos++
	}
	return p.s[start:p.pos]
}

// parseAtom parses "(Type "name")" or "(Type child1 child2 …)" starting
// at the opening paren.
func (p *parser) parseAtom() (*atom.Atom, error) {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != '(' {
		return nil, fmt.Errorf("sexpr: expected '(' at %d in %q", p.pos, p.s)
	}
	p.pos++ // consume '('
	p.skipSpace()
	typ := p.parseToken()
	if typ == "" {
		return nil, fmt.Errorf("sexpr: missing type name at %d in %q", p.pos, p.s)
	}
	p.skipSpace()

	if p.pos < len(p.s) && p.s[p.pos] == '"' {
		name, err := p.parseQuoted()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.s) || p.s[p.pos] != ')' {
			return nil, fmt.Errorf("sexpr: unterminated node at %d in %q", p.pos, p.s)
		}
		p.pos++ // consume ')'
		return atom.NewNode(typ, name), nil
	}

	var outgoing []*atom.Atom
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("sexpr: unterminated link at %d in %q", p.pos, p.s)
		}
		if p.s[p.pos] == ')' {
			p.pos++ // consume ')'
			return atom.NewLink(typ, outgoing), nil
		}
		child, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		outgoing = append(outgoing, child)
	}
}

func (p *parser) parseQuoted() (string, error) {
	if p.s[p.pos] != '"' {
		return "", fmt.Errorf("sexpr: expected '\"' at %d in %q", p.pos, p.s)
	}
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\\' && p.pos+1 < len(p.s) {
			b.WriteByte(p.s[p.pos+1])
			p.pos += 2
			continue
		}
		if c == '"' {
			p.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", fmt.Errorf("sexpr: unterminated string literal in %q", p.s)
}

// parseValue parses one of (TruthValue a b), (FloatValue a b …),
// (StringValue "a" "b" …), (LinkValue v1 v2 …).
func (p *parser) parseValue() (atom.Value, error) {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != '(' {
		return nil, fmt.Errorf("sexpr: expected '(' at %d in %q", p.pos, p.s)
	}
	p.pos++
	p.skipSpace()
	kind := p.parseToken()
	switch kind {
	case "TruthValue":
		p.skipSpace()
		strength, err := p.parseFloat()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		confidence, err := p.parseFloat()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expectClose(); err != nil {
			return nil, err
		}
		return atom.TruthValue{Strength: strength, Confidence: confidence}, nil
	case "FloatValue":
		var fv atom.FloatVector
		for {
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == ')' {
				p.pos++
				return fv, nil
			}
			f, err := p.parseFloat()
			if err != nil {
				return nil, err
			}
			fv = append(fv, f)
		}
	case "StringValue":
		var sv atom.StringVector
		for {
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == ')' {
				p.pos++
				return sv, nil
			}
			str, err := p.parseQuoted()
			if err != nil {
				return nil, err
			}
			sv = append(sv, str)
		}
	case "LinkValue":
		var lv atom.LinkValue
		for {
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == ')' {
				p.pos++
				return lv, nil
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			lv = append(lv, v)
		}
	default:
		return nil, fmt.Errorf("sexpr: unknown value kind %q in %q", kind, p.s)
	}
}

func (p *parser) parseFloat() (float64, error) {
	tok := p.parseToken()
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("sexpr: bad float %q: %w", tok, err)
	}
	return f, nil
}

func (p *parser) expectClose() error {
	if p.pos >= len(p.s) || p.s[p.pos] != ')' {
		return fmt.Errorf("sexpr: expected ')' at %d in %q", p.pos, p.s)
	}
	p.pos++
	return nil
}
