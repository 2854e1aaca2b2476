// Package sexpr implements the Serializer interface spec.md §6 consumes:
// canonical s-expression encoding/decoding of atoms and values, following
// the normative grammar in spec.md §6 ("Atom s-expression grammar").
//
//	Node:  (<TypeName> "<name>")
//	Link:  (<TypeName> child1 child2 …)
//
// Whitespace is exactly one space between tokens; quotes escape with a
// backslash. This is the Serializer spec.md treats as an external
// collaborator — provided here as a concrete default so the module
// compiles, runs, and can be tested standalone.
package sexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/atomdht/atom"
)

// Codec implements the Serializer contract against atom.Space, the
// package's default GraphFacade, so that decoded atoms are interned into
// a caller-supplied space rather than built as orphan structs.
type Codec struct {
	Space *atom.Space
}

// New returns a Codec that interns decoded atoms into space.
func New(space *atom.Space) *Codec {
	return &Codec{Space: space}
}

// EncodeAtom renders a in canonical s-expression form.
func (c *Codec) EncodeAtom(a *atom.Atom) string {
	return a.Identity()
}

// DecodeAtom parses an atom starting at offset in s, returning the
// interned atom and the offset immediately past its closing paren.
func (c *Codec) DecodeAtom(s string, offset int) (*atom.Atom, int, error) {
	p := &parser{s: s, pos: offset}
	a, err := p.parseAtom()
	if err != nil {
		return nil, 0, err
	}
	return c.Space.AddAtom(a), p.pos, nil
}

// EncodeValue renders v in canonical s-expression form.
func (c *Codec) EncodeValue(v atom.Value) string {
	switch tv := v.(type) {
	case atom.TruthValue:
		return fmt.Sprintf("(TruthValue %s %s)", formatFloat(tv.Strength), formatFloat(tv.Confidence))
	case atom.FloatVector:
		var b strings.Builder
		b.WriteString("(FloatValue")
		for _, f := range tv {
			b.WriteByte(' ')
			b.WriteString(formatFloat(f))
		}
		b.WriteByte(')')
		return b.String()
	case atom.StringVector:
		var b strings.Builder
		b.WriteString("(StringValue")
		for _, s := range tv {
			b.WriteString(" \"")
			b.WriteString(escape(s))
			b.WriteString("\"")
		}
		b.WriteByte(')')
		return b.String()
	case atom.LinkValue:
		var b strings.Builder
		b.WriteString("(LinkValue")
		for _, e := range tv {
			b.WriteByte(' ')
			b.WriteString(c.EncodeValue(e))
		}
		b.WriteByte(')')
		return b.String()
	default:
		return ""
	}
}

// DecodeValue parses a single value s-expression.
func (c *Codec) DecodeValue(s string) (atom.Value, error) {
	p := &parser{s: s, pos: 0}
	return p.parseValue()
}

// EncodeAtomValues renders a's whole value map as an association list:
// "((<key-sexpr> . <value-sexpr>) …)", the VALUES record payload shape
// from spec.md §4.2.
func (c *Codec) EncodeAtomValues(a *atom.Atom) string {
	keys := a.Keys()
	if len(keys) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		v, _ := a.GetValue(k)
		b.WriteByte('(')
		b.WriteString(c.EncodeAtom(k))
		b.WriteString(" . ")
		b.WriteString(c.EncodeValue(v))
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}

// DecodeAlist parses an association-list payload and installs each
// (key, value) pair onto a's value map.
func (c *Codec) DecodeAlist(a *atom.Atom, s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	p := &parser{s: s, pos: 0}
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != '(' {
		return fmt.Errorf("sexpr: malformed alist %q", s)
	}
	p.pos++ // consume outer '('
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return fmt.Errorf("sexpr: unterminated alist %q", s)
		}
		if p.s[p.pos] == ')' {
			p.pos++
			return nil
		}
		if p.s[p.pos] != '(' {
			return fmt.Errorf("sexpr: malformed alist entry at %d in %q", p.pos, s)
		}
		p.pos++ // consume entry '('
		key, err := p.parseAtom()
		if err != nil {
			return err
		}
		p.skipSpace()
		if !strings.HasPrefix(p.s[p.pos:], ".") {
			return fmt.Errorf("sexpr: expected '.' separator at %d in %q", p.pos, s)
		}
		p.pos++
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return err
		}
		p.skipSpace()
		if p.pos >= len(p.s) || p.s[p.pos] != ')' {
			return fmt.Errorf("sexpr: unterminated alist entry at %d in %q", p.pos, s)
		}
		p.pos++ // consume entry ')'
		a.SetValue(c.Space.AddAtom(key), val)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
