package schema

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	xsdNamespace = "http://www.w3.org/2001/XMLSchema"
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"
	xmlNamespace = "http://www.w3.org/XML/1998/namespace"
)

type qname struct {
	Space string
	Local string
}

func (q qname) String() string {
	if q.Space == "" {
		return q.Local
	}
	return "{" + q.Space + "}" + q.Local
}

const unbounded = -1

type particleKind int

const (
	particleElement particleKind = iota
	particleSequence
	particleChoice
	particleAll
	particleAny
)

type particle struct {
	kind     particleKind
	min, max int
	elem     *elementDecl
	children []*particle
	wildcard *wildcard
}

type elementDecl struct {
	name     qname
	typ      *typeDef
	nillable bool
}

// typeDef is either simple or complex once compiled.
type typeDef struct {
	name      qname
	simple    *simpleType
	complex   *complexType
	compiling bool
}

type complexType struct {
	content *particle
	mixed   bool
	// text is set for simple content.
	text    *simpleType
	attrs   []*attrDecl
	anyAttr *wildcard
}

func (ct *complexType) attr(q qname) *attrDecl {
	for _, a := range ct.attrs {
		if a.name == q {
			return a
		}
	}
	return nil
}

// addAttr adds or replaces an attribute use. A prohibited use removes it.
func (ct *complexType) addAttr(a *attrDecl, prohibited bool) {
	for i, existing := range ct.attrs {
		if existing.name == a.name {
			if prohibited {
				ct.attrs = append(ct.attrs[:i], ct.attrs[i+1:]...)
			} else {
				ct.attrs[i] = a
			}
			return
		}
	}
	if !prohibited {
		ct.attrs = append(ct.attrs, a)
	}
}

type attrDecl struct {
	name     qname
	typ      *simpleType
	required bool
	fixed    *string
}

type wildcard struct {
	any     bool
	other   bool
	target  string
	allowed map[string]bool
	process string
}

func (w *wildcard) allows(ns string) bool {
	switch {
	case w.any:
		return true
	case w.other:
		return ns != w.target && ns != ""
	default:
		return w.allowed[ns]
	}
}

func (w *wildcard) String() string {
	switch {
	case w.any:
		return "##any"
	case w.other:
		return "##other"
	}
	var names []string
	for ns := range w.allowed {
		if ns == "" {
			ns = "##local"
		}
		names = append(names, ns)
	}
	return strings.Join(names, " ")
}

type simpleType struct {
	name     qname
	builtin  string
	base     *simpleType
	enum     []string
	patterns []*regexp.Regexp
	length   int
	minLen   int
	maxLen   int
	minIncl  *big.Rat
	maxIncl  *big.Rat
	minExcl  *big.Rat
	maxExcl  *big.Rat
	list     *simpleType
	union    []*simpleType
}

func newSimpleType(name qname) *simpleType {
	return &simpleType{name: name, length: -1, minLen: -1, maxLen: -1}
}

// primitive returns the built-in type the simple type derives from, or ""
// for list and union types.
func (st *simpleType) primitive() string {
	for t := st; t != nil; t = t.base {
		if t.builtin != "" {
			return t.builtin
		}
		if t.list != nil || t.union != nil {
			return ""
		}
	}
	return "anySimpleType"
}

func (st *simpleType) whitespace(value string) string {
	switch st.primitive() {
	case "string", "anySimpleType":
		return value
	case "normalizedString":
		return strings.Map(func(r rune) rune {
			if r == '\t' || r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, value)
	default:
		return strings.Join(strings.Fields(value), " ")
	}
}

// check validates a lexical value against the type and its facets.
func (st *simpleType) check(value string) error {
	switch {
	case st.builtin != "":
		if err := checkBuiltin(st.builtin, st.whitespace(value)); err != nil {
			return err
		}
	case st.list != nil:
		for _, item := range strings.Fields(value) {
			if err := st.list.check(item); err != nil {
				return fmt.Errorf("list item %q: %w", item, err)
			}
		}
	case st.union != nil:
		ok := false
		for _, member := range st.union {
			if member.check(value) == nil {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%q matches no member of the union", value)
		}
	case st.base != nil:
		if err := st.base.check(value); err != nil {
			return err
		}
	}
	return st.checkFacets(value)
}

func (st *simpleType) checkFacets(value string) error {
	v := st.whitespace(value)
	if st.list != nil {
		v = strings.Join(strings.Fields(value), " ")
	}

	if len(st.enum) > 0 {
		found := false
		for _, e := range st.enum {
			if e == v {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%q is not one of %s", v, strings.Join(st.enum, ", "))
		}
	}
	for _, re := range st.patterns {
		if !re.MatchString(v) {
			return fmt.Errorf("%q does not match pattern %s", v, re.String())
		}
	}

	if st.length >= 0 || st.minLen >= 0 || st.maxLen >= 0 {
		n := utf8.RuneCountInString(v)
		if st.list != nil {
			n = len(strings.Fields(v))
		}
		if st.length >= 0 && n != st.length {
			return fmt.Errorf("length %d, want %d", n, st.length)
		}
		if st.minLen >= 0 && n < st.minLen {
			return fmt.Errorf("length %d below minimum %d", n, st.minLen)
		}
		if st.maxLen >= 0 && n > st.maxLen {
			return fmt.Errorf("length %d above maximum %d", n, st.maxLen)
		}
	}

	if st.minIncl != nil || st.maxIncl != nil || st.minExcl != nil || st.maxExcl != nil {
		r, ok := new(big.Rat).SetString(v)
		if !ok {
			return fmt.Errorf("%q is not numeric", v)
		}
		if st.minIncl != nil && r.Cmp(st.minIncl) < 0 {
			return fmt.Errorf("%s below minimum %s", v, st.minIncl.RatString())
		}
		if st.maxIncl != nil && r.Cmp(st.maxIncl) > 0 {
			return fmt.Errorf("%s above maximum %s", v, st.maxIncl.RatString())
		}
		if st.minExcl != nil && r.Cmp(st.minExcl) <= 0 {
			return fmt.Errorf("%s not above %s", v, st.minExcl.RatString())
		}
		if st.maxExcl != nil && r.Cmp(st.maxExcl) >= 0 {
			return fmt.Errorf("%s not below %s", v, st.maxExcl.RatString())
		}
	}
	return nil
}

// describe renders a content model for diagnostics, e.g.
// "(EventID?, (Syslog | Logger | Custom), Manifest?)".
func describe(p *particle) string {
	if p == nil {
		return "empty"
	}
	var s string
	switch p.kind {
	case particleElement:
		s = p.elem.name.Local
	case particleAny:
		s = "any(" + p.wildcard.String() + ")"
	default:
		sep := ", "
		switch p.kind {
		case particleChoice:
			sep = " | "
		case particleAll:
			sep = " & "
		}
		parts := make([]string, 0, len(p.children))
		for _, c := range p.children {
			parts = append(parts, describe(c))
		}
		s = "(" + strings.Join(parts, sep) + ")"
	}
	switch {
	case p.min == 1 && p.max == 1:
	case p.min == 0 && p.max == 1:
		s += "?"
	case p.min == 0 && p.max == unbounded:
		s += "*"
	case p.min == 1 && p.max == unbounded:
		s += "+"
	case p.max == unbounded:
		s += fmt.Sprintf("{%d,}", p.min)
	default:
		s += fmt.Sprintf("{%d,%d}", p.min, p.max)
	}
	return s
}
