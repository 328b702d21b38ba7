package schema

import (
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/gojal/xmldoc"
)

// maxDiagnostics bounds the number of violations collected for one document.
const maxDiagnostics = 64

type validation struct {
	set   *compiledSet
	diags []Diagnostic
	ids   map[string]bool
}

func (v *validation) report(el *etree.Element, expected, actual string) {
	if len(v.diags) >= maxDiagnostics {
		return
	}
	v.diags = append(v.diags, Diagnostic{Path: xmldoc.Path(el), Expected: expected, Actual: actual})
}

func elementName(el *etree.Element) qname {
	return qname{Space: el.NamespaceURI(), Local: el.Tag}
}

// root validates the document element, which must be a global element of
// the schema's own target namespace.
func (v *validation) root(el *etree.Element) {
	q := elementName(el)
	if q.Space != v.set.main.target {
		v.report(el, "root element in namespace "+quoteNS(v.set.main.target), q.String())
		return
	}
	decl, ok := v.set.elements[q]
	if !ok {
		v.report(el, "a root element declared by "+v.set.main.file, q.String())
		return
	}
	v.element(el, decl)
}

func quoteNS(ns string) string {
	if ns == "" {
		return "(none)"
	}
	return ns
}

func (v *validation) element(el *etree.Element, decl *elementDecl) {
	if nilAttr := xsiAttr(el, "nil"); nilAttr == "true" || nilAttr == "1" {
		if !decl.nillable {
			v.report(el, "element that is not nil", "xsi:nil on a non-nillable element")
			return
		}
		if len(el.ChildElements()) > 0 || strings.TrimSpace(textOf(el)) != "" {
			v.report(el, "no content for a nil element", "content")
		}
		return
	}

	td := decl.typ
	if td.simple != nil {
		v.attributes(el, &complexType{})
		v.simpleContent(el, td.simple)
		return
	}

	ct := td.complex
	v.attributes(el, ct)
	if ct.text != nil {
		v.simpleContent(el, ct.text)
		return
	}
	if !ct.mixed {
		for _, tok := range el.Child {
			if cd, ok := tok.(*etree.CharData); ok && strings.TrimSpace(cd.Data) != "" {
				v.report(el, "element-only content", "character data "+abbreviate(cd.Data))
				break
			}
		}
	}

	children := el.ChildElements()
	if ct.content == nil {
		if len(children) > 0 {
			v.report(el, "empty content", "child element "+children[0].Tag)
		}
		return
	}

	ends := v.match(ct.content, children, 0)
	if !containsInt(ends, len(children)) {
		names := make([]string, 0, len(children))
		for _, c := range children {
			names = append(names, c.Tag)
		}
		v.report(el, describe(ct.content), "("+strings.Join(names, ", ")+")")
		return
	}

	decls, wildcards := collect(ct.content)
	for _, c := range children {
		q := elementName(c)
		if d, ok := decls[q]; ok {
			v.element(c, d)
			continue
		}
		for _, w := range wildcards {
			if !w.allows(q.Space) {
				continue
			}
			v.wildcardElement(c, w)
			break
		}
	}
}

func (v *validation) wildcardElement(el *etree.Element, w *wildcard) {
	if w.process == "skip" {
		return
	}
	decl, ok := v.set.elements[elementName(el)]
	if ok {
		v.element(el, decl)
		return
	}
	if w.process == "strict" {
		v.report(el, "a declared element", elementName(el).String())
	}
}

func (v *validation) simpleContent(el *etree.Element, st *simpleType) {
	if children := el.ChildElements(); len(children) > 0 {
		v.report(el, "simple content", "child element "+children[0].Tag)
		return
	}
	if err := st.check(textOf(el)); err != nil {
		v.report(el, typeLabel(st), err.Error())
	}
}

func typeLabel(st *simpleType) string {
	for t := st; t != nil; t = t.base {
		if t.name.Local != "" {
			return "value of type " + t.name.Local
		}
	}
	return "valid simple value"
}

func (v *validation) attributes(el *etree.Element, ct *complexType) {
	seen := make(map[qname]bool)
	for _, a := range el.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		q := qname{Local: a.Key}
		if a.Space != "" {
			if a.Space == "xml" {
				q.Space = xmlNamespace
			} else {
				ns, _ := lookupPrefix(el, a.Space)
				q.Space = ns
			}
		}
		if q.Space == xsiNamespace {
			continue
		}

		decl := ct.attr(q)
		if decl == nil {
			if ct.anyAttr != nil && ct.anyAttr.allows(q.Space) {
				if g, ok := v.set.attrs[q]; ok && ct.anyAttr.process != "skip" {
					v.attrValue(el, g, a.Value)
				} else if ct.anyAttr.process == "strict" && !ok {
					v.report(el, "a declared attribute", "attribute "+q.String())
				}
				continue
			}
			v.report(el, "no attribute "+q.String(), "attribute "+q.String())
			continue
		}
		seen[q] = true
		v.attrValue(el, decl, a.Value)
	}
	for _, decl := range ct.attrs {
		if decl.required && !seen[decl.name] {
			v.report(el, "attribute "+decl.name.String(), "missing")
		}
	}
}

func (v *validation) attrValue(el *etree.Element, decl *attrDecl, value string) {
	if err := decl.typ.check(value); err != nil {
		v.report(el, "attribute "+decl.name.Local+" "+typeLabel(decl.typ), err.Error())
		return
	}
	if decl.fixed != nil && decl.typ.whitespace(value) != *decl.fixed {
		v.report(el, "attribute "+decl.name.Local+" fixed to "+*decl.fixed, value)
	}
	if decl.typ.primitive() == "ID" {
		id := strings.TrimSpace(value)
		if v.ids[id] {
			v.report(el, "unique ID", "duplicate ID "+id)
		}
		v.ids[id] = true
	}
}

// match returns the sorted set of child positions at which p can finish
// when it starts at start.
func (v *validation) match(p *particle, kids []*etree.Element, start int) []int {
	result := make(map[int]bool)
	if p.min == 0 {
		result[start] = true
	}
	frontier := map[int]bool{start: true}
	for n := 1; p.max == unbounded || n <= p.max; n++ {
		next := make(map[int]bool)
		for pos := range frontier {
			for _, end := range v.matchOnce(p, kids, pos) {
				next[end] = true
			}
		}
		if len(next) == 0 {
			break
		}
		if n < p.min {
			frontier = next
			continue
		}
		fresh := make(map[int]bool)
		for end := range next {
			if !result[end] {
				fresh[end] = true
				result[end] = true
			}
		}
		if len(fresh) == 0 {
			break
		}
		frontier = fresh
	}
	return sortedKeys(result)
}

func (v *validation) matchOnce(p *particle, kids []*etree.Element, pos int) []int {
	switch p.kind {
	case particleElement:
		if pos < len(kids) && elementName(kids[pos]) == p.elem.name {
			return []int{pos + 1}
		}
	case particleAny:
		if pos < len(kids) && p.wildcard.allows(kids[pos].NamespaceURI()) {
			return []int{pos + 1}
		}
	case particleSequence:
		positions := []int{pos}
		for _, c := range p.children {
			set := make(map[int]bool)
			for _, at := range positions {
				for _, end := range v.match(c, kids, at) {
					set[end] = true
				}
			}
			if len(set) == 0 {
				return nil
			}
			positions = sortedKeys(set)
		}
		return positions
	case particleChoice:
		set := make(map[int]bool)
		for _, c := range p.children {
			for _, end := range v.match(c, kids, pos) {
				set[end] = true
			}
		}
		return sortedKeys(set)
	case particleAll:
		used := make([]bool, len(p.children))
		cur := pos
	next:
		for cur < len(kids) {
			for i, c := range p.children {
				if !used[i] && containsInt(v.matchOnce(c, kids, cur), cur+1) {
					used[i] = true
					cur++
					continue next
				}
			}
			break
		}
		for i, c := range p.children {
			if !used[i] && c.min > 0 {
				return nil
			}
		}
		return []int{cur}
	}
	return nil
}

// collect gathers the element declarations and wildcards of a content
// model.
func collect(p *particle) (map[qname]*elementDecl, []*wildcard) {
	decls := make(map[qname]*elementDecl)
	var wildcards []*wildcard
	var walk func(p *particle)
	walk = func(p *particle) {
		switch p.kind {
		case particleElement:
			if _, ok := decls[p.elem.name]; !ok {
				decls[p.elem.name] = p.elem
			}
		case particleAny:
			wildcards = append(wildcards, p.wildcard)
		default:
			for _, c := range p.children {
				walk(c)
			}
		}
	}
	walk(p)
	return decls, wildcards
}

func xsiAttr(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if a.Key != key || a.Space == "" {
			continue
		}
		if ns, _ := lookupPrefix(el, a.Space); ns == xsiNamespace {
			return a.Value
		}
	}
	return ""
}

// textOf concatenates the character data directly under el.
func textOf(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			b.WriteString(cd.Data)
		}
	}
	return b.String()
}

func abbreviate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 32 {
		s = s[:32] + "..."
	}
	return "\"" + s + "\""
}

func containsInt(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
