package schema

import (
	"fmt"
	"io/fs"
	"math/big"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// schemaDoc is one loaded schema file.
type schemaDoc struct {
	file           string
	target         string
	qualifiedElems bool
	qualifiedAttrs bool
}

type component struct {
	el  *etree.Element
	doc *schemaDoc
}

// compiledSet holds every component reachable from one schema file through
// import and include.
type compiledSet struct {
	fsys   fs.FS
	main   *schemaDoc
	loaded map[string]*schemaDoc

	rawElements   map[qname]component
	rawTypes      map[qname]component
	rawAttrs      map[qname]component
	rawGroups     map[qname]component
	rawAttrGroups map[qname]component

	elements map[qname]*elementDecl
	types    map[qname]*typeDef
	attrs    map[qname]*attrDecl
	groups   map[qname]*particle
}

// compile loads file from fsys with everything it imports or includes and
// compiles all global components.
func compile(fsys fs.FS, file string) (*compiledSet, error) {
	s := &compiledSet{
		fsys:          fsys,
		loaded:        make(map[string]*schemaDoc),
		rawElements:   make(map[qname]component),
		rawTypes:      make(map[qname]component),
		rawAttrs:      make(map[qname]component),
		rawGroups:     make(map[qname]component),
		rawAttrGroups: make(map[qname]component),
		elements:      make(map[qname]*elementDecl),
		types:         make(map[qname]*typeDef),
		attrs:         make(map[qname]*attrDecl),
		groups:        make(map[qname]*particle),
	}
	main, err := s.load(file, "", false)
	if err != nil {
		return nil, err
	}
	s.main = main

	for q := range s.rawTypes {
		if _, err := s.typeByName(q); err != nil {
			return nil, err
		}
	}
	for q := range s.rawElements {
		if _, err := s.globalElement(q); err != nil {
			return nil, err
		}
	}
	for q := range s.rawAttrs {
		if _, err := s.globalAttr(q); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *compiledSet) load(file, includer string, include bool) (*schemaDoc, error) {
	file = path.Clean(file)
	if d, ok := s.loaded[file]; ok {
		return d, nil
	}
	data, err := fs.ReadFile(s.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", file, err)
	}
	xdoc := etree.NewDocument()
	if err := xdoc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", file, err)
	}
	root := xdoc.Root()
	if root == nil || root.Tag != "schema" || root.NamespaceURI() != xsdNamespace {
		return nil, fmt.Errorf("%s is not an XML Schema document", file)
	}

	d := &schemaDoc{
		file:           file,
		target:         root.SelectAttrValue("targetNamespace", ""),
		qualifiedElems: root.SelectAttrValue("elementFormDefault", "") == "qualified",
		qualifiedAttrs: root.SelectAttrValue("attributeFormDefault", "") == "qualified",
	}
	if include && d.target == "" {
		d.target = includer
	}
	if include && d.target != includer {
		return nil, fmt.Errorf("included schema %s has target namespace %q, want %q", file, d.target, includer)
	}
	s.loaded[file] = d

	for _, child := range root.ChildElements() {
		if child.NamespaceURI() != xsdNamespace {
			continue
		}
		name := child.SelectAttrValue("name", "")
		q := qname{Space: d.target, Local: name}
		switch child.Tag {
		case "import", "include":
			loc := child.SelectAttrValue("schemaLocation", "")
			if loc == "" {
				continue
			}
			if strings.Contains(loc, "://") {
				return nil, fmt.Errorf("%s: remote schema location %q is not resolved", file, loc)
			}
			if _, err := s.load(path.Join(path.Dir(file), loc), d.target, child.Tag == "include"); err != nil {
				return nil, err
			}
		case "element":
			s.rawElements[q] = component{child, d}
		case "complexType", "simpleType":
			s.rawTypes[q] = component{child, d}
		case "attribute":
			s.rawAttrs[q] = component{child, d}
		case "group":
			s.rawGroups[q] = component{child, d}
		case "attributeGroup":
			s.rawAttrGroups[q] = component{child, d}
		}
	}
	return d, nil
}

// resolveQName resolves a prefixed name found in an attribute value of el.
func resolveQName(el *etree.Element, value string) (qname, error) {
	prefix, local, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found {
		local, prefix = prefix, ""
	}
	if prefix == "xml" {
		return qname{Space: xmlNamespace, Local: local}, nil
	}
	ns, ok := lookupPrefix(el, prefix)
	if !ok && prefix != "" {
		return qname{}, fmt.Errorf("undeclared namespace prefix %q in %q", prefix, value)
	}
	return qname{Space: ns, Local: local}, nil
}

// lookupPrefix finds the namespace bound to prefix in scope at el. The empty
// prefix looks up the default namespace.
func lookupPrefix(el *etree.Element, prefix string) (string, bool) {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if prefix == "" && a.Space == "" && a.Key == "xmlns" {
				return a.Value, true
			}
			if prefix != "" && a.Space == "xmlns" && a.Key == prefix {
				return a.Value, true
			}
		}
	}
	return "", false
}

func xsdChildren(el *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.NamespaceURI() == xsdNamespace && c.Tag != "annotation" {
			out = append(out, c)
		}
	}
	return out
}

func (s *compiledSet) typeByName(q qname) (*typeDef, error) {
	if q.Space == xsdNamespace {
		if q.Local == "anyType" {
			return anyType, nil
		}
		if st := builtinType(q.Local); st != nil {
			return &typeDef{name: q, simple: st}, nil
		}
		return nil, fmt.Errorf("unsupported built-in type %s", q.Local)
	}
	if td, ok := s.types[q]; ok {
		return td, nil
	}
	raw, ok := s.rawTypes[q]
	if !ok {
		return nil, fmt.Errorf("type %s is not declared", q)
	}
	td := &typeDef{name: q, compiling: true}
	s.types[q] = td
	var err error
	if raw.el.Tag == "simpleType" {
		td.simple, err = s.compileSimple(raw.el, raw.doc, q)
	} else {
		td.complex, err = s.compileComplex(raw.el, raw.doc)
	}
	td.compiling = false
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", q, err)
	}
	return td, nil
}

func (s *compiledSet) simpleByName(el *etree.Element, value string) (*simpleType, error) {
	q, err := resolveQName(el, value)
	if err != nil {
		return nil, err
	}
	td, err := s.typeByName(q)
	if err != nil {
		return nil, err
	}
	if td.simple == nil {
		return nil, fmt.Errorf("%s is not a simple type", q)
	}
	return td.simple, nil
}

// anyType accepts any attributes and any content.
var anyType = &typeDef{
	name: qname{Space: xsdNamespace, Local: "anyType"},
	complex: &complexType{
		mixed: true,
		content: &particle{
			kind: particleAny, min: 0, max: unbounded,
			wildcard: &wildcard{any: true, process: "lax"},
		},
		anyAttr: &wildcard{any: true, process: "lax"},
	},
}

func (s *compiledSet) globalElement(q qname) (*elementDecl, error) {
	if decl, ok := s.elements[q]; ok {
		return decl, nil
	}
	raw, ok := s.rawElements[q]
	if !ok {
		return nil, fmt.Errorf("element %s is not declared", q)
	}
	decl := &elementDecl{name: q}
	s.elements[q] = decl
	if err := s.fillElement(decl, raw.el, raw.doc); err != nil {
		return nil, fmt.Errorf("element %s: %w", q, err)
	}
	return decl, nil
}

func (s *compiledSet) fillElement(decl *elementDecl, el *etree.Element, doc *schemaDoc) error {
	decl.nillable = el.SelectAttrValue("nillable", "") == "true"
	if t := el.SelectAttrValue("type", ""); t != "" {
		q, err := resolveQName(el, t)
		if err != nil {
			return err
		}
		td, err := s.typeByName(q)
		if err != nil {
			return err
		}
		decl.typ = td
		return nil
	}
	for _, c := range xsdChildren(el) {
		switch c.Tag {
		case "complexType":
			ct, err := s.compileComplex(c, doc)
			if err != nil {
				return err
			}
			decl.typ = &typeDef{complex: ct}
			return nil
		case "simpleType":
			st, err := s.compileSimple(c, doc, qname{})
			if err != nil {
				return err
			}
			decl.typ = &typeDef{simple: st}
			return nil
		}
	}
	decl.typ = anyType
	return nil
}

func occurs(el *etree.Element) (int, int, error) {
	min, max := 1, 1
	if v := el.SelectAttrValue("minOccurs", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("invalid minOccurs %q", v)
		}
		min = n
	}
	if v := el.SelectAttrValue("maxOccurs", ""); v != "" {
		if v == "unbounded" {
			max = unbounded
		} else {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return 0, 0, fmt.Errorf("invalid maxOccurs %q", v)
			}
			max = n
		}
	}
	if max != unbounded && max < min {
		return 0, 0, fmt.Errorf("maxOccurs %d below minOccurs %d", max, min)
	}
	return min, max, nil
}

func (s *compiledSet) compileParticle(el *etree.Element, doc *schemaDoc) (*particle, error) {
	min, max, err := occurs(el)
	if err != nil {
		return nil, err
	}
	p := &particle{min: min, max: max}

	switch el.Tag {
	case "element":
		p.kind = particleElement
		if ref := el.SelectAttrValue("ref", ""); ref != "" {
			q, err := resolveQName(el, ref)
			if err != nil {
				return nil, err
			}
			if p.elem, err = s.globalElement(q); err != nil {
				return nil, err
			}
			return p, nil
		}
		ns := ""
		form := el.SelectAttrValue("form", "")
		if form == "qualified" || (form == "" && doc.qualifiedElems) {
			ns = doc.target
		}
		p.elem = &elementDecl{name: qname{Space: ns, Local: el.SelectAttrValue("name", "")}}
		if err := s.fillElement(p.elem, el, doc); err != nil {
			return nil, fmt.Errorf("element %s: %w", p.elem.name.Local, err)
		}
	case "sequence", "choice", "all":
		p.kind = map[string]particleKind{"sequence": particleSequence, "choice": particleChoice, "all": particleAll}[el.Tag]
		for _, c := range xsdChildren(el) {
			child, err := s.compileParticle(c, doc)
			if err != nil {
				return nil, err
			}
			p.children = append(p.children, child)
		}
	case "any":
		p.kind = particleAny
		p.wildcard = newWildcard(el, doc)
	case "group":
		ref := el.SelectAttrValue("ref", "")
		q, err := resolveQName(el, ref)
		if err != nil {
			return nil, err
		}
		group, err := s.group(q)
		if err != nil {
			return nil, err
		}
		copied := *group
		copied.min, copied.max = min, max
		return &copied, nil
	default:
		return nil, fmt.Errorf("unsupported particle %s", el.Tag)
	}
	return p, nil
}

func (s *compiledSet) group(q qname) (*particle, error) {
	if g, ok := s.groups[q]; ok {
		return g, nil
	}
	raw, ok := s.rawGroups[q]
	if !ok {
		return nil, fmt.Errorf("group %s is not declared", q)
	}
	for _, c := range xsdChildren(raw.el) {
		p, err := s.compileParticle(c, raw.doc)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", q, err)
		}
		s.groups[q] = p
		return p, nil
	}
	return nil, fmt.Errorf("group %s has no model group", q)
}

func newWildcard(el *etree.Element, doc *schemaDoc) *wildcard {
	w := &wildcard{
		target:  doc.target,
		process: el.SelectAttrValue("processContents", "strict"),
		allowed: make(map[string]bool),
	}
	for _, tok := range strings.Fields(el.SelectAttrValue("namespace", "##any")) {
		switch tok {
		case "##any":
			w.any = true
		case "##other":
			w.other = true
		case "##local":
			w.allowed[""] = true
		case "##targetNamespace":
			w.allowed[doc.target] = true
		default:
			w.allowed[tok] = true
		}
	}
	return w
}

func (s *compiledSet) compileComplex(el *etree.Element, doc *schemaDoc) (*complexType, error) {
	ct := &complexType{mixed: el.SelectAttrValue("mixed", "") == "true"}
	for _, c := range xsdChildren(el) {
		switch c.Tag {
		case "simpleContent":
			if err := s.simpleContent(ct, c, doc); err != nil {
				return nil, err
			}
		case "complexContent":
			if m := c.SelectAttrValue("mixed", ""); m != "" {
				ct.mixed = m == "true"
			}
			if err := s.complexContent(ct, c, doc); err != nil {
				return nil, err
			}
		case "sequence", "choice", "all", "group":
			p, err := s.compileParticle(c, doc)
			if err != nil {
				return nil, err
			}
			ct.content = p
		default:
			if err := s.attributeUse(ct, c, doc); err != nil {
				return nil, err
			}
		}
	}
	return ct, nil
}

func (s *compiledSet) derivation(el *etree.Element) (*etree.Element, *typeDef, error) {
	for _, c := range xsdChildren(el) {
		if c.Tag != "extension" && c.Tag != "restriction" {
			continue
		}
		q, err := resolveQName(c, c.SelectAttrValue("base", ""))
		if err != nil {
			return nil, nil, err
		}
		base, err := s.typeByName(q)
		if err != nil {
			return nil, nil, err
		}
		if base.compiling {
			return nil, nil, fmt.Errorf("type %s is derived from itself", q)
		}
		return c, base, nil
	}
	return nil, nil, fmt.Errorf("%s without extension or restriction", el.Tag)
}

func (s *compiledSet) simpleContent(ct *complexType, el *etree.Element, doc *schemaDoc) error {
	deriv, base, err := s.derivation(el)
	if err != nil {
		return err
	}
	switch {
	case base.simple != nil:
		ct.text = base.simple
	case base.complex != nil && base.complex.text != nil:
		ct.text = base.complex.text
		ct.attrs = append(ct.attrs, base.complex.attrs...)
		ct.anyAttr = base.complex.anyAttr
	default:
		return fmt.Errorf("simple content base %s has no simple content", base.name)
	}
	if deriv.Tag == "restriction" {
		st := newSimpleType(qname{})
		st.base = ct.text
		if err := s.facets(st, deriv); err != nil {
			return err
		}
		ct.text = st
	}
	for _, c := range xsdChildren(deriv) {
		switch c.Tag {
		case "attribute", "attributeGroup", "anyAttribute":
			if err := s.attributeUse(ct, c, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *compiledSet) complexContent(ct *complexType, el *etree.Element, doc *schemaDoc) error {
	deriv, base, err := s.derivation(el)
	if err != nil {
		return err
	}
	if base.complex == nil {
		return fmt.Errorf("complex content base %s is a simple type", base.name)
	}
	if base != anyType {
		ct.attrs = append(ct.attrs, base.complex.attrs...)
		ct.anyAttr = base.complex.anyAttr
	}

	var own *particle
	for _, c := range xsdChildren(deriv) {
		switch c.Tag {
		case "sequence", "choice", "all", "group":
			if own, err = s.compileParticle(c, doc); err != nil {
				return err
			}
		default:
			if err := s.attributeUse(ct, c, doc); err != nil {
				return err
			}
		}
	}

	if deriv.Tag == "restriction" || base == anyType {
		ct.content = own
		return nil
	}
	switch {
	case base.complex.content == nil:
		ct.content = own
	case own == nil:
		ct.content = base.complex.content
	default:
		ct.content = &particle{
			kind: particleSequence, min: 1, max: 1,
			children: []*particle{base.complex.content, own},
		}
	}
	return nil
}

// attributeUse adds attribute, attributeGroup or anyAttribute el to ct.
func (s *compiledSet) attributeUse(ct *complexType, el *etree.Element, doc *schemaDoc) error {
	switch el.Tag {
	case "attribute":
		use := el.SelectAttrValue("use", "optional")
		var decl *attrDecl
		if ref := el.SelectAttrValue("ref", ""); ref != "" {
			q, err := resolveQName(el, ref)
			if err != nil {
				return err
			}
			global, err := s.globalAttr(q)
			if err != nil {
				return err
			}
			copied := *global
			decl = &copied
		} else {
			ns := ""
			form := el.SelectAttrValue("form", "")
			if form == "qualified" || (form == "" && doc.qualifiedAttrs) {
				ns = doc.target
			}
			var err error
			if decl, err = s.compileAttr(el, doc, qname{Space: ns, Local: el.SelectAttrValue("name", "")}); err != nil {
				return err
			}
		}
		decl.required = use == "required"
		ct.addAttr(decl, use == "prohibited")
	case "attributeGroup":
		q, err := resolveQName(el, el.SelectAttrValue("ref", ""))
		if err != nil {
			return err
		}
		raw, ok := s.rawAttrGroups[q]
		if !ok {
			return fmt.Errorf("attribute group %s is not declared", q)
		}
		for _, c := range xsdChildren(raw.el) {
			if err := s.attributeUse(ct, c, raw.doc); err != nil {
				return err
			}
		}
	case "anyAttribute":
		ct.anyAttr = newWildcard(el, doc)
	default:
		return fmt.Errorf("unsupported schema construct %s", el.Tag)
	}
	return nil
}

func (s *compiledSet) globalAttr(q qname) (*attrDecl, error) {
	if decl, ok := s.attrs[q]; ok {
		return decl, nil
	}
	if q.Space == xmlNamespace {
		decl := &attrDecl{name: q, typ: builtinType("string")}
		s.attrs[q] = decl
		return decl, nil
	}
	raw, ok := s.rawAttrs[q]
	if !ok {
		return nil, fmt.Errorf("attribute %s is not declared", q)
	}
	decl, err := s.compileAttr(raw.el, raw.doc, q)
	if err != nil {
		return nil, err
	}
	s.attrs[q] = decl
	return decl, nil
}

func (s *compiledSet) compileAttr(el *etree.Element, doc *schemaDoc, q qname) (*attrDecl, error) {
	decl := &attrDecl{name: q, typ: builtinType("anySimpleType")}
	if f := el.SelectAttr("fixed"); f != nil {
		v := f.Value
		decl.fixed = &v
	}
	if t := el.SelectAttrValue("type", ""); t != "" {
		st, err := s.simpleByName(el, t)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", q.Local, err)
		}
		decl.typ = st
		return decl, nil
	}
	for _, c := range xsdChildren(el) {
		if c.Tag == "simpleType" {
			st, err := s.compileSimple(c, doc, qname{})
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", q.Local, err)
			}
			decl.typ = st
		}
	}
	return decl, nil
}

func (s *compiledSet) compileSimple(el *etree.Element, doc *schemaDoc, name qname) (*simpleType, error) {
	st := newSimpleType(name)
	for _, c := range xsdChildren(el) {
		switch c.Tag {
		case "restriction":
			if base := c.SelectAttrValue("base", ""); base != "" {
				b, err := s.simpleByName(c, base)
				if err != nil {
					return nil, err
				}
				st.base = b
			} else {
				for _, inner := range xsdChildren(c) {
					if inner.Tag == "simpleType" {
						b, err := s.compileSimple(inner, doc, qname{})
						if err != nil {
							return nil, err
						}
						st.base = b
					}
				}
			}
			if st.base == nil {
				return nil, fmt.Errorf("restriction without base type")
			}
			if err := s.facets(st, c); err != nil {
				return nil, err
			}
		case "list":
			if item := c.SelectAttrValue("itemType", ""); item != "" {
				it, err := s.simpleByName(c, item)
				if err != nil {
					return nil, err
				}
				st.list = it
			}
			for _, inner := range xsdChildren(c) {
				if inner.Tag == "simpleType" {
					it, err := s.compileSimple(inner, doc, qname{})
					if err != nil {
						return nil, err
					}
					st.list = it
				}
			}
			if st.list == nil {
				return nil, fmt.Errorf("list without item type")
			}
		case "union":
			for _, member := range strings.Fields(c.SelectAttrValue("memberTypes", "")) {
				mt, err := s.simpleByName(c, member)
				if err != nil {
					return nil, err
				}
				st.union = append(st.union, mt)
			}
			for _, inner := range xsdChildren(c) {
				if inner.Tag == "simpleType" {
					mt, err := s.compileSimple(inner, doc, qname{})
					if err != nil {
						return nil, err
					}
					st.union = append(st.union, mt)
				}
			}
			if len(st.union) == 0 {
				return nil, fmt.Errorf("union without member types")
			}
		}
	}
	return st, nil
}

// facets applies the constraining facets that are children of a
// restriction. Patterns given in one restriction step are alternatives.
func (s *compiledSet) facets(st *simpleType, restriction *etree.Element) error {
	var patterns []string
	for _, f := range xsdChildren(restriction) {
		v := f.SelectAttrValue("value", "")
		var err error
		switch f.Tag {
		case "enumeration":
			st.enum = append(st.enum, v)
		case "pattern":
			patterns = append(patterns, v)
		case "length":
			st.length, err = strconv.Atoi(v)
		case "minLength":
			st.minLen, err = strconv.Atoi(v)
		case "maxLength":
			st.maxLen, err = strconv.Atoi(v)
		case "minInclusive":
			st.minIncl, err = rat(v)
		case "maxInclusive":
			st.maxIncl, err = rat(v)
		case "minExclusive":
			st.minExcl, err = rat(v)
		case "maxExclusive":
			st.maxExcl, err = rat(v)
		case "whiteSpace", "totalDigits", "fractionDigits":
		}
		if err != nil {
			return fmt.Errorf("facet %s: %w", f.Tag, err)
		}
	}
	if len(patterns) > 0 {
		re, err := regexp.Compile(`^(?:(?:` + strings.Join(patterns, `)|(?:`) + `))$`)
		if err != nil {
			return fmt.Errorf("facet pattern: %w", err)
		}
		st.patterns = append(st.patterns, re)
	}
	return nil
}

func rat(v string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(v)
	if !ok {
		return nil, fmt.Errorf("%q is not numeric", v)
	}
	return r, nil
}
