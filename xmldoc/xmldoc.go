// Package xmldoc owns the process-wide XML settings used to build, parse and
// serialize documents. The state is created on first use (or by Init) and
// released by Shutdown; packages other than the schema validator and the
// document builders reach it only through the functions in this package.
package xmldoc

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/gojal/status"
)

// Declaration is the XML declaration written at the top of every
// serialized document.
const Declaration = `version="1.0" encoding="UTF-8" standalone="no"`

type implementation struct {
	read  etree.ReadSettings
	write etree.WriteSettings
}

var (
	mu      sync.Mutex
	current *implementation
)

// Init creates the shared XML state if it does not exist yet. Calling it is
// optional; every function in this package initializes on first use.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = &implementation{
			read: etree.ReadSettings{
				Permissive:             false,
				PreserveDuplicateAttrs: true,
			},
			write: etree.WriteSettings{
				CanonicalEndTags: true,
				CanonicalText:    true,
				CanonicalAttrVal: true,
			},
		}
	}
}

// Shutdown releases the shared XML state. Documents created before Shutdown
// remain usable; the next call into this package re-initializes.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}

// Initialized reports whether the shared state currently exists.
func Initialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return current != nil
}

func impl() *implementation {
	Init()
	mu.Lock()
	defer mu.Unlock()
	return current
}

// NewDocument returns an empty document carrying the standard declaration.
func NewDocument() *etree.Document {
	s := impl()
	doc := etree.NewDocument()
	doc.ReadSettings = s.read
	doc.WriteSettings = s.write
	doc.CreateProcInst("xml", Declaration)
	return doc
}

// Serialize writes doc to a byte buffer. This is the only serialization path
// used both for digests and for transmission.
func Serialize(doc *etree.Document) ([]byte, error) {
	if doc == nil || doc.Root() == nil {
		return nil, status.New(status.XMLConversion, "xmldoc.Serialize", "document has no root element")
	}
	doc.WriteSettings = impl().write
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, status.Wrap(status.XMLConversion, "xmldoc.Serialize", err)
	}
	return buf.Bytes(), nil
}

// Parse reads buf into a document. Document type declarations are refused,
// which keeps external DTDs and custom entities out of inbound documents.
// The buffer must contain exactly one root element.
func Parse(buf []byte) (*etree.Document, error) {
	if len(buf) == 0 {
		return nil, status.New(status.InvalidArgument, "xmldoc.Parse", "empty buffer")
	}
	doc := etree.NewDocument()
	doc.ReadSettings = impl().read
	if err := doc.ReadFromBytes(buf); err != nil {
		return nil, status.Wrap(status.MalformedXML, "xmldoc.Parse", err)
	}

	roots := 0
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Directive:
			if strings.HasPrefix(strings.TrimSpace(t.Data), "DOCTYPE") {
				return nil, status.New(status.MalformedXML, "xmldoc.Parse", "document type declarations are not permitted")
			}
		case *etree.Element:
			roots++
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return nil, status.New(status.MalformedXML, "xmldoc.Parse", "character data outside the root element")
			}
		}
	}
	if roots != 1 {
		return nil, status.New(status.MalformedXML, "xmldoc.Parse", "expected exactly one root element, found %d", roots)
	}
	if err := checkNamespaces(doc.Root()); err != nil {
		return nil, status.Wrap(status.MalformedXML, "xmldoc.Parse", err)
	}
	return doc, nil
}

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// checkNamespaces catches what the token reader lets through: attributes
// repeated on one element and prefixes with no binding in scope.
func checkNamespaces(el *etree.Element) error {
	if el.Space != "" {
		if _, ok := resolvePrefix(el, el.Space); !ok {
			return fmt.Errorf("element %s:%s: undeclared namespace prefix %q", el.Space, el.Tag, el.Space)
		}
	}

	written := make(map[string]bool, len(el.Attr))
	resolved := make(map[[2]string]bool, len(el.Attr))
	for _, a := range el.Attr {
		name := a.FullKey()
		if written[name] {
			return fmt.Errorf("element %s: attribute %s repeated", el.FullTag(), name)
		}
		written[name] = true

		if a.Space == "" || a.Space == "xmlns" {
			continue
		}
		ns, ok := resolvePrefix(el, a.Space)
		if !ok {
			return fmt.Errorf("element %s: attribute %s: undeclared namespace prefix %q", el.FullTag(), name, a.Space)
		}
		if resolved[[2]string{ns, a.Key}] {
			return fmt.Errorf("element %s: attribute {%s}%s repeated", el.FullTag(), ns, a.Key)
		}
		resolved[[2]string{ns, a.Key}] = true
	}

	for _, child := range el.ChildElements() {
		if err := checkNamespaces(child); err != nil {
			return err
		}
	}
	return nil
}

// resolvePrefix finds the namespace bound to a non-empty prefix in scope at
// el.
func resolvePrefix(el *etree.Element, prefix string) (string, bool) {
	switch prefix {
	case "xml":
		return xmlNamespace, true
	case "xmlns":
		return "", true
	}
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if a.Space == "xmlns" && a.Key == prefix {
				return a.Value, a.Value != ""
			}
		}
	}
	return "", false
}

// Owns reports whether el belongs to doc's element tree.
func Owns(doc *etree.Document, el *etree.Element) bool {
	if doc == nil || el == nil {
		return false
	}
	top := el
	for top.Parent() != nil {
		top = top.Parent()
	}
	return top == &doc.Element
}

// Path renders the element path of el from the root, e.g.
// "/ApplicationMetadata/Syslog[1]".
func Path(el *etree.Element) string {
	var parts []string
	for e := el; e != nil && e.Tag != ""; e = e.Parent() {
		part := e.Tag
		if p := e.Parent(); p != nil && p.Tag != "" {
			n := 0
			for _, sib := range p.ChildElements() {
				if sib.Tag == e.Tag {
					n++
				}
				if sib == e {
					break
				}
			}
			part = fmt.Sprintf("%s[%d]", e.Tag, n)
		}
		parts = append([]string{part}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}
