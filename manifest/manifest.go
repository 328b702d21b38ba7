// Package manifest builds XML-DSig Reference and Manifest structures that bind
// digest values to the payloads they describe.
package manifest

import (
	"github.com/beevik/etree"

	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/textenc"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// Namespace is the XML-DSig namespace used for Reference and Manifest.
const Namespace = "http://www.w3.org/2000/09/xmldsig#"

// PayloadURI identifies the record payload in a manifest Reference.
const PayloadURI = "jalop:payload"

// Transform algorithm URIs
const (
	TransformEnvelopedSignature = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	TransformExcC14N            = "http://www.w3.org/2001/10/xml-exc-c14n#"
	TransformExcC14NComments    = "http://www.w3.org/2001/10/xml-exc-c14n#WithComments"
)

// Element names
const (
	ManifestTag     = "Manifest"
	ReferenceTag    = "Reference"
	TransformsTag   = "Transforms"
	TransformTag    = "Transform"
	DigestMethodTag = "DigestMethod"
	DigestValueTag  = "DigestValue"
)

// Transform is a single entry of a Reference's transform chain.
type Transform struct {
	Algorithm string
}

// Reference binds a URI to a digest method and value.
type Reference struct {
	URI          string
	DigestMethod string
	DigestValue  []byte

	// Transforms are appended by callers that know what the verifier must
	// apply before digesting; NewReference leaves the chain empty.
	Transforms []Transform
}

// NewReference builds a Reference. The URI must be non-empty and the digest
// value must have the length implied by the digest method.
func NewReference(uri, digestMethod string, value []byte) (*Reference, error) {
	if uri == "" {
		return nil, status.New(status.Validation, "manifest.NewReference", "empty reference URI")
	}
	m, err := digest.Lookup(digestMethod)
	if err != nil {
		return nil, status.Wrap(status.Validation, "manifest.NewReference", err)
	}
	if len(value) != m.Size() {
		return nil, status.New(status.Validation, "manifest.NewReference",
			"digest value is %d bytes, %s requires %d", len(value), digest.Name(m), m.Size())
	}
	v := make([]byte, len(value))
	copy(v, value)
	return &Reference{URI: uri, DigestMethod: digestMethod, DigestValue: v}, nil
}

// AddTransform appends algorithm to the reference's transform chain.
func (r *Reference) AddTransform(algorithm string) {
	r.Transforms = append(r.Transforms, Transform{Algorithm: algorithm})
}

// Element renders the reference as a ds:Reference element. The element
// declares the XML-DSig namespace as its default namespace when standalone
// is true; nested references inherit it from their Manifest or SignedInfo.
func (r *Reference) Element(standalone bool) *etree.Element {
	el := etree.NewElement(ReferenceTag)
	if standalone {
		el.CreateAttr("xmlns", Namespace)
	}
	el.CreateAttr("URI", r.URI)
	if len(r.Transforms) > 0 {
		transforms := el.CreateElement(TransformsTag)
		for _, tr := range r.Transforms {
			transforms.CreateElement(TransformTag).CreateAttr("Algorithm", tr.Algorithm)
		}
	}
	el.CreateElement(DigestMethodTag).CreateAttr("Algorithm", r.DigestMethod)
	el.CreateElement(DigestValueTag).SetText(textenc.Base64Encode(r.DigestValue))
	return el
}

// Manifest is an ordered list of references. Order is significant: it is the
// order in which a verifier resolves the references.
type Manifest struct {
	References []*Reference
}

// NewManifest aggregates refs in order. An empty manifest is legal.
func NewManifest(refs ...*Reference) *Manifest {
	m := &Manifest{}
	for _, r := range refs {
		if r != nil {
			m.References = append(m.References, r)
		}
	}
	return m
}

// Element renders the manifest as a ds:Manifest element carrying its own
// default namespace declaration.
func (m *Manifest) Element() *etree.Element {
	el := etree.NewElement(ManifestTag)
	el.CreateAttr("xmlns", Namespace)
	for _, r := range m.References {
		el.AddChild(r.Element(false))
	}
	return el
}

// Attach appends m as the last child of parent. parent must belong to doc.
func Attach(doc *etree.Document, parent *etree.Element, m *Manifest) (*etree.Element, error) {
	if m == nil {
		return nil, status.New(status.InvalidArgument, "manifest.Attach", "nil manifest")
	}
	if !xmldoc.Owns(doc, parent) {
		return nil, status.New(status.Validation, "manifest.Attach", "parent element does not belong to the document")
	}
	el := m.Element()
	parent.AddChild(el)
	return el, nil
}

// PayloadManifest digests payload with method and returns a one-entry
// manifest referencing PayloadURI.
func PayloadManifest(payload []byte, method digest.Method) (*Manifest, error) {
	sum, err := digest.Buffer(payload, method)
	if err != nil {
		return nil, err
	}
	ref, err := NewReference(PayloadURI, method.URI(), sum)
	if err != nil {
		return nil, err
	}
	return NewManifest(ref), nil
}

// AuditTransforms returns the transform chain applied to audit payload
// references: the payload is canonicalized with exclusive C14N before it is
// digested.
func AuditTransforms() []Transform {
	return []Transform{{Algorithm: TransformExcC14N}}
}

// Parse reads a ds:Manifest element back into a Manifest.
func Parse(el *etree.Element) (*Manifest, error) {
	if el == nil || el.Tag != ManifestTag || el.NamespaceURI() != Namespace {
		return nil, status.New(status.Validation, "manifest.Parse", "not a ds:Manifest element")
	}
	m := &Manifest{}
	for _, child := range el.ChildElements() {
		if child.Tag != ReferenceTag {
			continue
		}
		ref := &Reference{URI: child.SelectAttrValue("URI", "")}
		if tr := child.SelectElement(TransformsTag); tr != nil {
			for _, t := range tr.SelectElements(TransformTag) {
				ref.AddTransform(t.SelectAttrValue("Algorithm", ""))
			}
		}
		if dm := child.SelectElement(DigestMethodTag); dm != nil {
			ref.DigestMethod = dm.SelectAttrValue("Algorithm", "")
		}
		if dv := child.SelectElement(DigestValueTag); dv != nil {
			v, err := textenc.Base64Decode(dv.Text())
			if err != nil {
				return nil, status.Wrap(status.Validation, "manifest.Parse", err)
			}
			ref.DigestValue = v
		}
		m.References = append(m.References, ref)
	}
	return m, nil
}
