// Package signature builds and checks enveloped XML-DSig signature blocks
// over a document subtree identified by an id attribute.
package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/generated/w3c"
	"github.com/georgepadayatti/gojal/manifest"
	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/textenc"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// DefaultIDAttribute is the attribute resolved by "#id" reference URIs.
const DefaultIDAttribute = "JID"

// Element names
const (
	SignatureTag      = "Signature"
	SignedInfoTag     = "SignedInfo"
	SignatureValueTag = "SignatureValue"
	KeyInfoTag        = "KeyInfo"
)

// Anchor is the insertion point of a signature block. The block is inserted
// immediately before Before when it is set, otherwise as the last child of
// Parent.
type Anchor struct {
	Parent *etree.Element
	Before *etree.Element
}

// signatureMethods maps a digest method to the RSA signature method paired
// with it. SHA3-256 has no registered RSA pairing and signs with SHA-256.
var signatureMethods = map[digest.Method]struct {
	uri  string
	hash crypto.Hash
}{
	digest.SHA256:   {w3c.AlgRSAWithSHA256, crypto.SHA256},
	digest.SHA384:   {w3c.AlgRSAWithSHA384, crypto.SHA384},
	digest.SHA512:   {w3c.AlgRSAWithSHA512, crypto.SHA512},
	digest.SHA3_256: {w3c.AlgRSAWithSHA256, crypto.SHA256},
}

var signatureHashes = map[string]crypto.Hash{
	w3c.AlgRSAWithSHA256: crypto.SHA256,
	w3c.AlgRSAWithSHA384: crypto.SHA384,
	w3c.AlgRSAWithSHA512: crypto.SHA512,
}

// Builder produces signature blocks with one signing key.
type Builder struct {
	signer crypto.Signer
	cert   *x509.Certificate
	method digest.Method
	idAttr string
	rand   io.Reader
}

// Option configures a Builder.
type Option func(*Builder)

// WithDigest selects the reference digest method. The default is SHA-256.
func WithDigest(m digest.Method) Option {
	return func(b *Builder) {
		if m != nil {
			b.method = m
		}
	}
}

// WithIDAttribute sets the attribute that carries element ids.
func WithIDAttribute(name string) Option {
	return func(b *Builder) {
		if name != "" {
			b.idAttr = name
		}
	}
}

// WithRand sets the randomness source passed to the signer.
func WithRand(r io.Reader) Option {
	return func(b *Builder) {
		if r != nil {
			b.rand = r
		}
	}
}

// NewBuilder creates a Builder. cert is optional; when present its public
// key must match signer.
func NewBuilder(signer crypto.Signer, cert *x509.Certificate, opts ...Option) *Builder {
	b := &Builder{
		signer: signer,
		cert:   cert,
		method: digest.SHA256,
		idAttr: DefaultIDAttribute,
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sign signs the element of doc whose id attribute equals id and inserts the
// resulting ds:Signature at anchor. The returned element is the inserted
// block. On failure doc is left untouched.
func (b *Builder) Sign(doc *etree.Document, anchor Anchor, id string) (*etree.Element, error) {
	const op = "signature.Sign"

	pub, err := b.publicKey()
	if err != nil {
		return nil, err
	}
	if err := checkAnchor(doc, anchor); err != nil {
		return nil, err
	}
	sm, ok := signatureMethods[b.method]
	if !ok {
		return nil, status.New(status.Signing, op, "no signature method for digest %s", digest.Name(b.method))
	}

	target, err := FindByID(doc, b.idAttr, id)
	if err != nil {
		return nil, status.Wrap(status.Signing, op, err)
	}
	canonical, err := Canonicalize(target)
	if err != nil {
		return nil, status.Wrap(status.Signing, op, err)
	}
	sum, err := digest.Buffer(canonical, b.method)
	if err != nil {
		return nil, status.Wrap(status.Signing, op, err)
	}
	ref, err := manifest.NewReference("#"+id, b.method.URI(), sum)
	if err != nil {
		return nil, status.Wrap(status.Signing, op, err)
	}
	ref.AddTransform(w3c.AlgEnvelopedSignature)
	ref.AddTransform(w3c.AlgExcC14N)

	sig := etree.NewElement(SignatureTag)
	sig.CreateAttr("xmlns", w3c.Namespace)
	signedInfo := sig.CreateElement(SignedInfoTag)
	signedInfo.CreateAttr("xmlns", w3c.Namespace)
	signedInfo.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", w3c.AlgExcC14N)
	signedInfo.CreateElement("SignatureMethod").CreateAttr("Algorithm", sm.uri)
	signedInfo.AddChild(ref.Element(false))

	canonicalInfo, err := Canonicalize(signedInfo)
	if err != nil {
		return nil, status.Wrap(status.Signing, op, err)
	}
	h := sm.hash.New()
	h.Write(canonicalInfo)
	value, err := b.signer.Sign(b.rand, h.Sum(nil), sm.hash)
	if err != nil {
		return nil, status.Wrap(status.Signing, op, err)
	}
	sig.CreateElement(SignatureValueTag).SetText(textenc.Base64Encode(value))

	keyInfo, err := b.keyInfo(pub)
	if err != nil {
		return nil, status.Wrap(status.Signing, op, err)
	}
	sig.AddChild(keyInfo)

	if anchor.Before != nil {
		anchor.Parent.InsertChildAt(anchor.Before.Index(), sig)
	} else {
		anchor.Parent.AddChild(sig)
	}
	return sig, nil
}

func (b *Builder) publicKey() (*rsa.PublicKey, error) {
	const op = "signature.Sign"
	if b == nil || b.signer == nil {
		return nil, status.New(status.Signing, op, "no signing key")
	}
	pub, ok := b.signer.Public().(*rsa.PublicKey)
	if !ok {
		return nil, status.New(status.Signing, op, "signing key is %T, not RSA", b.signer.Public())
	}
	if b.cert != nil {
		certPub, ok := b.cert.PublicKey.(*rsa.PublicKey)
		if !ok || !certPub.Equal(pub) {
			return nil, status.New(status.Signing, op, "certificate does not match the signing key")
		}
	}
	return pub, nil
}

func (b *Builder) keyInfo(pub *rsa.PublicKey) (*etree.Element, error) {
	ki := etree.NewElement(KeyInfoTag)
	if b.cert == nil {
		modulus, err := textenc.BigIntToBase64(pub.N)
		if err != nil {
			return nil, err
		}
		exponent, err := textenc.BigIntToBase64(big.NewInt(int64(pub.E)))
		if err != nil {
			return nil, err
		}
		rsaKey := ki.CreateElement("KeyValue").CreateElement("RSAKeyValue")
		rsaKey.CreateElement("Modulus").SetText(modulus)
		rsaKey.CreateElement("Exponent").SetText(exponent)
		return ki, nil
	}

	subject, err := textenc.CertificateSubject(b.cert)
	if err != nil {
		return nil, err
	}
	issuer, err := textenc.CertificateIssuer(b.cert)
	if err != nil {
		return nil, err
	}
	serial, err := textenc.CertificateSerial(b.cert)
	if err != nil {
		return nil, err
	}
	der, err := textenc.CertificateBase64(b.cert)
	if err != nil {
		return nil, err
	}
	data := ki.CreateElement("X509Data")
	data.CreateElement("X509SubjectName").SetText(subject)
	issuerSerial := data.CreateElement("X509IssuerSerial")
	issuerSerial.CreateElement("X509IssuerName").SetText(issuer)
	issuerSerial.CreateElement("X509SerialNumber").SetText(serial)
	data.CreateElement("X509Certificate").SetText(der)
	return ki, nil
}

func checkAnchor(doc *etree.Document, anchor Anchor) error {
	const op = "signature.Sign"
	if anchor.Parent == nil {
		return status.New(status.Validation, op, "anchor has no parent element")
	}
	if !xmldoc.Owns(doc, anchor.Parent) {
		return status.New(status.Validation, op, "anchor parent does not belong to the document")
	}
	if anchor.Before != nil && anchor.Before.Parent() != anchor.Parent {
		return status.New(status.Validation, op, "anchor sibling %s is not a child of %s",
			xmldoc.Path(anchor.Before), xmldoc.Path(anchor.Parent))
	}
	return nil
}

// FindByID returns the single element of doc whose attr equals id.
func FindByID(doc *etree.Document, attr, id string) (*etree.Element, error) {
	if id == "" {
		return nil, errors.New("empty reference id")
	}
	if doc == nil || doc.Root() == nil {
		return nil, errors.New("document has no root element")
	}
	var found []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if a := el.SelectAttr(attr); a != nil && a.Value == id {
			found = append(found, el)
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(doc.Root())

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no element with %s=%q", attr, id)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%d elements share %s=%q", len(found), attr, id)
	}
}

// Canonicalize renders el with exclusive C14N, carrying the namespace
// declarations el inherits from its ancestors. el itself is not modified.
func Canonicalize(el *etree.Element) ([]byte, error) {
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	detached, err := etreeutils.NSDetatch(ctx, el)
	if err != nil {
		return nil, err
	}
	return dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("").Canonicalize(detached)
}

func equalDigest(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
