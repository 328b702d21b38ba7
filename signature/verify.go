package signature

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/moov-io/signedxml"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/generated/w3c"
	"github.com/georgepadayatti/gojal/status"
)

// Verify checks every ds:Signature block in doc: the reference digest is
// recomputed over the canonical target and the signature value is checked
// against pub. A nil pub uses the key carried in each block's KeyInfo, which
// proves integrity but not origin. idAttr names the id attribute; empty means
// DefaultIDAttribute.
func Verify(doc *etree.Document, pub *rsa.PublicKey, idAttr string) error {
	const op = "signature.Verify"
	if doc == nil || doc.Root() == nil {
		return status.New(status.InvalidArgument, op, "document has no root element")
	}
	if idAttr == "" {
		idAttr = DefaultIDAttribute
	}
	sigs := findSignatures(doc.Root())
	if len(sigs) == 0 {
		return status.New(status.Validation, op, "document carries no signature")
	}
	for _, sig := range sigs {
		if err := verifyElement(doc, sig, pub, idAttr); err != nil {
			return status.Wrap(status.Validation, op, err)
		}
	}
	return nil
}

func findSignatures(el *etree.Element) []*etree.Element {
	var out []*etree.Element
	if el.Tag == SignatureTag && el.NamespaceURI() == w3c.Namespace {
		return append(out, el)
	}
	for _, child := range el.ChildElements() {
		out = append(out, findSignatures(child)...)
	}
	return out
}

func verifyElement(doc *etree.Document, sigEl *etree.Element, pub *rsa.PublicKey, idAttr string) error {
	ctx, err := etreeutils.NSBuildParentContext(sigEl)
	if err != nil {
		return err
	}
	detached, err := etreeutils.NSDetatch(ctx, sigEl)
	if err != nil {
		return err
	}
	tmp := etree.NewDocument()
	tmp.SetRoot(detached)
	raw, err := tmp.WriteToBytes()
	if err != nil {
		return err
	}
	sig, err := w3c.ParseSignature(raw)
	if err != nil {
		return err
	}

	si := sig.SignedInfo
	if si.CanonicalizationMethod == nil || si.CanonicalizationMethod.Algorithm != w3c.AlgExcC14N {
		return fmt.Errorf("unsupported canonicalization method")
	}
	if si.SignatureMethod == nil {
		return fmt.Errorf("missing signature method")
	}
	hash, ok := signatureHashes[si.SignatureMethod.Algorithm]
	if !ok {
		return fmt.Errorf("unsupported signature method %q", si.SignatureMethod.Algorithm)
	}
	if len(si.Reference) != 1 {
		return fmt.Errorf("expected one reference, found %d", len(si.Reference))
	}
	ref := si.Reference[0]
	if !strings.HasPrefix(ref.URI, "#") {
		return fmt.Errorf("reference URI %q is not a same-document reference", ref.URI)
	}
	for _, alg := range ref.TransformAlgorithms() {
		if alg != w3c.AlgEnvelopedSignature && alg != w3c.AlgExcC14N {
			return fmt.Errorf("unsupported transform %q", alg)
		}
	}
	if ref.DigestMethod == nil {
		return fmt.Errorf("reference has no digest method")
	}
	method, err := digest.Lookup(ref.DigestMethod.Algorithm)
	if err != nil {
		return err
	}
	want, err := ref.Digest()
	if err != nil {
		return err
	}

	target, err := FindByID(doc, idAttr, strings.TrimPrefix(ref.URI, "#"))
	if err != nil {
		return err
	}
	got, err := digestEnveloped(target, sigEl, method)
	if err != nil {
		return err
	}
	if !equalDigest(got, want) {
		return fmt.Errorf("reference %s digest mismatch", ref.URI)
	}

	if pub == nil {
		if sig.KeyInfo == nil {
			return fmt.Errorf("no verification key and no KeyInfo")
		}
		if pub, err = sig.KeyInfo.RSAPublicKey(); err != nil {
			return err
		}
	}
	value, err := sig.Value()
	if err != nil {
		return err
	}
	canonicalInfo, err := Canonicalize(sigEl.SelectElement(SignedInfoTag))
	if err != nil {
		return err
	}
	h := hash.New()
	h.Write(canonicalInfo)
	if err := rsa.VerifyPKCS1v15(pub, hash, h.Sum(nil), value); err != nil {
		return fmt.Errorf("signature value does not verify: %w", err)
	}
	return nil
}

// digestEnveloped digests target with sigEl temporarily detached from the
// tree, which is the enveloped-signature transform.
func digestEnveloped(target, sigEl *etree.Element, m digest.Method) ([]byte, error) {
	if parent := sigEl.Parent(); parent != nil {
		idx := sigEl.Index()
		parent.RemoveChildAt(idx)
		defer parent.InsertChildAt(idx, sigEl)
	}
	canonical, err := Canonicalize(target)
	if err != nil {
		return nil, err
	}
	return digest.Buffer(canonical, m)
}

// VerifyTrusted validates a serialized signed document against a set of
// trusted certificates and returns the certificate that produced the
// signature.
func VerifyTrusted(xmlContent []byte, trusted []*x509.Certificate, idAttr string) (*x509.Certificate, error) {
	const op = "signature.VerifyTrusted"
	if len(trusted) == 0 {
		return nil, status.New(status.InvalidArgument, op, "no trusted certificates provided")
	}
	if idAttr == "" {
		idAttr = DefaultIDAttribute
	}

	validator, err := signedxml.NewValidator(string(xmlContent))
	if err != nil {
		return nil, status.Wrap(status.Validation, op, err)
	}
	validator.SetReferenceIDAttribute(idAttr)

	certs := make([]x509.Certificate, 0, len(trusted))
	for _, cert := range trusted {
		if cert != nil {
			certs = append(certs, *cert)
		}
	}
	validator.Certificates = certs

	refs, err := validator.ValidateReferences()
	if err != nil {
		return nil, status.Wrap(status.Validation, op, err)
	}
	if len(refs) == 0 {
		return nil, status.New(status.Validation, op, "no signed content found")
	}

	signing := validator.SigningCert()
	if len(signing.Raw) == 0 {
		return nil, status.New(status.Validation, op, "signing certificate not identified")
	}
	return &signing, nil
}
