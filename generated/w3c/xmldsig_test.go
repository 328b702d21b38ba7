package w3c

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestNamespace(t *testing.T) {
	expected := "http://www.w3.org/2000/09/xmldsig#"
	if Namespace != expected {
		t.Errorf("Namespace = %q, want %q", Namespace, expected)
	}
}

const sampleSignature = `<Signature xmlns="http://www.w3.org/2000/09/xmldsig#">
  <SignedInfo>
    <CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"/>
    <SignatureMethod Algorithm="http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"/>
    <Reference URI="#doc-id">
      <Transforms>
        <Transform Algorithm="http://www.w3.org/2000/09/xmldsig#enveloped-signature"/>
        <Transform Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"/>
      </Transforms>
      <DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
      <DigestValue>AAECAw==</DigestValue>
    </Reference>
  </SignedInfo>
  <SignatureValue>
    c2lnbmF0dXJl
  </SignatureValue>
  <KeyInfo>
    <KeyValue>
      <RSAKeyValue>
        <Modulus>AQI=</Modulus>
        <Exponent>AQAB</Exponent>
      </RSAKeyValue>
    </KeyValue>
  </KeyInfo>
</Signature>`

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature([]byte(sampleSignature))
	if err != nil {
		t.Fatalf("ParseSignature failed: %v", err)
	}
	if sig.SignedInfo.CanonicalizationMethod.Algorithm != AlgExcC14N {
		t.Errorf("CanonicalizationMethod = %q", sig.SignedInfo.CanonicalizationMethod.Algorithm)
	}
	if sig.SignedInfo.SignatureMethod.Algorithm != AlgRSAWithSHA256 {
		t.Errorf("SignatureMethod = %q", sig.SignedInfo.SignatureMethod.Algorithm)
	}
	if len(sig.SignedInfo.Reference) != 1 {
		t.Fatalf("got %d references, want 1", len(sig.SignedInfo.Reference))
	}

	ref := sig.SignedInfo.Reference[0]
	if ref.URI != "#doc-id" {
		t.Errorf("URI = %q", ref.URI)
	}
	transforms := ref.TransformAlgorithms()
	if len(transforms) != 2 || transforms[0] != AlgEnvelopedSignature || transforms[1] != AlgExcC14N {
		t.Errorf("transforms = %v", transforms)
	}
	d, err := ref.Digest()
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if string(d) != "\x00\x01\x02\x03" {
		t.Errorf("digest = %x", d)
	}

	v, err := sig.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if string(v) != "signature" {
		t.Errorf("signature value = %q", v)
	}

	pub, err := sig.KeyInfo.RSAPublicKey()
	if err != nil {
		t.Fatalf("RSAPublicKey failed: %v", err)
	}
	if pub.E != 65537 || pub.N.Int64() != 0x0102 {
		t.Errorf("key = N:%v E:%d", pub.N, pub.E)
	}
}

func TestParseSignatureErrors(t *testing.T) {
	if _, err := ParseSignature([]byte(`<Signature xmlns="http://www.w3.org/2000/09/xmldsig#"/>`)); err == nil {
		t.Error("expected error for signature without SignedInfo")
	}
	if _, err := ParseSignature([]byte(`<Other/>`)); err == nil {
		t.Error("expected error for non-signature element")
	}
}

func TestReferenceDigestInvalid(t *testing.T) {
	ref := Reference{DigestValue: "***"}
	if _, err := ref.Digest(); !errors.Is(err, ErrInvalidBase64) {
		t.Errorf("expected ErrInvalidBase64, got %v", err)
	}
}

func TestKeyInfoCertificate(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "Store"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	ki := &KeyInfo{X509Data: []X509Data{{X509Certificate: []string{base64.StdEncoding.EncodeToString(der)}}}}
	certs, err := ki.Certificates()
	if err != nil {
		t.Fatalf("Certificates failed: %v", err)
	}
	if len(certs) != 1 || certs[0].Subject.CommonName != "Store" {
		t.Fatalf("unexpected certificates %v", certs)
	}
	pub, err := ki.RSAPublicKey()
	if err != nil {
		t.Fatalf("RSAPublicKey failed: %v", err)
	}
	if !pub.Equal(&key.PublicKey) {
		t.Error("public key mismatch")
	}
}

func TestKeyInfoEmpty(t *testing.T) {
	ki := &KeyInfo{}
	if _, err := ki.RSAPublicKey(); !errors.Is(err, ErrNoKeyMaterial) {
		t.Errorf("expected ErrNoKeyMaterial, got %v", err)
	}
}
