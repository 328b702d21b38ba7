// Package w3c provides W3C XML Digital Signature structures.
//
// Implements the subset of XML Signature Syntax and Processing (Second Edition)
// read back by signature verification:
// https://www.w3.org/TR/xmldsig-core/
//
// Binary values (digests, signature values, CryptoBinary integers and
// certificates) are kept as their base64 element text; the accessor methods
// decode them.
package w3c

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Namespace is the XML Digital Signature namespace.
const Namespace = "http://www.w3.org/2000/09/xmldsig#"

// Common errors
var (
	ErrNoKeyMaterial = errors.New("KeyInfo carries no usable key material")
	ErrInvalidBase64 = errors.New("invalid base64 element content")
)

// CanonicalizationMethod specifies the canonicalization algorithm.
type CanonicalizationMethod struct {
	XMLName   xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# CanonicalizationMethod"`
	Algorithm string   `xml:"Algorithm,attr"`
}

// SignatureMethod specifies the signature algorithm.
type SignatureMethod struct {
	XMLName   xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# SignatureMethod"`
	Algorithm string   `xml:"Algorithm,attr"`
}

// DigestMethod specifies the digest algorithm.
type DigestMethod struct {
	XMLName   xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# DigestMethod"`
	Algorithm string   `xml:"Algorithm,attr"`
}

// Transform specifies a transformation.
type Transform struct {
	XMLName   xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# Transform"`
	Algorithm string   `xml:"Algorithm,attr"`
}

// Transforms contains a list of transforms.
type Transforms struct {
	XMLName    xml.Name    `xml:"http://www.w3.org/2000/09/xmldsig# Transforms"`
	Transforms []Transform `xml:"Transform"`
}

// Reference contains a reference to a resource.
type Reference struct {
	XMLName      xml.Name      `xml:"http://www.w3.org/2000/09/xmldsig# Reference"`
	Transforms   *Transforms   `xml:"Transforms,omitempty"`
	DigestMethod *DigestMethod `xml:"DigestMethod"`
	DigestValue  string        `xml:"DigestValue"`
	ID           string        `xml:"Id,attr,omitempty"`
	URI          string        `xml:"URI,attr,omitempty"`
	Type         string        `xml:"Type,attr,omitempty"`
}

// Digest decodes the reference's digest value.
func (r *Reference) Digest() ([]byte, error) {
	return decode(r.DigestValue)
}

// TransformAlgorithms lists the reference's transform algorithms in order.
func (r *Reference) TransformAlgorithms() []string {
	if r.Transforms == nil {
		return nil
	}
	out := make([]string, 0, len(r.Transforms.Transforms))
	for _, t := range r.Transforms.Transforms {
		out = append(out, t.Algorithm)
	}
	return out
}

// SignedInfo contains the signed information.
type SignedInfo struct {
	XMLName                xml.Name                `xml:"http://www.w3.org/2000/09/xmldsig# SignedInfo"`
	CanonicalizationMethod *CanonicalizationMethod `xml:"CanonicalizationMethod"`
	SignatureMethod        *SignatureMethod        `xml:"SignatureMethod"`
	Reference              []Reference             `xml:"Reference"`
	ID                     string                  `xml:"Id,attr,omitempty"`
}

// SignatureValue contains the signature value.
type SignatureValue struct {
	XMLName xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# SignatureValue"`
	Value   string   `xml:",chardata"`
	ID      string   `xml:"Id,attr,omitempty"`
}

// X509IssuerSerial contains X509 issuer and serial number. The serial number
// is kept as decimal text since certificate serials exceed 64 bits.
type X509IssuerSerial struct {
	X509IssuerName   string `xml:"X509IssuerName"`
	X509SerialNumber string `xml:"X509SerialNumber"`
}

// X509Data contains X509 certificate data.
type X509Data struct {
	XMLName          xml.Name           `xml:"http://www.w3.org/2000/09/xmldsig# X509Data"`
	X509IssuerSerial []X509IssuerSerial `xml:"X509IssuerSerial,omitempty"`
	X509SKI          []string           `xml:"X509SKI,omitempty"`
	X509SubjectName  []string           `xml:"X509SubjectName,omitempty"`
	X509Certificate  []string           `xml:"X509Certificate,omitempty"`
}

// RSAKeyValue contains RSA public key values as CryptoBinary text.
type RSAKeyValue struct {
	XMLName  xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# RSAKeyValue"`
	Modulus  string   `xml:"Modulus"`
	Exponent string   `xml:"Exponent"`
}

// KeyValue contains a key value.
type KeyValue struct {
	XMLName     xml.Name     `xml:"http://www.w3.org/2000/09/xmldsig# KeyValue"`
	RSAKeyValue *RSAKeyValue `xml:"RSAKeyValue,omitempty"`
}

// KeyInfo contains key information.
type KeyInfo struct {
	XMLName  xml.Name   `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
	ID       string     `xml:"Id,attr,omitempty"`
	KeyName  []string   `xml:"KeyName,omitempty"`
	KeyValue []KeyValue `xml:"KeyValue,omitempty"`
	X509Data []X509Data `xml:"X509Data,omitempty"`
}

// Certificates parses every X509Certificate carried by the KeyInfo.
func (ki *KeyInfo) Certificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for _, data := range ki.X509Data {
		for _, text := range data.X509Certificate {
			der, err := decode(text)
			if err != nil {
				return nil, err
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	}
	return certs, nil
}

// RSAPublicKey returns the RSA key carried by the KeyInfo, preferring the
// first certificate over a bare RSAKeyValue.
func (ki *KeyInfo) RSAPublicKey() (*rsa.PublicKey, error) {
	certs, err := ki.Certificates()
	if err != nil {
		return nil, err
	}
	if len(certs) > 0 {
		pub, ok := certs[0].PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: certificate key is %T", ErrNoKeyMaterial, certs[0].PublicKey)
		}
		return pub, nil
	}
	for _, kv := range ki.KeyValue {
		if kv.RSAKeyValue == nil {
			continue
		}
		n, err := decode(kv.RSAKeyValue.Modulus)
		if err != nil {
			return nil, err
		}
		e, err := decode(kv.RSAKeyValue.Exponent)
		if err != nil {
			return nil, err
		}
		exp := new(big.Int).SetBytes(e)
		if !exp.IsInt64() || exp.Int64() > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("%w: exponent out of range", ErrNoKeyMaterial)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
	}
	return nil, ErrNoKeyMaterial
}

// Signature is the root element for XML signatures.
type Signature struct {
	XMLName        xml.Name        `xml:"http://www.w3.org/2000/09/xmldsig# Signature"`
	SignedInfo     *SignedInfo     `xml:"SignedInfo"`
	SignatureValue *SignatureValue `xml:"SignatureValue"`
	KeyInfo        *KeyInfo        `xml:"KeyInfo,omitempty"`
	ID             string          `xml:"Id,attr,omitempty"`
}

// Value decodes the signature value.
func (s *Signature) Value() ([]byte, error) {
	if s.SignatureValue == nil {
		return nil, fmt.Errorf("%w: missing SignatureValue", ErrInvalidBase64)
	}
	return decode(s.SignatureValue.Value)
}

// ParseSignature decodes a serialized ds:Signature element.
func ParseSignature(data []byte) (*Signature, error) {
	var sig Signature
	if err := xml.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("failed to parse signature: %w", err)
	}
	if sig.SignedInfo == nil {
		return nil, errors.New("signature has no SignedInfo")
	}
	return &sig, nil
}

// decode accepts base64 element text, ignoring the line breaks and
// indentation some producers insert into long values.
func decode(text string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, text)
	out, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return out, nil
}

// Common algorithm URIs
const (
	// Canonicalization algorithms
	AlgC14N                = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgExcC14N             = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgExcC14NWithComments = "http://www.w3.org/2001/10/xml-exc-c14n#WithComments"

	// Signature algorithms
	AlgRSAWithSHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgRSAWithSHA384 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgRSAWithSHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"

	// Transform algorithms
	AlgEnvelopedSignature = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)
