// Package textenc converts binary values, big integers, certificate fields and
// timestamps into the textual forms carried inside XML signature and
// metadata elements.
package textenc

import (
	"crypto/x509"
	"encoding/base64"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/gojal/status"
)

// TimestampLayout is the xs:dateTime layout used for every emitted timestamp:
// fixed-width microsecond fraction, always UTC with a literal "Z".
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Base64Encode returns the standard (padded) base64 encoding of data. The
// empty buffer encodes to the empty string.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode reverses Base64Encode. Whitespace inside element content is
// not accepted; callers trim element text first.
func Base64Decode(text string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, status.Wrap(status.Encoding, "textenc.Base64Decode", err)
	}
	return out, nil
}

// BigIntToDecimal renders n as an unsigned decimal string.
func BigIntToDecimal(n *big.Int) (string, error) {
	if n == nil {
		return "", status.New(status.Encoding, "textenc.BigIntToDecimal", "nil integer")
	}
	if n.Sign() < 0 {
		return "", status.New(status.Encoding, "textenc.BigIntToDecimal", "negative integer")
	}
	return n.Text(10), nil
}

// BigIntToBase64 renders the big-endian magnitude of n as base64, without
// leading zero octets (ds:CryptoBinary). Zero encodes as a single 0x00 octet.
func BigIntToBase64(n *big.Int) (string, error) {
	if n == nil {
		return "", status.New(status.Encoding, "textenc.BigIntToBase64", "nil integer")
	}
	if n.Sign() < 0 {
		return "", status.New(status.Encoding, "textenc.BigIntToBase64", "negative integer")
	}
	b := n.Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	return Base64Encode(b), nil
}

// Base64ToBigInt decodes a ds:CryptoBinary value.
func Base64ToBigInt(text string) (*big.Int, error) {
	b, err := Base64Decode(text)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// CertificateSubject renders the certificate's subject distinguished name.
func CertificateSubject(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", status.New(status.Encoding, "textenc.CertificateSubject", "nil certificate")
	}
	return cert.Subject.String(), nil
}

// CertificateIssuer renders the certificate's issuer distinguished name.
func CertificateIssuer(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", status.New(status.Encoding, "textenc.CertificateIssuer", "nil certificate")
	}
	return cert.Issuer.String(), nil
}

// CertificateSerial renders the certificate's serial number in decimal.
func CertificateSerial(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", status.New(status.Encoding, "textenc.CertificateSerial", "nil certificate")
	}
	if cert.SerialNumber == nil {
		return "", status.New(status.Encoding, "textenc.CertificateSerial", "certificate has no serial number")
	}
	s, err := BigIntToDecimal(cert.SerialNumber)
	if err != nil {
		return "", status.Wrap(status.Encoding, "textenc.CertificateSerial", err)
	}
	return s, nil
}

// CertificateBase64 returns the base64 encoding of the certificate's DER bytes.
func CertificateBase64(cert *x509.Certificate) (string, error) {
	if cert == nil || len(cert.Raw) == 0 {
		return "", status.New(status.Encoding, "textenc.CertificateBase64", "certificate has no DER encoding")
	}
	return Base64Encode(cert.Raw), nil
}

// Timestamp returns the current time of clock as xs:dateTime text. A nil
// clock uses the real clock.
func Timestamp(clock clockwork.Clock) string {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return TimestampAt(clock.Now())
}

// TimestampAt formats t as xs:dateTime text in UTC.
func TimestampAt(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
