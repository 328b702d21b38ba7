package textenc

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/gojal/status"
)

func TestBase64RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0x7f}},
		{"trailing zeros", []byte{0x01, 0x02, 0x00, 0x00, 0x00}},
		{"all zeros", make([]byte, 17)},
		{"text", []byte("audit record payload")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := Base64Encode(tt.data)
			dec, err := Base64Decode(enc)
			if err != nil {
				t.Fatalf("Base64Decode failed: %v", err)
			}
			if !bytes.Equal(dec, tt.data) {
				t.Errorf("round trip = %x, want %x", dec, tt.data)
			}
		})
	}

	if _, err := Base64Decode("not base64!"); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

func TestBigIntToDecimal(t *testing.T) {
	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211457", 10)
	tests := []struct {
		name string
		in   *big.Int
		want string
	}{
		{"zero", big.NewInt(0), "0"},
		{"small", big.NewInt(65537), "65537"},
		{"huge", huge, "340282366920938463463374607431768211457"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BigIntToDecimal(tt.in)
			if err != nil {
				t.Fatalf("BigIntToDecimal failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("BigIntToDecimal() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := BigIntToDecimal(nil); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("nil: expected ErrEncoding, got %v", err)
	}
	if _, err := BigIntToDecimal(big.NewInt(-5)); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("negative: expected ErrEncoding, got %v", err)
	}
}

func TestBigIntToBase64(t *testing.T) {
	tests := []struct {
		name string
		in   *big.Int
		want string
	}{
		{"exponent", big.NewInt(65537), "AQAB"},
		{"zero", big.NewInt(0), "AA=="},
		{"high bit set", big.NewInt(0xff), "/w=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BigIntToBase64(tt.in)
			if err != nil {
				t.Fatalf("BigIntToBase64 failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("BigIntToBase64() = %q, want %q", got, tt.want)
			}
			back, err := Base64ToBigInt(got)
			if err != nil {
				t.Fatalf("Base64ToBigInt failed: %v", err)
			}
			if back.Cmp(tt.in) != 0 {
				t.Errorf("round trip = %v, want %v", back, tt.in)
			}
		})
	}
}

func testCertificate(t *testing.T, serial *big.Int) *x509.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Journal Producer",
			Organization: []string{"Test Org"},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func TestCertificateFields(t *testing.T) {
	cert := testCertificate(t, big.NewInt(4242))

	subject, err := CertificateSubject(cert)
	if err != nil {
		t.Fatalf("CertificateSubject failed: %v", err)
	}
	if subject != "CN=Journal Producer,O=Test Org" {
		t.Errorf("subject = %q", subject)
	}

	issuer, err := CertificateIssuer(cert)
	if err != nil {
		t.Fatalf("CertificateIssuer failed: %v", err)
	}
	if issuer != subject {
		t.Errorf("self-signed issuer = %q, want %q", issuer, subject)
	}

	serial, err := CertificateSerial(cert)
	if err != nil {
		t.Fatalf("CertificateSerial failed: %v", err)
	}
	if serial != "4242" {
		t.Errorf("serial = %q, want 4242", serial)
	}

	b64, err := CertificateBase64(cert)
	if err != nil {
		t.Fatalf("CertificateBase64 failed: %v", err)
	}
	der, err := Base64Decode(b64)
	if err != nil {
		t.Fatalf("Base64Decode failed: %v", err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("encoded certificate does not parse: %v", err)
	}
	if !parsed.Equal(cert) {
		t.Error("decoded certificate differs from original")
	}
}

func TestCertificateFieldErrors(t *testing.T) {
	if _, err := CertificateSubject(nil); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("CertificateSubject(nil) = %v", err)
	}
	if _, err := CertificateIssuer(nil); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("CertificateIssuer(nil) = %v", err)
	}
	if _, err := CertificateSerial(&x509.Certificate{}); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("CertificateSerial(no serial) = %v", err)
	}
	if _, err := CertificateSerial(&x509.Certificate{SerialNumber: big.NewInt(-1)}); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("CertificateSerial(negative) = %v", err)
	}
	if _, err := CertificateBase64(&x509.Certificate{}); !errors.Is(err, status.ErrEncoding) {
		t.Errorf("CertificateBase64(no raw) = %v", err)
	}
}

func TestTimestamp(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 3, 4, 5, 6000, loc))

	got := Timestamp(clock)
	want := "2026-10-19T08:04:05.000006Z"
	if got != want {
		t.Errorf("Timestamp() = %q, want %q", got, want)
	}

	parsed, err := time.Parse(time.RFC3339Nano, got)
	if err != nil {
		t.Fatalf("timestamp does not parse as xs:dateTime: %v", err)
	}
	if !parsed.Equal(clock.Now()) {
		t.Errorf("parsed %v, want %v", parsed, clock.Now())
	}

	whole := TimestampAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if whole != "2026-01-02T03:04:05.000000Z" {
		t.Errorf("TimestampAt() = %q", whole)
	}
	if len(Timestamp(nil)) != len(whole) {
		t.Errorf("real clock timestamp has unexpected width: %q", Timestamp(nil))
	}
}
