package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func newCert(t *testing.T, key crypto.Signer, cn string) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func certPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
		{"Short data", []byte("----"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPEM(tt.data); got != tt.expected {
				t.Errorf("isPEM() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadCertsFromPemDerData(t *testing.T) {
	key := newRSAKey(t)
	a := newCert(t, key, "A")
	b := newCert(t, key, "B")

	mixed := append(certPEM(a), pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1}})...)
	mixed = append(mixed, certPEM(b)...)

	tests := []struct {
		name  string
		data  []byte
		count int
	}{
		{"PEM", certPEM(a), 1},
		{"DER", a.Raw, 1},
		{"PEM bundle with other blocks", mixed, 2},
		{"concatenated DER", append(append([]byte{}, a.Raw...), b.Raw...), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certs, err := LoadCertsFromPemDerData(tt.data)
			if err != nil {
				t.Fatalf("LoadCertsFromPemDerData failed: %v", err)
			}
			if len(certs) != tt.count {
				t.Errorf("got %d certs, want %d", len(certs), tt.count)
			}
			if certs[0].Subject.CommonName != "A" {
				t.Errorf("first cert CN = %q, want A", certs[0].Subject.CommonName)
			}
		})
	}

	if _, err := LoadCertsFromPemDerData(nil); !errors.Is(err, ErrNoCertFound) {
		t.Errorf("empty data error = %v, want ErrNoCertFound", err)
	}
	if _, err := LoadCertsFromPemDerData([]byte("-----BEGIN NOTHING-----\n-----END NOTHING-----\n")); !errors.Is(err, ErrNoCertFound) {
		t.Errorf("PEM without certs error = %v, want ErrNoCertFound", err)
	}
}

func TestLoadCertFromPemDer(t *testing.T) {
	key := newRSAKey(t)
	a := newCert(t, key, "A")
	b := newCert(t, key, "B")

	one := writeFile(t, "one.pem", certPEM(a))
	cert, err := LoadCertFromPemDer(one)
	if err != nil {
		t.Fatalf("LoadCertFromPemDer failed: %v", err)
	}
	if !cert.Equal(a) {
		t.Error("loaded certificate differs")
	}

	two := writeFile(t, "two.pem", append(certPEM(a), certPEM(b)...))
	if _, err := LoadCertFromPemDer(two); !errors.Is(err, ErrMultipleCerts) {
		t.Errorf("two certs error = %v, want ErrMultipleCerts", err)
	}

	certs, err := LoadCertsFromPemDerFiles([]string{one, two})
	if err != nil || len(certs) != 3 {
		t.Errorf("LoadCertsFromPemDerFiles = %d certs, %v; want 3", len(certs), err)
	}

	if _, err := LoadCertsFromPemDer(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadPrivateKey(t *testing.T) {
	rsaKey := newRSAKey(t)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatal(err)
	}
	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		algo string
	}{
		{"PKCS#1 PEM", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}), "RSA"},
		{"PKCS#8 PEM", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), "RSA"},
		{"EC PEM", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER}), "ECDSA"},
		{"PKCS#8 DER", pkcs8, "RSA"},
		{"PKCS#1 DER", x509.MarshalPKCS1PrivateKey(rsaKey), "RSA"},
		{"EC DER", ecDER, "ECDSA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadPrivateKeyFromPemDerData(tt.data, nil)
			if err != nil {
				t.Fatalf("LoadPrivateKeyFromPemDerData failed: %v", err)
			}
			if got := GetKeyInfo(key.Public()).Algorithm; got != tt.algo {
				t.Errorf("algorithm = %s, want %s", got, tt.algo)
			}
		})
	}

	if _, err := LoadPrivateKeyFromPemDerData([]byte("-----BEGIN junk"), nil); !errors.Is(err, ErrInvalidPEMBlock) {
		t.Errorf("invalid PEM error = %v", err)
	}
	if _, err := LoadPrivateKeyFromPemDerData([]byte{1, 2, 3}, nil); !errors.Is(err, ErrNoKeyFound) {
		t.Errorf("garbage DER error = %v", err)
	}
	unknown := pem.EncodeToMemory(&pem.Block{Type: "DSA PRIVATE KEY", Bytes: []byte{1}})
	if _, err := LoadPrivateKeyFromPemDerData(unknown, nil); !errors.Is(err, ErrUnknownKeyType) {
		t.Errorf("unknown block error = %v", err)
	}
}

func TestGetKeyInfo(t *testing.T) {
	info := GetKeyInfo(newRSAKey(t).Public())
	if info.Algorithm != "RSA" || info.BitSize != 2048 || info.String() != "RSA-2048" {
		t.Errorf("GetKeyInfo() = %+v", info)
	}
	ecKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if got := GetKeyInfo(ecKey.Public()).String(); got != "ECDSA P-256" {
		t.Errorf("GetKeyInfo(ec) = %q", got)
	}
	if got := GetKeyInfo(nil).Algorithm; got != "Unknown" {
		t.Errorf("GetKeyInfo(nil) = %q", got)
	}
}

func TestLoadPemDerCredential(t *testing.T) {
	key := newRSAKey(t)
	cert := newCert(t, key, "Signer")
	keyFile := writeFile(t, "key.pem", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	certFile := writeFile(t, "cert.pem", certPEM(cert))

	cred, err := LoadPemDerCredential(keyFile, certFile, nil)
	if err != nil {
		t.Fatalf("LoadPemDerCredential failed: %v", err)
	}
	if !cred.Certificate.Equal(cert) {
		t.Error("credential certificate differs")
	}
	pub, err := cred.RSAPublicKey()
	if err != nil || pub.N.Cmp(key.N) != 0 {
		t.Errorf("RSAPublicKey() = %v, %v", pub, err)
	}
	if err := cred.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	bare, err := LoadPemDerCredential(keyFile, "", nil)
	if err != nil || bare.Certificate != nil {
		t.Errorf("key-only credential = %+v, %v", bare, err)
	}

	other := writeFile(t, "other.pem", certPEM(newCert(t, newRSAKey(t), "Other")))
	if _, err := LoadPemDerCredential(keyFile, other, nil); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("mismatched cert error = %v, want ErrKeyMismatch", err)
	}
}

func TestLoadPKCS12(t *testing.T) {
	key := newRSAKey(t)
	cert := newCert(t, key, "PFX Signer")
	ca := newCert(t, newRSAKey(t), "CA")
	pfx, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{ca}, "secret")
	if err != nil {
		t.Fatalf("Failed to encode PKCS#12: %v", err)
	}
	path := writeFile(t, "id.p12", pfx)

	cred, err := LoadPKCS12(path, "secret")
	if err != nil {
		t.Fatalf("LoadPKCS12 failed: %v", err)
	}
	if cred.Certificate.Subject.CommonName != "PFX Signer" {
		t.Errorf("certificate CN = %q", cred.Certificate.Subject.CommonName)
	}
	if len(cred.Chain) != 1 || !cred.Chain[0].Equal(ca) {
		t.Errorf("chain = %d certs", len(cred.Chain))
	}

	if _, err := LoadPKCS12(path, "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := LoadPKCS12(filepath.Join(t.TempDir(), "missing.p12"), "secret"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPKCS11ConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PKCS11Config
		wantErr bool
	}{
		{"no module", PKCS11Config{KeyLabel: "k"}, true},
		{"no identifiers", PKCS11Config{ModulePath: "/lib/p11.so"}, true},
		{"key label", PKCS11Config{ModulePath: "/lib/p11.so", KeyLabel: "k"}, false},
		{"cert id", PKCS11Config{ModulePath: "/lib/p11.so", CertID: []byte{1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := PKCS11Config{ModulePath: "m", CertLabel: "c"}
	if label, _ := cfg.keyIdentifiers(); label != "c" {
		t.Errorf("key label defaults to %q, want c", label)
	}
	cfg = PKCS11Config{ModulePath: "m", KeyID: []byte{7}}
	if _, id := cfg.certIdentifiers(); !bytes.Equal(id, []byte{7}) {
		t.Errorf("cert id defaults to %x, want 07", id)
	}
}

func TestOpenPKCS11MissingModule(t *testing.T) {
	_, err := OpenPKCS11(PKCS11Config{
		ModulePath: filepath.Join(t.TempDir(), "missing-module.so"),
		KeyLabel:   "k",
	})
	if !errors.Is(err, ErrPKCS11ModuleLoad) {
		t.Errorf("OpenPKCS11() error = %v, want ErrPKCS11ModuleLoad", err)
	}
}

func TestWrapDigestInfo(t *testing.T) {
	sum := sha256.Sum256([]byte("record"))
	info, err := wrapDigestInfo(crypto.SHA256, sum[:])
	if err != nil {
		t.Fatalf("wrapDigestInfo failed: %v", err)
	}
	prefix, _ := hex.DecodeString("3031300d060960864801650304020105000420")
	if !bytes.Equal(info, append(prefix, sum[:]...)) {
		t.Errorf("DigestInfo = %x", info)
	}

	if _, err := wrapDigestInfo(crypto.SHA256, sum[:16]); err == nil {
		t.Error("expected error for short digest")
	}
	if _, err := wrapDigestInfo(crypto.MD5, make([]byte, 16)); err == nil {
		t.Error("expected error for unsupported hash")
	}
}
