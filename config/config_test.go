package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/georgepadayatti/gojal/digest"
)

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	expected := "config error in 'field': message"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
	if !errors.Is(err, ErrConfigurationError) {
		t.Error("ConfigError should match ErrConfigurationError")
	}
}

func TestConfigErrorWithoutField(t *testing.T) {
	err := NewConfigError("", "general error")
	expected := "config error: general error"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("application:\n  application-name: myapp\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Digest != "sha256" {
		t.Errorf("Digest = %q, want sha256", cfg.Digest)
	}
	m, err := cfg.DigestMethod()
	if err != nil || m != digest.SHA256 {
		t.Errorf("DigestMethod() = %v, %v", m, err)
	}
	if cfg.Application.ApplicationName != "myapp" {
		t.Errorf("ApplicationName = %q", cfg.Application.ApplicationName)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	cred, err := cfg.SigningMaterial()
	if cred != nil || err != nil {
		t.Errorf("SigningMaterial() without signing = %v, %v", cred, err)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}
	if cfg.Application == nil || cfg.Logging == nil {
		t.Error("defaults not applied")
	}
}

func TestParseDigestNone(t *testing.T) {
	cfg, err := Parse([]byte("digest: none\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	m, err := cfg.DigestMethod()
	if m != nil || err != nil {
		t.Errorf("DigestMethod() = %v, %v; want nil, nil", m, err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
		want  error
	}{
		{"unknown digest", "digest: md5\n", "digest", digest.ErrUnknownMethod},
		{"unknown field", "digets: sha256\n", "", ErrUnexpectedField},
		{"missing signing type", "signing: {}\n", "signing.type", ErrMissingRequiredField},
		{"unknown signing type", "signing:\n  type: smartcard\n", "signing.type", ErrConfigurationError},
		{"pemder without section", "signing:\n  type: pemder\n", "signing.pemder", ErrMissingRequiredField},
		{"pemder without key", "signing:\n  type: pemder\n  pemder:\n    cert-file: c.pem\n", "signing.pemder.key-file", ErrMissingRequiredField},
		{"pkcs12 without file", "signing:\n  type: pkcs12\n  pkcs12: {}\n", "signing.pkcs12.pfx-file", ErrMissingRequiredField},
		{"pkcs11 without module", "signing:\n  type: pkcs11\n  pkcs11:\n    key-label: k\n", "signing.pkcs11.module", ErrMissingRequiredField},
		{"bad log level", "logging:\n  level: loud\n", "logging.level", ErrConfigurationError},
		{"bad log format", "logging:\n  format: xml\n", "logging.format", ErrConfigurationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse() error = %v, want %v", err, tt.want)
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}

	if _, err := Parse([]byte("digest: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gojal.yaml")
	if err := os.WriteFile(path, []byte("digest: sha512\nschemas-root: /opt/schemas\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SchemasRoot != "/opt/schemas" || cfg.Digest != "sha512" {
		t.Errorf("Load() = %+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSigningMaterialPemDer(t *testing.T) {
	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "Config Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(dir, "key.pem")
	certFile := filepath.Join(dir, "cert.pem")
	_ = os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600)
	_ = os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)

	data := "signing:\n  type: pemder\n  pemder:\n    key-file: " + keyFile + "\n    cert-file: " + certFile + "\n"
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	cred, err := cfg.SigningMaterial()
	if err != nil {
		t.Fatalf("SigningMaterial failed: %v", err)
	}
	if cred.Certificate == nil || cred.Certificate.Subject.CommonName != "Config Signer" {
		t.Errorf("unexpected certificate %v", cred.Certificate)
	}

	cfg.Signing.PemDer.KeyFile = filepath.Join(dir, "missing.pem")
	if _, err := cfg.SigningMaterial(); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestLoggingBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := (&LoggingConfig{Level: "debug", Output: path}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	logger.Debug("hello")
	_ = logger.Sync()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("debug message was not written")
	}

	if _, err := (&LoggingConfig{Level: "verbose"}).Build(); err == nil {
		t.Error("expected error for unknown level")
	}
}
