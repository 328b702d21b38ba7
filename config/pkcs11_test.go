package config

import (
	"bytes"
	"testing"
)

func TestPKCS11SignatureConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PKCS11SignatureConfig
		wantErr bool
	}{
		{"valid with key label", PKCS11SignatureConfig{ModulePath: "/lib/p11.so", KeyLabel: "signer"}, false},
		{"valid with cert id", PKCS11SignatureConfig{ModulePath: "/lib/p11.so", CertID: "0a0b"}, false},
		{"missing module", PKCS11SignatureConfig{KeyLabel: "signer"}, true},
		{"no identifiers", PKCS11SignatureConfig{ModulePath: "/lib/p11.so"}, true},
		{"bad key id", PKCS11SignatureConfig{ModulePath: "/lib/p11.so", KeyID: "zz"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPKCS11KeysConfig(t *testing.T) {
	slot := 1
	cfg := PKCS11SignatureConfig{
		ModulePath: "/lib/p11.so",
		SlotNo:     &slot,
		KeyID:      "01ff",
		UserPIN:    "1234",
	}
	kc, err := cfg.KeysConfig()
	if err != nil {
		t.Fatalf("KeysConfig failed: %v", err)
	}
	if !bytes.Equal(kc.KeyID, []byte{0x01, 0xff}) {
		t.Errorf("KeyID = %x, want 01ff", kc.KeyID)
	}
	if kc.CertID != nil {
		t.Errorf("CertID = %x, want nil", kc.CertID)
	}
	if kc.SlotNo == nil || *kc.SlotNo != 1 || kc.UserPIN != "1234" {
		t.Errorf("KeysConfig() = %+v", kc)
	}
}

func TestParsePKCS11Section(t *testing.T) {
	data := []byte(`signing:
  type: pkcs11
  pkcs11:
    module: /usr/lib/softhsm/libsofthsm2.so
    slot: 0
    token-label: t
    key-label: k
    user-pin: "1234"
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	p := cfg.Signing.PKCS11
	if p.ModulePath != "/usr/lib/softhsm/libsofthsm2.so" || p.SlotNo == nil || *p.SlotNo != 0 || p.KeyLabel != "k" {
		t.Errorf("pkcs11 section = %+v", p)
	}
}

func TestProcessPKCS11ID(t *testing.T) {
	id, err := ProcessPKCS11ID("")
	if id != nil || err != nil {
		t.Errorf("ProcessPKCS11ID(\"\") = %v, %v", id, err)
	}
	id, err = ProcessPKCS11ID("a1")
	if err != nil || !bytes.Equal(id, []byte{0xa1}) {
		t.Errorf("ProcessPKCS11ID(a1) = %x, %v", id, err)
	}
	if _, err := ProcessPKCS11ID("xyz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}
