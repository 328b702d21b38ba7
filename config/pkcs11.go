package config

import (
	"encoding/hex"
	"fmt"

	"github.com/georgepadayatti/gojal/keys"
)

// PKCS11SignatureConfig selects a signing key on a PKCS#11 token.
type PKCS11SignatureConfig struct {
	// ModulePath is the PKCS#11 module shared object.
	ModulePath string `yaml:"module" json:"module"`

	// SlotNo is an index into the slots with a token present. If nil, the
	// token is chosen by label.
	SlotNo *int `yaml:"slot" json:"slot,omitempty"`

	TokenLabel string `yaml:"token-label" json:"token_label,omitempty"`

	// KeyLabel and KeyID identify the private key; IDs are hex strings.
	KeyLabel string `yaml:"key-label" json:"key_label,omitempty"`
	KeyID    string `yaml:"key-id" json:"key_id,omitempty"`

	// CertLabel and CertID identify the certificate. They default to the
	// key identifiers.
	CertLabel string `yaml:"cert-label" json:"cert_label,omitempty"`
	CertID    string `yaml:"cert-id" json:"cert_id,omitempty"`

	UserPIN string `yaml:"user-pin" json:"user_pin,omitempty"`
}

// Validate validates the PKCS#11 configuration.
func (c *PKCS11SignatureConfig) Validate() error {
	if c.ModulePath == "" {
		return missing("signing.pkcs11.module")
	}
	if c.KeyLabel == "" && c.KeyID == "" && c.CertLabel == "" && c.CertID == "" {
		return NewConfigError("signing.pkcs11", "at least one of key-label, key-id, cert-label or cert-id must be provided")
	}
	if _, err := ProcessPKCS11ID(c.KeyID); err != nil {
		return NewConfigError("signing.pkcs11.key-id", err.Error())
	}
	if _, err := ProcessPKCS11ID(c.CertID); err != nil {
		return NewConfigError("signing.pkcs11.cert-id", err.Error())
	}
	return nil
}

// KeysConfig converts the configuration for keys.OpenPKCS11.
func (c *PKCS11SignatureConfig) KeysConfig() (keys.PKCS11Config, error) {
	if err := c.Validate(); err != nil {
		return keys.PKCS11Config{}, err
	}
	keyID, _ := ProcessPKCS11ID(c.KeyID)
	certID, _ := ProcessPKCS11ID(c.CertID)
	return keys.PKCS11Config{
		ModulePath: c.ModulePath,
		SlotNo:     c.SlotNo,
		TokenLabel: c.TokenLabel,
		KeyLabel:   c.KeyLabel,
		KeyID:      keyID,
		CertLabel:  c.CertLabel,
		CertID:     certID,
		UserPIN:    c.UserPIN,
	}, nil
}

// ProcessPKCS11ID decodes a hex PKCS#11 object ID. An empty string yields
// nil.
func ProcessPKCS11ID(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	id, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid PKCS#11 ID %q: %w", value, err)
	}
	return id, nil
}
