package keys

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

// ErrKeyMismatch is returned when a certificate does not carry the public
// half of the signing key.
var ErrKeyMismatch = errors.New("certificate does not match private key")

// Credential is a signing key with its optional certificate.
type Credential struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate
	// Chain holds further certificates shipped with the key.
	Chain []*x509.Certificate

	close func() error
}

// Close releases resources held by the credential, such as a token
// session. It is safe to call more than once.
func (c *Credential) Close() error {
	if c == nil || c.close == nil {
		return nil
	}
	err := c.close()
	c.close = nil
	return err
}

// RSAPublicKey returns the RSA public key of the signer.
func (c *Credential) RSAPublicKey() (*rsa.PublicKey, error) {
	if c == nil || c.Signer == nil {
		return nil, ErrNoKeyFound
	}
	pub, ok := c.Signer.Public().(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, c.Signer.Public())
	}
	return pub, nil
}

// Check verifies that the certificate, if any, matches the signer.
func (c *Credential) Check() error {
	if c == nil || c.Signer == nil {
		return ErrNoKeyFound
	}
	if c.Certificate == nil {
		return nil
	}
	want, err := x509.MarshalPKIXPublicKey(c.Certificate.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to encode certificate key: %w", err)
	}
	got, err := x509.MarshalPKIXPublicKey(c.Signer.Public())
	if err != nil {
		return fmt.Errorf("failed to encode signer key: %w", err)
	}
	if !bytes.Equal(want, got) {
		return ErrKeyMismatch
	}
	return nil
}

// LoadPemDerCredential loads a private key and, when certFile is not empty,
// its certificate.
func LoadPemDerCredential(keyFile, certFile string, passphrase []byte) (*Credential, error) {
	key, err := LoadPrivateKeyFromPemDer(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	cred := &Credential{Signer: key}
	if certFile != "" {
		cred.Certificate, err = LoadCertFromPemDer(certFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
	}
	if err := cred.Check(); err != nil {
		return nil, err
	}
	return cred, nil
}
