package keys

import (
	"crypto"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// LoadPKCS12 loads the key, certificate and CA chain of a PKCS#12 file.
func LoadPKCS12(filename, password string) (*Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPKCS12Data(data, password)
}

// LoadPKCS12Data decodes a PKCS#12 bundle.
func LoadPKCS12Data(data []byte, password string) (*Credential, error) {
	key, cert, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 data: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
	cred := &Credential{Signer: signer, Certificate: cert, Chain: chain}
	if err := cred.Check(); err != nil {
		return nil, err
	}
	return cred, nil
}
