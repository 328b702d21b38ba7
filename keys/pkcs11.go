package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/miekg/pkcs11"
	"go.uber.org/multierr"
)

// PKCS#11 errors
var (
	ErrPKCS11ModuleLoad = errors.New("failed to load PKCS#11 module")
	ErrPKCS11NoToken    = errors.New("no matching PKCS#11 token")
	ErrPKCS11NoKey      = errors.New("no matching private key on token")
	ErrPKCS11NoCert     = errors.New("no matching certificate on token")
	ErrPKCS11Ambiguous  = errors.New("more than one matching object on token")
	ErrPKCS11Login      = errors.New("PKCS#11 login failed")
)

// PKCS11Config selects a token and the signing key on it. The certificate
// defaults to the key's label or ID.
type PKCS11Config struct {
	ModulePath string
	SlotNo     *int
	TokenLabel string
	KeyLabel   string
	KeyID      []byte
	CertLabel  string
	CertID     []byte
	UserPIN    string
}

// Validate checks that a module and a key identifier are configured.
func (c *PKCS11Config) Validate() error {
	if c.ModulePath == "" {
		return errors.New("PKCS#11 module path is required")
	}
	if c.KeyLabel == "" && c.KeyID == nil && c.CertLabel == "" && c.CertID == nil {
		return errors.New("at least one of key label, key id, cert label or cert id is required")
	}
	return nil
}

func (c *PKCS11Config) keyIdentifiers() (string, []byte) {
	if c.KeyLabel != "" || c.KeyID != nil {
		return c.KeyLabel, c.KeyID
	}
	return c.CertLabel, c.CertID
}

func (c *PKCS11Config) certIdentifiers() (string, []byte) {
	if c.CertLabel != "" || c.CertID != nil {
		return c.CertLabel, c.CertID
	}
	return c.KeyLabel, c.KeyID
}

// PKCS11Signer is an RSA crypto.Signer backed by a key on a PKCS#11 token.
// Signing uses CKM_RSA_PKCS over a DigestInfo built from the hash in opts.
type PKCS11Signer struct {
	mu      sync.Mutex
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	key     pkcs11.ObjectHandle
	cert    *x509.Certificate
}

// OpenPKCS11 opens a session on the configured token, logs in and locates
// the key and certificate. Close the returned credential to end the
// session.
func OpenPKCS11(cfg PKCS11Config) (*Credential, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrPKCS11ModuleLoad, cfg.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("PKCS#11 initialize failed: %w", err)
	}

	s := &PKCS11Signer{ctx: ctx}
	if err := s.open(cfg); err != nil {
		ctx.Finalize()
		ctx.Destroy()
		return nil, err
	}
	cred := &Credential{Signer: s, Certificate: s.cert, close: s.Close}
	return cred, nil
}

func (s *PKCS11Signer) open(cfg PKCS11Config) error {
	slot, err := s.findSlot(cfg)
	if err != nil {
		return err
	}
	s.session, err = s.ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fmt.Errorf("failed to open PKCS#11 session: %w", err)
	}
	if cfg.UserPIN != "" {
		if err := s.ctx.Login(s.session, pkcs11.CKU_USER, cfg.UserPIN); err != nil {
			s.ctx.CloseSession(s.session)
			return fmt.Errorf("%w: %v", ErrPKCS11Login, err)
		}
	}

	certLabel, certID := cfg.certIdentifiers()
	s.cert, err = s.certificate(certLabel, certID)
	if err == nil {
		keyLabel, keyID := cfg.keyIdentifiers()
		s.key, err = s.findOne(pkcs11.CKO_PRIVATE_KEY, keyLabel, keyID, ErrPKCS11NoKey)
	}
	if err == nil {
		if _, ok := s.cert.PublicKey.(*rsa.PublicKey); !ok {
			err = fmt.Errorf("%w: token key is %T, want RSA", ErrUnknownKeyType, s.cert.PublicKey)
		}
	}
	if err != nil {
		s.ctx.CloseSession(s.session)
		return err
	}
	return nil
}

func (s *PKCS11Signer) findSlot(cfg PKCS11Config) (uint, error) {
	slots, err := s.ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to list slots: %w", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("%w: no slots with tokens", ErrPKCS11NoToken)
	}
	if cfg.SlotNo != nil {
		if *cfg.SlotNo < 0 || *cfg.SlotNo >= len(slots) {
			return 0, fmt.Errorf("%w: slot %d not found (%d available)", ErrPKCS11NoToken, *cfg.SlotNo, len(slots))
		}
		return slots[*cfg.SlotNo], nil
	}
	if cfg.TokenLabel == "" {
		if len(slots) > 1 {
			return 0, fmt.Errorf("%w: several tokens present, set a slot or token label", ErrPKCS11NoToken)
		}
		return slots[0], nil
	}
	for _, slot := range slots {
		info, err := s.ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if strings.TrimRight(info.Label, " ") == cfg.TokenLabel {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: label %q", ErrPKCS11NoToken, cfg.TokenLabel)
}

func (s *PKCS11Signer) findOne(class uint, label string, id []byte, notFound error) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, class)}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}
	if err := s.ctx.FindObjectsInit(s.session, template); err != nil {
		return 0, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer s.ctx.FindObjectsFinal(s.session)

	objs, _, err := s.ctx.FindObjects(s.session, 2)
	if err != nil {
		return 0, fmt.Errorf("FindObjects failed: %w", err)
	}
	switch len(objs) {
	case 0:
		return 0, fmt.Errorf("%w: label=%q, id=%s", notFound, label, hex.EncodeToString(id))
	case 1:
		return objs[0], nil
	default:
		return 0, fmt.Errorf("%w: label=%q, id=%s", ErrPKCS11Ambiguous, label, hex.EncodeToString(id))
	}
}

func (s *PKCS11Signer) certificate(label string, id []byte) (*x509.Certificate, error) {
	obj, err := s.findOne(pkcs11.CKO_CERTIFICATE, label, id, ErrPKCS11NoCert)
	if err != nil {
		return nil, err
	}
	attrs, err := s.ctx.GetAttributeValue(s.session, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("GetAttributeValue failed: %w", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return nil, fmt.Errorf("%w: certificate has no value", ErrPKCS11NoCert)
	}
	return x509.ParseCertificate(attrs[0].Value)
}

// Public returns the public key of the token certificate.
func (s *PKCS11Signer) Public() crypto.PublicKey {
	return s.cert.PublicKey
}

// Sign signs a precomputed digest with RSA PKCS#1 v1.5.
func (s *PKCS11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, errors.New("PKCS#11 signer does not support RSASSA-PSS")
	}
	info, err := wrapDigestInfo(opts.HashFunc(), digest)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil, errors.New("PKCS#11 session is closed")
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := s.ctx.SignInit(s.session, mech, s.key); err != nil {
		return nil, fmt.Errorf("SignInit failed: %w", err)
	}
	sig, err := s.ctx.Sign(s.session, info)
	if err != nil {
		return nil, fmt.Errorf("PKCS#11 signing failed: %w", err)
	}
	return sig, nil
}

// Close logs out and ends the session.
func (s *PKCS11Signer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil
	}
	// Logout fails on sessions that never logged in.
	_ = s.ctx.Logout(s.session)
	err := multierr.Combine(
		s.ctx.CloseSession(s.session),
		s.ctx.Finalize(),
	)
	s.ctx.Destroy()
	s.ctx = nil
	return err
}

var digestOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

// wrapDigestInfo encodes digest in a PKCS#1 DigestInfo structure.
func wrapDigestInfo(h crypto.Hash, digest []byte) ([]byte, error) {
	oid, ok := digestOIDs[h]
	if !ok {
		return nil, fmt.Errorf("unsupported digest algorithm %v", h)
	}
	if len(digest) != h.Size() {
		return nil, fmt.Errorf("digest length %d does not match %v", len(digest), h)
	}

	type algorithmIdentifier struct {
		Algorithm  asn1.ObjectIdentifier
		Parameters asn1.RawValue `asn1:"optional"`
	}
	type digestInfo struct {
		DigestAlgorithm algorithmIdentifier
		Digest          []byte
	}
	return asn1.Marshal(digestInfo{
		DigestAlgorithm: algorithmIdentifier{Algorithm: oid, Parameters: asn1.RawValue{Tag: 5}},
		Digest:          digest,
	})
}
