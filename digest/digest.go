// Package digest computes message digests over payload bytes, streams, file
// descriptors and serialized XML documents.
//
// The hash function is selected through a Method, a closed set of algorithm
// variants identified by their XML-DSig algorithm URI.
package digest

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sys/unix"

	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// Algorithm URIs
const (
	URISHA256   = "http://www.w3.org/2001/04/xmlenc#sha256"
	URISHA384   = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	URISHA512   = "http://www.w3.org/2001/04/xmlenc#sha512"
	URISHA3_256 = "http://www.w3.org/2007/05/xmldsig-more#sha3-256"
)

// Method describes a digest algorithm.
type Method interface {
	// URI is the XML-DSig algorithm identifier.
	URI() string
	// Size is the output length in bytes.
	Size() int
	// New returns a fresh hash state.
	New() hash.Hash
}

type method struct {
	name string
	uri  string
	size int
	hash crypto.Hash
	ctor func() hash.Hash
}

func (m *method) URI() string    { return m.uri }
func (m *method) Size() int      { return m.size }
func (m *method) New() hash.Hash { return m.ctor() }
func (m *method) String() string { return m.name }

// CryptoHash returns the crypto.Hash identifier of the method.
func (m *method) CryptoHash() crypto.Hash { return m.hash }

// Supported methods
var (
	SHA256   Method = &method{name: "sha256", uri: URISHA256, size: sha256.Size, hash: crypto.SHA256, ctor: sha256.New}
	SHA384   Method = &method{name: "sha384", uri: URISHA384, size: sha512.Size384, hash: crypto.SHA384, ctor: sha512.New384}
	SHA512   Method = &method{name: "sha512", uri: URISHA512, size: sha512.Size, hash: crypto.SHA512, ctor: sha512.New}
	SHA3_256 Method = &method{name: "sha3-256", uri: URISHA3_256, size: 32, hash: crypto.SHA3_256, ctor: sha3.New256}
)

var methods = []Method{SHA256, SHA384, SHA512, SHA3_256}

// ErrUnknownMethod is returned by Lookup and ByName for unsupported algorithms.
var ErrUnknownMethod = errors.New("unknown digest method")

// Lookup returns the method identified by an algorithm URI.
func Lookup(uri string) (Method, error) {
	for _, m := range methods {
		if m.URI() == uri {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, uri)
}

// ByName returns the method with the given short name ("sha256", "sha3-256", ...).
func ByName(name string) (Method, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, m := range methods {
		if m.(*method).name == n {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
}

// Name returns the short name of m.
func Name(m Method) string {
	if mm, ok := m.(*method); ok {
		return mm.name
	}
	return m.URI()
}

// HashOf returns the crypto.Hash that implements m, or 0 if m is not one of
// the built-in methods.
func HashOf(m Method) crypto.Hash {
	if mm, ok := m.(*method); ok {
		return mm.hash
	}
	return 0
}

// Buffer digests data.
func Buffer(data []byte, m Method) ([]byte, error) {
	if m == nil {
		return nil, status.New(status.Digest, "digest.Buffer", "no digest method")
	}
	if len(data) == 0 {
		return nil, status.New(status.Digest, "digest.Buffer", "empty buffer")
	}
	h := m.New()
	h.Write(data)
	return finish(h, m, "digest.Buffer")
}

// Reader digests everything readable from r.
func Reader(r io.Reader, m Method) ([]byte, error) {
	if m == nil {
		return nil, status.New(status.Digest, "digest.Reader", "no digest method")
	}
	if r == nil {
		return nil, status.New(status.Digest, "digest.Reader", "nil reader")
	}
	h := m.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, status.Wrap(status.Digest, "digest.Reader", err)
	}
	return finish(h, m, "digest.Reader")
}

// FD digests the full contents of the file behind fd. Reads are positional
// from offset zero; the descriptor's offset is left untouched and the
// descriptor is never closed.
func FD(fd int, m Method) ([]byte, error) {
	if fd < 0 {
		return nil, status.New(status.InvalidArgument, "digest.FD", "negative descriptor %d", fd)
	}
	return Reader(&fdReader{fd: fd}, m)
}

// Document digests doc in its serialized form.
func Document(doc *etree.Document, m Method) ([]byte, error) {
	if m == nil {
		return nil, status.New(status.Digest, "digest.Document", "no digest method")
	}
	buf, err := xmldoc.Serialize(doc)
	if err != nil {
		return nil, status.Wrap(status.Digest, "digest.Document", err)
	}
	return Buffer(buf, m)
}

func finish(h hash.Hash, m Method, op string) ([]byte, error) {
	sum := h.Sum(nil)
	if len(sum) != m.Size() {
		return nil, status.New(status.Digest, op, "digest length %d does not match method length %d", len(sum), m.Size())
	}
	return sum, nil
}

type fdReader struct {
	fd  int
	off int64
}

func (r *fdReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Pread(r.fd, p, r.off)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		r.off += int64(n)
		return n, nil
	}
}
