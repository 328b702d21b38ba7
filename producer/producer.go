// Package producer packages journal, audit and log records for delivery.
//
// A Context carries the long-lived producer configuration: the transport that
// frames and delivers records, the optional payload digest method, the
// optional signing credential and the identity of the producing application.
// Each packaging call builds its own metadata document, so a Context may be
// shared by goroutines as long as nobody mutates it concurrently.
package producer

import (
	"context"
	"os"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/gojal/appmeta"
	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/keys"
	"github.com/georgepadayatti/gojal/manifest"
	"github.com/georgepadayatti/gojal/schema"
	"github.com/georgepadayatti/gojal/signature"
	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// Kind is the record type of a message.
type Kind int

const (
	KindJournal Kind = iota
	KindAudit
	KindLog
)

func (k Kind) String() string {
	switch k {
	case KindJournal:
		return "journal"
	case KindAudit:
		return "audit"
	case KindLog:
		return "log"
	default:
		return "unknown"
	}
}

// Message is one record handed to the transport. Exactly one payload form is
// used: Payload for in-memory records, FD for descriptor backed journal
// records (FD is -1 otherwise). Metadata is nil when the record carries no
// application metadata.
type Message struct {
	Kind       Kind
	Payload    []byte
	PayloadLen int64
	FD         int
	Metadata   []byte
}

// Transport frames and delivers records.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// SignHook signs the metadata document of a record. id is the JID of the
// document root and anchor is where the signature block belongs.
type SignHook func(doc *etree.Document, anchor signature.Anchor, id string, cred *keys.Credential) error

// XMLDSig returns a SignHook that inserts an enveloped XML-DSig signature
// over the metadata root.
func XMLDSig(opts ...signature.Option) SignHook {
	return func(doc *etree.Document, anchor signature.Anchor, id string, cred *keys.Credential) error {
		if cred == nil {
			return status.New(status.Signing, "producer.XMLDSig", "no signing credential")
		}
		_, err := signature.NewBuilder(cred.Signer, cred.Certificate, opts...).Sign(doc, anchor, id)
		return err
	}
}

// Context is a producer configuration.
type Context struct {
	transport  Transport
	method     digest.Method
	credential *keys.Credential
	signHook   SignHook
	validator  *schema.Validator

	hostname        string
	applicationName string
	processID       uint64

	logger *zap.Logger
	clock  clockwork.Clock
	newID  func() string
}

// Option configures a Context.
type Option func(*Context)

// WithDigest sets the payload digest method. Without one, records carry no
// manifest.
func WithDigest(m digest.Method) Option {
	return func(c *Context) {
		c.method = m
	}
}

// WithCredential sets the signing credential.
func WithCredential(cred *keys.Credential) Option {
	return func(c *Context) {
		c.credential = cred
	}
}

// WithSignHook sets the hook invoked when a signing credential is configured.
// Without a hook, metadata documents are sent unsigned.
func WithSignHook(h SignHook) Option {
	return func(c *Context) {
		c.signHook = h
	}
}

// WithValidator makes Audit validate payloads against the audit schema.
func WithValidator(v *schema.Validator) Option {
	return func(c *Context) {
		c.validator = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp metadata without a timestamp.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Context) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithHostname overrides the hostname written to metadata.
func WithHostname(name string) Option {
	return func(c *Context) {
		c.hostname = name
	}
}

// WithApplicationName sets the application name written to metadata.
func WithApplicationName(name string) Option {
	return func(c *Context) {
		c.applicationName = name
	}
}

// WithProcessID overrides the process ID written to metadata.
func WithProcessID(pid uint64) Option {
	return func(c *Context) {
		c.processID = pid
	}
}

// WithIDGenerator replaces the JID generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *Context) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// NewID returns a fresh record JID.
func NewID() string {
	return "UUID-" + uuid.NewString()
}

// New creates a Context that delivers through t.
func New(t Transport, opts ...Option) (*Context, error) {
	if t == nil {
		return nil, status.New(status.InvalidArgument, "producer.New", "nil transport")
	}
	c := &Context{
		transport: t,
		processID: uint64(os.Getpid()),
		logger:    zap.NewNop(),
		clock:     clockwork.NewRealClock(),
		newID:     NewID,
	}
	if h, err := os.Hostname(); err == nil {
		c.hostname = h
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger {
	return c.logger
}

// payloadDigest computes the digest of a record payload for method m.
type payloadDigest func(m digest.Method) ([]byte, error)

// record describes one packaging call.
type record struct {
	kind       Kind
	payload    []byte
	length     int64
	fd         int
	digest     payloadDigest
	transforms []manifest.Transform
}

// send builds the metadata document for r, if any, and forwards the record.
// Nothing reaches the transport when any step fails.
func (c *Context) send(ctx context.Context, meta *appmeta.Metadata, r record) error {
	msg := Message{Kind: r.kind, Payload: r.payload, PayloadLen: r.length, FD: r.fd}
	var id string
	if meta != nil {
		id = c.newID()
		md, err := c.metadata(meta, id, r)
		if err != nil {
			c.logger.Debug("record not sent", zap.Stringer("kind", r.kind), zap.Error(err))
			return err
		}
		msg.Metadata = md
	}
	if err := c.transport.Send(ctx, msg); err != nil {
		c.logger.Warn("transport failed", zap.Stringer("kind", r.kind), zap.String("jid", id), zap.Error(err))
		return err
	}
	c.logger.Debug("record sent",
		zap.Stringer("kind", r.kind),
		zap.String("jid", id),
		zap.Int64("payload_len", r.length),
		zap.Int("metadata_len", len(msg.Metadata)),
	)
	return nil
}

func (c *Context) metadata(meta *appmeta.Metadata, id string, r record) ([]byte, error) {
	const op = "producer.metadata"

	doc, err := c.fill(meta).Document(id)
	if err != nil {
		return nil, err
	}
	root := doc.Root()

	var manifestEl *etree.Element
	if c.method != nil && r.digest != nil {
		sum, err := r.digest(c.method)
		if err != nil {
			return nil, err
		}
		ref, err := manifest.NewReference(manifest.PayloadURI, c.method.URI(), sum)
		if err != nil {
			return nil, status.Wrap(status.Digest, op, err)
		}
		ref.Transforms = append(ref.Transforms, r.transforms...)
		manifestEl, err = manifest.Attach(doc, root, manifest.NewManifest(ref))
		if err != nil {
			return nil, err
		}
	}

	if c.credential != nil {
		if c.signHook == nil {
			c.logger.Debug("signing credential configured without a sign hook, metadata left unsigned", zap.String("jid", id))
		} else {
			anchor := signature.Anchor{Parent: root, Before: manifestEl}
			if err := c.signHook(doc, anchor, id, c.credential); err != nil {
				if status.CodeOf(err) == status.Unknown {
					err = status.Wrap(status.Signing, op, err)
				}
				return nil, err
			}
		}
	}

	return xmldoc.Serialize(doc)
}

// fill returns a copy of meta with the producer identity and missing
// timestamps filled in. meta itself is not modified.
func (c *Context) fill(meta *appmeta.Metadata) *appmeta.Metadata {
	m := *meta
	if m.Hostname == "" {
		m.Hostname = c.hostname
	}
	if m.ApplicationName == "" {
		m.ApplicationName = c.applicationName
	}
	if m.ProcessID == nil {
		pid := c.processID
		m.ProcessID = &pid
	}
	if m.Syslog != nil && m.Syslog.Timestamp.IsZero() {
		s := *m.Syslog
		s.Timestamp = c.clock.Now()
		m.Syslog = &s
	}
	if m.Logger != nil && m.Logger.Timestamp.IsZero() {
		l := *m.Logger
		l.Timestamp = c.clock.Now()
		m.Logger = &l
	}
	return &m
}
