// Package schema parses inbound metadata and audit documents and validates
// them against the fixed set of document schemas before anything else
// trusts their content.
//
// Schemas are resolved by file name from an fs.FS, by default the copies
// embedded in package schemas. A built-in compiler supports the XML Schema
// constructs those files use.
package schema

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/georgepadayatti/gojal/schemas"
	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// Diagnostic describes one schema violation.
type Diagnostic struct {
	Path     string
	Expected string
	Actual   string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", d.Path, d.Expected, d.Actual)
}

// ViolationError reports a well-formed document that does not conform to
// its schema. Without debug it carries only the first diagnostic.
type ViolationError struct {
	Kind        Kind
	Diagnostics []Diagnostic
}

func (e *ViolationError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("document does not conform to the %s schema", e.Kind)
	}
	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		parts = append(parts, d.String())
	}
	return fmt.Sprintf("document does not conform to the %s schema: %s", e.Kind, strings.Join(parts, "; "))
}

// Validator parses and validates documents. It keeps no state between
// calls: schemas are read and compiled on every Parse.
type Validator struct {
	fsys   fs.FS
	logger *zap.Logger
	debug  bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithFS resolves schema files from fsys.
func WithFS(fsys fs.FS) Option {
	return func(v *Validator) {
		if fsys != nil {
			v.fsys = fsys
		}
	}
}

// WithRoot resolves schema files under dir. An empty dir keeps the embedded
// schemas.
func WithRoot(dir string) Option {
	return func(v *Validator) {
		if dir != "" {
			v.fsys = os.DirFS(dir)
		}
	}
}

// WithLogger sets the logger used for debug diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithDebug enables verbose diagnostics on validation failure. It never
// changes whether a document is accepted.
func WithDebug(debug bool) Option {
	return func(v *Validator) {
		v.debug = debug
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		fsys:   schemas.FS,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ParseAndValidate is a one-shot Parse with a schemas root directory.
func ParseAndValidate(buf []byte, kind Kind, schemasRoot string, debug bool) (*etree.Document, error) {
	return New(WithRoot(schemasRoot), WithDebug(debug)).Parse(buf, kind)
}

// Parse parses buf and validates it against the schema for kind. The
// returned document is owned by the caller. No document is returned on
// failure; the error wraps status.ErrMalformedXML, status.ErrSchemaViolation
// or status.ErrConfiguration.
func (v *Validator) Parse(buf []byte, kind Kind) (*etree.Document, error) {
	const op = "schema.Parse"

	set, err := v.load(kind)
	if err != nil {
		return nil, status.Wrap(status.Configuration, op, err)
	}

	doc, err := xmldoc.Parse(buf)
	if err != nil {
		return nil, err
	}

	val := &validation{set: set, ids: make(map[string]bool)}
	val.root(doc.Root())
	if len(val.diags) == 0 {
		return doc, nil
	}

	verr := &ViolationError{Kind: kind, Diagnostics: val.diags[:1]}
	if v.debug {
		verr.Diagnostics = val.diags
		for _, d := range val.diags {
			v.logger.Debug("schema violation",
				zap.Stringer("kind", kind),
				zap.String("path", d.Path),
				zap.String("expected", d.Expected),
				zap.String("actual", d.Actual))
		}
	}
	return nil, status.Wrap(status.SchemaViolation, op, verr)
}

// ParseAppMetadata validates an application metadata document.
func (v *Validator) ParseAppMetadata(buf []byte) (*etree.Document, error) {
	return v.Parse(buf, AppMetadata)
}

// ParseAudit validates an audit event document.
func (v *Validator) ParseAudit(buf []byte) (*etree.Document, error) {
	return v.Parse(buf, Audit)
}

// ParseSystemMetadata validates a system metadata document.
func (v *Validator) ParseSystemMetadata(buf []byte) (*etree.Document, error) {
	return v.Parse(buf, SystemMetadata)
}

// Check loads and compiles the schema for kind without parsing a document.
func (v *Validator) Check(kind Kind) error {
	if _, err := v.load(kind); err != nil {
		return status.Wrap(status.Configuration, "schema.Check", err)
	}
	return nil
}

func (v *Validator) load(kind Kind) (*compiledSet, error) {
	file, ok := kind.File()
	if !ok {
		return nil, fmt.Errorf("unknown schema kind %d", int(kind))
	}
	// The XML Schema DTD backs the schema machinery itself; a missing copy
	// is a broken installation even though documents never load it.
	if _, err := fs.ReadFile(v.fsys, SchemaDTDFile); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", SchemaDTDFile, err)
	}
	set, err := compile(v.fsys, file)
	if err != nil {
		return nil, err
	}
	return set, nil
}
