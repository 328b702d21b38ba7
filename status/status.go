// Package status defines the closed set of result codes returned by the
// integrity pipeline and the error values that carry them.
//
// Every public operation in this module returns an error that wraps exactly
// one of the sentinel errors below, so callers can branch with errors.Is or
// with CodeOf.
package status

import (
	"errors"
	"fmt"
)

// Code is a pipeline result code.
type Code int

const (
	OK Code = iota
	Unknown
	InvalidArgument
	BadFileDescriptor
	XMLConversion
	MalformedXML
	SchemaViolation
	Configuration
	Digest
	Signing
	Encoding
	Validation
)

var codeNames = map[Code]string{
	OK:                "ok",
	Unknown:           "unknown",
	InvalidArgument:   "invalid argument",
	BadFileDescriptor: "bad file descriptor",
	XMLConversion:     "xml conversion error",
	MalformedXML:      "malformed xml",
	SchemaViolation:   "schema violation",
	Configuration:     "configuration error",
	Digest:            "digest error",
	Signing:           "signing error",
	Encoding:          "encoding error",
	Validation:        "validation error",
}

// String returns the human readable name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinel errors, one per non-OK code.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrBadFileDescriptor = errors.New("bad file descriptor")
	ErrXMLConversion     = errors.New("xml conversion error")
	ErrMalformedXML      = errors.New("malformed xml")
	ErrSchemaViolation   = errors.New("schema violation")
	ErrConfiguration     = errors.New("configuration error")
	ErrDigest            = errors.New("digest error")
	ErrSigning           = errors.New("signing error")
	ErrEncoding          = errors.New("encoding error")
	ErrValidation        = errors.New("validation error")
)

var sentinels = []struct {
	err  error
	code Code
}{
	{ErrInvalidArgument, InvalidArgument},
	{ErrBadFileDescriptor, BadFileDescriptor},
	{ErrXMLConversion, XMLConversion},
	{ErrMalformedXML, MalformedXML},
	{ErrSchemaViolation, SchemaViolation},
	{ErrConfiguration, Configuration},
	{ErrDigest, Digest},
	{ErrSigning, Signing},
	{ErrEncoding, Encoding},
	{ErrValidation, Validation},
}

// Sentinel returns the sentinel error for a code, or nil for OK and Unknown.
func (c Code) Sentinel() error {
	for _, s := range sentinels {
		if s.code == c {
			return s.err
		}
	}
	return nil
}

// Error is a coded error with the operation that produced it.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil && e.Err != e.Code.Sentinel() {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	s := e.Code.Sentinel()
	return s != nil && target == s
}

// New creates an Error for op with a formatted detail message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap creates an Error for op around err. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf maps err to its Code. A nil error is OK; an error that wraps no
// sentinel is Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return Unknown
}
