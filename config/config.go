// Package config reads the YAML configuration of record producers and the
// command-line tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/keys"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnexpectedField      = errors.New("unexpected field in configuration")
)

// ConfigError is a configuration error tied to a field.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func missing(field string) *ConfigError {
	return &ConfigError{Field: field, Message: "required field is missing", Err: ErrMissingRequiredField}
}

// Config is the top-level configuration.
type Config struct {
	// SchemasRoot is a directory holding the schema files. Empty selects the
	// embedded copies.
	SchemasRoot string `yaml:"schemas-root" json:"schemas_root,omitempty"`

	// Digest names the payload digest algorithm: sha256, sha384, sha512,
	// sha3-256 or none.
	Digest string `yaml:"digest" json:"digest,omitempty"`

	Signing     *SigningConfig     `yaml:"signing" json:"signing,omitempty"`
	Application *ApplicationConfig `yaml:"application" json:"application,omitempty"`
	Logging     *LoggingConfig     `yaml:"logging" json:"logging,omitempty"`
}

// ApplicationConfig identifies the producing application.
type ApplicationConfig struct {
	// Hostname defaults to os.Hostname.
	Hostname        string `yaml:"hostname" json:"hostname,omitempty"`
	ApplicationName string `yaml:"application-name" json:"application_name,omitempty"`
}

// SigningConfig selects the source of the signing key.
type SigningConfig struct {
	// Type is "pemder", "pkcs12" or "pkcs11".
	Type   string                 `yaml:"type" json:"type"`
	PemDer *PemDerSignatureConfig `yaml:"pemder" json:"pemder,omitempty"`
	PKCS12 *PKCS12SignatureConfig `yaml:"pkcs12" json:"pkcs12,omitempty"`
	PKCS11 *PKCS11SignatureConfig `yaml:"pkcs11" json:"pkcs11,omitempty"`
}

// PemDerSignatureConfig points at PEM or DER key and certificate files.
type PemDerSignatureConfig struct {
	KeyFile string `yaml:"key-file" json:"key_file"`
	// CertFile is optional; without it signatures carry the bare public key.
	CertFile      string `yaml:"cert-file" json:"cert_file,omitempty"`
	KeyPassphrase string `yaml:"key-passphrase" json:"key_passphrase,omitempty"`
}

// Validate validates the PEM/DER signature configuration.
func (c *PemDerSignatureConfig) Validate() error {
	if c.KeyFile == "" {
		return missing("signing.pemder.key-file")
	}
	return nil
}

// GetPassphraseBytes returns the passphrase as bytes.
func (c *PemDerSignatureConfig) GetPassphraseBytes() []byte {
	if c.KeyPassphrase == "" {
		return nil
	}
	return []byte(c.KeyPassphrase)
}

// PKCS12SignatureConfig points at a PKCS#12 file.
type PKCS12SignatureConfig struct {
	PFXFile       string `yaml:"pfx-file" json:"pfx_file"`
	PFXPassphrase string `yaml:"pfx-passphrase" json:"pfx_passphrase,omitempty"`
}

// Validate validates the PKCS#12 signature configuration.
func (c *PKCS12SignatureConfig) Validate() error {
	if c.PFXFile == "" {
		return missing("signing.pkcs12.pfx-file")
	}
	return nil
}

// Validate validates the signing configuration.
func (c *SigningConfig) Validate() error {
	switch c.Type {
	case "pemder":
		if c.PemDer == nil {
			return missing("signing.pemder")
		}
		return c.PemDer.Validate()
	case "pkcs12":
		if c.PKCS12 == nil {
			return missing("signing.pkcs12")
		}
		return c.PKCS12.Validate()
	case "pkcs11":
		if c.PKCS11 == nil {
			return missing("signing.pkcs11")
		}
		return c.PKCS11.Validate()
	case "":
		return missing("signing.type")
	default:
		return NewConfigError("signing.type", fmt.Sprintf("unknown key source %q (must be pemder, pkcs12 or pkcs11)", c.Type))
	}
}

// Load resolves the configured key source into a credential.
func (c *SigningConfig) Load() (*keys.Credential, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case "pemder":
		return keys.LoadPemDerCredential(c.PemDer.KeyFile, c.PemDer.CertFile, c.PemDer.GetPassphraseBytes())
	case "pkcs12":
		return keys.LoadPKCS12(c.PKCS12.PFXFile, c.PKCS12.PFXPassphrase)
	default:
		p11, err := c.PKCS11.KeysConfig()
		if err != nil {
			return nil, err
		}
		return keys.OpenPKCS11(p11)
	}
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level,omitempty"`
	// Format is json or console.
	Format string `yaml:"format" json:"format,omitempty"`
	// Output is stdout, stderr or a file path.
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return NewConfigError("logging.level", err.Error())
	}
	switch c.Format {
	case "json", "console":
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q (must be json or console)", c.Format))
	}
	return nil
}

// Build creates the configured logger.
func (c *LoggingConfig) Build() (*zap.Logger, error) {
	cfg := *c
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(cfg.Level)
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{cfg.Output}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// Load loads a configuration from a YAML file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML data, applies defaults and
// validates it. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return nil, &ConfigError{Message: err.Error(), Err: ErrUnexpectedField}
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills in defaults for omitted sections.
func (c *Config) SetDefaults() {
	if c.Digest == "" {
		c.Digest = "sha256"
	}
	if c.Application == nil {
		c.Application = &ApplicationConfig{}
	}
	if c.Application.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			c.Application.Hostname = h
		}
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	if _, err := c.DigestMethod(); err != nil {
		return &ConfigError{Field: "digest", Message: err.Error(), Err: err}
	}
	if c.Signing != nil {
		if err := c.Signing.Validate(); err != nil {
			return err
		}
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DigestMethod returns the configured digest method. It returns nil for
// "none", in which case records carry no manifest.
func (c *Config) DigestMethod() (digest.Method, error) {
	if c.Digest == "none" {
		return nil, nil
	}
	return digest.ByName(c.Digest)
}

// SigningMaterial loads the signing credential. It returns nil when no
// signing section is configured.
func (c *Config) SigningMaterial() (*keys.Credential, error) {
	if c.Signing == nil {
		return nil, nil
	}
	return c.Signing.Load()
}
