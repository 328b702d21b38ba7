package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/georgepadayatti/gojal/appmeta"
	"github.com/georgepadayatti/gojal/config"
	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/producer"
	"github.com/georgepadayatti/gojal/schema"
	"github.com/georgepadayatti/gojal/signature"
)

// PackageOptions contains options for the package command.
type PackageOptions struct {
	ConfigFile string
	Kind       string
	EventID    string
	Entry      string
	MessageID  string
	Output     string
	NoMetadata bool
	Debug      bool
}

// PackageCommand implements the 'package' command.
func PackageCommand(args []string) {
	packageFlags := flag.NewFlagSet("package", flag.ExitOnError)

	var opts PackageOptions

	packageFlags.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	packageFlags.StringVar(&opts.Kind, "kind", "journal", "Record kind: journal, audit, log")
	packageFlags.StringVar(&opts.EventID, "event-id", "", "EventID of the application metadata")
	packageFlags.StringVar(&opts.Entry, "entry", "", "Syslog entry text of the application metadata")
	packageFlags.StringVar(&opts.MessageID, "msgid", "", "Syslog message ID")
	packageFlags.StringVar(&opts.Output, "out", "", "Write the metadata document here (default: stdout)")
	packageFlags.BoolVar(&opts.NoMetadata, "no-metadata", false, "Package the payload without application metadata")
	packageFlags.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	packageFlags.Usage = func() {
		fmt.Printf("Usage: %s package [options] <payload>\n\n", os.Args[0])
		fmt.Println("Build the application metadata of a record as a producer would send it.")
		fmt.Println("Digest method, signing key and identity come from the configuration file.")
		fmt.Println("")
		fmt.Println("Options:")
		packageFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s package -config gojal.yaml -entry \"user login\" payload.bin\n", os.Args[0])
		fmt.Printf("  %s package -kind audit -out meta.xml event.xml\n", os.Args[0])
	}

	if err := packageFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(packageFlags.Args()) < 1 {
		packageFlags.Usage()
		osExit(1)
	}

	out := io.Writer(os.Stdout)
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			fail(fmt.Errorf("failed to create output file: %w", err))
		}
		defer f.Close()
		out = f
	}

	if err := packageRecord(context.Background(), out, packageFlags.Arg(0), &opts); err != nil {
		fail(err)
	}
}

// metadataWriter is a transport that writes the metadata document of each
// record to w.
type metadataWriter struct {
	w      io.Writer
	logger *zap.Logger
}

func (t *metadataWriter) Send(_ context.Context, msg producer.Message) error {
	t.logger.Info("record packaged",
		zap.Stringer("kind", msg.Kind),
		zap.Int64("payload_len", msg.PayloadLen),
		zap.Bool("fd", msg.FD >= 0),
		zap.Int("metadata_len", len(msg.Metadata)),
	)
	if msg.Metadata == nil {
		return nil
	}
	_, err := t.w.Write(msg.Metadata)
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

// packageRecord runs the payload at path through a producer configured from
// opts.ConfigFile and writes the resulting metadata to out.
func packageRecord(ctx context.Context, out io.Writer, path string, opts *PackageOptions) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if opts.Debug {
		logger = newLogger(true)
	} else if logger, err = cfg.Logging.Build(); err != nil {
		return err
	}
	defer logger.Sync()

	method, err := cfg.DigestMethod()
	if err != nil {
		return err
	}
	cred, err := cfg.SigningMaterial()
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if cred != nil {
		defer cred.Close()
	}
	logger.Debug("producer configured",
		zap.String("digest", digestName(method)),
		zap.Bool("signing", cred != nil),
		zap.String("hostname", cfg.Application.Hostname),
	)

	popts := []producer.Option{
		producer.WithLogger(logger),
		producer.WithHostname(cfg.Application.Hostname),
		producer.WithApplicationName(cfg.Application.ApplicationName),
		producer.WithValidator(schemaValidator(cfg.SchemasRoot, logger, opts.Debug)),
	}
	if method != nil {
		popts = append(popts, producer.WithDigest(method))
	}
	if cred != nil {
		var sigOpts []signature.Option
		if method != nil {
			sigOpts = append(sigOpts, signature.WithDigest(method))
		}
		popts = append(popts, producer.WithCredential(cred), producer.WithSignHook(producer.XMLDSig(sigOpts...)))
	}
	p, err := producer.New(&metadataWriter{w: out, logger: logger}, popts...)
	if err != nil {
		return err
	}

	var meta *appmeta.Metadata
	if !opts.NoMetadata {
		meta = &appmeta.Metadata{
			EventID: opts.EventID,
			Syslog:  &appmeta.Syslog{Entry: opts.Entry, MessageID: opts.MessageID},
		}
	}

	switch opts.Kind {
	case "journal":
		return p.JournalPath(ctx, meta, path)
	case "audit", "log":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
		if opts.Kind == "audit" {
			return p.Audit(ctx, meta, data)
		}
		return p.Log(ctx, meta, data)
	default:
		return fmt.Errorf("unknown record kind %q (must be journal, audit or log)", opts.Kind)
	}
}

func schemaValidator(root string, logger *zap.Logger, debug bool) *schema.Validator {
	opts := []schema.Option{schema.WithLogger(logger), schema.WithDebug(debug)}
	if root != "" {
		opts = append(opts, schema.WithRoot(root))
	}
	return schema.New(opts...)
}

// digestName reports the configured digest for log fields.
func digestName(m digest.Method) string {
	if m == nil {
		return "none"
	}
	return digest.Name(m)
}
