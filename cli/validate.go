package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/georgepadayatti/gojal/schema"
)

// ValidateOptions contains options for the validate command.
type ValidateOptions struct {
	Kind        string
	SchemasRoot string
	Debug       bool
}

// ValidateCommand implements the 'validate' command.
func ValidateCommand(args []string) {
	validateFlags := flag.NewFlagSet("validate", flag.ExitOnError)

	var opts ValidateOptions

	validateFlags.StringVar(&opts.Kind, "kind", "application-metadata", "Schema kind: application-metadata, system-metadata, xmldsig-core, audit")
	validateFlags.StringVar(&opts.SchemasRoot, "schemas", "", "Directory holding the schema files (default: built-in copies)")
	validateFlags.BoolVar(&opts.Debug, "debug", false, "Log every schema violation")

	validateFlags.Usage = func() {
		fmt.Printf("Usage: %s validate [options] <file.xml>\n\n", os.Args[0])
		fmt.Println("Validate an XML document against one of the record schemas.")
		fmt.Println("")
		fmt.Println("Options:")
		validateFlags.PrintDefaults()
	}

	if err := validateFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(validateFlags.Args()) < 1 {
		validateFlags.Usage()
		osExit(1)
	}

	logger := newLogger(opts.Debug)
	defer logger.Sync()

	if err := validateFile(os.Stdout, validateFlags.Arg(0), &opts, logger); err != nil {
		fail(err)
	}
}

func validateFile(w io.Writer, path string, opts *ValidateOptions, logger *zap.Logger) error {
	kind, err := schema.ParseKind(opts.Kind)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	schemaOpts := []schema.Option{schema.WithLogger(logger), schema.WithDebug(opts.Debug)}
	if opts.SchemasRoot != "" {
		schemaOpts = append(schemaOpts, schema.WithRoot(opts.SchemasRoot))
	}
	doc, err := schema.New(schemaOpts...).Parse(data, kind)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: valid %s document (root %s)\n", path, kind, doc.Root().Tag)
	return nil
}
