// Package cli provides the command-line interface for validating, digesting,
// signing and packaging records.
package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "validate":
		ValidateCommand(args)
	case "digest":
		DigestCommand(args)
	case "sign":
		SignCommand(args)
	case "verify":
		VerifyCommand(args)
	case "package":
		PackageCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(2)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("gojal - record integrity and validation tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  validate  Validate an XML document against one of the record schemas")
	fmt.Println("  digest    Print the digest of a file")
	fmt.Println("  sign      Insert an XML-DSig signature over an element of a document")
	fmt.Println("  verify    Verify the XML-DSig signatures of a document")
	fmt.Println("  package   Build the application metadata of a record")
	fmt.Println("  version   Show version information")
	fmt.Println("  help      Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s validate -kind audit event.xml\n", os.Args[0])
	fmt.Printf("  %s digest -alg sha384 payload.bin\n", os.Args[0])
	fmt.Printf("  %s sign -key key.pem -cert cert.pem -id UUID-1 meta.xml signed.xml\n", os.Args[0])
	fmt.Printf("  %s verify -cert cert.pem signed.xml\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("gojal version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}

// newLogger returns the logger for a command: a development logger with
// -debug, otherwise warnings and errors only.
func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		cfg.Encoding = "console"
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// fail prints err and exits.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	osExit(1)
}
