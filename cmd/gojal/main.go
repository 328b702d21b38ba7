// Command gojal validates, digests, signs and packages JALoP style records.
//
// Usage:
//
//	gojal <command> [options] <args>
//
// Commands:
//
//	validate  Validate an XML document against one of the record schemas
//	digest    Print the digest of a file
//	sign      Insert an XML-DSig signature over an element of a document
//	verify    Verify the XML-DSig signatures of a document
//	package   Build the application metadata of a record
//	version   Show version information
//	help      Show help message
//
// Examples:
//
//	# Validate an audit event
//	gojal validate -kind audit event.xml
//
//	# Sign application metadata
//	gojal sign -key key.pem -cert cert.pem -id UUID-1 meta.xml signed.xml
//
//	# Verify with JSON output
//	gojal verify -cert cert.pem -json signed.xml
package main

import (
	"os"

	"github.com/georgepadayatti/gojal/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/gojal
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
