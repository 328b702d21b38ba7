package cli

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/gojal/generated/w3c"
	"github.com/georgepadayatti/gojal/keys"
	"github.com/georgepadayatti/gojal/signature"
	"github.com/georgepadayatti/gojal/textenc"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	CertFile       string
	TrustRootsFile string
	IDAttr         string
	JSON           bool
	Verbose        bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var opts VerifyOptions

	verifyFlags.StringVar(&opts.CertFile, "cert", "", "Expected signer certificate (PEM or DER format)")
	verifyFlags.StringVar(&opts.TrustRootsFile, "trust-roots", "", "File containing trusted certificates (PEM format)")
	verifyFlags.StringVar(&opts.IDAttr, "id-attr", signature.DefaultIDAttribute, "Name of the id attribute")
	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	verifyFlags.BoolVar(&opts.Verbose, "verbose", false, "Show certificate details")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <input.xml>\n\n", os.Args[0])
		fmt.Println("Verify the XML-DSig signature(s) of a document.")
		fmt.Println("Without -cert or -trust-roots only integrity is checked, using the key in each signature.")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify signed.xml\n", os.Args[0])
		fmt.Printf("  %s verify -cert signer.pem -json signed.xml\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
	}

	result, err := verifyXML(verifyFlags.Arg(0), &opts)
	if err != nil {
		fail(err)
	}

	if opts.JSON {
		if err := outputJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			osExit(1)
		}
	} else {
		outputText(os.Stdout, result, opts.Verbose)
	}

	if result.Status == "INVALID" {
		osExit(1)
	}
}

// VerifyResult is a JSON-serializable verification result for a document.
type VerifyResult struct {
	File           string           `json:"file"`
	Status         string           `json:"status"`
	Signatures     int              `json:"signatures"`
	IntegrityValid bool             `json:"integrity_valid"`
	TrustChecked   bool             `json:"trust_checked"`
	TrustValid     bool             `json:"trust_valid"`
	Errors         []string         `json:"errors,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	Certificate    *CertificateInfo `json:"certificate,omitempty"`
}

// CertificateInfo contains certificate information for JSON output.
type CertificateInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
	IsExpired bool   `json:"is_expired"`
}

// verifyXML checks the signatures of the document at inputPath.
func verifyXML(inputPath string, opts *VerifyOptions) (*VerifyResult, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := xmldoc.Parse(data)
	if err != nil {
		return nil, err
	}

	var trusted []*x509.Certificate
	if opts.CertFile != "" {
		cert, err := keys.LoadCertFromPemDer(opts.CertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		trusted = append(trusted, cert)
	}
	if opts.TrustRootsFile != "" {
		roots, err := keys.LoadCertsFromPemDer(opts.TrustRootsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust roots: %w", err)
		}
		trusted = append(trusted, roots...)
	}

	result := &VerifyResult{
		File:       inputPath,
		Signatures: countSignatures(doc.Root()),
	}

	// With a single expected certificate, integrity is checked against its
	// key rather than the one embedded in the signature.
	var pub *rsa.PublicKey
	if len(trusted) == 1 {
		if k, ok := trusted[0].PublicKey.(*rsa.PublicKey); ok {
			pub = k
		}
	}
	if err := signature.Verify(doc, pub, opts.IDAttr); err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.IntegrityValid = true
	}

	if len(trusted) > 0 {
		result.TrustChecked = true
		cert, err := signature.VerifyTrusted(data, trusted, opts.IDAttr)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.TrustValid = true
			result.Certificate = certificateInfo(cert)
		}
	} else {
		result.Warnings = append(result.Warnings, "no trusted certificate given, signer identity not checked")
	}

	switch {
	case !result.IntegrityValid || (result.TrustChecked && !result.TrustValid):
		result.Status = "INVALID"
	case !result.TrustChecked:
		result.Status = "WARNING"
	default:
		result.Status = "VALID"
	}
	if result.Certificate != nil && result.Certificate.IsExpired {
		result.Warnings = append(result.Warnings, "signer certificate is expired")
	}
	return result, nil
}

func countSignatures(el *etree.Element) int {
	if el == nil {
		return 0
	}
	if el.Tag == signature.SignatureTag && el.NamespaceURI() == w3c.Namespace {
		return 1
	}
	n := 0
	for _, child := range el.ChildElements() {
		n += countSignatures(child)
	}
	return n
}

func certificateInfo(cert *x509.Certificate) *CertificateInfo {
	info := &CertificateInfo{
		NotBefore: cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  cert.NotAfter.UTC().Format(time.RFC3339),
		IsExpired: time.Now().After(cert.NotAfter),
	}
	info.Subject, _ = textenc.CertificateSubject(cert)
	info.Issuer, _ = textenc.CertificateIssuer(cert)
	info.Serial, _ = textenc.CertificateSerial(cert)
	return info
}

// outputJSON outputs the results in JSON format.
func outputJSON(w io.Writer, result *VerifyResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// outputText outputs the results in human-readable text format.
func outputText(w io.Writer, result *VerifyResult, verbose bool) {
	fmt.Fprintf(w, "XML Signature Verification Results\n")
	fmt.Fprintf(w, "==================================\n\n")

	fmt.Fprintf(w, "File: %s\n", result.File)
	fmt.Fprintf(w, "Found %d signature(s)\n\n", result.Signatures)

	fmt.Fprintf(w, "  Status: %s %s\n", getStatusIcon(result.Status), result.Status)
	fmt.Fprintf(w, "  Integrity: %s\n", boolToStatus(result.IntegrityValid))
	if result.TrustChecked {
		fmt.Fprintf(w, "  Trust: %s\n", boolToStatus(result.TrustValid))
	}

	if verbose && result.Certificate != nil {
		fmt.Fprintf(w, "\n  Certificate Details:\n")
		fmt.Fprintf(w, "    Subject: %s\n", result.Certificate.Subject)
		fmt.Fprintf(w, "    Issuer: %s\n", result.Certificate.Issuer)
		fmt.Fprintf(w, "    Serial: %s\n", result.Certificate.Serial)
		fmt.Fprintf(w, "    Valid: %s to %s\n", result.Certificate.NotBefore, result.Certificate.NotAfter)
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\n  Errors:\n")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "    - %s\n", e)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(w, "\n  Warnings:\n")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "    - %s\n", warning)
		}
	}
	fmt.Fprintln(w)
}

// getStatusIcon returns an icon for the status.
func getStatusIcon(status string) string {
	switch status {
	case "VALID":
		return "[OK]"
	case "INVALID":
		return "[FAIL]"
	case "WARNING":
		return "[WARN]"
	default:
		return "[?]"
	}
}

// boolToStatus converts a boolean to a status string.
func boolToStatus(b bool) string {
	if b {
		return "OK"
	}
	return "FAILED"
}
