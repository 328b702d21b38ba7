package cli

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/keys"
	"github.com/georgepadayatti/gojal/manifest"
	"github.com/georgepadayatti/gojal/signature"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	KeyFile    string
	CertFile   string
	PFXFile    string
	Passphrase string
	ID         string
	IDAttr     string
	Digest     string
	Debug      bool
}

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts SignOptions

	signFlags.StringVar(&opts.KeyFile, "key", "", "RSA private key (PEM or DER format)")
	signFlags.StringVar(&opts.CertFile, "cert", "", "Signing certificate (PEM or DER format); omitted means a bare key value")
	signFlags.StringVar(&opts.PFXFile, "pfx", "", "PKCS#12 file holding key and certificate, instead of -key and -cert")
	signFlags.StringVar(&opts.Passphrase, "pass", "", "Passphrase of the key or PKCS#12 file")
	signFlags.StringVar(&opts.ID, "id", "", "Value of the id attribute of the element to sign")
	signFlags.StringVar(&opts.IDAttr, "id-attr", signature.DefaultIDAttribute, "Name of the id attribute")
	signFlags.StringVar(&opts.Digest, "alg", "sha256", "Digest algorithm: sha256, sha384, sha512, sha3-256")
	signFlags.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input.xml> <output.xml>\n\n", os.Args[0])
		fmt.Println("Insert an enveloped XML-DSig signature over the element whose id is -id.")
		fmt.Println("The signature becomes the last child of that element, or precedes its ds:Manifest.")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign -key key.pem -cert cert.pem -id UUID-1 meta.xml signed.xml\n", os.Args[0])
		fmt.Printf("  %s sign -pfx signer.p12 -pass secret -id UUID-1 meta.xml signed.xml\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(signFlags.Args()) < 2 || opts.ID == "" || (opts.KeyFile == "" && opts.PFXFile == "") {
		signFlags.Usage()
		osExit(1)
	}

	logger := newLogger(opts.Debug)
	defer logger.Sync()

	outputPath := signFlags.Arg(1)
	if err := signXML(signFlags.Arg(0), outputPath, &opts, logger); err != nil {
		fail(err)
	}

	fmt.Printf("Successfully signed %s: %s\n", opts.ID, outputPath)
}

// loadCredential loads the signing credential named by opts.
func loadCredential(opts *SignOptions) (*keys.Credential, error) {
	if opts.PFXFile != "" {
		return keys.LoadPKCS12(opts.PFXFile, opts.Passphrase)
	}
	var pass []byte
	if opts.Passphrase != "" {
		pass = []byte(opts.Passphrase)
	}
	return keys.LoadPemDerCredential(opts.KeyFile, opts.CertFile, pass)
}

// signXML performs the actual signing.
func signXML(inputPath, outputPath string, opts *SignOptions, logger *zap.Logger) error {
	m, err := digest.ByName(opts.Digest)
	if err != nil {
		return err
	}

	cred, err := loadCredential(opts)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	defer cred.Close()

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := xmldoc.Parse(data)
	if err != nil {
		return err
	}

	target, err := signature.FindByID(doc, opts.IDAttr, opts.ID)
	if err != nil {
		return err
	}
	anchor := signature.Anchor{Parent: target}
	for _, child := range target.ChildElements() {
		if child.Tag == manifest.ManifestTag && child.NamespaceURI() == manifest.Namespace {
			anchor.Before = child
			break
		}
	}

	builder := signature.NewBuilder(cred.Signer, cred.Certificate,
		signature.WithDigest(m),
		signature.WithIDAttribute(opts.IDAttr),
	)
	if _, err := builder.Sign(doc, anchor, opts.ID); err != nil {
		return err
	}
	logger.Debug("signature inserted",
		zap.String("id", opts.ID),
		zap.String("digest", digest.Name(m)),
		zap.String("key", keys.GetKeyInfo(cred.Signer.Public()).String()),
	)

	out, err := xmldoc.Serialize(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
