package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/textenc"
)

// DigestCommand implements the 'digest' command.
func DigestCommand(args []string) {
	digestFlags := flag.NewFlagSet("digest", flag.ExitOnError)

	alg := digestFlags.String("alg", "sha256", "Digest algorithm: sha256, sha384, sha512, sha3-256")

	digestFlags.Usage = func() {
		fmt.Printf("Usage: %s digest [options] <file>...\n\n", os.Args[0])
		fmt.Println("Print the base64 digest of each file together with the algorithm URI.")
		fmt.Println("")
		fmt.Println("Options:")
		digestFlags.PrintDefaults()
	}

	if err := digestFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(digestFlags.Args()) < 1 {
		digestFlags.Usage()
		osExit(1)
	}

	for _, path := range digestFlags.Args() {
		if err := digestFile(os.Stdout, path, *alg); err != nil {
			fail(err)
		}
	}
}

func digestFile(w io.Writer, path, alg string) error {
	m, err := digest.ByName(alg)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	sum, err := digest.Reader(f, m)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  %s  %s\n", textenc.Base64Encode(sum), m.URI(), path)
	return nil
}
