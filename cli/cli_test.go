package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/georgepadayatti/gojal/schema"
	"github.com/georgepadayatti/gojal/signature"
	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/xmldoc"
)

const auditEvent = `<Event xmlns="http://cee.mitre.org/1.0/cls" id="e1">
  <Time>2026-10-19T08:00:00.000000Z</Time>
  <Action>login</Action>
</Event>`

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeKeyPair writes an RSA key and a self-signed certificate for it and
// returns their paths.
func writeKeyPair(t *testing.T, dir, name string) (keyPath, certPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyPath = writeFile(t, dir, name+"-key.pem",
		pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	certPath = writeFile(t, dir, name+"-cert.pem",
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return keyPath, certPath
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "event.xml", []byte(auditEvent))
	bad := writeFile(t, dir, "foo.xml", []byte("<foo/>"))

	var out bytes.Buffer
	if err := validateFile(&out, good, &ValidateOptions{Kind: "audit"}, zap.NewNop()); err != nil {
		t.Fatalf("validateFile failed: %v", err)
	}
	if !strings.Contains(out.String(), "valid audit document (root Event)") {
		t.Errorf("unexpected output %q", out.String())
	}

	err := validateFile(&out, bad, &ValidateOptions{Kind: "audit"}, zap.NewNop())
	if !errors.Is(err, status.ErrSchemaViolation) {
		t.Errorf("error = %v, want schema violation", err)
	}

	if err := validateFile(&out, good, &ValidateOptions{Kind: "pdf"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown kind")
	}

	err = validateFile(&out, good, &ValidateOptions{Kind: "audit", SchemasRoot: filepath.Join(dir, "none")}, zap.NewNop())
	if !errors.Is(err, status.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestDigestFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "abc.txt", []byte("abc"))

	var out bytes.Buffer
	if err := digestFile(&out, path, "sha256"); err != nil {
		t.Fatalf("digestFile failed: %v", err)
	}
	want := "ungWv48Bz+pBQUDeXa4iI7ADYaOWF3qctBD/YfIAFa0=  http://www.w3.org/2001/04/xmlenc#sha256  " + path + "\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	if err := digestFile(&out, path, "md5"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
	if err := digestFile(&out, filepath.Join(t.TempDir(), "missing"), "sha256"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath := writeKeyPair(t, dir, "signer")
	_, otherCert := writeKeyPair(t, dir, "other")

	input := writeFile(t, dir, "record.xml", []byte(`<Record xmlns="urn:example:record" JID="r1"><Body>hello</Body></Record>`))
	output := filepath.Join(dir, "signed.xml")

	opts := &SignOptions{KeyFile: keyPath, CertFile: certPath, ID: "r1", IDAttr: "JID", Digest: "sha256"}
	if err := signXML(input, output, opts, zap.NewNop()); err != nil {
		t.Fatalf("signXML failed: %v", err)
	}

	result, err := verifyXML(output, &VerifyOptions{IDAttr: "JID"})
	if err != nil {
		t.Fatalf("verifyXML failed: %v", err)
	}
	if !result.IntegrityValid || result.Signatures != 1 || result.Status != "WARNING" {
		t.Errorf("unexpected result %+v", result)
	}

	result, err = verifyXML(output, &VerifyOptions{IDAttr: "JID", CertFile: certPath})
	if err != nil {
		t.Fatalf("verifyXML failed: %v", err)
	}
	if !result.IntegrityValid || !result.TrustChecked || !result.TrustValid || result.Status != "VALID" {
		t.Errorf("unexpected result with signer certificate %+v", result)
	}
	if result.Certificate == nil || result.Certificate.IsExpired {
		t.Errorf("signer certificate not reported: %+v", result.Certificate)
	}

	result, err = verifyXML(output, &VerifyOptions{IDAttr: "JID", CertFile: otherCert})
	if err != nil {
		t.Fatalf("verifyXML failed: %v", err)
	}
	if result.IntegrityValid || result.Status != "INVALID" {
		t.Errorf("wrong certificate accepted: %+v", result)
	}

	var js bytes.Buffer
	if err := outputJSON(&js, result); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if decoded["status"] != "INVALID" {
		t.Errorf("status = %v", decoded["status"])
	}

	var text bytes.Buffer
	outputText(&text, result, true)
	if !strings.Contains(text.String(), "[FAIL] INVALID") {
		t.Errorf("unexpected text output %q", text.String())
	}
}

func TestSignBeforeManifest(t *testing.T) {
	dir := t.TempDir()
	keyPath, _ := writeKeyPair(t, dir, "signer")
	input := writeFile(t, dir, "meta.xml", []byte(`<ApplicationMetadata xmlns="http://www.dod.mil/logging/jalop-1.0/applicationMetadata" JID="UUID-1">`+
		`<Custom>x</Custom>`+
		`<Manifest xmlns="http://www.w3.org/2000/09/xmldsig#"><Reference URI="jalop:payload"><DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/><DigestValue>ungWv48Bz+pBQUDeXa4iI7ADYaOWF3qctBD/YfIAFa0=</DigestValue></Reference></Manifest>`+
		`</ApplicationMetadata>`))
	output := filepath.Join(dir, "signed.xml")

	opts := &SignOptions{KeyFile: keyPath, ID: "UUID-1", IDAttr: "JID", Digest: "sha256"}
	if err := signXML(input, output, opts, zap.NewNop()); err != nil {
		t.Fatalf("signXML failed: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := xmldoc.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	children := doc.Root().ChildElements()
	if len(children) != 3 || children[1].Tag != signature.SignatureTag || children[2].Tag != "Manifest" {
		t.Errorf("unexpected child order in %s", data)
	}
	if _, err := schema.New().ParseAppMetadata(data); err != nil {
		t.Errorf("signed metadata does not validate: %v", err)
	}
}

func TestSignErrors(t *testing.T) {
	dir := t.TempDir()
	keyPath, _ := writeKeyPair(t, dir, "signer")
	input := writeFile(t, dir, "record.xml", []byte(`<Record JID="r1"/>`))
	output := filepath.Join(dir, "out.xml")

	tests := []struct {
		name string
		opts SignOptions
	}{
		{"unknown id", SignOptions{KeyFile: keyPath, ID: "r2", IDAttr: "JID", Digest: "sha256"}},
		{"unknown digest", SignOptions{KeyFile: keyPath, ID: "r1", IDAttr: "JID", Digest: "md5"}},
		{"missing key", SignOptions{KeyFile: filepath.Join(dir, "none.pem"), ID: "r1", IDAttr: "JID", Digest: "sha256"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := signXML(input, output, &tt.opts, zap.NewNop()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPackageRecord(t *testing.T) {
	dir := t.TempDir()
	payload := writeFile(t, dir, "payload.bin", []byte("0123456789"))
	cfgPath := writeFile(t, dir, "gojal.yaml", []byte("digest: sha256\napplication:\n  hostname: h1\n  application-name: packager\nlogging:\n  level: error\n"))

	var out bytes.Buffer
	opts := &PackageOptions{ConfigFile: cfgPath, Kind: "journal", EventID: "ev-1", Entry: "payload stored"}
	if err := packageRecord(context.Background(), &out, payload, opts); err != nil {
		t.Fatalf("packageRecord failed: %v", err)
	}
	doc, err := schema.New().ParseAppMetadata(out.Bytes())
	if err != nil {
		t.Fatalf("metadata does not validate: %v\n%s", err, out.String())
	}
	root := doc.Root()
	if root.SelectElement("Manifest") == nil {
		t.Error("no manifest in packaged metadata")
	}
	if syslog := root.SelectElement("Syslog"); syslog == nil || syslog.SelectAttrValue("ApplicationName", "") != "packager" {
		t.Error("application name not taken from configuration")
	}

	out.Reset()
	opts.NoMetadata = true
	if err := packageRecord(context.Background(), &out, payload, opts); err != nil {
		t.Fatalf("packageRecord failed: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("metadata written without metadata: %q", out.String())
	}

	opts.Kind = "system"
	if err := packageRecord(context.Background(), &out, payload, opts); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestPackageAuditSigned(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath := writeKeyPair(t, dir, "producer")
	event := writeFile(t, dir, "event.xml", []byte(auditEvent))
	cfgPath := writeFile(t, dir, "gojal.yaml", []byte("digest: sha384\n"+
		"signing:\n  type: pemder\n  pemder:\n    key-file: "+keyPath+"\n    cert-file: "+certPath+"\n"+
		"logging:\n  level: error\n"))

	var out bytes.Buffer
	opts := &PackageOptions{ConfigFile: cfgPath, Kind: "audit", Entry: "audit event"}
	if err := packageRecord(context.Background(), &out, event, opts); err != nil {
		t.Fatalf("packageRecord failed: %v", err)
	}
	doc, err := xmldoc.Parse(out.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if doc.Root().SelectElement(signature.SignatureTag) == nil {
		t.Fatalf("metadata is not signed: %s", out.String())
	}
	if err := signature.Verify(doc, nil, signature.DefaultIDAttribute); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	bad := writeFile(t, dir, "bad.xml", []byte("<foo/>"))
	err = packageRecord(context.Background(), &out, bad, opts)
	if !errors.Is(err, status.ErrSchemaViolation) {
		t.Errorf("error = %v, want schema violation", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	if getStatusIcon("VALID") != "[OK]" || getStatusIcon("other") != "[?]" {
		t.Error("unexpected status icons")
	}
	if boolToStatus(true) != "OK" || boolToStatus(false) != "FAILED" {
		t.Error("unexpected boolToStatus")
	}
}
