package schema

import "fmt"

// Kind selects one of the fixed document schemas.
type Kind int

const (
	AppMetadata Kind = iota
	AppMetadataTypes
	SystemMetadata
	DSigCore
	Audit
)

// Schema file names resolved under the schemas root.
const (
	AppMetadataFile      = "applicationMetadata.xsd"
	AppMetadataTypesFile = "applicationMetadataTypes.xsd"
	SystemMetadataFile   = "systemMetadata.xsd"
	DSigCoreFile         = "xmldsig-core-schema.xsd"
	SchemaDTDFile        = "XMLSchema.dtd"
	AuditFile            = "cee-cls-xml-event.xsd"
)

var kindFiles = map[Kind]string{
	AppMetadata:      AppMetadataFile,
	AppMetadataTypes: AppMetadataTypesFile,
	SystemMetadata:   SystemMetadataFile,
	DSigCore:         DSigCoreFile,
	Audit:            AuditFile,
}

var kindNames = map[Kind]string{
	AppMetadata:      "application-metadata",
	AppMetadataTypes: "application-metadata-types",
	SystemMetadata:   "system-metadata",
	DSigCore:         "xmldsig-core",
	Audit:            "audit",
}

// File returns the schema file that documents of kind k validate against.
func (k Kind) File() (string, bool) {
	f, ok := kindFiles[k]
	return f, ok
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a kind name as printed by String back to the Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown schema kind %q", name)
}
