// Package schemas embeds the document schemas used by package schema when
// no schemas root directory is configured.
package schemas

import "embed"

// FS holds the schema files at its root.
//
//go:embed *.xsd *.dtd
var FS embed.FS
