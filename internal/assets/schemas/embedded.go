// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so that manifest validation works
// regardless of the working directory the tool is started from.
package schemasassets

import _ "embed"

// BatchManifestSchema is the embedded batch-manifest JSON schema.
//
//go:embed batch-manifest.schema.json
var BatchManifestSchema []byte
