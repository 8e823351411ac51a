// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of the
// working directory or installation location.
package schemasassets

import _ "embed"

// SubmissionsSchema is the embedded submissions-file JSON schema.
//
//go:embed submissions.schema.json
var SubmissionsSchema []byte
