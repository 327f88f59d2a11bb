package sqlite

import _ "embed"

//go:embed db/schema.sql
var schemaSQL string

// ForceImport lets callers reference this package solely for its init()
// side effects (plugin and migrator registration).
var ForceImport = 0
