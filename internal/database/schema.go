package database

import _ "embed"

// Schema is the full database schema, extracted from the migration files.
// Tests apply it directly to in-memory databases instead of running the
// migration machinery.
//
//go:embed schema.sql
var Schema string
