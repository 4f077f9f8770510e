package identity

import _ "embed"

// Schema is the DDL for the identity tables. Integration tests and the
// development bootstrap apply it verbatim; production deployments run it
// through their migration tooling.
//
//go:embed schema.sql
var Schema string
