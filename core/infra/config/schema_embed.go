package config

import "embed"

const configSchemaFile = "schema/config.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
