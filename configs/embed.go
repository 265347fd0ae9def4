// Package configs holds the configuration template embedded in the binary.
//
// `pagesearch config init` writes ConfigTemplate to the user config path.
// Edit config.example.yaml and rebuild to change it.
package configs

import _ "embed"

// ConfigTemplate is a commented config.yaml with every default spelled out.
//
//go:embed config.example.yaml
var ConfigTemplate string
