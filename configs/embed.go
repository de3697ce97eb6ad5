// Package configs provides the embedded configuration template for
// indexd.
//
// The template is embedded at build time with //go:embed so it ships
// inside the binary regardless of how indexd was installed. It is the
// file `indexd config init` writes to ~/.config/indexd/config.yaml.
//
// To change the template, edit config.example.yaml and rebuild.
package configs

import _ "embed"

// ConfigTemplate is the commented starting point for a user
// configuration. Every value in it matches the hardcoded defaults in
// internal/config.
//
//go:embed config.example.yaml
var ConfigTemplate string
