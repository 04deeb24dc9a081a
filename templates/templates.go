// Package templates embeds the prompt templates shipped with the binary.
package templates

import "embed"

//go:embed *.tmpl
var FS embed.FS
