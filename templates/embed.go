// Package templates embeds the files written by des init.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS
