// Package webapp provides the embedded static files for the file manager
// front end.
package webapp

import "embed"

//go:embed index.html static
var Assets embed.FS
