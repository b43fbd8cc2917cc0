package sessionstate

import _ "embed"

// Version is the release of this module, as shipped in the VERSION file.
//
//go:embed VERSION
var Version string
