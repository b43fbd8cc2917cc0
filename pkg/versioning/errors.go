package versioning

import "errors"

var errNoBuildInfo = errors.New("build information not available")
