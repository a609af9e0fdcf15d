package sandbox

import "errors"

var errToolNotFound = errors.New("sandbox: tool not found")
