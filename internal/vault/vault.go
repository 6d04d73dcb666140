package vault

import "errors"

// ErrNotFound is returned by GetSnapshot when nothing is stored under the name.
var ErrNotFound = errors.New("snapshot not found")
