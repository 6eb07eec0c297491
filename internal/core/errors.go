package core

import "errors"

// ErrHubClosed is returned when the hub is no longer running.
var ErrHubClosed = errors.New("hub closed")
