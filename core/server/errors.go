package server

import "errors"

// ErrMissingAddress is returned when the server address is not provided.
var ErrMissingAddress = errors.New("server address is required")
