package relay

import "errors"

var (
	ErrNoProvider      = errors.New("relay: provider is required")
	ErrNoModel         = errors.New("relay: model is required")
	ErrUnsupportedPart = errors.New("relay: unsupported content part")
)
