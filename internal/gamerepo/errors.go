package gamerepo

import "errors"

var (
	ErrInvalidOptions = errors.New("gamerepo: invalid options")

	// ErrNotFound means no servable resource exists for the request.
	ErrNotFound = errors.New("gamerepo: resource not found")

	// ErrMalformedPath means a namespaced path did not reconstruct to
	// itself after parsing, e.g. "/games/x/v01/METADATA".
	ErrMalformedPath = errors.New("gamerepo: malformed path")

	// ErrBadMetadata means a METADATA file was not a JSON object.
	ErrBadMetadata = errors.New("gamerepo: bad metadata")
)
