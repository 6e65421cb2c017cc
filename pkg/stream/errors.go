package stream

import "errors"

var (
	// ErrInvalidQuery indicates query text that could not be parsed as
	// SPARQL.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrIncompatibleQuery indicates a well-formed query using a feature
	// this engine does not support (UNION, OPTIONAL, ORDER BY, EXISTS,
	// non-SELECT query forms, ...). The wrapped message names the
	// offending construct.
	ErrIncompatibleQuery = errors.New("incompatible query")
)
