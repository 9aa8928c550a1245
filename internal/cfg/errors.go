package cfg

import "errors"

var (
	// ErrDecoderContract is returned when a decoder reports a stride below
	// one or neither appends an instruction nor marks an invalid exit.
	ErrDecoderContract = errors.New("decoder contract violation")

	// ErrInconsistentLeaders is returned when the leader table and the
	// block arena disagree. It indicates a bug in fork or split handling.
	ErrInconsistentLeaders = errors.New("inconsistent leader state")

	// ErrOptimizerContract is returned when an optimizer pass changes a
	// block's entry address or completion.
	ErrOptimizerContract = errors.New("optimizer contract violation")

	// ErrBlockLimit is returned when exploration creates more blocks than
	// the configured limit.
	ErrBlockLimit = errors.New("block limit exceeded")
)
