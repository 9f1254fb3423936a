package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by decoders and builders.
var (
	ErrShortBuffer    = errors.New("wire: short buffer")
	ErrUnknownPrefix  = errors.New("wire: unknown type prefix")
	ErrLengthMismatch = errors.New("wire: payload length does not match packet size")
	ErrPacketTooLarge = errors.New("wire: packet too large")
	ErrEmptyPayload   = errors.New("wire: empty payload")
	ErrBadChunk       = errors.New("wire: fragment chunk size too small")
)

// ParseError records which field was being decoded when input ran out or
// failed validation.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
