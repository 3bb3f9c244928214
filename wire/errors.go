package wire

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when a frame's declared length does not
// match the bytes actually present, or a fixed-width field is short.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// ErrUnknownType is returned when a frame's type byte is not one of the
// nine type bytes (CHOKE through CANCEL) this codec understands.
var ErrUnknownType = errors.New("wire: unknown message type")

// ErrSemanticInvalid is returned when a structurally valid message
// references a piece, offset or length that is inconsistent with the
// torrent it was decoded against.
var ErrSemanticInvalid = errors.New("wire: semantically invalid message")

// SemanticError wraps ErrSemanticInvalid with the offending message's
// type and a human-readable reason, so logs can name the rule violated.
type SemanticError struct {
	MsgType MessageType
	Reason  string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("wire: %s message rejected: %s", e.MsgType, e.Reason)
}

func (e *SemanticError) Unwrap() error { return ErrSemanticInvalid }

func semanticf(t MessageType, format string, args ...any) error {
	return &SemanticError{MsgType: t, Reason: fmt.Sprintf(format, args...)}
}
