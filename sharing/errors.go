package sharing

import "errors"

// ErrAlreadyBound is returned by bind when the peer already has a live
// exchange installed. Per §7 this is a programming error on the
// caller's part — a well-formed scheduler never double-binds a peer.
var ErrAlreadyBound = errors.New("sharing: peer already bound")

// ErrAlreadyDownloading is returned by DownloadPiece when a download is
// already in progress for this peer. Same category as ErrAlreadyBound.
var ErrAlreadyDownloading = errors.New("sharing: download already in progress")

// ErrNotBound reports that a peer has no live exchange installed. No
// operation in this package returns it: sending on an unbound peer is a
// silent no-op (§3 invariant 6).
var ErrNotBound = errors.New("sharing: peer not bound")

// ProtocolViolationError identifies the §7 ProtocolViolation kind: a
// message that is structurally and semantically valid on the wire but
// breaks a rule of the state machine itself (a REQUEST while choking,
// an oversized REQUEST, a BITFIELD that isn't the first message).
type ProtocolViolationError struct {
	Rule string
}

func (e *ProtocolViolationError) Error() string {
	return "sharing: protocol violation: " + e.Rule
}

func violation(rule string) *ProtocolViolationError {
	return &ProtocolViolationError{Rule: rule}
}
