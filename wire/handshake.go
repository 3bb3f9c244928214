package wire

import (
	"fmt"
	"io"
	"net"
	"time"
)

// ProtocolIdentifier is the BitTorrent protocol string carried by every
// handshake, per §6: pstrlen=19, pstr="BitTorrent protocol".
const ProtocolIdentifier = "BitTorrent protocol"

// Handshake is the 68-byte preamble exchanged before any framed message
// in §4.1 is valid. It is not itself framed and is not part of the
// codec's Decode path, but it hands the core the info_hash/peer_id pair
// §6 says precede it.
type Handshake struct {
	Pstr     string
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds the outbound handshake for infoHash/peerID.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     ProtocolIdentifier,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Serialize renders the handshake as the wire bytes: pstrlen, pstr, 8
// reserved bytes, 20-byte info_hash, 20-byte peer_id.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 49+len(h.Pstr))
	buf[0] = byte(len(h.Pstr))
	copy(buf[1:], h.Pstr)
	copy(buf[1+len(h.Pstr):], h.Reserved[:])
	copy(buf[1+len(h.Pstr)+8:], h.InfoHash[:])
	copy(buf[1+len(h.Pstr)+8+20:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and parses a handshake from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	pstrlen := int(lenBuf[0])
	if pstrlen == 0 {
		return nil, fmt.Errorf("wire: handshake pstrlen cannot be 0")
	}

	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	h := &Handshake{Pstr: string(rest[:pstrlen])}
	copy(h.Reserved[:], rest[pstrlen:pstrlen+8])
	copy(h.InfoHash[:], rest[pstrlen+8:pstrlen+28])
	copy(h.PeerID[:], rest[pstrlen+28:pstrlen+48])
	return h, nil
}

// PerformHandshake writes req over conn and reads back the remote peer's
// handshake, bounding the whole exchange with deadline. It validates the
// protocol identifier and info_hash but leaves the returned PeerID to the
// caller (it becomes the SharingPeer's identity).
func PerformHandshake(conn net.Conn, req *Handshake, deadline time.Duration) (*Handshake, error) {
	if deadline > 0 {
		conn.SetDeadline(time.Now().Add(deadline))
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := conn.Write(req.Serialize()); err != nil {
		return nil, fmt.Errorf("wire: send handshake: %w", err)
	}

	res, err := ReadHandshake(conn)
	if err != nil {
		return nil, fmt.Errorf("wire: read handshake: %w", err)
	}
	if res.Pstr != ProtocolIdentifier {
		return nil, fmt.Errorf("wire: unexpected protocol identifier %q", res.Pstr)
	}
	if res.InfoHash != req.InfoHash {
		return nil, fmt.Errorf("wire: info_hash mismatch")
	}
	return res, nil
}
