package sharing

import (
	"net"
	"sync"
	"testing"
	"time"

	"peerwire/activity"
	"peerwire/peerid"
	"peerwire/torrentfake"
	"peerwire/wire"
)

// recorder captures every activity.Listener event fired during a test.
type recorder struct {
	activity.NopListener
	mu       sync.Mutex
	choked   []peerid.ID
	ready    []peerid.ID
	complete []uint32
	disc     []peerid.ID
	ioErrs   []error
}

func (r *recorder) PeerChoked(p peerid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.choked = append(r.choked, p)
}

func (r *recorder) PeerReady(p peerid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, p)
}

func (r *recorder) PieceCompleted(p peerid.ID, index uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = append(r.complete, index)
}

func (r *recorder) PeerDisconnected(p peerid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disc = append(r.disc, p)
}

func (r *recorder) IOError(p peerid.ID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ioErrs = append(r.ioErrs, err)
}

func (r *recorder) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

func (r *recorder) discCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disc)
}

func testPeerID() peerid.ID {
	return peerid.New("198.51.100.1", 6881, [20]byte{1, 2, 3})
}

func readMessage(t *testing.T, conn net.Conn, tor *torrentfake.Torrent) wire.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := wire.Decode(payload, tor)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return msg
}

func TestNewPeerInitialFlags(t *testing.T) {
	tor := torrentfake.New(1, 16384, 16384)
	p := New(testPeerID(), tor, &recorder{})
	s := p.Stats()
	if !s.Choking || !s.Choked {
		t.Errorf("expected choking=true, choked=true initially, got %+v", s)
	}
	if s.Interesting || s.Interested {
		t.Errorf("expected interesting=false, interested=false initially, got %+v", s)
	}
}

func TestChokeUnchokeIdempotent(t *testing.T) {
	tor := torrentfake.New(1, 16384, 16384)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	p := New(testPeerID(), tor, &recorder{})
	if err := p.Bind(serverConn); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer p.Unbind(true)

	// A new peer is already choking, so Choke is a no-op and the first
	// frame on the wire must be the UNCHOKE.
	p.Choke()
	p.Unchoke()
	msg := readMessage(t, clientConn, tor)
	if msg.Type() != wire.TypeUnchoke {
		t.Fatalf("expected UNCHOKE, got %v", msg.Type())
	}

	// second Unchoke is a no-op: nothing further should arrive promptly.
	p.Unchoke()
	clientConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := wire.ReadFrame(clientConn); err == nil {
		t.Errorf("second Unchoke sent a frame, want none")
	}
}

func TestDownloadPiecePipelineFillAndRefill(t *testing.T) {
	tor := torrentfake.New(1, 96*1024, 96*1024) // 6 blocks of 16 KiB
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	rec := &recorder{}
	p := New(testPeerID(), tor, rec)
	if err := p.Bind(serverConn); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer p.Unbind(true)

	piece := tor.Piece(0)
	if err := p.DownloadPiece(piece); err != nil {
		t.Fatalf("DownloadPiece: %v", err)
	}

	// Initial pipeline fill: MaxPipelinedRequests=5 REQUESTs covering the
	// first 80 KiB, even though the piece is 96 KiB.
	var reqs []wire.RequestMsg
	for i := 0; i < MaxPipelinedRequests; i++ {
		msg := readMessage(t, clientConn, tor)
		req, ok := msg.(wire.RequestMsg)
		if !ok {
			t.Fatalf("expected RequestMsg, got %T", msg)
		}
		reqs = append(reqs, req)
	}
	if reqs[0].Offset != 0 || reqs[4].Offset != 4*DefaultRequestSize {
		t.Fatalf("unexpected request offsets: %+v", reqs)
	}

	stats := p.Stats()
	if stats.RequestsInFlight != MaxPipelinedRequests {
		t.Fatalf("requests in flight = %d, want %d", stats.RequestsInFlight, MaxPipelinedRequests)
	}

	// Answering the first request should trigger exactly one refill
	// (the 6th and final 16 KiB block).
	block := make([]byte, DefaultRequestSize)
	framed := wire.Encode(wire.PieceMsg{PieceIndex: 0, Offset: reqs[0].Offset, Block: block})
	if _, err := clientConn.Write(framed); err != nil {
		t.Fatalf("write PIECE: %v", err)
	}

	msg := readMessage(t, clientConn, tor)
	refill, ok := msg.(wire.RequestMsg)
	if !ok {
		t.Fatalf("expected refill RequestMsg, got %T", msg)
	}
	if refill.Offset != 5*DefaultRequestSize {
		t.Fatalf("refill offset = %d, want %d", refill.Offset, 5*DefaultRequestSize)
	}

	// Answer the remaining 5 outstanding requests to complete the piece.
	for _, req := range reqs[1:] {
		block := make([]byte, req.Length)
		clientConn.Write(wire.Encode(wire.PieceMsg{PieceIndex: 0, Offset: req.Offset, Block: block}))
	}
	clientConn.Write(wire.Encode(wire.PieceMsg{PieceIndex: 0, Offset: refill.Offset, Block: make([]byte, refill.Length)}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if piece.IsValid() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !piece.IsValid() {
		t.Fatalf("piece never validated")
	}
	if rec.readyCount() == 0 {
		t.Errorf("expected PeerReady to fire once the piece completed")
	}
}

func TestNewWithLimitsAppliesCustomPipelineDepth(t *testing.T) {
	tor := torrentfake.New(1, 96*1024, 96*1024)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	const customPipeline = 2
	const customBlockSize = 32768
	p := NewWithLimits(testPeerID(), tor, &recorder{}, customPipeline, customBlockSize, MaxRequestSize)
	if err := p.Bind(serverConn); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer p.Unbind(true)

	piece := tor.Piece(0)
	if err := p.DownloadPiece(piece); err != nil {
		t.Fatalf("DownloadPiece: %v", err)
	}

	// Only customPipeline requests should go out, each customBlockSize
	// bytes, rather than the package-default MaxPipelinedRequests/
	// DefaultRequestSize.
	for i := 0; i < customPipeline; i++ {
		msg := readMessage(t, clientConn, tor)
		req, ok := msg.(wire.RequestMsg)
		if !ok {
			t.Fatalf("expected RequestMsg, got %T", msg)
		}
		if req.Length != customBlockSize {
			t.Errorf("request %d length = %d, want %d", i, req.Length, customBlockSize)
		}
	}
	if stats := p.Stats(); stats.RequestsInFlight != customPipeline {
		t.Fatalf("requests in flight = %d, want %d", stats.RequestsInFlight, customPipeline)
	}
}

func TestChokeMidDownloadCancelsOutstandingRequests(t *testing.T) {
	tor := torrentfake.New(1, 96*1024, 96*1024)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	p := New(testPeerID(), tor, &recorder{})
	if err := p.Bind(serverConn); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer p.Unbind(true)

	piece := tor.Piece(0)
	if err := p.DownloadPiece(piece); err != nil {
		t.Fatalf("DownloadPiece: %v", err)
	}
	for i := 0; i < MaxPipelinedRequests; i++ {
		readMessage(t, clientConn, tor)
	}

	// The remote chokes us; every outstanding request should be CANCELed.
	clientConn.Write(wire.Encode(wire.ChokeMsg{}))

	for i := 0; i < MaxPipelinedRequests; i++ {
		msg := readMessage(t, clientConn, tor)
		if msg.Type() != wire.TypeCancel {
			t.Fatalf("expected CANCEL, got %v", msg.Type())
		}
	}

	if p.Stats().Choked != true {
		t.Errorf("expected choked=true after CHOKE")
	}
}

func TestRequestWhileChokingDisconnects(t *testing.T) {
	tor := torrentfake.New(1, 16384, 16384)
	tor.PieceAt(0).MarkHeld(make([]byte, 16384))
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	rec := &recorder{}
	p := New(testPeerID(), tor, rec)
	if err := p.Bind(serverConn); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// We never called Unchoke, so we are still choking them (default
	// true); a REQUEST from them now is a protocol violation.
	clientConn.Write(wire.Encode(wire.RequestMsg{PieceIndex: 0, Offset: 0, Length: 16384}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rec.discCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.discCount() == 0 {
		t.Fatalf("expected PeerDisconnected after a REQUEST while choking")
	}
}

func TestBitfieldAfterOtherMessageDisconnects(t *testing.T) {
	tor := torrentfake.New(4, 16384, 16384)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	rec := &recorder{}
	p := New(testPeerID(), tor, rec)
	if err := p.Bind(serverConn); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	clientConn.Write(wire.Encode(wire.UnchokeMsg{}))
	time.Sleep(20 * time.Millisecond)
	bits := wire.NewBitSet(4)
	bits.Set(0)
	clientConn.Write(wire.Encode(wire.BitfieldMsg{Bits: bits}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rec.discCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.discCount() == 0 {
		t.Fatalf("expected PeerDisconnected after a late BITFIELD")
	}
}
