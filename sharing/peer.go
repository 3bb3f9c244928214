// Package sharing implements the SharingPeer state machine of §4.3: the
// four choke/interest flags, per-peer piece availability, and the
// block-request pipeline that downloads a piece from one remote peer.
package sharing

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"peerwire/activity"
	"peerwire/exchange"
	"peerwire/peerid"
	"peerwire/rate"
	"peerwire/torrentiface"
	"peerwire/wire"
)

// Tunables from §4.3, and the defaults New falls back to when a caller
// doesn't need anything other than the spec's own numbers. A caller
// wired to config.Main (cmd/peerdial) uses NewWithLimits instead to
// have its PEERWIRE_MAX_PIPELINED_REQUESTS/PEERWIRE_DEFAULT_REQUEST_SIZE/
// PEERWIRE_MAX_REQUEST_SIZE overrides actually take effect per peer.
const (
	MaxPipelinedRequests = 5
	DefaultRequestSize   = 16384
	MaxRequestSize       = 131072
)

// Peer is one remote peer's SharingPeer state machine: the four flags,
// its claimed piece availability, and the request pipeline for whatever
// piece it is currently downloading.
type Peer struct {
	ID      peerid.ID
	torrent torrentiface.Torrent
	events  activity.Listener

	mu                  sync.Mutex
	choking             bool
	interesting         bool
	choked              bool
	interested          bool
	requestedPiece      torrentiface.PieceHandle
	lastRequestedOffset uint32
	requests            []wire.RequestMsg
	exchange            *exchange.Exchange
	sawFirstMessage     bool

	maxPipelinedRequests int
	defaultRequestSize   uint32
	maxRequestSize       uint32

	availMu   sync.Mutex
	available *wire.BitSet

	downloadRate *rate.Meter
	uploadRate   *rate.Meter
}

// New constructs a fresh, unbound SharingPeer with the initial flag
// values of §3: choking=true, choked=true, interesting=false,
// interested=false, and an all-zero availability set, and the spec's
// default pipeline limits. Use NewWithLimits to apply config overrides.
func New(id peerid.ID, t torrentiface.Torrent, events activity.Listener) *Peer {
	return NewWithLimits(id, t, events, MaxPipelinedRequests, DefaultRequestSize, MaxRequestSize)
}

// NewWithLimits is New with the pipeline depth, default block size, and
// maximum accepted block size drawn from the caller instead of the
// package defaults, the way config.Main's PEERWIRE_MAX_PIPELINED_REQUESTS/
// PEERWIRE_DEFAULT_REQUEST_SIZE/PEERWIRE_MAX_REQUEST_SIZE are meant to
// reach the pipeline.
func NewWithLimits(id peerid.ID, t torrentiface.Torrent, events activity.Listener, maxPipelinedRequests int, defaultRequestSize, maxRequestSize uint32) *Peer {
	return &Peer{
		ID:                   id,
		torrent:              t,
		events:               events,
		choking:              true,
		choked:               true,
		available:            wire.NewBitSet(int(t.PieceCount())),
		downloadRate:         rate.New(),
		uploadRate:           rate.New(),
		maxPipelinedRequests: maxPipelinedRequests,
		defaultRequestSize:   defaultRequestSize,
		maxRequestSize:       maxRequestSize,
	}
}

// Bind installs a freshly dialed or accepted connection as this peer's
// PeerExchange and starts its reader/writer goroutines. It resets both
// rate meters but, per §9's open question, deliberately leaves
// available_pieces alone so a reconnect keeps what the peer is already
// known to hold.
func (p *Peer) Bind(conn net.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.boundLocked() {
		return ErrAlreadyBound
	}

	p.downloadRate.Reset()
	p.uploadRate.Reset()
	p.sawFirstMessage = false

	ex := exchange.New(conn, p.torrent, p)
	p.exchange = ex
	ex.Start()
	return nil
}

func (p *Peer) boundLocked() bool {
	if p.exchange == nil {
		return false
	}
	switch p.exchange.State() {
	case exchange.StateConnected, exchange.StateClosing:
		return true
	default:
		return false
	}
}

// Bound reports whether this peer currently has a live exchange, per
// §3 invariant 6.
func (p *Peer) Bound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.boundLocked()
}

// sendLocked enqueues m on the exchange, silently dropping it if unbound, per
// §3 invariant 6. Callers must hold p.mu.
func (p *Peer) sendLocked(m wire.Message) {
	if !p.boundLocked() {
		return
	}
	p.exchange.Send(m)
}

// Unbind tears the connection down. With force=false it first drains
// the outstanding requests as CANCELs and a NOT_INTERESTED, then closes
// gracefully; with force=true it terminates immediately. Either way it
// fires PeerDisconnected once the exchange reference is cleared.
func (p *Peer) Unbind(force bool) {
	p.mu.Lock()
	p.unbindLocked(force)
	p.mu.Unlock()
}

// unbindLocked assumes p.mu is already held; it is the form safe to call
// from within HandleMessage, which runs on the reader goroutine and must
// never block waiting on that same goroutine to exit (see exchange.Terminate).
func (p *Peer) unbindLocked(force bool) {
	ex := p.exchange
	if ex == nil {
		return
	}

	if !force {
		for _, req := range p.requests {
			p.sendLocked(wire.CancelMsg{PieceIndex: req.PieceIndex, Offset: req.Offset, Length: req.Length})
		}
		p.sendLocked(wire.NotInterestedMsg{})
		ex.Close()
	} else {
		ex.Terminate()
	}

	p.exchange = nil
	p.events.PeerDisconnected(p.ID)
}

// Choke sends CHOKE and sets choking=true, unless it already is.
func (p *Peer) Choke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.choking {
		return
	}
	p.choking = true
	p.sendLocked(wire.ChokeMsg{})
}

// Unchoke sends UNCHOKE and sets choking=false, unless it already is.
func (p *Peer) Unchoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.choking {
		return
	}
	p.choking = false
	p.sendLocked(wire.UnchokeMsg{})
}

// Interesting sends INTERESTED and sets interesting=true, unless it
// already is.
func (p *Peer) Interesting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interesting {
		return
	}
	p.interesting = true
	p.sendLocked(wire.InterestedMsg{})
}

// NotInteresting sends NOT_INTERESTED and sets interesting=false, unless
// it already is.
func (p *Peer) NotInteresting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.interesting {
		return
	}
	p.interesting = false
	p.sendLocked(wire.NotInterestedMsg{})
}

// DownloadPiece starts downloading piece from this peer: it resets the
// pipeline cursor and immediately fills it with as many REQUESTs as the
// pipeline capacity and piece size allow.
func (p *Peer) DownloadPiece(piece torrentiface.PieceHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.requestedPiece != nil {
		return ErrAlreadyDownloading
	}

	p.requestedPiece = piece
	p.lastRequestedOffset = 0
	p.requests = p.requests[:0]
	p.requestNextBlocksLocked()
	return nil
}

// CancelPendingRequests enqueues a CANCEL mirroring every request still
// outstanding and returns the set, for the caller to reassign. It does
// not clear requestedPiece; the caller decides what happens to the
// in-progress piece.
func (p *Peer) CancelPendingRequests() []wire.RequestMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelPendingRequestsLocked()
}

func (p *Peer) cancelPendingRequestsLocked() []wire.RequestMsg {
	outstanding := make([]wire.RequestMsg, len(p.requests))
	copy(outstanding, p.requests)
	for _, req := range outstanding {
		p.sendLocked(wire.CancelMsg{PieceIndex: req.PieceIndex, Offset: req.Offset, Length: req.Length})
	}
	return outstanding
}

// requestNextBlocksLocked fills the pipeline up to the peer's pipeline
// depth (MaxPipelinedRequests unless built with NewWithLimits) or until
// requestedPiece has been fully requested, per §4.3.
func (p *Peer) requestNextBlocksLocked() {
	if p.requestedPiece == nil {
		return
	}
	size := p.requestedPiece.Size()
	index := p.requestedPiece.Index()

	for len(p.requests) < p.maxPipelinedRequests && p.lastRequestedOffset < size {
		length := p.defaultRequestSize
		if remaining := size - p.lastRequestedOffset; remaining < length {
			length = remaining
		}

		req := wire.RequestMsg{PieceIndex: index, Offset: p.lastRequestedOffset, Length: length}
		p.requests = append(p.requests, req)
		p.sendLocked(req)
		p.lastRequestedOffset += length
	}
}

// Stats returns a snapshot of this peer's current transfer state.
func (p *Peer) Stats() Stats {
	p.mu.Lock()
	pendingBytes := int64(0)
	for _, req := range p.requests {
		pendingBytes += int64(req.Length)
	}
	s := Stats{
		Choking:          p.choking,
		Interesting:      p.interesting,
		Choked:           p.choked,
		Interested:       p.interested,
		RequestsInFlight: len(p.requests),
		PendingBytes:     pendingBytes,
		DownloadRate:     p.downloadRate.Rate(),
		UploadRate:       p.uploadRate.Rate(),
		TotalPieces:      p.available.Len(),
	}
	p.mu.Unlock()

	p.availMu.Lock()
	s.AvailablePieces = p.available.Cardinality()
	p.availMu.Unlock()
	return s
}

// AvailablePieces returns a copy-safe view of which pieces this peer has
// claimed to have. It is read from the rarest-first scheduler on other
// goroutines, hence its own lock separate from p.mu (§5).
func (p *Peer) AvailablePieces() *wire.BitSet {
	p.availMu.Lock()
	defer p.availMu.Unlock()
	return wire.BitSetFromBytes(p.available.Bytes(), p.available.Len())
}

// HandleMessage implements exchange.Handler. It runs on the exchange's
// reader goroutine and dispatches under p.mu so every state mutation and
// listener emission for this peer is serialized, per §5.
func (p *Peer) HandleMessage(msg wire.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	isBitfield := msg.Type() == wire.TypeBitfield
	if isBitfield && p.sawFirstMessage {
		log.Warn().Str("peer", p.ID.String()).Msg("bitfield received after other messages, disconnecting")
		p.unbindLocked(true)
		return
	}
	p.sawFirstMessage = true

	switch m := msg.(type) {
	case wire.KeepAliveMsg:
		// no state change

	case wire.ChokeMsg:
		p.choked = true
		p.events.PeerChoked(p.ID)
		p.cancelPendingRequestsLocked()

	case wire.UnchokeMsg:
		p.choked = false
		p.events.PeerReady(p.ID)

	case wire.InterestedMsg:
		p.interested = true

	case wire.NotInterestedMsg:
		p.interested = false

	case wire.HaveMsg:
		p.handleHaveLocked(m)

	case wire.BitfieldMsg:
		p.handleBitfieldLocked(m)

	case wire.RequestMsg:
		p.handleRequestLocked(m)

	case wire.CancelMsg:
		// accepted; outbound writes are flushed immediately so there is
		// nothing queued left to rescind (§4.3).

	case wire.PieceMsg:
		p.handlePieceLocked(m)

	default:
		log.Warn().Str("peer", p.ID.String()).Msgf("unhandled message type %T", msg)
	}
}

func (p *Peer) handleHaveLocked(m wire.HaveMsg) {
	p.availMu.Lock()
	already := p.available.Test(int(m.PieceIndex))
	if !already {
		p.available.Set(int(m.PieceIndex))
	}
	p.availMu.Unlock()

	if !already {
		p.events.PieceAvailability(p.ID, m.PieceIndex)
	}
}

func (p *Peer) handleBitfieldLocked(m wire.BitfieldMsg) {
	p.availMu.Lock()
	p.available = m.Bits
	p.availMu.Unlock()
	p.events.BitfieldAvailability(p.ID, m.Bits)
}

func (p *Peer) handleRequestLocked(m wire.RequestMsg) {
	if p.choking {
		log.Warn().Str("peer", p.ID.String()).Msg("request while choking, disconnecting")
		p.unbindLocked(true)
		return
	}

	piece := p.torrent.Piece(m.PieceIndex)
	if piece == nil || !piece.IsValid() {
		log.Warn().Str("peer", p.ID.String()).Uint32("piece", m.PieceIndex).Msg("request for unheld piece, disconnecting")
		p.unbindLocked(true)
		return
	}

	if m.Length > p.maxRequestSize {
		log.Warn().Str("peer", p.ID.String()).Uint32("length", m.Length).Msg("oversized request, disconnecting")
		p.unbindLocked(true)
		return
	}

	block, err := piece.Read(m.Offset, m.Length)
	if err != nil {
		p.events.IOError(p.ID, fmt.Errorf("sharing: read piece %d: %w", m.PieceIndex, err))
		return
	}

	p.sendLocked(wire.PieceMsg{PieceIndex: m.PieceIndex, Offset: m.Offset, Block: block})
	p.uploadRate.Add(len(block))

	if m.Offset+m.Length == piece.Size() {
		p.events.PieceSent(p.ID, m.PieceIndex)
	}
}

func (p *Peer) handlePieceLocked(m wire.PieceMsg) {
	for i, req := range p.requests {
		if req.PieceIndex == m.PieceIndex && req.Offset == m.Offset {
			p.requests = append(p.requests[:i], p.requests[i+1:]...)
			break
		}
	}

	p.downloadRate.Add(len(m.Block))

	piece := p.torrent.Piece(m.PieceIndex)
	if piece == nil {
		return
	}
	if err := piece.Record(m.Block, m.Offset); err != nil {
		p.events.IOError(p.ID, fmt.Errorf("sharing: record piece %d: %w", m.PieceIndex, err))
		return
	}

	if m.Offset+uint32(len(m.Block)) == piece.Size() {
		piece.Validate()
		if p.requestedPiece != nil && p.requestedPiece.Index() == m.PieceIndex {
			p.requestedPiece = nil
			p.lastRequestedOffset = 0
			p.requests = p.requests[:0]
		}
		p.events.PieceCompleted(p.ID, m.PieceIndex)
		p.events.PeerReady(p.ID)
		return
	}

	p.requestNextBlocksLocked()
}

// HandleError implements exchange.Handler. A codec or I/O failure
// surfaces as IOError and forces an unbind, per §7.
func (p *Peer) HandleError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.IOError(p.ID, err)
	p.unbindLocked(true)
}

var _ exchange.Handler = (*Peer)(nil)
