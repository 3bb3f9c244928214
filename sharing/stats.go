package sharing

// Stats is a point-in-time snapshot of a peer's transfer state, read by
// external observers (the session-log store, a swarm dashboard) without
// reaching into the peer's internals. It is not part of the wire
// protocol; it exists purely for the operator-facing ambient stack.
type Stats struct {
	Choking     bool
	Interesting bool
	Choked      bool
	Interested  bool

	RequestsInFlight int
	PendingBytes     int64

	DownloadRate float64
	UploadRate   float64

	AvailablePieces int
	TotalPieces     int
}
