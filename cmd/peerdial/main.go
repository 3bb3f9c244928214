// Command peerdial is a demo client for the peerwire core, a CLI
// identical in spirit to gTorrent's main.go: a kong command struct with
// one subcommand per operation, structured logging via zerolog, and a
// package-level config loaded from the environment.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"peerwire/activity"
	"peerwire/config"
	"peerwire/metainfo"
	"peerwire/notify"
	"peerwire/peerid"
	"peerwire/sharing"
	"peerwire/store"
	"peerwire/trackerclient"
	"peerwire/utils"
	"peerwire/wire"
)

const version = "0.1.0"

var cli struct {
	Dial struct {
		Torrent string `arg:"" help:"Torrent file describing the content." type:"existingfile"`
		Peer    string `arg:"" help:"Remote peer address, host:port." optional:""`
		Output  string `help:"Path to write downloaded content to." default:"download.out"`
	} `cmd:"" help:"Dial a single peer, perform the wire handshake, and download one torrent."`

	Serve struct {
		Torrent string `arg:"" help:"Torrent file describing the seeded content." type:"existingfile"`
		Content string `arg:"" help:"Path to the already-complete content file." type:"existingfile"`
		Listen  string `help:"Address to accept inbound peer connections on." default:":6881"`
	} `cmd:"" help:"Seed a torrent's content to inbound peers."`
}

func initLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	console := zerolog.ConsoleWriter{Out: os.Stderr}

	logPath := config.Main.SessionLogPath
	logDir := filepath.Dir(logPath)
	if logDir != "." {
		os.MkdirAll(logDir, os.ModePerm)
	}

	logFile, err := os.OpenFile(logPath+".log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn().Err(err).Msg("peerdial: could not open log file, logging to console only")
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, logFile)).With().Timestamp().Logger()
}

func main() {
	initLogging()
	log.Info().Msgf("peerdial v%s", version)

	ctx := kong.Parse(&cli)
	var err error
	switch ctx.Command() {
	case "dial <torrent> <peer>", "dial <torrent>":
		err = runDial()
	case "serve <torrent> <content>":
		err = runServe()
	default:
		ctx.PrintUsage(false)
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("peerdial: command failed")
	}
}

func newBroadcaster() (*activity.Broadcaster, *store.SessionStore, error) {
	b := activity.NewBroadcaster()

	sessionStore, err := store.Open(config.Main.SessionLogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("peerdial: open session store: %w", err)
	}
	b.Register(sessionStore)

	if config.Main.WebhookURL != "" {
		b.Register(notify.NewWebhookListener(config.Main.WebhookURL))
	}
	return b, sessionStore, nil
}

// newConfiguredPeer builds a sharing.Peer with config.Main's pipeline
// tunables instead of sharing's own package defaults.
func newConfiguredPeer(remote peerid.ID, torrentFile *metainfo.FileTorrent, broadcaster *activity.Broadcaster) *sharing.Peer {
	return sharing.NewWithLimits(
		remote, torrentFile, broadcaster,
		config.Main.MaxPipelinedRequests,
		uint32(config.Main.DefaultRequestSize),
		uint32(config.Main.MaxRequestSize),
	)
}

func runDial() error {
	raw, err := os.ReadFile(cli.Dial.Torrent)
	if err != nil {
		return err
	}
	info, err := metainfo.Parse(raw)
	if err != nil {
		return err
	}

	self := peerid.NewSelf(6881)

	peerAddr := cli.Dial.Peer
	if peerAddr == "" {
		candidates, err := discoverPeers(info, self)
		if err != nil {
			return fmt.Errorf("peerdial: no peer given and tracker discovery failed: %w", err)
		}
		if len(candidates) == 0 {
			return fmt.Errorf("peerdial: tracker returned no peers")
		}
		peerAddr = fmt.Sprintf("%s:%d", candidates[0].IP, candidates[0].Port)
	}

	torrentFile, err := metainfo.Open(info, cli.Dial.Output)
	if err != nil {
		return err
	}
	defer torrentFile.Close()

	broadcaster, sessionStore, err := newBroadcaster()
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	conn, err := net.DialTimeout("tcp", peerAddr, config.Main.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("peerdial: dial %s: %w", peerAddr, err)
	}

	hs, err := wire.PerformHandshake(conn, wire.NewHandshake(info.InfoHash, self.PeerID), config.Main.ConnectTimeout)
	if err != nil {
		conn.Close()
		return err
	}

	remote := peerid.New(ipFromAddr(peerAddr), portFromAddr(peerAddr), hs.PeerID)
	peer := newConfiguredPeer(remote, torrentFile, broadcaster)
	if err := peer.Bind(conn); err != nil {
		return err
	}
	sessionStore.OpenSession(remote.Hex(), remote)

	peer.Interesting()
	log.Info().Str("peer", remote.String()).Str("size", utils.FormatBytes(info.Length)).
		Msg("peerdial: bound, awaiting bitfield/unchoke")

	trapSignal(func() { peer.Unbind(false) })

	var downloaded int64
	for i := uint32(0); i < info.PieceCount(); i++ {
		piece := torrentFile.Piece(i)
		for !piece.IsValid() {
			if err := peer.DownloadPiece(piece); err != nil {
				time.Sleep(time.Second)
				continue
			}
			time.Sleep(time.Second)
		}
		downloaded += int64(piece.Size())
		log.Info().Str("peer", remote.String()).
			Str("downloaded", utils.FormatBytes(downloaded)).
			Str("total", utils.FormatBytes(info.Length)).
			Msg("peerdial: piece complete")
	}

	log.Info().Msg("peerdial: download complete")
	peer.Unbind(false)
	return nil
}

func runServe() error {
	raw, err := os.ReadFile(cli.Serve.Torrent)
	if err != nil {
		return err
	}
	info, err := metainfo.Parse(raw)
	if err != nil {
		return err
	}

	torrentFile, err := metainfo.Open(info, cli.Serve.Content)
	if err != nil {
		return err
	}
	defer torrentFile.Close()

	for i := uint32(0); i < info.PieceCount(); i++ {
		if !torrentFile.Piece(i).Validate() {
			return fmt.Errorf("peerdial: content file fails piece %d hash check", i)
		}
	}

	broadcaster, sessionStore, err := newBroadcaster()
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	self := peerid.NewSelf(6881)

	ln, err := net.Listen("tcp", cli.Serve.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Info().Str("addr", cli.Serve.Listen).Str("size", utils.FormatBytes(info.Length)).
		Msg("peerdial: listening for peers")

	trapSignal(func() { ln.Close() })

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go handleInbound(conn, info, torrentFile, self, broadcaster, sessionStore)
	}
}

func handleInbound(conn net.Conn, info *metainfo.Info, torrentFile *metainfo.FileTorrent, self peerid.ID, broadcaster *activity.Broadcaster, sessionStore *store.SessionStore) {
	req, err := wire.ReadHandshake(conn)
	if err != nil {
		log.Warn().Err(err).Msg("peerdial: inbound handshake read failed")
		conn.Close()
		return
	}
	if req.InfoHash != info.InfoHash {
		log.Warn().Msg("peerdial: inbound handshake for unknown torrent")
		conn.Close()
		return
	}
	reply := wire.NewHandshake(info.InfoHash, self.PeerID)
	if _, err := conn.Write(reply.Serialize()); err != nil {
		conn.Close()
		return
	}

	remote := peerid.New(ipFromAddr(conn.RemoteAddr().String()), portFromAddr(conn.RemoteAddr().String()), req.PeerID)
	peer := newConfiguredPeer(remote, torrentFile, broadcaster)
	if err := peer.Bind(conn); err != nil {
		conn.Close()
		return
	}
	sessionStore.OpenSession(remote.Hex(), remote)
	peer.Unchoke()
	log.Info().Str("peer", remote.String()).Msg("peerdial: accepted inbound peer")
}

func discoverPeers(info *metainfo.Info, self peerid.ID) ([]trackerclient.Candidate, error) {
	var lastErr error
	for _, announce := range info.AnnounceList {
		candidates, err := trackerclient.Announce(announce, info, self)
		if err != nil {
			lastErr = err
			continue
		}
		return candidates, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("peerdial: torrent has no announce URLs")
}

func trapSignal(onSignal func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("peerdial: signal received, shutting down gracefully")
		onSignal()
	}()
}

func ipFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func portFromAddr(addr string) uint16 {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	if port == 0 {
		return 1
	}
	return port
}
