package peerid

import (
	"crypto/rand"
	"io"
	"net/http"
	"time"
)

// NewSelf generates a local identity for this process: a random 20-byte
// peer_id and a best-effort external IP lookup, the way gTorrent's
// torrent.PeerMe built the identity it announced to trackers with.
func NewSelf(port uint16) ID {
	var id [20]byte
	_, _ = rand.Read(id[:])
	return ID{IP: externalIP(), Port: port, PeerID: id}
}

func externalIP() string {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("https://api.ipify.org/")
	if err != nil {
		return "0.0.0.0"
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "0.0.0.0"
	}
	return string(body)
}
