// Package trackerclient announces to a BitTorrent HTTP tracker and
// parses the peer list out of its bencoded response, the way gTorrent's
// torrent.httpTracker did — trimmed to the HTTP announce only, since the
// wire core just needs a handful of dial candidates, not full swarm
// bookkeeping (seeders/leechers/next-check scheduling).
package trackerclient

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"peerwire/bencode"
	"peerwire/metainfo"
	"peerwire/peerid"
)

// Candidate is a dial target returned by a tracker announce.
type Candidate struct {
	IP   string
	Port uint16
}

// Announce performs a single "started" announce against url and returns
// the peer candidates the tracker hands back, in either the compact
// (binary) or the dictionary-list peer format.
func Announce(url string, info *metainfo.Info, self peerid.ID) ([]Candidate, error) {
	client := resty.New().SetTimeout(10 * time.Second)

	resp, err := client.R().
		SetQueryParam("info_hash", string(info.InfoHash[:])).
		SetQueryParam("peer_id", string(self.PeerID[:])).
		SetQueryParam("ip", self.IP).
		SetQueryParam("port", fmt.Sprintf("%d", self.Port)).
		SetQueryParam("uploaded", "0").
		SetQueryParam("downloaded", "0").
		SetQueryParam("left", fmt.Sprintf("%d", info.Length)).
		SetQueryParam("event", "started").
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: announce %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("trackerclient: announce %s: status %d", url, resp.StatusCode())
	}

	data, _, err := bencode.Decode(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("trackerclient: decode response: %w", err)
	}
	root := data.AsDict()

	if reason, ok := root["failure reason"]; ok {
		return nil, fmt.Errorf("trackerclient: tracker refused: %s", reason.AsString())
	}

	peersData, ok := root["peers"]
	if !ok {
		return nil, nil
	}

	var out []Candidate
	if peersData.Type == bencode.STRING {
		blob := peersData.AsBytes()
		for i := 0; i+6 <= len(blob); i += 6 {
			out = append(out, Candidate{
				IP:   fmt.Sprintf("%d.%d.%d.%d", blob[i], blob[i+1], blob[i+2], blob[i+3]),
				Port: uint16(blob[i+4])<<8 | uint16(blob[i+5]),
			})
		}
		return out, nil
	}
	for _, peerData := range peersData.AsList() {
		d := peerData.AsDict()
		out = append(out, Candidate{IP: d["ip"].AsString(), Port: uint16(d["port"].AsInt())})
	}
	return out, nil
}
