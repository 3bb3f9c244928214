// Package notify implements a PeerActivityListener that forwards the
// events an operator actually wants paged on to an external webhook,
// built the same way gTorrent's httpTracker announces to a tracker: a
// single shared *resty.Client and one POST per event.
package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"peerwire/activity"
	"peerwire/peerid"
)

// WebhookListener POSTs a JSON body for PeerDisconnected and IOError
// events. It embeds activity.NopListener so the other, higher-volume
// events (HAVE, PIECE, choke flips) are ignored without webhook noise.
type WebhookListener struct {
	activity.NopListener
	client *resty.Client
	url    string
}

// NewWebhookListener builds a listener that posts to url. An empty url
// makes every call a no-op, so wiring this in is safe even when no
// webhook has been configured.
func NewWebhookListener(url string) *WebhookListener {
	return &WebhookListener{
		client: resty.New().SetTimeout(5 * time.Second),
		url:    url,
	}
}

type webhookEvent struct {
	Event     string `json:"event"`
	PeerAddr  string `json:"peer_addr"`
	PeerIDHex string `json:"peer_id_hex"`
	Detail    string `json:"detail,omitempty"`
}

func (w *WebhookListener) post(ev webhookEvent) {
	if w.url == "" {
		return
	}
	resp, err := w.client.R().SetBody(ev).Post(w.url)
	if err != nil {
		log.Warn().Err(err).Str("event", ev.Event).Msg("notify: webhook post failed")
		return
	}
	if resp.IsError() {
		log.Warn().Str("event", ev.Event).Int("status", resp.StatusCode()).Msg("notify: webhook rejected event")
	}
}

func (w *WebhookListener) PeerDisconnected(peer peerid.ID) {
	w.post(webhookEvent{Event: "peer_disconnected", PeerAddr: peer.String(), PeerIDHex: peer.Hex()})
}

func (w *WebhookListener) IOError(peer peerid.ID, err error) {
	w.post(webhookEvent{Event: "io_error", PeerAddr: peer.String(), PeerIDHex: peer.Hex(), Detail: err.Error()})
}

var _ activity.Listener = (*WebhookListener)(nil)
