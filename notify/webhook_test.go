package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"peerwire/peerid"
)

func testPeer() peerid.ID {
	return peerid.New("192.0.2.1", 6881, [20]byte{7, 7, 7})
}

func TestWebhookListenerPostsPeerDisconnected(t *testing.T) {
	var mu sync.Mutex
	var got webhookEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	listener := NewWebhookListener(srv.URL)
	listener.PeerDisconnected(testPeer())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		event := got.Event
		mu.Unlock()
		if event != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Event != "peer_disconnected" {
		t.Fatalf("event = %q, want peer_disconnected", got.Event)
	}
	if got.PeerAddr != testPeer().String() {
		t.Errorf("peer_addr = %q, want %q", got.PeerAddr, testPeer().String())
	}
	if got.PeerIDHex != testPeer().Hex() {
		t.Errorf("peer_id_hex = %q, want %q", got.PeerIDHex, testPeer().Hex())
	}
}

func TestWebhookListenerPostsIOErrorWithDetail(t *testing.T) {
	var mu sync.Mutex
	var got webhookEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	listener := NewWebhookListener(srv.URL)
	listener.IOError(testPeer(), errors.New("connection reset"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		event := got.Event
		mu.Unlock()
		if event != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Event != "io_error" {
		t.Fatalf("event = %q, want io_error", got.Event)
	}
	if got.Detail != "connection reset" {
		t.Errorf("detail = %q, want %q", got.Detail, "connection reset")
	}
}

func TestWebhookListenerEmptyURLIsNoop(t *testing.T) {
	listener := NewWebhookListener("")
	// Must not panic or block; there is no server to talk to.
	listener.PeerDisconnected(testPeer())
	listener.IOError(testPeer(), errors.New("x"))
}
