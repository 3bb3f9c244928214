package exchange

import (
	"net"
	"testing"
	"time"

	"peerwire/torrentfake"
	"peerwire/wire"
)

type recordingHandler struct {
	messages chan wire.Message
	errs     chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages: make(chan wire.Message, 16),
		errs:     make(chan error, 16),
	}
}

func (h *recordingHandler) HandleMessage(msg wire.Message) { h.messages <- msg }
func (h *recordingHandler) HandleError(err error)          { h.errs <- err }

func TestExchangeStartTransitionsToConnected(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	tor := torrentfake.New(1, 16384, 16384)

	ex := New(server, tor, newRecordingHandler())
	if ex.State() != StateNew {
		t.Fatalf("initial state = %v, want New", ex.State())
	}
	ex.Start()
	if ex.State() != StateConnected {
		t.Fatalf("state after Start = %v, want Connected", ex.State())
	}
	ex.Terminate()
}

func TestExchangeSendDeliversFramedMessage(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	tor := torrentfake.New(1, 16384, 16384)

	ex := New(server, tor, newRecordingHandler())
	ex.Start()
	defer ex.Terminate()

	ex.Send(wire.ChokeMsg{})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := wire.ReadFrame(client)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := wire.Decode(payload, tor)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type() != wire.TypeChoke {
		t.Fatalf("got %v, want choke", msg.Type())
	}
}

func TestExchangeHandleMessageDispatchesParsedFrames(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	tor := torrentfake.New(1, 16384, 16384)

	handler := newRecordingHandler()
	ex := New(server, tor, handler)
	ex.Start()
	defer ex.Terminate()

	client.Write(wire.Encode(wire.UnchokeMsg{}))

	select {
	case msg := <-handler.messages:
		if msg.Type() != wire.TypeUnchoke {
			t.Fatalf("got %v, want unchoke", msg.Type())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

func TestExchangeCloseIsGracefulAndIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	tor := torrentfake.New(1, 16384, 16384)

	ex := New(server, tor, newRecordingHandler())
	ex.Start()

	if err := ex.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ex.State() != StateClosed {
		t.Fatalf("state after Close = %v, want Closed", ex.State())
	}
	// Close again must be a safe no-op.
	if err := ex.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestExchangeTerminateDoesNotBlock(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	tor := torrentfake.New(1, 16384, 16384)

	ex := New(server, tor, newRecordingHandler())
	ex.Start()

	done := make(chan struct{})
	go func() {
		ex.Terminate()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate blocked")
	}
	if ex.State() != StateClosed {
		t.Fatalf("state after Terminate = %v, want Closed", ex.State())
	}
}
