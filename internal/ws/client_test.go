package ws

import (
	"bytes"
	"encoding/json"
	"testing"

	"codecollab/server/internal/protocol"
)

func TestSendPassesPreEncodedFramesThrough(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}

	frame := json.RawMessage(`{"type":"participants-update","users":[],"count":0}`)
	if !c.Send(frame) {
		t.Fatal("Send() of a pre-encoded frame failed")
	}

	got := <-c.send
	if !bytes.Equal(got, frame) {
		t.Errorf("enqueued frame = %s, want it byte-identical to the input", got)
	}
}

func TestSendMarshalsTypedMessages(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}

	if !c.Send(protocol.Error{Type: protocol.TypeError, Message: "nope"}) {
		t.Fatal("Send() of a typed message failed")
	}

	var out protocol.Error
	if err := json.Unmarshal(<-c.send, &out); err != nil {
		t.Fatalf("enqueued frame is not valid JSON: %v", err)
	}
	if out.Type != protocol.TypeError || out.Message != "nope" {
		t.Errorf("enqueued frame = %+v", out)
	}
}

func TestSendAfterCloseDropped(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}
	c.closed.Store(true)

	if c.Send(json.RawMessage(`{"type":"host-left"}`)) {
		t.Error("Send() on a closed client should report the drop")
	}
	if len(c.send) != 0 {
		t.Error("closed client must not enqueue frames")
	}
}
