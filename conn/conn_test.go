package conn

import (
	"net"
	"testing"
	"time"

	"github.com/transitorykris/exard/message"
)

func TestSendRecvRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := Wrap(client)
	b := Wrap(server)

	raw, err := message.EncodeHeader(0, message.KEEPALIVE)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.Send(raw)
		close(done)
	}()

	var m message.Message
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err = b.Recv()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Header.Type != message.NOP {
			break
		}
	}
	<-done
	if m.Header.Type != message.KEEPALIVE {
		t.Fatalf("expected a KEEPALIVE, got %v", m.Header.Type)
	}
}

func TestRecvReturnsNopOnNoData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	b := Wrap(server)
	m, err := b.Recv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Header.Type != message.NOP {
		t.Errorf("expected NOP, got %v", m.Header.Type)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := Wrap(client)
	if err := c.Close("test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close("test again"); err != nil {
		t.Errorf("expected idempotent close, got error: %v", err)
	}
}
