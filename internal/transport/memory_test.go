package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/pulsemesh/pulsemesh/internal/protocol"
	"github.com/pulsemesh/pulsemesh/internal/testutil/testlog"
)

func TestMemoryHubLoopsBackToEveryMember(t *testing.T) {
	testlog.Start(t)
	hub := NewMemoryHub()
	a := hub.NewTransport()
	b := hub.NewTransport()
	if err := a.Open(); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if err := b.Open(); err != nil {
		t.Fatalf("open b: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	if err := a.Send(protocol.NewText("agent-a", "to the room")); err != nil {
		t.Fatalf("send: %v", err)
	}

	for name, tr := range map[string]*Memory{"sender": a, "peer": b} {
		got, err := tr.Receive()
		if err != nil {
			t.Fatalf("%s receive: %v", name, err)
		}
		if got.Identity != "agent-a" || got.Payload != "to the room" {
			t.Fatalf("%s got unexpected message: %+v", name, got)
		}
	}
}

func TestMemoryClosedMemberLeavesHub(t *testing.T) {
	testlog.Start(t)
	hub := NewMemoryHub()
	a := hub.NewTransport()
	b := hub.NewTransport()
	if err := a.Open(); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if err := b.Open(); err != nil {
		t.Fatalf("open b: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if err := b.Close(); err != nil {
		t.Fatalf("close b: %v", err)
	}
	if err := a.Send(protocol.NewText("agent-a", "anyone there")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := b.Receive(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed member error, got %v", err)
	}
	if _, err := a.Receive(); err != nil {
		t.Fatalf("open member should still hear the hub: %v", err)
	}
}

func TestMemoryQuietCycleTimesOut(t *testing.T) {
	testlog.Start(t)
	hub := NewMemoryHub()
	a := hub.NewTransport()
	a.pollTimeout = 100 * time.Millisecond
	if err := a.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if _, err := a.Receive(); !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("expected quiet cycle, got %v", err)
	}
}

func TestMemorySendWhenClosed(t *testing.T) {
	testlog.Start(t)
	hub := NewMemoryHub()
	a := hub.NewTransport()
	if err := a.Send(protocol.NewText("agent-a", "too early")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}
