package transport

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulsemesh/pulsemesh/internal/protocol"
	"github.com/pulsemesh/pulsemesh/internal/testutil/testlog"
)

func fastSharedDirConfig(base string) SharedDirConfig {
	cfg := DefaultSharedDirConfig()
	cfg.BaseDir = base
	cfg.PollInterval = 20 * time.Millisecond
	cfg.PollTimeout = 2 * time.Second
	return cfg
}

func openSharedDir(t *testing.T, cfg SharedDirConfig, identity string) *SharedDir {
	t.Helper()
	tr, err := NewSharedDir(cfg, identity)
	if err != nil {
		t.Fatalf("new shared dir: %v", err)
	}
	if err := tr.Open(); err != nil {
		t.Fatalf("open shared dir: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestNewSharedDirValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := NewSharedDir(SharedDirConfig{}, "id"); !errors.Is(err, ErrSetup) {
		t.Fatalf("expected setup error for missing base dir, got %v", err)
	}
	if _, err := NewSharedDir(SharedDirConfig{BaseDir: t.TempDir()}, "  "); !errors.Is(err, ErrSetup) {
		t.Fatalf("expected setup error for missing identity, got %v", err)
	}
}

func TestSharedDirDeliversBetweenParticipants(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")
	b := openSharedDir(t, fastSharedDirConfig(base), "agent-b")

	msg := protocol.NewText("agent-a", "over the wall")
	if err := a.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := b.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.Identity != "agent-a" || got.Payload != "over the wall" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if got.Timestamp != msg.Timestamp {
		t.Fatalf("timestamp changed in transit: sent %v got %v", msg.Timestamp, got.Timestamp)
	}
}

func TestSharedDirSuppressesOwnFiles(t *testing.T) {
	testlog.Start(t)
	cfg := fastSharedDirConfig(t.TempDir())
	cfg.PollTimeout = 150 * time.Millisecond
	a := openSharedDir(t, cfg, "agent-a")

	if err := a.Send(protocol.NewText("agent-a", "echo?")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.Receive(); !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("expected quiet cycle, got %v", err)
	}
}

func TestSharedDirMessageFileNaming(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")

	msg := protocol.NewText("agent-a", "named")
	if err := a.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(base, "messages"))
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("unexpected file count: %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "agent-a_") || !strings.HasSuffix(name, "_1.json") {
		t.Fatalf("unexpected file name: %q", name)
	}
	if strings.Contains(name, ".tmp") {
		t.Fatalf("temp file leaked into listing: %q", name)
	}
}

func TestSharedDirDeliversOnce(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")

	cfg := fastSharedDirConfig(base)
	cfg.PollTimeout = 150 * time.Millisecond
	b := openSharedDir(t, cfg, "agent-b")

	if err := a.Send(protocol.NewText("agent-a", "only once")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := waitReceive(b, 2*time.Second); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if _, err := b.Receive(); !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("file redelivered: expected quiet cycle, got %v", err)
	}
}

func TestSharedDirConcurrentWritersEachDeliveredOnce(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	cfg := fastSharedDirConfig(base)
	cfg.PollTimeout = 150 * time.Millisecond
	reader := openSharedDir(t, cfg, "agent-r")

	writers := []string{"agent-a", "agent-b", "agent-c"}
	var wg sync.WaitGroup
	for _, identity := range writers {
		w := openSharedDir(t, fastSharedDirConfig(base), identity)
		wg.Add(1)
		go func(w *SharedDir, identity string) {
			defer wg.Done()
			if err := w.Send(protocol.NewText(identity, "from "+identity)); err != nil {
				t.Errorf("send %s: %v", identity, err)
			}
		}(w, identity)
	}
	wg.Wait()

	got := make(map[string]int)
	for range writers {
		msg, err := waitReceive(reader, 2*time.Second)
		if err != nil {
			t.Fatalf("receive: %v (so far %+v)", err, got)
		}
		got[msg.Identity]++
	}
	for _, identity := range writers {
		if got[identity] != 1 {
			t.Fatalf("identity %s delivered %d times: %+v", identity, got[identity], got)
		}
	}
	if _, err := reader.Receive(); !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("extra delivery after all writers drained: %v", err)
	}
}

func TestSharedDirSkipsMalformedAndContinues(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")
	b := openSharedDir(t, fastSharedDirConfig(base), "agent-b")

	// Sorts before any uuid-prefixed name, so the poller hits it first.
	bad := filepath.Join(base, "messages", "0000_1_1.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("plant malformed file: %v", err)
	}
	if err := a.Send(protocol.NewText("agent-a", "still flowing")); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := b.Receive()
	if err != nil {
		t.Fatalf("receive after malformed file: %v", err)
	}
	if got.Payload != "still flowing" {
		t.Fatalf("unexpected payload: %q", got.Payload)
	}
}

func TestSharedDirHeartbeatFileLatestWins(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")

	first := protocol.Message{Identity: "agent-a", Kind: protocol.KindHeartbeat, Timestamp: 100.0}
	second := protocol.Message{Identity: "agent-a", Kind: protocol.KindHeartbeat, Timestamp: 200.0}
	if err := a.SendHeartbeat(first); err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	if err := a.SendHeartbeat(second); err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(base, "heartbeats"))
	if err != nil {
		t.Fatalf("list heartbeats: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "agent-a.json" {
		t.Fatalf("unexpected heartbeat listing: %+v", entries)
	}
	data, err := os.ReadFile(filepath.Join(base, "heartbeats", "agent-a.json"))
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode heartbeat: %v", err)
	}
	if msg.Timestamp != 200.0 {
		t.Fatalf("stale heartbeat survived: %+v", msg)
	}
}

func TestSharedDirActivePeersFiltersStaleAndSelf(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")
	b := openSharedDir(t, fastSharedDirConfig(base), "agent-b")
	c := openSharedDir(t, fastSharedDirConfig(base), "agent-c")

	now := protocol.Now()
	if err := a.SendHeartbeat(protocol.Message{Identity: "agent-a", Kind: protocol.KindHeartbeat, Timestamp: now}); err != nil {
		t.Fatalf("fresh heartbeat: %v", err)
	}
	stale := now - 61.0
	if err := c.SendHeartbeat(protocol.Message{Identity: "agent-c", Kind: protocol.KindHeartbeat, Timestamp: stale}); err != nil {
		t.Fatalf("stale heartbeat: %v", err)
	}
	if err := b.SendHeartbeat(protocol.Message{Identity: "agent-b", Kind: protocol.KindHeartbeat, Timestamp: now}); err != nil {
		t.Fatalf("own heartbeat: %v", err)
	}

	peers := b.ActivePeers(protocol.Now())
	if _, ok := peers["agent-a"]; !ok {
		t.Fatalf("fresh peer missing: %+v", peers)
	}
	if _, ok := peers["agent-b"]; ok {
		t.Fatalf("self leaked into peer view: %+v", peers)
	}
	if _, ok := peers["agent-c"]; ok {
		t.Fatalf("stale peer survived: %+v", peers)
	}
}

func TestSharedDirCloseRemovesOwnHeartbeat(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")
	b := openSharedDir(t, fastSharedDirConfig(base), "agent-b")

	if err := a.SendHeartbeat(protocol.NewHeartbeat("agent-a")); err != nil {
		t.Fatalf("heartbeat a: %v", err)
	}
	if err := b.SendHeartbeat(protocol.NewHeartbeat("agent-b")); err != nil {
		t.Fatalf("heartbeat b: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(base, "heartbeats", "agent-a.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("own heartbeat not removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "heartbeats", "agent-b.json")); err != nil {
		t.Fatalf("foreign heartbeat touched: %v", err)
	}
}

func TestSharedDirRejectsUseWhenClosed(t *testing.T) {
	testlog.Start(t)
	tr, err := NewSharedDir(fastSharedDirConfig(t.TempDir()), "agent-a")
	if err != nil {
		t.Fatalf("new shared dir: %v", err)
	}
	if err := tr.Send(protocol.NewText("agent-a", "too early")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error before open, got %v", err)
	}
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := tr.Receive(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error after close, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestSharedDirCleanupAgesOwnMessages(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	cfg := fastSharedDirConfig(base)
	cfg.CleanupInterval = 25 * time.Millisecond
	cfg.Retention = 50 * time.Millisecond
	a := openSharedDir(t, cfg, "agent-a")

	if err := a.Send(protocol.NewText("agent-a", "ephemeral")); err != nil {
		t.Fatalf("send: %v", err)
	}
	messagesDir := filepath.Join(base, "messages")
	if !waitForCondition(3*time.Second, 25*time.Millisecond, func() bool {
		entries, err := os.ReadDir(messagesDir)
		return err == nil && len(entries) == 0
	}) {
		t.Fatalf("own message file was not aged out")
	}
}

func TestSharedDirDeliversInLexicalOrder(t *testing.T) {
	testlog.Start(t)
	base := t.TempDir()
	a := openSharedDir(t, fastSharedDirConfig(base), "agent-a")

	for _, payload := range []string{"first", "second", "third"} {
		if err := a.Send(protocol.NewText("agent-a", payload)); err != nil {
			t.Fatalf("send %q: %v", payload, err)
		}
	}
	b := openSharedDir(t, fastSharedDirConfig(base), "agent-b")

	for _, want := range []string{"first", "second", "third"} {
		got, err := b.Receive()
		if err != nil {
			t.Fatalf("receive %q: %v", want, err)
		}
		if got.Payload != want {
			t.Fatalf("out of order: want %q got %q", want, got.Payload)
		}
	}
}

// waitReceive retries through quiet cycles until the deadline.
func waitReceive(tr Transport, timeout time.Duration) (protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := tr.Receive()
		if err == nil || !errors.Is(err, ErrReceiveTimeout) {
			return msg, err
		}
		if time.Now().After(deadline) {
			return protocol.Message{}, ErrReceiveTimeout
		}
	}
}

func waitForCondition(timeout time.Duration, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}
