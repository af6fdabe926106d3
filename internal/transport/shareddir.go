package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsemesh/pulsemesh/internal/protocol"
)

// SharedDirConfig defines the directory contract and poll cadence.
type SharedDirConfig struct {
	BaseDir         string
	PollInterval    time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
	PollTimeout     time.Duration
	InboxDepth      int
	StopTimeout     time.Duration
}

func DefaultSharedDirConfig() SharedDirConfig {
	return SharedDirConfig{
		PollInterval:    500 * time.Millisecond,
		CleanupInterval: 30 * time.Second,
		Retention:       60 * time.Second,
		PollTimeout:     1 * time.Second,
		InboxDepth:      256,
		StopTimeout:     2 * time.Second,
	}
}

func (c SharedDirConfig) WithDefaults() SharedDirConfig {
	def := DefaultSharedDirConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.InboxDepth <= 0 {
		c.InboxDepth = def.InboxDepth
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	return c
}

// SharedDir carries facts as JSON files in a directory every participant
// can reach, for segments where multicast does not cross (containers,
// mounted volumes). Layout under the base directory:
//
//	messages/<identity>_<epoch-millis>_<seq>.json
//	heartbeats/<identity>.json
//
// Message files are write-once and aged out; heartbeat files are
// overwritten in place, bounding liveness storage to one file per
// participant. Every publish lands atomically: the payload is written to
// a sibling .tmp name first, then renamed, so the poller never observes
// a half-written fact.
type SharedDir struct {
	cfg           SharedDirConfig
	identity      string
	messagesDir   string
	heartbeatsDir string

	seq atomic.Uint64

	mu       sync.Mutex
	seen     map[string]float64
	open     bool
	inbox    chan protocol.Message
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewSharedDir(cfg SharedDirConfig, identity string) (*SharedDir, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("%w: base directory required", ErrSetup)
	}
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: identity required", ErrSetup)
	}
	cfg = cfg.WithDefaults()
	return &SharedDir{
		cfg:           cfg,
		identity:      identity,
		messagesDir:   filepath.Join(cfg.BaseDir, "messages"),
		heartbeatsDir: filepath.Join(cfg.BaseDir, "heartbeats"),
	}, nil
}

// Open creates both directory areas and starts the poll and cleanup
// workers. Calling Open on an open transport is a no-op.
func (t *SharedDir) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}
	if err := os.MkdirAll(t.messagesDir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSetup, t.messagesDir, err)
	}
	if err := os.MkdirAll(t.heartbeatsDir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSetup, t.heartbeatsDir, err)
	}
	t.seen = make(map[string]float64)
	t.inbox = make(chan protocol.Message, t.cfg.InboxDepth)
	t.shutdown = make(chan struct{})
	t.open = true
	t.wg.Add(2)
	go t.pollLoop()
	go t.cleanupLoop()
	log.Debug().
		Str("base", t.cfg.BaseDir).
		Dur("poll", t.cfg.PollInterval).
		Dur("retention", t.cfg.Retention).
		Msg("transport.shareddir open")
	return nil
}

// Close stops both workers with a bounded join, then makes a best-effort
// attempt to remove this participant's heartbeat file. A participant that
// dies without closing leaves its heartbeat behind to age out, which is
// the same staleness window peers already tolerate.
func (t *SharedDir) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	close(t.shutdown)
	t.mu.Unlock()

	if !waitTimeout(&t.wg, t.cfg.StopTimeout) {
		log.Warn().Dur("timeout", t.cfg.StopTimeout).Msg("transport.shareddir workers did not stop in time")
	}
	hb := filepath.Join(t.heartbeatsDir, t.identity+".json")
	if err := os.Remove(hb); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debug().Err(err).Str("path", hb).Msg("transport.shareddir heartbeat removal failed")
	}
	log.Debug().Str("base", t.cfg.BaseDir).Msg("transport.shareddir closed")
	return nil
}

// Send publishes one fact as its own message file. The name carries the
// issuer, the fact's own timestamp in epoch milliseconds, and a
// per-instance sequence so a sender faster than the millisecond clock
// still gets distinct names.
func (t *SharedDir) Send(msg protocol.Message) error {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return ErrClosed
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	seq := t.seq.Add(1)
	name := fmt.Sprintf("%s_%d_%d.json", msg.Identity, int64(msg.Timestamp*1000), seq)
	return writeAtomic(t.messagesDir, name, data)
}

// SendHeartbeat overwrites this participant's single heartbeat file,
// latest wins.
func (t *SharedDir) SendHeartbeat(msg protocol.Message) error {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return ErrClosed
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return writeAtomic(t.heartbeatsDir, msg.Identity+".json", data)
}

// Receive waits at most the poll timeout for the next fact the poll
// worker decoded. Quiet cycles report ErrReceiveTimeout; once Close has
// run it reports ErrClosed.
func (t *SharedDir) Receive() (protocol.Message, error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return protocol.Message{}, ErrClosed
	}
	inbox := t.inbox
	shutdown := t.shutdown
	t.mu.Unlock()

	timer := time.NewTimer(t.cfg.PollTimeout)
	defer timer.Stop()
	select {
	case msg := <-inbox:
		return msg, nil
	case <-shutdown:
		return protocol.Message{}, ErrClosed
	case <-timer.C:
		return protocol.Message{}, ErrReceiveTimeout
	}
}

// ActivePeers reads every heartbeat file and reports issuers whose own
// stamp is within the retention window, keyed by identity. Self is
// excluded. Unreadable or undecodable files are skipped.
func (t *SharedDir) ActivePeers(now float64) map[string]float64 {
	peers := make(map[string]float64)
	entries, err := os.ReadDir(t.heartbeatsDir)
	if err != nil {
		return peers
	}
	horizon := t.cfg.Retention.Seconds()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.heartbeatsDir, entry.Name()))
		if err != nil {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		if msg.Identity == t.identity {
			continue
		}
		if now-msg.Timestamp < horizon {
			peers[msg.Identity] = msg.Timestamp
		}
	}
	return peers
}

// pollLoop scans for new message files, then waits one poll interval.
// The first scan runs immediately so a fresh participant picks up
// in-flight traffic without waiting a full cycle.
func (t *SharedDir) pollLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		t.pollOnce()
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
		}
	}
}

// pollOnce lists the message area in lexical order and hands every new
// foreign fact to the inbox. Every listed candidate is marked seen
// exactly once, own files and failed decodes included, so a bad file is
// never retried.
func (t *SharedDir) pollOnce() {
	entries, err := os.ReadDir(t.messagesDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", t.messagesDir).Msg("transport.shareddir poll listing failed")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := entry.Name()
		if t.alreadySeen(name) {
			continue
		}
		if strings.HasPrefix(name, t.identity) {
			t.markSeen(name)
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.messagesDir, name))
		if err != nil {
			t.markSeen(name)
			log.Warn().Err(err).Str("file", name).Msg("transport.shareddir read failed")
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.markSeen(name)
			log.Warn().Err(err).Str("file", name).Msg("transport.shareddir decode failed")
			continue
		}
		t.markSeen(name)
		select {
		case t.inbox <- msg:
		case <-t.shutdown:
			return
		}
	}
}

func (t *SharedDir) alreadySeen(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[name]
	return ok
}

func (t *SharedDir) markSeen(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[name] = protocol.Now()
}

// cleanupLoop ages out this participant's own message files and prunes
// the seen set. The first pass runs one full interval after open.
func (t *SharedDir) cleanupLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
			t.cleanupOnce()
		}
	}
}

// cleanupOnce deletes own message files older than the retention window
// by mtime. Each participant removes only its own output, so no
// coordination is needed. Seen entries are kept for twice the retention
// window; they must outlive the files they refer to or a slow cleanup
// elsewhere would redeliver.
func (t *SharedDir) cleanupOnce() {
	entries, err := os.ReadDir(t.messagesDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), t.identity) {
				continue
			}
			if !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) > t.cfg.Retention {
				path := filepath.Join(t.messagesDir, entry.Name())
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					log.Debug().Err(err).Str("file", entry.Name()).Msg("transport.shareddir cleanup remove failed")
				}
			}
		}
	}

	now := protocol.Now()
	horizon := 2 * t.cfg.Retention.Seconds()
	t.mu.Lock()
	for name, seenAt := range t.seen {
		if now-seenAt > horizon {
			delete(t.seen, name)
		}
	}
	t.mu.Unlock()
}

// writeAtomic publishes data under name via a sibling .tmp write and
// rename, so concurrent pollers only ever list complete files. The .tmp
// suffix replaces .json, keeping in-flight files invisible to the
// .json listing filter.
func writeAtomic(dir, name string, data []byte) error {
	stem := strings.TrimSuffix(name, ".json")
	tmp := filepath.Join(dir, stem+".tmp")
	final := filepath.Join(dir, name)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// waitTimeout waits for the group up to d and reports whether it
// finished in time.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
