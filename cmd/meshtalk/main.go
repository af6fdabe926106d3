package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/pulsemesh/pulsemesh/internal/config"
	"github.com/pulsemesh/pulsemesh/internal/logging"
	"github.com/pulsemesh/pulsemesh/internal/messenger"
	"github.com/pulsemesh/pulsemesh/internal/protocol"
)

const clockLayout = "15:04:05"

const usage = `meshtalk broadcasts text across the local mesh.

Usage:
  meshtalk <command> [flags]

Commands:
  send         broadcast one message and exit
  listen       print inbound messages until interrupted
  peers        discover and list active peers
  interactive  prompt loop for sending and receiving

Common flags (every command):
  -config string    node config file (toml)
  -identity string  node identity (generated when empty)
  -dir string       shared directory transport root
  -group string     multicast group override
  -port int         multicast port override
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	logging.ConfigureQuiet()

	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(os.Args[2:])
	case "listen":
		err = runListen(os.Args[2:])
	case "peers":
		err = runPeers(os.Args[2:])
	case "interactive":
		err = runInteractive(os.Args[2:])
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "meshtalk: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshtalk: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags carries the per-command flags shared by every subcommand.
type commonFlags struct {
	configPath string
	identity   string
	dir        string
	group      string
	port       int
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", "", "node config file (toml)")
	fs.StringVar(&cf.identity, "identity", "", "node identity (generated when empty)")
	fs.StringVar(&cf.dir, "dir", "", "shared directory transport root")
	fs.StringVar(&cf.group, "group", "", "multicast group override")
	fs.IntVar(&cf.port, "port", 0, "multicast port override")
	return cf
}

// messengerConfig resolves defaults, then the config file, then flag
// overrides, in that order.
func (cf *commonFlags) messengerConfig() (messenger.Config, error) {
	mc := messenger.DefaultConfig()
	if cf.configPath != "" {
		fileCfg, err := config.LoadNodeConfig(cf.configPath)
		if err != nil {
			return messenger.Config{}, err
		}
		mc, err = config.ToMessengerConfig(fileCfg)
		if err != nil {
			return messenger.Config{}, err
		}
	}
	if id := strings.TrimSpace(cf.identity); id != "" {
		mc.Identity = id
	}
	if dir := strings.TrimSpace(cf.dir); dir != "" {
		mc.SharedDir.BaseDir = dir
	}
	if group := strings.TrimSpace(cf.group); group != "" {
		if net.ParseIP(group) == nil {
			return messenger.Config{}, fmt.Errorf("invalid multicast group %q", group)
		}
		mc.Multicast.Group = group
	}
	if cf.port > 0 {
		mc.Multicast.Port = cf.port
	}
	return mc, nil
}

func (cf *commonFlags) buildMessenger() (*messenger.Messenger, error) {
	mc, err := cf.messengerConfig()
	if err != nil {
		return nil, err
	}
	return messenger.New(mc)
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	text := fs.String("text", "", "message text to broadcast")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msgText := strings.TrimSpace(*text)
	if msgText == "" && fs.NArg() > 0 {
		msgText = strings.TrimSpace(strings.Join(fs.Args(), " "))
	}
	if msgText == "" {
		return errors.New("send requires -text or a message argument")
	}

	m, err := cf.buildMessenger()
	if err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		return err
	}
	// Linger so the first heartbeat and the message clear the socket
	// before teardown.
	time.Sleep(100 * time.Millisecond)
	if err := m.Send(msgText); err != nil {
		m.Stop()
		return err
	}
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	pterm.Success.Printfln("Sent: %s", msgText)
	return nil
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	runFor := fs.Duration("for", 0, "stop after this long (0 runs until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := cf.buildMessenger()
	if err != nil {
		return err
	}
	m.OnMessage(func(msg protocol.Message) {
		pterm.Printfln("[%s] %s: %s", time.Now().Format(clockLayout), shortIdentity(msg.Identity), msg.Payload)
	})
	if err := m.Start(); err != nil {
		return err
	}
	defer m.Stop()

	pterm.Info.Printfln("Listening as %s... (Ctrl+C to stop)", shortIdentity(m.Identity()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *runFor)
		defer cancel()
	}
	<-ctx.Done()

	pterm.Println()
	pterm.Info.Println("Stopping...")
	return nil
}

func runPeers(args []string) error {
	fs := flag.NewFlagSet("peers", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	wait := fs.Duration("wait", 3*time.Second, "how long to wait for peer discovery")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := cf.buildMessenger()
	if err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		return err
	}

	pterm.Info.Printfln("Discovering peers for %s...", *wait)
	time.Sleep(*wait)

	peers := m.GetPeers()
	m.Stop()

	if len(peers) == 0 {
		pterm.Warning.Println("No peers found.")
		return nil
	}

	pterm.Println()
	pterm.Info.Printfln("Found %d peer(s):", len(peers))
	now := protocol.Now()
	for _, row := range sortedPeerRows(peers) {
		pterm.Printfln("  %s  (seen %.1fs ago)", row.identity, now-row.lastSeen)
	}
	return nil
}

func runInteractive(args []string) error {
	fs := flag.NewFlagSet("interactive", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := cf.buildMessenger()
	if err != nil {
		return err
	}
	m.OnMessage(func(msg protocol.Message) {
		// Redraw over the pending prompt, then reissue it.
		pterm.Printfln("\r[%s] %s: %s", time.Now().Format(clockLayout), shortIdentity(msg.Identity), msg.Payload)
		fmt.Print("> ")
	})
	if err := m.Start(); err != nil {
		return err
	}
	defer m.Stop()

	pterm.Info.Printfln("Interactive mode as %s", shortIdentity(m.Identity()))
	pterm.Println("Commands: /peers, /id, /help, /quit")
	pterm.Println("Type a message and press Enter to send.")
	pterm.Println()

	reader := bufio.NewReader(os.Stdin)
loop:
	for {
		fmt.Print("> ")
		raw, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			break loop
		case line == "/peers":
			printActivePeers(m.GetPeers())
		case line == "/id":
			pterm.Println(m.Identity())
		case line == "/help":
			pterm.Println("Commands: /peers, /id, /help, /quit")
			pterm.Println("Anything else broadcasts as a message.")
		case strings.HasPrefix(line, "/"):
			pterm.Warning.Printfln("Unknown command: %s", line)
		default:
			if err := m.Send(line); err != nil {
				pterm.Error.Printfln("send failed: %v", err)
			}
		}
	}

	pterm.Println()
	pterm.Info.Println("Stopping...")
	return nil
}

func printActivePeers(peers map[string]float64) {
	if len(peers) == 0 {
		pterm.Println("No peers found.")
		return
	}
	pterm.Printfln("Active peers (%d):", len(peers))
	now := protocol.Now()
	for _, row := range sortedPeerRows(peers) {
		pterm.Printfln("  %s (seen %.1fs ago)", shortIdentity(row.identity), now-row.lastSeen)
	}
}

type peerRow struct {
	identity string
	lastSeen float64
}

// sortedPeerRows orders peers most recently seen first.
func sortedPeerRows(peers map[string]float64) []peerRow {
	rows := make([]peerRow, 0, len(peers))
	for identity, lastSeen := range peers {
		rows = append(rows, peerRow{identity: identity, lastSeen: lastSeen})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].lastSeen == rows[j].lastSeen {
			return rows[i].identity < rows[j].identity
		}
		return rows[i].lastSeen > rows[j].lastSeen
	})
	return rows
}

func shortIdentity(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
