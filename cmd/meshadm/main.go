package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/pulsemesh/pulsemesh/internal/logging"
)

const defaultAdminAddr = "127.0.0.1:8087"

const usage = `meshadm drives the admin surface of a running pulsectl daemon.

Usage:
  meshadm <command> [flags]

Commands:
  status  show daemon identity, state, and peer count
  health  show daemon liveness and uptime
  peers   list the daemon's active peers
  send    broadcast a message through the daemon

Common flags (every command):
  -addr string  admin listen address (default "` + defaultAdminAddr + `")
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	logging.ConfigureQuiet()

	var err error
	switch os.Args[1] {
	case "status":
		err = runStatus(os.Args[2:])
	case "health":
		err = runHealth(os.Args[2:])
	case "peers":
		err = runPeers(os.Args[2:])
	case "send":
		err = runSend(os.Args[2:])
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "meshadm: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshadm: %v\n", err)
		os.Exit(1)
	}
}

type statusResponse struct {
	Identity    string `json:"identity"`
	State       string `json:"state"`
	ActivePeers int    `json:"active_peers"`
	Uptime      string `json:"uptime"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Identity string `json:"identity"`
}

type peerEntry struct {
	Identity string  `json:"identity"`
	LastSeen float64 `json:"last_seen"`
	AgoSecs  float64 `json:"ago_secs"`
}

type peersResponse struct {
	Peers []peerEntry `json:"peers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// AdminClient is an HTTP client for one pulsectl admin endpoint.
type AdminClient struct {
	addr string
	http *http.Client
}

func NewAdminClient(addr string) *AdminClient {
	return &AdminClient{
		addr: addr,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *AdminClient) Address() string {
	return c.addr
}

func (c *AdminClient) Status() (statusResponse, error) {
	var out statusResponse
	if err := c.get("/status", &out); err != nil {
		return statusResponse{}, err
	}
	return out, nil
}

func (c *AdminClient) Health() (healthResponse, error) {
	var out healthResponse
	if err := c.get("/health", &out); err != nil {
		return healthResponse{}, err
	}
	return out, nil
}

func (c *AdminClient) Peers() ([]peerEntry, error) {
	var out peersResponse
	if err := c.get("/peers", &out); err != nil {
		return nil, err
	}
	return out.Peers, nil
}

func (c *AdminClient) Send(text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.url("/messages"), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("admin request failed (/messages): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send rejected: %s", decodeError(resp))
	}
	return nil
}

func (c *AdminClient) url(path string) string {
	return "http://" + c.addr + path
}

func (c *AdminClient) get(path string, out any) error {
	resp, err := c.http.Get(c.url(path))
	if err != nil {
		return fmt.Errorf("admin request failed (%s): %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("admin %s returned %s: %s", path, resp.Status, decodeError(resp))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("admin response read failed (%s): %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("admin response decode failed (%s): %w", path, err)
	}
	return nil
}

// decodeError pulls the error field from a failed response body, falling
// back to the raw text.
func decodeError(resp *http.Response) string {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Status
	}
	var out errorResponse
	if err := json.Unmarshal(body, &out); err == nil && out.Error != "" {
		return out.Error
	}
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return resp.Status
	}
	return raw
}

func clientFlags(name string, args []string) (*AdminClient, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := fs.String("addr", defaultAdminAddr, "admin listen address")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return NewAdminClient(strings.TrimSpace(*addr)), fs, nil
}

func runStatus(args []string) error {
	client, _, err := clientFlags("status", args)
	if err != nil {
		return err
	}
	status, err := client.Status()
	if err != nil {
		return err
	}
	pterm.Printfln("Daemon Status (%s)", client.Address())
	pterm.Printfln("  identity:     %s", status.Identity)
	pterm.Printfln("  state:        %s", status.State)
	pterm.Printfln("  active_peers: %d", status.ActivePeers)
	pterm.Printfln("  uptime:       %s", status.Uptime)
	return nil
}

func runHealth(args []string) error {
	client, _, err := clientFlags("health", args)
	if err != nil {
		return err
	}
	health, err := client.Health()
	if err != nil {
		return err
	}
	pterm.Printfln("Daemon Health (%s)", client.Address())
	pterm.Printfln("  status:   %s", health.Status)
	pterm.Printfln("  identity: %s", health.Identity)
	pterm.Printfln("  uptime:   %s", health.Uptime)
	return nil
}

func runPeers(args []string) error {
	client, _, err := clientFlags("peers", args)
	if err != nil {
		return err
	}
	peers, err := client.Peers()
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		pterm.Warning.Println("No peers found.")
		return nil
	}
	pterm.Info.Printfln("Found %d peer(s):", len(peers))
	for _, peer := range peers {
		pterm.Printfln("  %s  (seen %.1fs ago)", peer.Identity, peer.AgoSecs)
	}
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", defaultAdminAddr, "admin listen address")
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

	client := NewAdminClient(strings.TrimSpace(*addr))
	if err := client.Send(msgText); err != nil {
		return err
	}
	pterm.Success.Printfln("Sent: %s", msgText)
	return nil
}
