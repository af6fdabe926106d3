package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newStubAdmin(t *testing.T) (*AdminClient, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewAdminClient(strings.TrimPrefix(srv.URL, "http://")), mux
}

func TestAdminClientStatus(t *testing.T) {
	client, mux := newStubAdmin(t)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"identity":     "node-a",
			"state":        "running",
			"active_peers": 2,
			"uptime":       "5s",
		})
	})

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Identity != "node-a" || status.State != "running" || status.ActivePeers != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAdminClientPeers(t *testing.T) {
	client, mux := newStubAdmin(t)
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"peers": []map[string]any{
				{"identity": "peer-1", "last_seen": 100.0, "ago_secs": 1.5},
			},
		})
	})

	peers, err := client.Peers()
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	if len(peers) != 1 || peers[0].Identity != "peer-1" {
		t.Fatalf("unexpected peers: %+v", peers)
	}
}

func TestAdminClientSendAccepted(t *testing.T) {
	client, mux := newStubAdmin(t)
	var got string
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		got = req.Text
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
	})

	if err := client.Send("hello mesh"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != "hello mesh" {
		t.Fatalf("unexpected payload: %q", got)
	}
}

func TestAdminClientSendRejected(t *testing.T) {
	client, mux := newStubAdmin(t)
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "messenger: not started"})
	})

	err := client.Send("hello")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Error(), "not started") {
		t.Fatalf("error should carry the daemon reason: %v", err)
	}
}

func TestAdminClientErrorSurfacesStatus(t *testing.T) {
	client, mux := newStubAdmin(t)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := client.Status(); err == nil {
		t.Fatal("expected error from 500 response")
	}
}
