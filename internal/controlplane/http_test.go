package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIdentify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/agents/identify" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req IdentifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.HardwareFingerprint != "fp-123" {
			t.Errorf("fingerprint = %q, want fp-123", req.HardwareFingerprint)
		}
		json.NewEncoder(w).Encode(IdentifyResponse{AgentID: "agent-1", Token: "tok-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Identify(context.Background(), IdentifyRequest{HardwareFingerprint: "fp-123"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if resp.AgentID != "agent-1" || resp.Token != "tok-1" {
		t.Errorf("resp = %+v, want agent-1/tok-1", resp)
	}
}

func TestClientIdentifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid fingerprint"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Identify(context.Background(), IdentifyRequest{}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestClientRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/agents/agent-1/refresh-token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-2"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	token, err := c.RefreshToken(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if token != "tok-2" {
		t.Errorf("token = %q, want tok-2", token)
	}
}

func TestClientResolvePackageURLReturnsInputUnchanged(t *testing.T) {
	c := NewClient("https://control-plane.example")
	got, err := c.ResolvePackageURL(context.Background(), "https://cdn.example/pkg.zip")
	if err != nil {
		t.Fatalf("ResolvePackageURL: %v", err)
	}
	if got != "https://cdn.example/pkg.zip" {
		t.Errorf("got %q, want the url unchanged", got)
	}
}
