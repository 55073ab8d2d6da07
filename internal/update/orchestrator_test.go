package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/sentinel-agent/internal/ignoredversions"
	"github.com/arkeep-io/sentinel-agent/internal/protocol"
)

type fakeEmitter struct {
	mu       sync.Mutex
	payloads []protocol.UpdateStatusPayload
}

func (f *fakeEmitter) EmitUpdateStatus(p protocol.UpdateStatusPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
}

func (f *fakeEmitter) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.payloads))
	for i, p := range f.payloads {
		out[i] = p.Status
	}
	return out
}

func (f *fakeEmitter) last() protocol.UpdateStatusPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return protocol.UpdateStatusPayload{}
	}
	return f.payloads[len(f.payloads)-1]
}

func newTestOrchestrator(t *testing.T, emitter *fakeEmitter, onHandoff func()) (*Orchestrator, *ignoredversions.Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	ignored := ignoredversions.New(dataDir)
	cfg := Config{
		DataDir:        dataDir,
		InstallDir:     t.TempDir(),
		UpdaterBinary:  "true", // resolved via PATH; spawnUpdater never waits on it
		CurrentVersion: "1.0.0",
		HTTPClient:     http.DefaultClient,
	}
	return New(cfg, ignored, emitter, onHandoff, zap.NewNop()), ignored, dataDir
}

func TestOrchestratorSkipsCurrentVersion(t *testing.T) {
	emitter := &fakeEmitter{}
	o, _, _ := newTestOrchestrator(t, emitter, nil)

	o.HandleNotification(context.Background(), protocol.UpdateNotification{Version: "1.0.0"})

	last := emitter.last()
	if last.Status != string(StatusSkipped) {
		t.Fatalf("status = %q, want skipped", last.Status)
	}
}

func TestOrchestratorSkipsIgnoredVersion(t *testing.T) {
	emitter := &fakeEmitter{}
	o, ignored, _ := newTestOrchestrator(t, emitter, nil)
	if err := ignored.Add("2.0.0"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	o.HandleNotification(context.Background(), protocol.UpdateNotification{Version: "2.0.0"})

	last := emitter.last()
	if last.Status != string(StatusSkipped) {
		t.Fatalf("status = %q, want skipped", last.Status)
	}
}

func TestOrchestratorChecksumMismatchAddsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("package bytes"))
	}))
	defer srv.Close()

	emitter := &fakeEmitter{}
	o, ignored, _ := newTestOrchestrator(t, emitter, nil)

	n := protocol.UpdateNotification{
		Version:        "2.0.0",
		DownloadURL:    srv.URL,
		ChecksumSHA256: "0000000000000000000000000000000000000000000000000000000000000000",
	}
	o.HandleNotification(context.Background(), n)

	last := emitter.last()
	if last.Status != string(StatusFailed) || last.ErrorType != string(ErrChecksumMismatch) {
		t.Fatalf("got %+v, want failed/ChecksumMismatch", last)
	}

	ok, err := ignored.Contains("2.0.0")
	if err != nil || !ok {
		t.Fatalf("Contains(2.0.0) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestOrchestratorDownloadFailureDoesNotAddIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	emitter := &fakeEmitter{}
	o, ignored, _ := newTestOrchestrator(t, emitter, nil)

	n := protocol.UpdateNotification{Version: "2.0.0", DownloadURL: srv.URL}
	o.HandleNotification(context.Background(), n)

	last := emitter.last()
	if last.ErrorType != string(ErrDownloadFailed) {
		t.Fatalf("error_type = %q, want DownloadFailed", last.ErrorType)
	}

	ok, err := ignored.Contains("2.0.0")
	if err != nil || ok {
		t.Fatalf("Contains(2.0.0) = (%v, %v), want (false, nil); DownloadFailed must not be ignored", ok, err)
	}
}

type fakeResolver struct {
	resolved string
	calls    int
}

func (f *fakeResolver) ResolvePackageURL(ctx context.Context, downloadURL string) (string, error) {
	f.calls++
	return f.resolved, nil
}

func TestOrchestratorResolvesPackageURLBeforeDownload(t *testing.T) {
	dir := t.TempDir()
	pkgPath := filepath.Join(dir, "pkg.zip")
	writeTestZip(t, pkgPath, map[string]string{"agent": "new binary contents"})

	pkgBytes, err := os.ReadFile(pkgPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sum := sha256.Sum256(pkgBytes)
	checksum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pkgBytes)
	}))
	defer srv.Close()

	emitter := &fakeEmitter{}
	handoffCalled := make(chan struct{}, 1)
	o, _, _ := newTestOrchestrator(t, emitter, func() { handoffCalled <- struct{}{} })
	resolver := &fakeResolver{resolved: srv.URL}
	o.cfg.Resolver = resolver

	// The notification carries an opaque URL only the resolver can turn
	// into something fetchable.
	n := protocol.UpdateNotification{Version: "2.0.0", DownloadURL: "opaque://pkg/2.0.0", ChecksumSHA256: checksum}
	o.HandleNotification(context.Background(), n)

	select {
	case <-handoffCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("onHandoff was never invoked")
	}
	if resolver.calls != 1 {
		t.Errorf("ResolvePackageURL called %d times, want 1", resolver.calls)
	}
}

func TestOrchestratorHappyPathHandsOff(t *testing.T) {
	dir := t.TempDir()
	pkgPath := filepath.Join(dir, "pkg.zip")
	writeTestZip(t, pkgPath, map[string]string{"agent": "new binary contents"})

	pkgBytes, err := os.ReadFile(pkgPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sum := sha256.Sum256(pkgBytes)
	checksum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pkgBytes)
	}))
	defer srv.Close()

	emitter := &fakeEmitter{}
	handoffCalled := make(chan struct{}, 1)
	o, _, dataDir := newTestOrchestrator(t, emitter, func() { handoffCalled <- struct{}{} })

	n := protocol.UpdateNotification{Version: "2.0.0", DownloadURL: srv.URL, ChecksumSHA256: checksum}
	o.HandleNotification(context.Background(), n)

	select {
	case <-handoffCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("onHandoff was never invoked")
	}

	statuses := emitter.statuses()
	want := []string{"downloading", "verifying", "extracting", "starting", "handing_off"}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %q, want %q", i, statuses[i], want[i])
		}
	}

	extracted := filepath.Join(dataDir, "updates", "extracted", "2.0.0", "agent")
	if _, err := os.Stat(extracted); err != nil {
		t.Errorf("expected extracted entrypoint at %s: %v", extracted, err)
	}
}
