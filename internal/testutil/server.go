package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/api"
	"github.com/ijg0341/vibe-review-sub000/internal/ingest"
)

// TestServer is the full API stack of an environment served over a local
// socket.
type TestServer struct {
	URL    string
	Env    *TestEnvironment
	Ingest *ingest.Service
}

// StartTestServer serves the API backed by env's database and bucket until
// the test ends. cfg tweaks the HTTP settings, e.g. to install limiters.
func StartTestServer(t *testing.T, env *TestEnvironment, cfg api.Config) *TestServer {
	t.Helper()

	svc, err := ingest.NewService(env.DB, env.Storage)
	if err != nil {
		t.Fatalf("failed to create ingest service: %v", err)
	}
	handler := api.NewServer(env.DB, env.Storage, svc, cfg).SetupRoutes()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("test server stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	ts := &TestServer{URL: "http://" + ln.Addr().String(), Env: env, Ingest: svc}
	if !ts.healthy(5 * time.Second) {
		t.Fatal("test server never became healthy")
	}
	return ts
}

func (ts *TestServer) healthy(within time.Duration) bool {
	hc := &http.Client{Timeout: 200 * time.Millisecond}
	for deadline := time.Now().Add(within); time.Now().Before(deadline); time.Sleep(20 * time.Millisecond) {
		resp, err := hc.Get(ts.URL + "/health")
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
	}
	return false
}
