package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/db"
)

func TestGenerateAPIKey(t *testing.T) {
	rawKey, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(rawKey, KeyPrefix) {
		t.Errorf("expected key to start with %q, got %q", KeyPrefix, rawKey)
	}
	if len(rawKey) != len(KeyPrefix)+keyBodyLen {
		t.Errorf("expected key length %d, got %d", len(KeyPrefix)+keyBodyLen, len(rawKey))
	}
	if len(hash) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hash))
	}
	if hash != HashAPIKey(rawKey) {
		t.Error("returned hash does not match HashAPIKey(rawKey)")
	}

	other, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if other == rawKey {
		t.Error("generated identical keys")
	}
}

func TestHashAPIKey(t *testing.T) {
	// sha256("vr_test")
	const want = "e2d55c364eab220db120da23cb10b5ca6e9d720231bfa96e6c027bb17f35eece"
	if got := HashAPIKey("vr_test"); got != want {
		t.Errorf("HashAPIKey() = %q, want %q", got, want)
	}
	if HashAPIKey("vr_test2") == want {
		t.Error("different keys produced the same hash")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer vr_abc", "vr_abc", true},
		{"bearer vr_abc", "vr_abc", true},
		{"Bearer  vr_abc ", "vr_abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"vr_abc", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

type fakeKeyStore struct {
	keys map[string]db.APIKey

	mu      sync.Mutex
	touched []int64
	done    chan struct{}
}

func (f *fakeKeyStore) ValidateAPIKey(_ context.Context, hash string) (*db.APIKey, error) {
	k, ok := f.keys[hash]
	if !ok {
		return nil, db.ErrAPIKeyNotFound
	}
	return &k, nil
}

func (f *fakeKeyStore) UpdateAPIKeyLastUsed(_ context.Context, keyID int64) error {
	f.mu.Lock()
	f.touched = append(f.touched, keyID)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func TestMiddleware(t *testing.T) {
	store := &fakeKeyStore{
		keys: map[string]db.APIKey{
			HashAPIKey("vr_good"): {ID: 7, Name: "laptop", Owner: "alice"},
		},
		done: make(chan struct{}, 1),
	}

	var gotIdentity Identity
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantError  string
	}{
		{"missing header", "", http.StatusUnauthorized, "Missing Authorization header"},
		{"wrong scheme", "Token vr_good", http.StatusUnauthorized, "Invalid Authorization header format"},
		{"unknown key", "Bearer vr_bad", http.StatusUnauthorized, "Invalid API key"},
		{"valid key", "Bearer vr_good", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/transcripts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantError == "" {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}

	if gotIdentity.Owner != "alice" || gotIdentity.KeyID != 7 {
		t.Errorf("identity = %+v", gotIdentity)
	}

	select {
	case <-store.done:
	case <-time.After(2 * time.Second):
		t.Fatal("last-used timestamp was never updated")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.touched) != 1 || store.touched[0] != 7 {
		t.Errorf("touched keys = %v, want [7]", store.touched)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no identity on a bare context")
	}
	ctx := WithIdentity(context.Background(), Identity{KeyID: 1, Owner: "bob"})
	if id, ok := FromContext(ctx); !ok || id.Owner != "bob" {
		t.Errorf("FromContext() = %+v, %v", id, ok)
	}
}
