package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ijg0341/vibe-review-sub000/internal/auth"
	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/ingest"
	"github.com/ijg0341/vibe-review-sub000/internal/storage"
)

const (
	aliceKey = "vr_alice_test_key"
	bobKey   = "vr_bob_test_key"
)

// memStore is an in-memory Store and ingest.FileStore.
type memStore struct {
	mu      sync.Mutex
	keys    map[string]db.APIKey
	files   map[string]*db.TranscriptFile
	records map[string][]db.StoredRecord
	stats   map[string]*db.TranscriptStats
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		keys: map[string]db.APIKey{
			auth.HashAPIKey(aliceKey): {ID: 1, Name: "laptop", Owner: "alice"},
			auth.HashAPIKey(bobKey):   {ID: 2, Name: "desktop", Owner: "bob"},
		},
		files:   make(map[string]*db.TranscriptFile),
		records: make(map[string][]db.StoredRecord),
		stats:   make(map[string]*db.TranscriptStats),
	}
}

func (m *memStore) ValidateAPIKey(_ context.Context, hash string) (*db.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[hash]
	if !ok {
		return nil, db.ErrAPIKeyNotFound
	}
	return &k, nil
}

func (m *memStore) UpdateAPIKeyLastUsed(context.Context, int64) error { return nil }

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) FindOrCreateFile(_ context.Context, externalID, fileName, owner string) (*db.TranscriptFile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.ExternalID == externalID && f.FileName == fileName {
			if f.Owner != owner {
				return nil, false, db.ErrForbidden
			}
			cp := *f
			return &cp, false, nil
		}
	}
	f := &db.TranscriptFile{ID: fmt.Sprintf("file-%d", len(m.files)+1), ExternalID: externalID, FileName: fileName, Owner: owner}
	m.files[f.ID] = f
	cp := *f
	return &cp, true, nil
}

func (m *memStore) SaveIngest(_ context.Context, p db.IngestParams) (*db.TranscriptFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p.FileID]
	if !ok {
		return nil, db.ErrFileNotFound
	}
	m.records[f.ID] = append(m.records[f.ID], p.Records...)
	f.ExistingLineCount = max(f.ExistingLineCount, p.LineCount)
	if p.ChunkUploaded {
		f.ChunkCount++
	}
	cp := *f
	return &cp, nil
}

func (m *memStore) ListFiles(_ context.Context, owner string, _ int) ([]db.TranscriptFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.TranscriptFile
	for _, f := range m.files {
		if f.Owner == owner {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetFileForOwner(_ context.Context, fileID, owner string) (*db.TranscriptFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, db.ErrFileNotFound
	}
	if f.Owner != owner {
		return nil, db.ErrForbidden
	}
	cp := *f
	return &cp, nil
}

func (m *memStore) ListRecords(_ context.Context, fileID string, f db.RecordFilter) ([]db.StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := f.Limit
	if limit <= 0 {
		limit = db.DefaultRecordLimit
	}
	var out []db.StoredRecord
	for _, r := range m.records[fileID] {
		if r.SequenceNumber <= f.AfterSequence {
			continue
		}
		if len(f.Categories) > 0 && !contains(f.Categories, r.Category) {
			continue
		}
		if len(f.SubagentLabels) > 0 && (r.SubagentLabel == nil || !contains(f.SubagentLabels, *r.SubagentLabel)) {
			continue
		}
		if f.Sidechain != nil && r.IsSidechain != *f.Sidechain {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memStore) CategoryCounts(_ context.Context, fileID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range m.records[fileID] {
		counts[r.Category]++
	}
	return counts, nil
}

func (m *memStore) SubagentCounts(_ context.Context, fileID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range m.records[fileID] {
		if r.IsSidechain && r.SubagentLabel != nil {
			counts[*r.SubagentLabel]++
		}
	}
	return counts, nil
}

func (m *memStore) GetStats(_ context.Context, fileID string) (*db.TranscriptStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[fileID]
	if !ok {
		return nil, db.ErrStatsNotFound
	}
	return s, nil
}

func (m *memStore) DeleteFile(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return db.ErrFileNotFound
	}
	delete(m.files, fileID)
	delete(m.records, fileID)
	delete(m.stats, fileID)
	return nil
}

// memChunks is an in-memory chunk store using the storage key layout and
// merge rules.
type memChunks struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
}

func newMemChunks() *memChunks {
	return &memChunks{objects: make(map[string][]byte)}
}

func filePrefix(externalID, fileName string) string {
	key := storage.ChunkKey(externalID, fileName, 1, 1)
	return key[:strings.LastIndex(key, "/")+1]
}

func (c *memChunks) UploadChunk(_ context.Context, externalID, fileName string, first, last int, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := storage.ChunkKey(externalID, fileName, first, last)
	c.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (c *memChunks) DownloadAndMergeChunks(_ context.Context, externalID, fileName string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := filePrefix(externalID, fileName)
	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var chunks []storage.Chunk
	for _, k := range keys {
		first, last, ok := storage.ParseChunkKey(k)
		if !ok {
			continue
		}
		chunks = append(chunks, storage.Chunk{Key: k, FirstLine: first, LastLine: last, Data: c.objects[k]})
	}
	return storage.MergeChunks(chunks)
}

func (c *memChunks) DeleteFileChunks(_ context.Context, externalID, fileName string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return 0, c.deleteErr
	}
	prefix := filePrefix(externalID, fileName)
	n := 0
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			delete(c.objects, k)
			n++
		}
	}
	return n, nil
}

func (c *memChunks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

type testEnv struct {
	store   *memStore
	chunks  *memChunks
	handler http.Handler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store, chunks := newMemStore(), newMemChunks()
	svc, err := ingest.NewService(store, chunks)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testEnv{
		store:   store,
		chunks:  chunks,
		handler: NewServer(store, chunks, svc, cfg).SetupRoutes(),
	}
}

func (e *testEnv) do(t *testing.T, method, target, key string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := newRequest(method, target, body)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return serve(e.handler, req)
}

// session is a main chain that hands work to a code-reviewer subagent.
func session() []string {
	return []string{
		`{"type":"user","isSidechain":false,"uuid":"u1","timestamp":"2025-01-01T10:00:00Z","message":{"role":"user","content":"review my change"}}`,
		`{"type":"assistant","isSidechain":false,"uuid":"a1","timestamp":"2025-01-01T10:00:02Z","message":{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":1000,"output_tokens":500},"content":[{"type":"tool_use","id":"toolu_task","name":"Task","input":{"subagent_type":"code-reviewer","prompt":"review"}}]}}`,
		`{"type":"user","isSidechain":true,"uuid":"s1","timestamp":"2025-01-01T10:00:03Z","message":{"role":"user","content":"review"}}`,
		`{"type":"assistant","isSidechain":true,"uuid":"s2","timestamp":"2025-01-01T10:00:05Z","message":{"content":[{"type":"tool_use","id":"toolu_read","name":"Read","input":{"file_path":"main.go"}}]}}`,
		`{"type":"user","isSidechain":true,"uuid":"s3","timestamp":"2025-01-01T10:00:06Z","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_read","content":"package main"}]}}`,
		`{"type":"assistant","isSidechain":true,"uuid":"s4","timestamp":"2025-01-01T10:00:09Z","message":{"content":[{"type":"text","text":"Looks good"}]}}`,
		`{"type":"user","isSidechain":false,"uuid":"u2","timestamp":"2025-01-01T10:00:10Z","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_task","content":[{"type":"text","text":"Looks good"}]}]}}`,
		`{"type":"assistant","isSidechain":false,"uuid":"a2","timestamp":"2025-01-01T10:02:15Z","message":{"content":[{"type":"text","text":"The reviewer approved it."}]}}`,
	}
}

func newRequest(method, target, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, target, nil)
	}
	return httptest.NewRequest(method, target, strings.NewReader(body))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
