package storage

import (
	"strings"
	"testing"
)

func TestMergeChunks(t *testing.T) {
	tests := []struct {
		name   string
		chunks []Chunk
		want   []string
	}{
		{
			name: "single chunk",
			chunks: []Chunk{
				{FirstLine: 1, LastLine: 3, Data: []byte("l1\nl2\nl3\n")},
			},
			want: []string{"l1", "l2", "l3"},
		},
		{
			name: "consecutive uploads",
			chunks: []Chunk{
				{FirstLine: 1, LastLine: 2, Data: []byte("l1\nl2\n")},
				{FirstLine: 3, LastLine: 4, Data: []byte("l3\nl4\n")},
			},
			want: []string{"l1", "l2", "l3", "l4"},
		},
		{
			// Upload of 1-5 succeeded in storage but the checkpoint was not
			// saved, so the client re-sent 1-10.
			name: "retried upload replaces earlier chunk",
			chunks: []Chunk{
				{FirstLine: 1, LastLine: 3, Data: []byte("old1\nold2\nold3\n")},
				{FirstLine: 1, LastLine: 4, Data: []byte("new1\nnew2\nnew3\nnew4\n")},
			},
			want: []string{"new1", "new2", "new3", "new4"},
		},
		{
			name: "partial overlap",
			chunks: []Chunk{
				{FirstLine: 1, LastLine: 4, Data: []byte("A1\nA2\nA3\nA4\n")},
				{FirstLine: 3, LastLine: 6, Data: []byte("B3\nB4\nB5\nB6\n")},
			},
			want: []string{"A1", "A2", "B3", "B4", "B5", "B6"},
		},
		{
			name: "gap is skipped",
			chunks: []Chunk{
				{FirstLine: 1, LastLine: 2, Data: []byte("a\nb\n")},
				{FirstLine: 5, LastLine: 6, Data: []byte("e\nf\n")},
			},
			want: []string{"a", "b", "e", "f"},
		},
		{
			name: "missing trailing newline",
			chunks: []Chunk{
				{FirstLine: 1, LastLine: 2, Data: []byte("x\ny")},
			},
			want: []string{"x", "y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeChunks(tt.chunks)
			if err != nil {
				t.Fatalf("MergeChunks() error = %v", err)
			}
			want := strings.Join(tt.want, "\n") + "\n"
			if string(got) != want {
				t.Errorf("MergeChunks() = %q, want %q", got, want)
			}
		})
	}
}

func TestMergeChunks_Empty(t *testing.T) {
	got, err := MergeChunks(nil)
	if err != nil || got != nil {
		t.Errorf("MergeChunks(nil) = %q, %v; want nil, nil", got, err)
	}
}

func TestMergeChunks_SafetyLimit(t *testing.T) {
	chunks := []Chunk{
		{FirstLine: MaxMergeLines + 1, LastLine: MaxMergeLines + 2, Data: []byte("a\nb\n")},
	}
	_, err := MergeChunks(chunks)
	if err == nil || !strings.Contains(err.Error(), "exceeds safety limit") {
		t.Errorf("expected safety limit error, got %v", err)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"only", 1},
		{"a\nb\nc\n", 3},
		{"a\nb\nc", 3},
	}
	for _, tt := range tests {
		if got := len(splitLines([]byte(tt.in))); got != tt.want {
			t.Errorf("splitLines(%q) returned %d lines, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseChunkKey(t *testing.T) {
	tests := []struct {
		key       string
		wantFirst int
		wantLast  int
		wantOK    bool
	}{
		{"transcripts/sess-1/main.jsonl/chunk_00000001_00000010.jsonl", 1, 10, true},
		{"transcripts/sess-1/agent-a1.jsonl/chunk_00000100_00000200.jsonl", 100, 200, true},
		{"chunk_00000001_00000005.jsonl", 1, 5, true},
		{"chunk_00000005_00000001.jsonl", 0, 0, false},
		{"chunk_00000000_00000001.jsonl", 0, 0, false},
		{"chunk_abc_def.jsonl", 0, 0, false},
		{"chunk_00000001.jsonl", 0, 0, false},
		{"invalid.jsonl", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			first, last, ok := ParseChunkKey(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ParseChunkKey(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if ok && (first != tt.wantFirst || last != tt.wantLast) {
				t.Errorf("ParseChunkKey(%q) = (%d, %d), want (%d, %d)", tt.key, first, last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestChunkKey_RoundTripsThroughParse(t *testing.T) {
	key := ChunkKey("sess-1", "main.jsonl", 7, 42)
	if key != "transcripts/sess-1/main.jsonl/chunk_00000007_00000042.jsonl" {
		t.Fatalf("ChunkKey() = %q", key)
	}
	first, last, ok := ParseChunkKey(key)
	if !ok || first != 7 || last != 42 {
		t.Errorf("ParseChunkKey(ChunkKey()) = (%d, %d, %v)", first, last, ok)
	}
}

func TestChunksOverlap(t *testing.T) {
	tests := []struct {
		name   string
		chunks []Chunk
		want   bool
	}{
		{"none", nil, false},
		{"single", []Chunk{{FirstLine: 1, LastLine: 10}}, false},
		{"disjoint", []Chunk{{FirstLine: 1, LastLine: 5}, {FirstLine: 6, LastLine: 10}}, false},
		{"shared boundary line", []Chunk{{FirstLine: 1, LastLine: 5}, {FirstLine: 5, LastLine: 10}}, true},
		{"contained", []Chunk{{FirstLine: 1, LastLine: 10}, {FirstLine: 3, LastLine: 7}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunksOverlap(tt.chunks); got != tt.want {
				t.Errorf("ChunksOverlap() = %v, want %v", got, tt.want)
			}
		})
	}
}
