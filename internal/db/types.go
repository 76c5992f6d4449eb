package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// TranscriptFile is one uploaded transcript file and its processing
// checkpoint.
type TranscriptFile struct {
	ID                string     `json:"id"`
	ExternalID        string     `json:"external_id"`
	FileName          string     `json:"file_name"`
	Owner             string     `json:"owner"`
	ExistingLineCount int        `json:"existing_line_count"`
	ChunkCount        int        `json:"chunk_count"`
	FirstMessageAt    *time.Time `json:"first_message_at,omitempty"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// StoredRecord is the persisted, queryable projection of a classified
// transcript record. Payloads stay in object storage.
type StoredRecord struct {
	SequenceNumber  int        `json:"sequence_number"`
	Role            string     `json:"role"`
	Category        string     `json:"category"`
	IsSidechain     bool       `json:"is_sidechain"`
	SubagentLabel   *string    `json:"subagent_label,omitempty"`
	TimestampRaw    *string    `json:"timestamp_raw,omitempty"`
	MessageAt       *time.Time `json:"message_at,omitempty"`
	ToolNames       []string   `json:"tool_names"`
	InputTokens     *int64     `json:"input_tokens,omitempty"`
	OutputTokens    *int64     `json:"output_tokens,omitempty"`
	CacheReadTokens *int64     `json:"cache_read_tokens,omitempty"`
}

// IngestParams carries the outcome of one upload to SaveIngest.
type IngestParams struct {
	FileID string
	// Records are the new records only, in sequence order.
	Records []StoredRecord
	// LineCount is the checkpoint after this upload.
	LineCount int
	// ChunkUploaded is true when a raw chunk was written for this upload.
	ChunkUploaded bool
}

// RecordFilter narrows ListRecords. Empty slices and nil pointers match
// everything.
type RecordFilter struct {
	Categories     []string
	SubagentLabels []string
	Sidechain      *bool
	// AfterSequence is the keyset cursor: only records with a larger
	// sequence number are returned.
	AfterSequence int
	Limit         int
}

const (
	DefaultRecordLimit = 200
	MaxRecordLimit     = 1000
)

// TranscriptStats are the precomputed aggregates the worker maintains.
type TranscriptStats struct {
	FileID           string          `json:"file_id"`
	ComputedLines    int             `json:"computed_lines"`
	CategoryCounts   map[string]int  `json:"category_counts"`
	SubagentCounts   map[string]int  `json:"subagent_counts"`
	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd"`
	ComputedAt       time.Time       `json:"computed_at"`
}

// APIKey is an API key row without its hash.
type APIKey struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Owner      string     `json:"owner"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
