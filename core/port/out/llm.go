package out

import (
	"context"
	"time"
)

// =============================================================================
// Item Classifier Port (LLM)
// =============================================================================

// ItemClassifyRequest is the structured prompt input for the LLM pass.
type ItemClassifyRequest struct {
	Subject     string
	From        string
	Snippet     string
	PackName    string
	MemberNames []string
}

// ItemClassifyResult is the strict JSON output the LLM must produce.
// ItemType is "obligation" or "announcement"; ObligationDate is nil or a
// date-only value; Confidence is clamped to [0,1] by the adapter.
type ItemClassifyResult struct {
	ItemType       string
	ObligationDate *time.Time
	Confidence     float64
	Reasoning      string
}

// ItemClassifier is the optional LLM classifier behind Stage B. One call per
// item, no retries; the caller owns the timeout. Any malformed response is
// returned as an error and the caller degrades to unknown.
type ItemClassifier interface {
	ClassifyItem(ctx context.Context, req ItemClassifyRequest) (*ItemClassifyResult, error)
}
