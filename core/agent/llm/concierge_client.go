// Package llm provides the optional second-stage item classifier.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
)

const DefaultModel = "claude-3-5-haiku-latest"

const systemPrompt = `You classify one household email as either an obligation (something a parent must act on or attend, possibly on a specific date) or an announcement (informational only).

Respond with ONLY a JSON object, no prose, in exactly this shape:
{"itemType": "obligation" | "announcement", "obligationDate": "YYYY-MM-DD" | null, "confidence": 0.0-1.0, "reasoning": "one short sentence"}

obligationDate is the date the obligation falls on, null when none is stated. Never invent a date.`

// Client calls the Anthropic API for item classification. One request per
// item; the caller owns the timeout and there are no retries here.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// ClientConfig holds client options.
type ClientConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// NewClient creates a classification client.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

// NewClientWithConfig creates a client with explicit options.
func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

// classifyResponse is the wire shape the model must return.
type classifyResponse struct {
	ItemType       string  `json:"itemType"`
	ObligationDate *string `json:"obligationDate"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// ClassifyItem sends one classification request and parses the strict JSON
// reply. Any deviation from the contract is returned as an error so the
// caller can degrade to unknown.
func (c *Client) ClassifyItem(ctx context.Context, req out.ItemClassifyRequest) (*out.ItemClassifyResult, error) {
	prompt := buildPrompt(req)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	return parseResponse(text.String())
}

func buildPrompt(req out.ItemClassifyRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "From: %s\n", req.From)
	fmt.Fprintf(&b, "Pack: %s\n", req.PackName)
	if len(req.MemberNames) > 0 {
		fmt.Fprintf(&b, "Family members: %s\n", strings.Join(req.MemberNames, ", "))
	}
	fmt.Fprintf(&b, "Snippet: %s\n", req.Snippet)
	return b.String()
}

func parseResponse(raw string) (*out.ItemClassifyResult, error) {
	// Tolerate a fenced reply but nothing looser than that.
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("response contains no JSON object")
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	if resp.ItemType != "obligation" && resp.ItemType != "announcement" {
		return nil, fmt.Errorf("unexpected item type %q", resp.ItemType)
	}

	result := &out.ItemClassifyResult{
		ItemType:   resp.ItemType,
		Confidence: resp.Confidence,
		Reasoning:  resp.Reasoning,
	}

	if resp.ObligationDate != nil && *resp.ObligationDate != "" && *resp.ObligationDate != "null" {
		d, err := time.Parse("2006-01-02", *resp.ObligationDate)
		if err != nil {
			return nil, fmt.Errorf("bad obligation date %q: %w", *resp.ObligationDate, err)
		}
		result.ObligationDate = &d
	}

	return result, nil
}
