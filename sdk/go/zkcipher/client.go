// Package zkcipher is a thin Go client for the ZKCipherAI REST API. It
// carries its own wire types so consumers do not depend on server internals.
package zkcipher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the pause between job status polls in WaitForJob.
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the HTTP interactions with the ZKCipherAI REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ProofHandle is the wire form of a generated proof.
type ProofHandle struct {
	ProofHash            string         `json:"proof_hash"`
	CircuitID            string         `json:"circuit_id"`
	PublicSignals        map[string]any `json:"public_signals"`
	Blob                 []byte         `json:"blob"`
	CreatedAt            int64          `json:"created_at_ms"`
	GenerationDurationMs int64          `json:"generation_duration_ms"`
	CompressionRatio     float64        `json:"compression_ratio,omitempty"`
	TrustScoreAtCreation *float64       `json:"trust_score_at_creation,omitempty"`
}

// GenerateOptions tunes a generation call.
type GenerateOptions struct {
	DisableCompression bool   `json:"disable_compression"`
	Optimization       string `json:"optimization,omitempty"`
	Batched            bool   `json:"batched"`
}

// GenerateRequest is the payload for synchronous proof generation.
type GenerateRequest struct {
	CircuitID string          `json:"circuit_id"`
	Subject   map[string]any  `json:"subject"`
	Options   GenerateOptions `json:"options"`
}

// VerifyOptions tunes a verification call.
type VerifyOptions struct {
	Strict         bool    `json:"strict"`
	TrustThreshold float64 `json:"trust_threshold,omitempty"`
	TimeoutMs      int64   `json:"timeout_ms,omitempty"`
	CheckOnChain   bool    `json:"check_on_chain"`
}

// VerificationOutcome is the wire form of a verification verdict.
type VerificationOutcome struct {
	Verified     bool            `json:"verified"`
	TrustScore   float64         `json:"trust_score"`
	PerCriterion map[string]bool `json:"per_criterion"`
	VerifiedAt   int64           `json:"verified_at_ms"`
	Error        string          `json:"error,omitempty"`
}

// ArchivedProof is the wire form of an archive history entry.
type ArchivedProof struct {
	ProofHash        string         `json:"proof_hash"`
	CircuitID        string         `json:"circuit_id"`
	PublicSignals    map[string]any `json:"public_signals"`
	Blob             []byte         `json:"blob"`
	CompressionRatio float64        `json:"compression_ratio"`
	GenerationMs     int64          `json:"generation_ms"`
	TrustScore       *float64       `json:"trust_score,omitempty"`
	AnchorTx         string         `json:"anchor_tx,omitempty"`
	AnchorSlot       uint64         `json:"anchor_slot,omitempty"`
	CreatedAt        int64          `json:"created_at"`
}

// JobSubmission is the payload required to enqueue an asynchronous proof job.
type JobSubmission struct {
	ID        string          `json:"id,omitempty"`
	CircuitID string          `json:"circuit_id"`
	Subject   map[string]any  `json:"subject"`
	Options   GenerateOptions `json:"options"`
	Anchor    bool            `json:"anchor"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// JobResult carries the output of a finished job.
type JobResult struct {
	ProofHash        string  `json:"proof_hash"`
	TrustScore       float64 `json:"trust_score"`
	CompressionRatio float64 `json:"compression_ratio"`
	AnchorTxID       string  `json:"anchor_tx_id,omitempty"`
	AnchorSlot       uint64  `json:"anchor_slot,omitempty"`
	Observations     string  `json:"observations,omitempty"`
}

// Job is the wire form of an asynchronous proof job. Timestamps are Unix
// milliseconds.
type Job struct {
	ID        string     `json:"id"`
	CircuitID string     `json:"circuit_id"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("zkcipher api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("zkcipher api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ZKCipherAI API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// GenerateProof runs a synchronous proof generation.
func (c *Client) GenerateProof(ctx context.Context, req GenerateRequest) (ProofHandle, error) {
	var handle ProofHandle
	if err := c.post(ctx, "/api/v1/proofs", req, &handle); err != nil {
		return ProofHandle{}, err
	}
	return handle, nil
}

// VerifyProof runs a synchronous verification of a previously generated
// proof.
func (c *Client) VerifyProof(ctx context.Context, handle ProofHandle, opts VerifyOptions) (VerificationOutcome, error) {
	payload := struct {
		Proof   ProofHandle   `json:"proof"`
		Options VerifyOptions `json:"options"`
	}{Proof: handle, Options: opts}

	var outcome VerificationOutcome
	if err := c.post(ctx, "/api/v1/verify", payload, &outcome); err != nil {
		return VerificationOutcome{}, err
	}
	return outcome, nil
}

// SubmitJob enqueues an asynchronous proof job.
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/jobs", submission, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches job details by identifier.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WaitForJob polls the job until it reaches a terminal state or the context
// is cancelled. A non-positive interval falls back to DefaultPollInterval.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// History lists the most recently archived proofs.
func (c *Client) History(ctx context.Context, limit int) ([]ArchivedProof, error) {
	endpoint := "/api/v1/proofs/history"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var records []ArchivedProof
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
