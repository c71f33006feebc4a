package chain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/luna-net/luna-node/internal/util"
)

// Client handles communication with a Luna chain endpoint
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client

	// Health tracking
	mu           sync.RWMutex
	healthy      bool
	lastCheck    time.Time
	successCount int
	failCount    int
}

// NewClient creates a new chain client bound to one endpoint URL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		healthy: true,
	}
}

// BaseURL returns the endpoint this client is bound to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsHealthy returns whether the endpoint is considered reachable
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successCount++
	c.failCount = 0
	c.healthy = true
	c.lastCheck = time.Now()
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCount++
	if c.failCount >= 3 {
		c.healthy = false
		util.Warnf("Chain endpoint marked unhealthy after %d failures", c.failCount)
	}
	c.lastCheck = time.Now()
}

// get performs a GET request and decodes the JSON response into out
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordFailure()
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.recordFailure()
		return err
	}

	c.recordSuccess()
	return nil
}

// post performs a POST with the given content type and returns the raw body
func (c *Client) post(ctx context.Context, path, contentType string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	// Plain JSON, never compressed. Some endpoint deployments mangle
	// compressed block submissions.
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Transfer-Encoding", "identity")

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return resp.StatusCode, nil, err
	}

	c.recordSuccess()
	return resp.StatusCode, body, nil
}

// GetBlockchainHeight returns the current chain height
func (c *Client) GetBlockchainHeight(ctx context.Context) (int64, error) {
	var out struct {
		Height int64 `json:"height"`
	}
	if err := c.get(ctx, "/chain/height", &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

// GetLatestBlock returns the chain tip
func (c *Client) GetLatestBlock(ctx context.Context) (*Block, error) {
	var out Block
	if err := c.get(ctx, "/chain/latest", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBlocksRange returns blocks with index in [start, end]
func (c *Client) GetBlocksRange(ctx context.Context, start, end int64) ([]Block, error) {
	q := url.Values{}
	q.Set("start", strconv.FormatInt(start, 10))
	q.Set("end", strconv.FormatInt(end, 10))

	var out []Block
	if err := c.get(ctx, "/chain/blocks?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPendingTransactions returns the mempool contents
func (c *Client) GetPendingTransactions(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	if err := c.get(ctx, "/mempool", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateBlock asks the endpoint to structurally validate a block.
// A nil result with nil error means the endpoint has no validator route.
func (c *Client) ValidateBlock(ctx context.Context, block *Block) (*ValidationResult, error) {
	payload, err := json.Marshal(block)
	if err != nil {
		return nil, err
	}

	status, body, err := c.post(ctx, "/blocks/validate", "application/json", payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		// Older endpoints do not expose a validator
		return nil, nil
	}

	var result ValidationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("invalid validator response: %w", err)
	}
	return &result, nil
}

// SubmitBlock submits a mined block as plain JSON. If the endpoint rejects
// the content type it retries once as text/plain, which some deployments
// require for POST bodies.
func (c *Client) SubmitBlock(ctx context.Context, block *Block) (*SubmitResult, error) {
	payload, err := json.Marshal(block)
	if err != nil {
		return nil, err
	}

	status, body, err := c.post(ctx, "/blocks/submit", "application/json", payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnsupportedMediaType {
		util.Debugf("Endpoint rejected application/json, retrying submission as text/plain")
		status, body, err = c.post(ctx, "/blocks/submit", "text/plain", payload)
		if err != nil {
			return nil, err
		}
	}

	var result SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		// Non-JSON body: fold the raw text into the message
		result = SubmitResult{Success: status >= 200 && status <= 299, Message: truncate(string(body), 200)}
	}

	if status < 200 || status > 299 {
		result.Success = false
		if result.Message == "" {
			result.Message = fmt.Sprintf("endpoint returned %d", status)
		}
	}

	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
