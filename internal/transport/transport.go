// Package transport delivers queued mutations to the remote CRM/booking API
// and classifies failures into transient and permanent. Requests carry an
// HMAC signature over body||timestamp plus a short-lived bearer token.
package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calebrowe/shop_sync/internal/auth"
	"github.com/calebrowe/shop_sync/internal/queue"
	"github.com/calebrowe/shop_sync/internal/records"
	"github.com/calebrowe/shop_sync/internal/tracing"
)

const (
	SigHeader = "X-ShopSync-Signature" // sha256=<hex>
	TSHeader  = "X-ShopSync-Timestamp" // unix seconds
)

// Submitter abstracts delivery of one mutation to the remote authority.
type Submitter interface {
	Submit(ctx context.Context, target queue.Target, payload []byte) error
}

// Client talks HTTP to the remote API. It implements Submitter and the
// records.Fetcher used by reconciliation.
type Client struct {
	baseURL       string
	signingSecret string
	minter        *auth.Minter
	httpClient    *http.Client
}

// NewClient creates a transport client. timeout bounds every submission; a
// timed-out request is a transient failure, never a permanent one.
func NewClient(baseURL, signingSecret string, minter *auth.Minter, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		signingSecret: signingSecret,
		minter:        minter,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Submit sends target/payload to the remote API.
//
// nil: delivered (2xx). *TransientError: network error, timeout, 429 or 5xx.
// *PermanentError: any other 4xx.
func (c *Client) Submit(ctx context.Context, target queue.Target, payload []byte) error {
	req, err := c.newRequest(ctx, target.Method, target.Path, payload)
	if err != nil {
		// Request construction failures cannot heal on retry.
		return &PermanentError{Err: err}
	}

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return &TransientError{Err: doErr}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("remote answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{StatusCode: resp.StatusCode, Err: cause}
	}
	return &PermanentError{StatusCode: resp.StatusCode, Err: cause}
}

// FetchAll implements records.Fetcher: best-effort read of the authoritative
// record list for a collection.
func (c *Client) FetchAll(ctx context.Context, collection string) ([]records.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/records/"+collection, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: remote answered %d", collection, resp.StatusCode)
	}

	var out []records.Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fetch %s: decode: %w", collection, err)
	}
	return out, nil
}

// newRequest builds a signed, authenticated request.
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Sign: HMAC over body||timestamp
	if c.signingSecret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		mac := hmac.New(sha256.New, []byte(c.signingSecret))
		mac.Write(body)
		mac.Write([]byte(ts))
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set(TSHeader, ts)
		req.Header.Set(SigHeader, "sha256="+sig)
	}

	if c.minter != nil {
		token, err := c.minter.Mint()
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	// Add trace ID to HTTP headers for correlation
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	return req, nil
}
