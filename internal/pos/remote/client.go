package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the salesd HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client. A zero timeout defaults to 15 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	SaleID    string `json:"sale_id"`
	Duplicate bool   `json:"duplicate"`
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Submit posts the sale. Transport errors, timeouts, 408, 429 and 5xx are
// retryable; other 4xx responses are rejections carrying the server reason.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitResult{}, &SubmitError{Reason: "encode request", Err: err}
	}
	endpoint := fmt.Sprintf("%s/api/v1/stores/%s/sales", c.baseURL, url.PathEscape(req.StoreID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, &SubmitError{Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ClientSaleID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SubmitResult{}, &SubmitError{Retryable: true, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SubmitResult{}, &SubmitError{Retryable: true, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var out submitResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return SubmitResult{}, &SubmitError{Retryable: true, Status: resp.StatusCode, Reason: "decode response", Err: err}
		}
		outcome := OutcomeCreated
		if out.Duplicate || resp.StatusCode == http.StatusOK {
			outcome = OutcomeDuplicate
		}
		return SubmitResult{Outcome: outcome, RemoteSaleID: out.SaleID}, nil
	case resp.StatusCode == http.StatusConflict:
		var out submitResponse
		_ = json.Unmarshal(raw, &out)
		return SubmitResult{Outcome: OutcomeDuplicate, RemoteSaleID: out.SaleID}, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return SubmitResult{}, &SubmitError{Retryable: true, Status: resp.StatusCode, Reason: reason(raw, resp.Status)}
	default:
		return SubmitResult{}, &SubmitError{Status: resp.StatusCode, Reason: reason(raw, resp.Status)}
	}
}

// List fetches the store's sales sold within [from, to].
func (c *Client) List(ctx context.Context, storeID string, from, to time.Time) ([]RemoteSale, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/api/v1/stores/%s/sales", c.baseURL, url.PathEscape(storeID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("remote: list sales: status %d: %s", resp.StatusCode, reason(raw, resp.Status))
	}
	var out struct {
		Sales []RemoteSale `json:"sales"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote: decode sales: %w", err)
	}
	return out.Sales, nil
}

// Ping checks the backend health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote: health returned status %d", resp.StatusCode)
	}
	return nil
}

func reason(raw []byte, fallback string) string {
	var p problem
	if err := json.Unmarshal(raw, &p); err == nil {
		if p.Detail != "" {
			return p.Detail
		}
		if p.Title != "" {
			return p.Title
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 512 {
		return s
	}
	return fallback
}
