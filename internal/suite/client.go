package suite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client calls the workspace-suite HTTP API with a cached tenant token.
type Client struct {
	BaseURL    string
	AppID      string
	AppSecret  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a client with sane defaults.
func New(baseURL, appID, appSecret string) *Client {
	return &Client{
		BaseURL:   baseURL,
		AppID:     appID,
		AppSecret: appSecret,
		Timeout:   15 * time.Second,
	}
}

// APIError wraps non-2xx responses and non-zero API result codes.
type APIError struct {
	StatusCode int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("suite api error: status=%d code=%d msg=%s", e.StatusCode, e.Code, e.Msg)
}

// tokenSafetyMargin is subtracted from the reported validity window so a
// token is never used right at its expiry edge.
const tokenSafetyMargin = 60 * time.Second

const (
	maxRetries = 3
	retryBase  = 500 * time.Millisecond
)

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

// Token returns a tenant access token, fetching a fresh one only when the
// cached token has expired. Acquisition failure is fatal for the calling
// request flow.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	body, err := json.Marshal(map[string]string{
		"app_id":     c.AppID,
		"app_secret": c.AppSecret,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base()+"/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch tenant token: %w", err)
	}
	defer res.Body.Close()
	var out struct {
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode tenant token: %w", err)
	}
	if res.StatusCode >= 300 || out.Code != 0 || out.Token == "" {
		return "", &APIError{StatusCode: res.StatusCode, Code: out.Code, Msg: out.Msg}
	}
	c.token = out.Token
	c.tokenExpiry = c.now().Add(time.Duration(out.Expire)*time.Second - tokenSafetyMargin)
	return c.token, nil
}

// do issues one authenticated call and decodes the data envelope into out.
// Rate-limited responses are retried a bounded number of times; every other
// failure propagates immediately.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		if res.StatusCode == http.StatusTooManyRequests && attempt < maxRetries {
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBase << attempt):
			}
			continue
		}
		return decodeEnvelope(res, out)
	}
}

// decodeEnvelope parses the {code,msg,data} wrapper every suite endpoint uses.
func decodeEnvelope(res *http.Response, out any) error {
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return err
	}
	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &APIError{StatusCode: res.StatusCode, Msg: strings.TrimSpace(string(raw))}
	}
	if res.StatusCode >= 300 || envelope.Code != 0 {
		return &APIError{StatusCode: res.StatusCode, Code: envelope.Code, Msg: envelope.Msg}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
