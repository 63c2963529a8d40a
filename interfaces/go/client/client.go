package client

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/url"
    "strconv"
    "time"
)

type Client struct {
    BaseURL string
    HTTP    *http.Client
    // Caller is sent as X-Caller so domain holds are attributed to this client.
    Caller string
}

func New(baseURL string) *Client { return &Client{BaseURL: baseURL, HTTP: http.DefaultClient} }

type DomainStatus struct {
    Domain      string     `json:"domain"`
    Risk        string     `json:"risk"`
    State       string     `json:"state"`
    Enabled     bool       `json:"enabled"`
    LastUsed    *time.Time `json:"lastUsed"`
    EnableCount int        `json:"enableCount"`
    LastError   *string    `json:"lastError"`
    EnabledBy   []string   `json:"enabledBy"`
}

type Status struct {
    MaxRiskLevel string         `json:"maxRiskLevel"`
    Domains      []DomainStatus `json:"domains"`
}

type Event struct {
    Domain    string          `json:"domain"`
    Method    string          `json:"method"`
    Params    json.RawMessage `json:"params,omitempty"`
    Timestamp time.Time       `json:"timestamp"`
}

type CommandError struct {
    Code    int64           `json:"code"`
    Message string          `json:"message"`
    Data    json.RawMessage `json:"data,omitempty"`
}

func (e *CommandError) Error() string { return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message) }

// APIError is a non-2xx response from the bridge.
type APIError struct {
    Status  int
    Code    string `json:"code"`
    Message string `json:"message"`
}

func (e *APIError) Error() string { return fmt.Sprintf("bridge %d %s: %s", e.Status, e.Code, e.Message) }

type CommandRequest struct {
    Method    string   `json:"method"`
    Params    any      `json:"params,omitempty"`
    TimeoutMs int      `json:"timeoutMs,omitempty"`
    Domains   []string `json:"domains,omitempty"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
    var out Status
    err := c.do(ctx, http.MethodGet, "/api/domains", nil, &out)
    return out, err
}

// RecentEvents reads buffered events; an empty domain reads across all domains.
func (c *Client) RecentEvents(ctx context.Context, domain string, limit int) ([]Event, error) {
    q := url.Values{}
    if domain != "" { q.Set("domain", domain) }
    if limit > 0 { q.Set("limit", strconv.Itoa(limit)) }
    var out struct{ Items []Event `json:"items"` }
    if err := c.do(ctx, http.MethodGet, "/api/events?"+q.Encode(), nil, &out); err != nil {
        return nil, err
    }
    return out.Items, nil
}

// Command runs one protocol command. A browser-side failure is returned as *CommandError.
func (c *Client) Command(ctx context.Context, req CommandRequest) (json.RawMessage, error) {
    var out struct {
        Result json.RawMessage `json:"result"`
        Error  *CommandError   `json:"error"`
    }
    if err := c.do(ctx, http.MethodPost, "/api/command", req, &out); err != nil {
        return nil, err
    }
    if out.Error != nil { return nil, out.Error }
    return out.Result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
    var rd *bytes.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return err }
        rd = bytes.NewReader(b)
    }
    var req *http.Request
    var err error
    if rd != nil {
        req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
    } else {
        req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
    }
    if err != nil { return err }
    if body != nil { req.Header.Set("Content-Type", "application/json") }
    if c.Caller != "" { req.Header.Set("X-Caller", c.Caller) }
    resp, err := c.HTTP.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        var eb struct{ Error APIError `json:"error"` }
        _ = json.NewDecoder(resp.Body).Decode(&eb)
        eb.Error.Status = resp.StatusCode
        return &eb.Error
    }
    return json.NewDecoder(resp.Body).Decode(out)
}
