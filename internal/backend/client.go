// Package backend talks to the node API that serves snapshots, detail
// records and subscriptions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PetoAdam/lorawatch/internal/model"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

type Client struct {
	baseURL    string
	latestPath string
	tokens     TokenSource
	httpClient *http.Client
}

type Option func(*Client)

// WithLatestPath selects the snapshot endpoint, "/latest" or "/summary".
func WithLatestPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.latestPath = "/" + strings.TrimPrefix(p, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		latestPath: "/latest",
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Latest returns the raw snapshot payload for the poller to decode.
func (c *Client) Latest(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.latestPath, nil, nil)
}

func (c *Client) NodeDetail(ctx context.Context, deviceID string) (*model.NodeDetail, error) {
	var d model.NodeDetail
	if err := c.getJSON(ctx, "/nodes/"+url.PathEscape(deviceID)+"/latest", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Telemetry returns up to limit rows for a node, newest first. Both id
// parameter spellings are sent so either backend generation answers.
func (c *Client) Telemetry(ctx context.Context, deviceID string, limit int) ([]model.TelemetryRecord, error) {
	q := url.Values{}
	q.Set("node_id", deviceID)
	q.Set("device_eui", deviceID)
	q.Set("limit", strconv.Itoa(limit))
	var rows []model.TelemetryRecord
	if err := c.getJSON(ctx, "/telemetry", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ListNodes(ctx context.Context) ([]model.NodeInfo, error) {
	var nodes []model.NodeInfo
	if err := c.getJSON(ctx, "/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (c *Client) Subscriptions(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, "/subscriptions", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Client) Subscribe(ctx context.Context, deviceID string) error {
	return c.postDevice(ctx, "/subscriptions/subscribe", deviceID)
}

func (c *Client) Unsubscribe(ctx context.Context, deviceID string) error {
	return c.postDevice(ctx, "/subscriptions/unsubscribe", deviceID)
}

// Health checks that the node API answers.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

func (c *Client) postDevice(ctx context.Context, path, deviceID string) error {
	body, err := json.Marshal(map[string]string{"device_eui": deviceID})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, path, nil, body)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: errorDetail(data)}
	}
	return data, nil
}

// errorDetail pulls "detail" or "error" from a JSON error body.
func errorDetail(data []byte) string {
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
