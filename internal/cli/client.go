package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client calls a running kotae server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Query asks one question.
func (c *Client) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	var res models.QueryResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Batch asks several questions.
func (c *Client) Batch(ctx context.Context, queries []string, maxResults int) (*models.BatchResponse, error) {
	var res models.BatchResponse
	req := models.BatchRequest{Queries: queries, MaxResults: maxResults}
	if err := c.do(ctx, http.MethodPost, "/api/v1/query/batch", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats returns the server's stats snapshot.
func (c *Client) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &st)
	return st, err
}

// History returns up to limit recent queries. A zero limit uses the server default.
func (c *Client) History(ctx context.Context, limit int) (models.HistoryPage, error) {
	var page models.HistoryPage
	path := "/api/v1/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

// ClearHistory empties the server's query history.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/history", nil, nil)
}

// IngestText ingests plain text.
func (c *Client) IngestText(ctx context.Context, in models.DocumentInput) (*models.IngestResult, error) {
	var res models.IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Upload sends the file at path for extraction and ingestion. id and title are optional.
func (c *Client) Upload(ctx context.Context, path, id, title string) (*models.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if id != "" {
		_ = mw.WriteField("id", id)
	}
	if title != "" {
		_ = mw.WriteField("title", title)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/documents/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var res models.IngestResult
	if err := c.send(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Documents lists catalog entries matching q; an empty q lists the newest.
func (c *Client) Documents(ctx context.Context, q string, limit int) ([]*models.CatalogEntry, int, error) {
	v := url.Values{}
	if q != "" {
		v.Set("q", q)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/documents"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var res struct {
		Documents []*models.CatalogEntry `json:"documents"`
		Total     int                    `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, 0, err
	}
	return res.Documents, res.Total, nil
}

// DeleteDocument removes a document and returns how many fragments were deleted.
func (c *Client) DeleteDocument(ctx context.Context, id string) (int, error) {
	var res struct {
		Deleted int `json:"fragments_deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(id), nil, &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var envelope struct {
			Error models.ErrorInfo `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil && envelope.Error.Message != "" {
			return &APIError{Status: resp.StatusCode, Kind: envelope.Error.Kind, Message: envelope.Error.Message}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
