// Package client calls the vidread HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status int
	models.APIError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

type SubmitResponse struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

type BookList struct {
	Books []models.BookSummary `json:"books"`
	Total int                  `json:"total"`
}

func (c *Client) Submit(ctx context.Context, videoURL string) (*SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", map[string]string{"url": videoURL}, &out)
	return &out, err
}

// Job returns the raw job view so the CLI can print it unchanged.
func (c *Client) Job(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id.String(), nil, &out)
	return out, err
}

func (c *Client) Advance(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id.String()+"/advance", nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+id.String(), nil, &out)
	return out, err
}

func (c *Client) JobBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var out models.Book
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id.String()+"/book", nil, &out)
	return &out, err
}

func (c *Client) Book(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var out models.Book
	err := c.do(ctx, http.MethodGet, "/api/v1/books/"+id.String(), nil, &out)
	return &out, err
}

// DeleteBook stores a tombstone for the book's lineage and returns the
// tombstone version.
func (c *Client) DeleteBook(ctx context.Context, id uuid.UUID) (int, error) {
	var out struct {
		Version int `json:"version"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/v1/books/"+id.String(), nil, &out)
	return out.Version, err
}

func (c *Client) Books(ctx context.Context, f models.BookFilter) (*BookList, error) {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Author != "" {
		q.Set("author", f.Author)
	}
	if f.Theme != "" {
		q.Set("theme", f.Theme)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	path := "/api/v1/books"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out BookList
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return &out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope models.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.APIError = envelope.Error
		} else {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
