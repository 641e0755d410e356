// Package dashboard reads process definitions and runs from the MBU
// dashboard API.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"udskrivning22/internal/domain"
	"udskrivning22/internal/paginate"
)

const pageSize = 100

// ErrProcessNotFound signals that no process carries the configured name.
// This is a configuration problem, not transient load.
var ErrProcessNotFound = errors.New("process not found")

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashboard api error: status=%d body=%s", e.StatusCode, e.Body)
}

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Log        *slog.Logger
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

type listing[T any] struct {
	Items []T     `json:"items"`
	Next  *string `json:"next"`
}

// ProcessByName scans the paginated process listing until a name match.
func (c *Client) ProcessByName(ctx context.Context, name string) (domain.Process, error) {
	var found *domain.Process
	_, err := paginate.All(ctx, func(ctx context.Context, page int) ([]domain.Process, bool, error) {
		var resp listing[domain.Process]
		endpoint := fmt.Sprintf("processes/?page=%d&size=%d", page, pageSize)
		if err := c.do(ctx, endpoint, &resp); err != nil {
			return nil, false, err
		}
		for i := range resp.Items {
			if resp.Items[i].Name == name {
				found = &resp.Items[i]
				return resp.Items, false, nil
			}
		}
		return resp.Items, resp.Next != nil, nil
	})
	if found != nil {
		return *found, nil
	}
	if err != nil {
		return domain.Process{}, err
	}
	return domain.Process{}, fmt.Errorf("%w: %q", ErrProcessNotFound, name)
}

// RunningRuns lists the running runs of a process, newest first. A failed
// page degrades to the runs collected so far: readiness is re-derived every
// cycle, so a missed tail page only delays work.
func (c *Client) RunningRuns(ctx context.Context, processID int64) ([]domain.ProcessRun, error) {
	runs, err := paginate.All(ctx, func(ctx context.Context, page int) ([]domain.ProcessRun, bool, error) {
		var resp listing[domain.ProcessRun]
		endpoint := fmt.Sprintf(
			"runs/?process_id=%d&run_status=running&order_by=created_at&sort_direction=desc&page=%d&size=%d",
			processID, page, pageSize)
		if err := c.do(ctx, endpoint, &resp); err != nil {
			return nil, false, err
		}
		return resp.Items, resp.Next != nil, nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.log().ErrorContext(ctx, "run listing aborted, using partial results",
				"process_id", processID, "status", apiErr.StatusCode, "runs", len(runs))
			return runs, nil
		}
		return nil, err
	}
	return runs, nil
}

func (c *Client) do(ctx context.Context, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	full := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, &bytes.Buffer{})
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
