// Package ats talks to the automation server's workqueue API.
package ats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"udskrivning22/internal/domain"
	"udskrivning22/internal/paginate"
)

// pageSize is the maximum the API allows per page; using it keeps the
// request count down on large queues.
const pageSize = 200

// ErrQueueNotFound signals that a logical queue name resolved to nothing.
// Callers must not append to a queue they could not resolve.
var ErrQueueNotFound = errors.New("workqueue not found")

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ats api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client is the workqueue gateway. Namespace qualifies logical queue names,
// e.g. "tan.udskrivning22" + "formular_indsendt".
type Client struct {
	BaseURL    string
	Token      string
	Namespace  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(baseURL, token, namespace string) *Client {
	return &Client{
		BaseURL:   baseURL,
		Token:     token,
		Namespace: namespace,
		Timeout:   60 * time.Second,
	}
}

// ResolveQueue looks a queue up by its logical name within the namespace.
func (c *Client) ResolveQueue(ctx context.Context, name string) (domain.Workqueue, error) {
	qualified := name
	if c.Namespace != "" {
		qualified = c.Namespace + "." + name
	}
	var resp domain.Workqueue
	endpoint := fmt.Sprintf("workqueues/by_name/%s", url.PathEscape(qualified))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return domain.Workqueue{}, fmt.Errorf("%w: %s", ErrQueueNotFound, qualified)
		}
		return domain.Workqueue{}, err
	}
	if resp.ID == 0 {
		return domain.Workqueue{}, fmt.Errorf("%w: %s", ErrQueueNotFound, qualified)
	}
	resp.Name = qualified
	return resp, nil
}

// ListItems pages through every item in the queue. Errors propagate: a
// partial item listing must never feed a dedup check.
func (c *Client) ListItems(ctx context.Context, q domain.Workqueue) ([]domain.WorkItem, error) {
	items, err := paginate.All(ctx, func(ctx context.Context, page int) ([]domain.WorkItem, bool, error) {
		var resp struct {
			Items      []domain.WorkItem `json:"items"`
			TotalPages int               `json:"total_pages"`
		}
		endpoint := fmt.Sprintf("workqueues/%d/items?page=%d&size=%d", q.ID, page, pageSize)
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, false, err
		}
		return resp.Items, page < resp.TotalPages, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list items of %s: %w", q.Name, err)
	}
	return items, nil
}

// References returns the set of reference keys currently in the queue,
// for membership testing before AddItem.
func (c *Client) References(ctx context.Context, q domain.Workqueue) (map[string]bool, error) {
	items, err := c.ListItems(ctx, q)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool, len(items))
	for _, it := range items {
		refs[it.Reference] = true
	}
	return refs, nil
}

// AddItem creates a new item keyed by reference. The API performs no
// server-side dedup; callers check References first within the same cycle.
func (c *Client) AddItem(ctx context.Context, q domain.Workqueue, reference string, data map[string]any) error {
	body := map[string]any{
		"item": map[string]any{
			"reference": reference,
			"data":      data,
		},
	}
	endpoint := fmt.Sprintf("workqueues/%d/items", q.ID)
	if err := c.do(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		return fmt.Errorf("add item %s to %s: %w", reference, q.Name, err)
	}
	return nil
}

// UpdateItemStatus moves an item to a new status with an operator-visible
// message.
func (c *Client) UpdateItemStatus(ctx context.Context, itemID int64, status domain.ItemStatus, message string) error {
	body := map[string]any{
		"status":  status,
		"message": message,
	}
	endpoint := fmt.Sprintf("workitems/%d/status", itemID)
	if err := c.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		return fmt.Errorf("update item %d: %w", itemID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	full := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, full, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
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
