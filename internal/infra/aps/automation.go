package aps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/you-humble/apsplot/internal/domain"
)

// StartWorkItem submits a work item and returns its id.
func (c *Client) StartWorkItem(ctx context.Context, token string, wi domain.WorkItemRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	req, err := c.newJSONRequest(ctx, http.MethodPost, daPath+"/workitems", token, wi)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("start work item: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("start work item: response carries no id")
	}
	return out.ID, nil
}

// WorkItemStatus probes the work item once. Raw keeps the payload as
// returned for diagnostics.
func (c *Client) WorkItemStatus(ctx context.Context, token, id string) (domain.WorkItemStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, daPath+"/workitems/"+url.PathEscape(id), token, nil)
	if err != nil {
		return domain.WorkItemStatus{}, err
	}
	_, body, err := c.send(req)
	if err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("work item status: %w", err)
	}

	var out domain.WorkItemStatus
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("work item status: decode: %w", err)
	}
	out.Raw = json.RawMessage(body)
	return out, nil
}

// FetchReport downloads the plain-text report of a work item.
func (c *Client) FetchReport(ctx context.Context, reportURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, reportURL, "", nil)
	if err != nil {
		return "", err
	}
	_, body, err := c.send(req)
	if err != nil {
		return "", fmt.Errorf("fetch report: %w", err)
	}
	return string(body), nil
}
