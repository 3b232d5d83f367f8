package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// HTTPCommitter posts stories to a remote story API (POST <url> with a JSON
// array of {title, index}).
type HTTPCommitter struct {
	url      string
	client   *http.Client
	padWidth int
}

// NewHTTPCommitter targets the story endpoint at url, e.g.
// https://example.org/api/story.
func NewHTTPCommitter(endpoint string, padWidth int, timeout time.Duration) *HTTPCommitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCommitter{url: endpoint, client: &http.Client{Timeout: timeout}, padWidth: padWidth}
}

func (c *HTTPCommitter) Commit(ctx context.Context, tasks []ledger.Task) error {
	body, err := json.Marshal(EntriesFor(tasks, c.padWidth))
	if err != nil {
		return &pipeline.CommitError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &pipeline.CommitError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &pipeline.CommitError{Diagnostic: "POST " + c.url, Err: err}
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return &pipeline.CommitError{
			Diagnostic: strings.TrimSpace(string(out)),
			Err:        fmt.Errorf("story API returned %s", resp.Status),
		}
	}
	slog.InfoContext(ctx, "stories posted", "count", len(tasks), "response", strings.TrimSpace(string(out)))
	return nil
}

// Unrecorded asks the API for each index; a 404 means not recorded.
func (c *HTTPCommitter) Unrecorded(ctx context.Context, tasks []ledger.Task) ([]ledger.Task, error) {
	var out []ledger.Task
	for _, t := range tasks {
		u := c.url + "?index=" + url.QueryEscape(PadID(t.ID, c.padWidth))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("check story %d: %w", t.ID, err)
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			out = append(out, t)
		case resp.StatusCode/100 != 2:
			return nil, fmt.Errorf("check story %d: %s", t.ID, resp.Status)
		}
	}
	return out, nil
}
