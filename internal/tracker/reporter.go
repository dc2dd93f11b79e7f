package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPReporter posts page views to a track-visit endpoint on behalf of the
// visitor.
type HTTPReporter struct {
	url    string
	client *http.Client
}

// NewHTTPReporter creates a reporter for url.
func NewHTTPReporter(url string, client *http.Client) *HTTPReporter {
	if client == nil {
		client = &http.Client{Timeout: reportTimeout}
	}
	return &HTTPReporter{url: url, client: client}
}

// Report implements Reporter.
func (r *HTTPReporter) Report(ctx context.Context, v PageView) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.ClientIP != "" {
		req.Header.Set("X-Forwarded-For", v.ClientIP)
	}
	if v.UserAgent != "" {
		req.Header.Set("User-Agent", v.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("forwarding visit: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("track endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
