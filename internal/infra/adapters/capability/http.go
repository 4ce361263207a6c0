package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"task-orchestrator/internal/domain/ports/adapter"
)

const maxErrorBody = 512

// doJSON sends body as JSON (GET when body is nil) and decodes the reply into
// out. Transport errors, 429 and 5xx are transient; other non-2xx are permanent.
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return adapter.Permanent(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return adapter.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "task-orchestrator/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return adapter.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return adapter.Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(code int, body string) error {
	err := fmt.Errorf("http %d: %s", code, body)
	if code == http.StatusTooManyRequests || code >= 500 {
		return adapter.Transient(err)
	}
	return adapter.Permanent(err)
}
