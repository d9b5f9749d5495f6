package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// postJSON sends body to endpoint and returns the raw response body.
// A 429 maps to ErrRateLimit; other non-2xx statuses are returned with the body
// so providers can decode their error envelope.
func postJSON(ctx context.Context, hc *http.Client, log *zap.Logger, endpoint string, headers map[string]string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	log.Debug("sending request", zap.Int("prompt_bytes", len(body)))
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	log.Debug("received response", zap.Int("status", resp.StatusCode), zap.Int("body_bytes", len(respBody)))

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, ErrRateLimit
	}
	return respBody, resp.StatusCode, nil
}

// schemaInstruction is appended to the system prompt of providers without native schema support.
func schemaInstruction(schema json.RawMessage) string {
	if len(schema) == 0 {
		return ""
	}
	return "\n\nRespond with a single JSON object only, no prose and no code fences. It must validate against this JSON schema:\n" + string(schema)
}

// stripMarkdownCodeBlock removes ```json or ``` wrappers from content.
func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```JSON") {
		s = strings.TrimPrefix(s, "```JSON")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

func truncate(b []byte, n int) string {
	return string(b[:min(n, len(b))])
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
