// Package httprequest provides the http_request action for calling external
// webhooks from an automation.
package httprequest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

type Action struct {
	url     string
	method  string
	headers map[string]string
	body    string
	client  *http.Client
}

func NewAction(params map[string]any) (*Action, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, protocol.NewActionError(protocol.ActionErrorInvalidParams, "http_request requires 'url'", nil)
	}

	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := params["body"].(string)

	headers := make(map[string]string)

	if raw, ok := params["headers"].(map[string]any); ok {
		for key, value := range raw {
			if str, ok := value.(string); ok {
				headers[key] = str
			}
		}
	}

	return &Action{
		url:     url,
		method:  strings.ToUpper(method),
		headers: headers,
		body:    body,
		client:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (a *Action) Execute(ctx context.Context, runCtx models.RunContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "http_request", "url", a.url, "method", a.method)

	req, err := http.NewRequestWithContext(ctx, a.method, a.url, strings.NewReader(a.body))
	if err != nil {
		return nil, protocol.NewActionError(protocol.ActionErrorInvalidParams, "building request failed", err)
	}

	for key, value := range a.headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" && a.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, protocol.NewActionError(protocol.ActionErrorUnavailable, "request failed", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("Failed to close response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, protocol.NewActionError(protocol.ActionErrorTransient, "reading response failed", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, protocol.NewActionError(protocol.ActionErrorTransient, "server error: "+resp.Status, nil)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, protocol.NewActionError(protocol.ActionErrorInvalidParams, "request rejected: "+resp.Status, nil)
	}

	logger.Info("Request completed", "status", resp.StatusCode)

	result := map[string]any{
		"http_status": resp.StatusCode,
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		result["http_body"] = decoded
	} else {
		result["http_body"] = string(raw)
	}

	return result, nil
}
