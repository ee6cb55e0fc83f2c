package mcp

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

	x402 "github.com/Gate402/gate-fe-sub000"
	httpx402 "github.com/Gate402/gate-fe-sub000/http"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// FetchResult is the JSON document returned by the x402_fetch tool.
type FetchResult struct {
	URL         string `json:"url"`
	State       string `json:"state"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`

	Requirement       *x402.PaymentRequirement `json:"requirement,omitempty"`
	Settlement        *x402.SettleResponse     `json:"settlement,omitempty"`
	SettlementWarning string                   `json:"settlementWarning,omitempty"`

	Error *FetchError `json:"error,omitempty"`
	Steps []FetchStep `json:"steps"`
}

// FetchError mirrors x402.PaymentError for tool output.
type FetchError struct {
	Code    x402.ErrorCode         `json:"code"`
	Message string                 `json:"message"`
	Step    string                 `json:"step,omitempty"`
	Status  int                    `json:"status,omitempty"`
	Body    string                 `json:"body,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// FetchStep is one handshake log entry.
type FetchStep struct {
	State   string    `json:"state"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
}

func (s *Server) handleFetch(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	logger := s.logger.With(zap.String("method", httpReq.Method), zap.String("url", httpReq.URL.String()))
	logger.Debug("x402_fetch called")

	result, execErr := s.client.Execute(ctx, httpReq)
	out := s.fetchResult(httpReq.URL.String(), result, execErr)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fetch result: %w", err)
	}

	toolResult := mcpproto.NewToolResultText(string(data))
	if execErr != nil {
		toolResult.IsError = true
		logger.Info("x402_fetch failed", zap.String("state", out.State), zap.Error(execErr))
	} else {
		logger.Info("x402_fetch completed", zap.String("state", out.State), zap.Int("status", out.Status))
	}
	return toolResult, nil
}

// buildRequest turns tool arguments into an HTTP request.
func buildRequest(ctx context.Context, req mcpproto.CallToolRequest) (*http.Request, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be an absolute http or https URL, got %q", rawURL)
	}

	method := strings.ToUpper(req.GetString("method", http.MethodGet))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	var body io.Reader
	if b := req.GetString("body", ""); b != "" {
		body = strings.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if raw, ok := req.GetArguments()["headers"]; ok && raw != nil {
		headers, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("headers must be an object of strings")
		}
		for k, v := range headers {
			value, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("header %q must be a string", k)
			}
			httpReq.Header.Set(k, value)
		}
	}
	return httpReq, nil
}

func (s *Server) fetchResult(target string, result *httpx402.Result, execErr error) FetchResult {
	out := FetchResult{URL: target, State: x402.StateFailed.String(), Steps: []FetchStep{}}

	if result != nil {
		out.State = result.State.String()
		out.Requirement = result.Requirement
		out.Settlement = result.Settlement
		if result.SettlementErr != nil {
			out.SettlementWarning = result.SettlementErr.Error()
		}
		for _, step := range result.Steps {
			out.Steps = append(out.Steps, FetchStep{
				State:   step.State.String(),
				At:      step.At,
				Message: step.Message,
			})
		}
		if resp := result.Response; resp != nil {
			out.Status = resp.StatusCode
			out.ContentType = resp.Header.Get("Content-Type")
			out.Body, out.Truncated = s.readBody(resp.Body)
		}
	}

	if execErr != nil {
		out.Error = s.fetchError(execErr)
		if out.Status == 0 {
			out.Status = out.Error.Status
		}
	}
	return out
}

func (s *Server) fetchError(err error) *FetchError {
	var pe *x402.PaymentError
	if !errors.As(err, &pe) {
		return &FetchError{Code: x402.Classify(err), Message: err.Error()}
	}

	fe := &FetchError{
		Code:    pe.Code,
		Message: pe.Error(),
		Status:  pe.StatusCode,
		Details: pe.Details,
	}
	if pe.Step != x402.StateIdle {
		fe.Step = pe.Step.String()
	}
	if len(pe.Body) > 0 {
		fe.Body, _ = s.readBody(io.NopCloser(bytes.NewReader(pe.Body)))
	}
	if len(fe.Details) == 0 {
		fe.Details = nil
	}
	return fe
}

// readBody reads at most maxBody bytes and closes rc.
func (s *Server) readBody(rc io.ReadCloser) (string, bool) {
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, int64(s.maxBody)+1))
	if err != nil {
		s.logger.Warn("failed to read response body", zap.Error(err))
	}
	if len(data) > s.maxBody {
		return string(data[:s.maxBody]), true
	}
	return string(data), false
}
