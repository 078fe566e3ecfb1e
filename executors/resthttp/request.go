package resthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
)

// buildRequest constructs the HTTP request from the step parameters. The
// target is either an absolute "url" parameter or the service endpoint
// from the test context joined with the "path" parameter.
func (e *Executor) buildRequest(ctx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*http.Request, error) {
	target, err := resolveURL(step, testCtx)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(stringValue(step.Parameters, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	if raw, ok := step.Parameters["body"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("step %s: marshal request body: %w", step.ID, err)
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("step %s: build request: %w", step.ID, err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.config.UserAgent != "" {
		req.Header.Set("User-Agent", e.config.UserAgent)
	}
	if headers, ok := step.Parameters["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprintf("%v", value))
		}
	}

	return req, nil
}

func resolveURL(step executor.TestStep, testCtx *executor.TestContext) (string, error) {
	if target := stringValue(step.Parameters, "url"); target != "" {
		return target, nil
	}

	endpoint, ok := testCtx.Endpoint(step.ServiceID)
	if !ok {
		return "", fmt.Errorf("step %s: no url parameter and no endpoint for service %q", step.ID, step.ServiceID)
	}
	path := stringValue(step.Parameters, "path")
	return strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

// checkOutcome applies the expected-outcome checks to the response. With
// no explicit status expectation any 4xx or 5xx status fails the step.
func checkOutcome(step executor.TestStep, statusCode int, body []byte) error {
	if want, ok := intValue(step.ExpectedOutcome, "status"); ok {
		if statusCode != want {
			return fmt.Errorf("expected status %d, got %d", want, statusCode)
		}
	} else if statusCode >= 400 {
		return fmt.Errorf("service returned status %d", statusCode)
	}

	if substr := stringValue(step.ExpectedOutcome, "body_contains"); substr != "" {
		if !strings.Contains(string(body), substr) {
			return fmt.Errorf("expected response body to contain %q", substr)
		}
	}

	return nil
}

// recordResponse stores the response in the test context so later steps
// can reference it. JSON bodies are additionally stored parsed.
func recordResponse(testCtx *executor.TestContext, stepID string, resp *http.Response, body []byte) {
	testCtx.SetVariable(stepID+".status_code", resp.StatusCode)
	testCtx.SetVariable(stepID+".body", string(body))

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var parsed interface{}
		if err := json.Unmarshal(body, &parsed); err == nil {
			testCtx.SetVariable(stepID+".json", parsed)
		}
	}
}

func stringValue(values map[string]interface{}, key string) string {
	if values == nil {
		return ""
	}
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}

// intValue reads an integer from a decoded JSON map, where numbers
// arrive as float64
func intValue(values map[string]interface{}, key string) (int, bool) {
	if values == nil {
		return 0, false
	}
	switch v := values[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}
