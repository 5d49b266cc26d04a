package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// RegisterBuiltins registers all built-in handlers in the given registry.
func RegisterBuiltins(reg *Registry, logger *slog.Logger, httpCfg HTTPConfig) error {
	all := []Handler{
		&LogHandler{logger: logger},
		&ContextSetHandler{},
		NewJQTransformHandler(),
		NewHTTPRequestHandler(httpCfg),
	}
	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Param helpers shared by the built-in handlers.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

// --- log ---

// LogHandler writes a structured log line. Useful as a notification target
// and as a no-op action in tests and examples.
type LogHandler struct {
	logger *slog.Logger
}

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Execute(ctx context.Context, input HandlerInput) (*HandlerResult, error) {
	logger := h.logger
	if logger == nil {
		logger = slog.Default()
	}
	message := stringParam(input.Params, "message", "")
	level := stringParam(input.Params, "level", "info")

	attrs := make([]any, 0, 2)
	if fields, ok := input.Params["fields"].(map[string]any); ok {
		for k, v := range fields {
			attrs = append(attrs, slog.Any(k, v))
		}
	}

	switch level {
	case "debug":
		logger.DebugContext(ctx, message, attrs...)
	case "warn":
		logger.WarnContext(ctx, message, attrs...)
	case "error":
		logger.ErrorContext(ctx, message, attrs...)
	default:
		logger.InfoContext(ctx, message, attrs...)
	}

	return &HandlerResult{Output: map[string]any{"logged": true}}, nil
}

// --- context.set ---

// ContextSetHandler copies its "values" param into the execution context.
type ContextSetHandler struct{}

func (h *ContextSetHandler) Name() string { return "context.set" }

func (h *ContextSetHandler) Execute(_ context.Context, input HandlerInput) (*HandlerResult, error) {
	values, ok := input.Params["values"].(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, `context.set requires a "values" object param`)
	}
	return &HandlerResult{
		Output:           map[string]any{"keys_set": len(values)},
		ContextMutations: values,
	}, nil
}

// --- transform.jq ---

// JQTransformHandler runs a jq program against the execution context and
// merges the resulting object into it. Compiled queries are cached.
type JQTransformHandler struct {
	cache *jqCache
}

func NewJQTransformHandler() *JQTransformHandler {
	return &JQTransformHandler{cache: newJQCache()}
}

func (h *JQTransformHandler) Name() string { return "transform.jq" }

func (h *JQTransformHandler) Execute(ctx context.Context, input HandlerInput) (*HandlerResult, error) {
	query := stringParam(input.Params, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, `transform.jq requires a "query" string param`)
	}

	code, err := h.cache.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	src := map[string]any{}
	for k, v := range input.Context {
		src[k] = v
	}

	iter := code.RunWithContext(ctx, src)
	out, ok := iter.Next()
	if !ok {
		return &HandlerResult{}, nil
	}
	if runErr, isErr := out.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
			"jq transform failed: %s", runErr.Error()).WithCause(runErr)
	}

	result := &HandlerResult{Output: map[string]any{"result": out}}
	if mutations, isMap := out.(map[string]any); isMap {
		result.ContextMutations = mutations
	}
	return result, nil
}

// --- http.request ---

// HTTPConfig configures the http.request handler.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPRequestHandler performs an outbound HTTP request. The response status,
// headers, and decoded body are returned as output; nothing is written to
// the execution context unless a later transform step picks the output up.
type HTTPRequestHandler struct {
	client *http.Client
	cfg    HTTPConfig
}

func NewHTTPRequestHandler(cfg HTTPConfig) *HTTPRequestHandler {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequestHandler{
		client: &http.Client{Timeout: cfg.DefaultTimeout},
		cfg:    cfg,
	}
}

func (h *HTTPRequestHandler) Name() string { return "http.request" }

func (h *HTTPRequestHandler) Execute(ctx context.Context, input HandlerInput) (*HandlerResult, error) {
	rawURL := stringParam(input.Params, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, `http.request requires a "url" param`)
	}
	method := strings.ToUpper(stringParam(input.Params, "method", http.MethodGet))

	var body io.Reader
	if b, ok := input.Params["body"]; ok && b != nil {
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode request body: %s", err.Error()).WithCause(err)
		}
		body = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "build request: %s", err.Error()).WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := input.Params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, isStr := v.(string); isStr {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var decoded any
	if json.Unmarshal(raw, &decoded) != nil {
		decoded = string(raw)
	}

	output := map[string]any{
		"status": resp.StatusCode,
		"body":   decoded,
	}
	if resp.StatusCode >= 400 {
		return &HandlerResult{Output: output}, schema.NewErrorf(schema.ErrCodeStepFailed,
			"http request returned status %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "url": rawURL})
	}
	return &HandlerResult{Output: output}, nil
}

// jqCache caches compiled jq programs keyed by query text.
type jqCache struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func newJQCache() *jqCache {
	return &jqCache{cache: make(map[string]*gojq.Code)}
}

func (c *jqCache) getOrCompile(query string) (*gojq.Code, error) {
	c.mu.RLock()
	if code, ok := c.cache[query]; ok {
		c.mu.RUnlock()
		return code, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if code, ok := c.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid jq query %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile jq query %q: %s", query, err.Error()).WithCause(err)
	}
	c.cache[query] = code
	return code, nil
}
