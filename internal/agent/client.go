// Package agent calls the upstream service that runs the AI agents.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxResponseBytes = 4 << 20

var Module = fx.Module("agent",
	fx.Provide(NewClient),
)

var (
	ErrNotConfigured = errors.New("agent_upstream_not_configured")
	ErrUpstream      = errors.New("agent_upstream_failed")
)

// UpstreamError is a non-2xx answer from the agent service.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("agent upstream returned %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	timeout := cfg.Agent.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Agent.UpstreamURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("agent.client"),
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Invoke POSTs payload to <upstream>/<operation> and returns the response
// body. Any transport error or non-2xx status is an operation failure.
func (c *Client) Invoke(ctx context.Context, operationType string, payload []byte) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	endpoint := c.baseURL + "/" + url.PathEscape(operationType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		req.Header.Set("X-Correlation-Id", cid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}

	c.log.Debug("agent upstream call",
		zap.String("operation_type", operationType),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
