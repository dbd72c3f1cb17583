// Package tauu implements a client for the external effect-size
// service. The service computes Tau-U with corrections the local
// analytic implementation does not carry (baseline trend adjustment);
// when it is unreachable the caller falls back to the local one.
package tauu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/circuitbreaker"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the effect-size client.
type ClientConfig struct {
	// BaseURL is the service base URL.
	BaseURL string

	// APIKey authenticates requests (optional).
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// CallTimeout bounds one Compute call including retries. Used by
	// the EffectSize adapter, which has no caller-supplied context.
	CallTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		CallTimeout: 15 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the effect-size service client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *logger.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a new effect-size client.
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = 15 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  log.With(logger.String("component", "tauu_client")),
		retrier: retry.EffectSizeRetrier(),
		breaker: circuitbreaker.EffectSizeBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		}),
	}
}

type computeRequest struct {
	PhaseA []float64 `json:"phase_a"`
	PhaseB []float64 `json:"phase_b"`
}

type computeResponse struct {
	TauU float64 `json:"tau_u"`
}

// Compute requests the Tau-U effect size between two phases.
func (c *Client) Compute(ctx context.Context, phaseA, phaseB []float64) (float64, error) {
	var result float64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			v, err := c.doCompute(ctx, phaseA, phaseB)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %v", shared.ErrTauuUnavailable, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %v", shared.ErrTauuTimeout, err)
		}
		return 0, err
	}
	return result, nil
}

// doCompute performs a single HTTP round trip.
func (c *Client) doCompute(ctx context.Context, phaseA, phaseB []float64) (float64, error) {
	body, err := json.Marshal(computeRequest{PhaseA: phaseA, PhaseB: phaseB})
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/tau-u", bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrTauuUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return 0, fmt.Errorf("%w: status %d", shared.ErrTauuUnavailable, resp.StatusCode)
	default:
		return 0, retry.Permanent(fmt.Errorf("%w: status %d", shared.ErrTauuInvalidResponse, resp.StatusCode))
	}

	var out computeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, retry.Permanent(fmt.Errorf("%w: %v", shared.ErrTauuInvalidResponse, err))
	}
	if out.TauU < -1 || out.TauU > 1 {
		return 0, retry.Permanent(fmt.Errorf("%w: tau_u %f out of range", shared.ErrTauuInvalidResponse, out.TauU))
	}
	return out.TauU, nil
}

// EffectSize adapts the client to detection.EffectSizeFunc. Service
// failures fall back to the supplied local implementation, so a
// detection run never blocks on the remote service longer than the
// call timeout.
func (c *Client) EffectSize(fallback detection.EffectSizeFunc) detection.EffectSizeFunc {
	return func(phaseA, phaseB []float64) float64 {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.CallTimeout)
		defer cancel()

		v, err := c.Compute(ctx, phaseA, phaseB)
		if err != nil {
			if fallback == nil {
				return 0
			}
			c.logger.Warn("effect-size service failed, using local computation", logger.Err(err))
			return fallback(phaseA, phaseB)
		}
		return v
	}
}

// IsHealthy checks whether the service is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
