package filing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wealth-ops/filing-engine/internal/config"
)

// SubmitOptions controls how a filing is submitted to the regulator.
type SubmitOptions struct {
	TestFiling          bool     `json:"test_filing"`
	ExpeditedProcessing bool     `json:"expedited_processing"`
	Attachments         []string `json:"attachments,omitempty"`
}

// Receipt is the gateway's answer to a submission. Transport failures are a
// normal negative result, not an error: callers always get a Receipt they
// can record on the filing.
type Receipt struct {
	Success            bool          `json:"success"`
	ConfirmationNumber string        `json:"confirmation_number,omitempty"`
	SubmissionID       string        `json:"submission_id,omitempty"`
	Errors             []string      `json:"errors,omitempty"`
	ProcessingTime     time.Duration `json:"processing_time"`
}

// SubmissionGateway is the narrow interface to the external regulator
// submission channel.
type SubmissionGateway interface {
	Submit(ctx context.Context, payload map[string]interface{}, opts SubmitOptions) *Receipt
}

// HTTPGateway submits filings to the regulator's HTTP endpoint, rate-limited
// so a burst of submissions cannot trip the regulator's throttling.
type HTTPGateway struct {
	config  config.GatewayConfig
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPGateway creates an HTTP submission gateway.
func NewHTTPGateway(cfg config.GatewayConfig, logger *zap.Logger) *HTTPGateway {
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 30
	}
	return &HTTPGateway{
		config:  cfg,
		logger:  logger,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
	}
}

type gatewayRequest struct {
	Payload map[string]interface{} `json:"payload"`
	Options SubmitOptions          `json:"options"`
}

type gatewayResponse struct {
	Success            bool     `json:"success"`
	ConfirmationNumber string   `json:"confirmation_number"`
	SubmissionID       string   `json:"submission_id"`
	Errors             []string `json:"errors"`
}

// Submit sends the filing payload to the regulator endpoint. All failure
// modes come back as an unsuccessful Receipt.
func (g *HTTPGateway) Submit(ctx context.Context, payload map[string]interface{}, opts SubmitOptions) *Receipt {
	start := time.Now()

	if g.config.TestMode {
		opts.TestFiling = true
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return g.failed(start, fmt.Sprintf("rate limiter wait aborted: %v", err))
	}

	body, err := json.Marshal(gatewayRequest{Payload: payload, Options: opts})
	if err != nil {
		return g.failed(start, fmt.Sprintf("failed to encode submission: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return g.failed(start, fmt.Sprintf("failed to build submission request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("Submission transport failure", zap.Error(err))
		return g.failed(start, fmt.Sprintf("transport failure: %v", err))
	}
	defer resp.Body.Close()

	var decoded gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return g.failed(start, fmt.Sprintf("unreadable gateway response (status %d): %v", resp.StatusCode, err))
	}

	if resp.StatusCode != http.StatusOK || !decoded.Success {
		errs := decoded.Errors
		if len(errs) == 0 {
			errs = []string{fmt.Sprintf("gateway rejected submission with status %d", resp.StatusCode)}
		}
		return &Receipt{
			Success:        false,
			Errors:         errs,
			ProcessingTime: time.Since(start),
		}
	}

	return &Receipt{
		Success:            true,
		ConfirmationNumber: decoded.ConfirmationNumber,
		SubmissionID:       decoded.SubmissionID,
		ProcessingTime:     time.Since(start),
	}
}

func (g *HTTPGateway) failed(start time.Time, reason string) *Receipt {
	return &Receipt{
		Success:        false,
		Errors:         []string{reason},
		ProcessingTime: time.Since(start),
	}
}
