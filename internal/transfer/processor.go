package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ProcessorClient submits transfers to the external payment processor.
type ProcessorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewProcessorClient constructs a client with a bounded request timeout.
// The timeout is the ambiguity boundary: anything slower is treated as an
// ambiguous outcome and left for the next sweep.
func NewProcessorClient(baseURL string, timeout time.Duration) *ProcessorClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProcessorClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type processorResponse struct {
	TransferRef string `json:"transfer_reference"`
	Detail      string `json:"detail"`
}

// CreateTransfer submits one transfer. Transport failures and timeouts map to
// OutcomeAmbiguous with a nil error: the caller must not guess either way.
func (c *ProcessorClient) CreateTransfer(ctx context.Context, request Request) (Result, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/transfers", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", request.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeAmbiguous, Reason: err.Error()}, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var parsed processorResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.TransferRef == "" {
			// Accepted without a reference cannot be reconciled; treat as
			// ambiguous and let the idempotent retry fetch the reference.
			return Result{Outcome: OutcomeAmbiguous, Reason: "accepted response missing transfer reference"}, nil
		}
		return Result{Outcome: OutcomeAccepted, TransferRef: parsed.TransferRef}, nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		reason := parsed.Detail
		if reason == "" {
			reason = fmt.Sprintf("processor rejected with status %d", resp.StatusCode)
		}
		return Result{Outcome: OutcomeRejected, Reason: reason}, nil
	default:
		// Timeouts, rate limits and server errors do not confirm anything.
		return Result{Outcome: OutcomeAmbiguous, Reason: fmt.Sprintf("processor returned status %d", resp.StatusCode)}, nil
	}
}
