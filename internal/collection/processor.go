package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dojo-backend/internal/models"

	"github.com/shopspring/decimal"
)

type CollectRequest struct {
	CustomerRef      string
	PaymentMethodRef string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
	Description      string
}

// CollectResult is the processor's answer. Outcome is succeeded, failed or
// processing.
type CollectResult struct {
	Reference     string
	Outcome       models.ItemOutcome
	FailureReason string
}

// Processor is the live payment processor. A returned error means the result
// is unknown, not that the charge failed.
type Processor interface {
	Collect(ctx context.Context, req CollectRequest) (CollectResult, error)
	Status(ctx context.Context, reference string) (CollectResult, error)
}

// HTTPProcessor talks JSON to the processor API.
type HTTPProcessor struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPProcessor(baseURL, apiKey string, timeout time.Duration) *HTTPProcessor {
	return &HTTPProcessor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type processorCharge struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (p *HTTPProcessor) Collect(ctx context.Context, req CollectRequest) (CollectResult, error) {
	body, err := json.Marshal(map[string]any{
		"customer":       req.CustomerRef,
		"payment_method": req.PaymentMethodRef,
		"amount":         req.Amount.Shift(2).IntPart(), // minor units
		"currency":       strings.ToLower(req.Currency),
		"description":    req.Description,
	})
	if err != nil {
		return CollectResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/collections", bytes.NewReader(body))
	if err != nil {
		return CollectResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	return p.do(httpReq)
}

func (p *HTTPProcessor) Status(ctx context.Context, reference string) (CollectResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v1/collections/"+url.PathEscape(reference), nil)
	if err != nil {
		return CollectResult{}, err
	}
	return p.do(httpReq)
}

func (p *HTTPProcessor) do(req *http.Request) (CollectResult, error) {
	if p.BaseURL == "" {
		return CollectResult{}, fmt.Errorf("processor base url not configured")
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return CollectResult{}, fmt.Errorf("processor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CollectResult{}, fmt.Errorf("read processor response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return CollectResult{}, fmt.Errorf("processor returned %d", resp.StatusCode)
	}

	var charge processorCharge
	decodeErr := json.Unmarshal(raw, &charge)
	if resp.StatusCode >= 400 {
		// The processor refused the request; nothing was charged.
		reason := charge.FailureReason
		if reason == "" {
			reason = fmt.Sprintf("rejected with status %d", resp.StatusCode)
		}
		return CollectResult{Reference: charge.ID, Outcome: models.OutcomeFailed, FailureReason: reason}, nil
	}
	if decodeErr != nil {
		return CollectResult{}, fmt.Errorf("decode processor response: %w", decodeErr)
	}
	return CollectResult{Reference: charge.ID, Outcome: MapStatus(charge.Status), FailureReason: charge.FailureReason}, nil
}

// MapStatus turns processor status words into item outcomes. Anything unknown
// stays processing until the processor says otherwise.
func MapStatus(s string) models.ItemOutcome {
	switch strings.ToLower(s) {
	case "succeeded", "paid", "confirmed", "paid_out":
		return models.OutcomeSucceeded
	case "failed", "canceled", "cancelled", "charged_back", "customer_approval_denied":
		return models.OutcomeFailed
	}
	return models.OutcomeProcessing
}
