// Package bridge implements the settlement adapter against the HTTP
// settlement bridge service, which fronts the external ledger. The bridge
// executes transfers idempotently: submitting the same idempotency key twice
// returns the first transfer's result instead of moving funds again.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aidchain-escrow-ledger/internal/config"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg *config.SettlementConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BridgeURL,
		httpClient: &http.Client{
			// Per-call deadlines come from the caller's context; this is a
			// hard stop for a hung connection.
			Timeout: cfg.TransferTimeout + 5*time.Second,
		},
		logger: logger,
	}
}

type transferPayload struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferResult struct {
	SettlementRef string    `json:"settlement_ref"`
	Status        string    `json:"status"`
	SettledAt     time.Time `json:"settled_at"`
}

// Transfer submits a value transfer to the bridge. A definitive rejection
// maps to ErrSettlementFailed; anything ambiguous (timeout, 5xx, malformed
// response) maps to ErrSettlementUnknown because the transfer may have been
// executed.
func (c *Client) Transfer(ctx context.Context, req settlement.TransferRequest) (*settlement.Settlement, error) {
	body, err := json.Marshal(transferPayload{
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// The request may have reached the bridge before the failure.
		c.logger.Warn("Transfer call failed in flight", "idempotency_key", req.IdempotencyKey, "error", err)
		return nil, settlement.ErrSettlementUnknown{IdempotencyKey: req.IdempotencyKey}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result transferResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			c.logger.Warn("Transfer response unreadable", "idempotency_key", req.IdempotencyKey, "error", err)
			return nil, settlement.ErrSettlementUnknown{IdempotencyKey: req.IdempotencyKey}
		}
		return &settlement.Settlement{
			SettlementRef: result.SettlementRef,
			Status:        statusFromBridge(result.Status),
			SettledAt:     result.SettledAt,
		}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The bridge rejected the transfer outright; no funds moved.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("Transfer rejected by bridge",
			"idempotency_key", req.IdempotencyKey,
			"status_code", resp.StatusCode,
			"detail", string(detail),
		)
		return nil, settlement.ErrSettlementFailed{IdempotencyKey: req.IdempotencyKey}

	default:
		c.logger.Warn("Transfer outcome unknown", "idempotency_key", req.IdempotencyKey, "status_code", resp.StatusCode)
		return nil, settlement.ErrSettlementUnknown{IdempotencyKey: req.IdempotencyKey}
	}
}

// QueryStatus asks the bridge for the recorded outcome of a transfer. A 404
// means the transfer was never submitted, which is a definitive failure;
// transport errors report unknown so the reconciler keeps polling.
func (c *Client) QueryStatus(ctx context.Context, idempotencyKey string) (settlement.Status, error) {
	endpoint := c.baseURL + "/v1/transfers/" + url.PathEscape(idempotencyKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return settlement.StatusUnknown, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return settlement.StatusUnknown, fmt.Errorf("status query for %s failed: %w", idempotencyKey, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result transferResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return settlement.StatusUnknown, fmt.Errorf("status response for %s unreadable: %w", idempotencyKey, err)
		}
		return statusFromBridge(result.Status), nil
	case http.StatusNotFound:
		return settlement.StatusFailed, nil
	default:
		return settlement.StatusUnknown, fmt.Errorf("status query for %s returned %d", idempotencyKey, resp.StatusCode)
	}
}

func statusFromBridge(s string) settlement.Status {
	switch s {
	case "CONFIRMED", "SUCCESS":
		return settlement.StatusConfirmed
	case "FAILED":
		return settlement.StatusFailed
	default:
		return settlement.StatusUnknown
	}
}
