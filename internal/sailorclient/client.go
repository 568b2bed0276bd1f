// Package sailorclient is the outbound HTTP client the control loop and the
// cancel handler use to talk to sailors: assign a chore, cancel a chore.
// Every call carries its own deadline and never blocks the caller past it.
package sailorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hugodecasta/captain/internal/types"
	"github.com/hugodecasta/captain/pkg/log"
	"github.com/hugodecasta/captain/pkg/metrics"
)

// DefaultTimeout is the per-call deadline used when the caller constructs a
// Client with a non-positive timeout.
const DefaultTimeout = 5 * time.Second

// Client issues RPCs against sailor endpoints.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// New returns a Client whose transport-level ceiling and per-call deadline
// are timeout. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, timeout: timeout}
}

func sailorURL(s types.Sailor, path string) string {
	return fmt.Sprintf("http://%s:%d%s", s.IP, s.Port, path)
}

// Assign posts a chore descriptor to the sailor's /chore endpoint. A
// transport error (network, timeout) is returned as-is so the caller leaves
// the chore PENDING for retry; a non-2xx response is returned as
// *RejectedError carrying the response body as the chore's rejection reason.
func (c *Client) Assign(ctx context.Context, s types.Sailor, ch types.Chore) error {
	timer := metrics.NewTimer()
	err := c.post(ctx, s, "/chore", ch)
	timer.ObserveDurationVec(metrics.SailorRPCDuration, "assign")
	metrics.SailorRPCTotal.WithLabelValues("assign", outcome(err)).Inc()
	if err != nil {
		log.WithSailor(s.Name).Warn().Err(err).Int("chore_id", ch.ChoreID).Msg("assign rpc failed")
	}
	return err
}

// Cancel sends an idempotent cancellation request for chore_id to the
// sailor. Safe to re-send; the sailor is expected to no-op on an unknown or
// already-stopped chore.
func (c *Client) Cancel(ctx context.Context, s types.Sailor, choreID int, reason string) error {
	timer := metrics.NewTimer()
	err := c.post(ctx, s, "/cancel", map[string]any{"chore_id": choreID, "reason": reason})
	timer.ObserveDurationVec(metrics.SailorRPCDuration, "cancel")
	metrics.SailorRPCTotal.WithLabelValues("cancel", outcome(err)).Inc()
	if err != nil {
		log.WithSailor(s.Name).Warn().Err(err).Int("chore_id", choreID).Msg("cancel rpc failed")
	}
	return err
}

func (c *Client) post(ctx context.Context, s types.Sailor, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sailorclient: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sailorURL(s, path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sailorclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sailorclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return &RejectedError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

// RejectedError is returned when a sailor answers with a non-2xx status.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("sailorclient: sailor rejected with status %d: %s", e.StatusCode, e.Body)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if _, ok := err.(*RejectedError); ok {
		return "rejected"
	}
	return "error"
}
