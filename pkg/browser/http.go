package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDriver calls the automation service:
//
//	POST {base}/sessions/{id}/commands  -> Outcome
//	GET  {base}/sessions/{id}/snapshot  -> Snapshot
type HTTPDriver struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	grace   time.Duration
}

func NewHTTPDriver(baseURL string, logger *slog.Logger) *HTTPDriver {
	return &HTTPDriver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
		grace:   5 * time.Second,
	}
}

func (d *HTTPDriver) sessionURL(sessionID, suffix string) string {
	return d.baseURL + "/sessions/" + url.PathEscape(sessionID) + suffix
}

// Perform runs cmd in the session. The request deadline is the command timeout
// plus a grace period so the service can report its own timeout first.
func (d *HTTPDriver) Perform(ctx context.Context, sessionID string, cmd Command) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.TimeoutMs > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(cmd.TimeoutMs)*time.Millisecond+d.grace)
		defer cancel()
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	var outcome Outcome
	if err := d.do(ctx, http.MethodPost, d.sessionURL(sessionID, "/commands"), body, &outcome); err != nil {
		return nil, err
	}

	if !outcome.Success {
		return &outcome, fmt.Errorf("%w: %s %s", ErrCommandFailed, cmd.Type, outcome.Error)
	}

	return &outcome, nil
}

func (d *HTTPDriver) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	var snapshot Snapshot
	if err := d.do(ctx, http.MethodGet, d.sessionURL(sessionID, "/snapshot"), nil, &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (d *HTTPDriver) do(ctx context.Context, method, target string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("browser service request failed: %w", err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.ErrorContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read browser service response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var outcome Outcome
		if json.Unmarshal(payload, &outcome) == nil && outcome.Error != "" {
			return fmt.Errorf("%w: %s", ErrCommandFailed, outcome.Error)
		}

		return fmt.Errorf("%w: browser service returned status %d", ErrCommandFailed, resp.StatusCode)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("failed to decode browser service response: %w", err)
	}

	return nil
}
