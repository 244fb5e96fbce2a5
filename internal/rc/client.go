// Package rc is a minimal client for the rclone remote-control API,
// covering only the calls the governor needs: the core/stats snapshot and
// the options/set throttle updates.
package rc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drivepacer/drivepacer/internal/core"
)

// DefaultTimeout bounds every rc call. The endpoint is a local loopback
// server; anything slower than this is treated as unavailable.
const DefaultTimeout = 5 * time.Second

// Client talks to one rclone rc endpoint. It satisfies both the
// engine.StatsSource and engine.ControlSink interfaces.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient returns a client for the rc endpoint on the given host and port.
func NewClient(host string, port int) *Client {
	h := strings.TrimSpace(host)
	if h == "" {
		h = "127.0.0.1"
	}
	return &Client{
		BaseURL: fmt.Sprintf("http://%s:%d", h, port),
		Timeout: DefaultTimeout,
	}
}

// Stats fetches the current cumulative transfer statistics.
func (c *Client) Stats(ctx context.Context) (*core.StatsSnapshot, error) {
	var snap core.StatsSnapshot
	if err := c.call(ctx, "core/stats", struct{}{}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SetTransfers updates the engine's concurrent transfer count.
func (c *Client) SetTransfers(ctx context.Context, count int) error {
	payload := map[string]any{
		"main": map[string]any{"Transfers": count},
	}
	return c.call(ctx, "options/set", payload, nil)
}

// SetTPSLimit updates the engine's transaction-rate limit. The burst is
// conventionally twice the sustained rate.
func (c *Client) SetTPSLimit(ctx context.Context, tps float64) error {
	payload := map[string]any{
		"main": map[string]any{
			"TPSLimit":      tps,
			"TPSLimitBurst": int(tps * 2),
		},
	}
	return c.call(ctx, "options/set", payload, nil)
}

func (c *Client) call(ctx context.Context, op string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &CallError{Op: op, Kind: KindDecode, Err: fmt.Errorf("encode request: %w", err)}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(c.BaseURL, "/") + "/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &CallError{Op: op, Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		kind := KindTransport
		if isTimeout(err) {
			kind = KindTimeout
		}
		return &CallError{Op: op, Kind: kind, Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CallError{Op: op, Kind: KindTransport, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &CallError{
			Op:         op,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &CallError{Op: op, Kind: KindDecode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
