package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"marketplace-service/internal/util"
)

// ensureInitialized performs the one-time gateway handshake. Concurrent
// callers block on the same in-flight attempt; a failed attempt clears the
// state so the next caller starts a fresh one.
func (c *Client) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	ch := c.inflight
	if ch == nil {
		ch = make(chan struct{})
		c.inflight = ch
		go c.runInit(ch)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("waiting for ledger initialization: %w", ErrTimeout)
		}
		return ctx.Err()
	case <-ch:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	return c.initErr
}

func (c *Client) runInit(ch chan struct{}) {
	err := c.doInit()

	c.mu.Lock()
	if err == nil {
		c.ready = true
		c.initErr = nil
	} else {
		c.initErr = err
	}
	c.inflight = nil
	c.mu.Unlock()
	close(ch)

	if err != nil {
		c.logger.Error("Ledger initialization failed", zap.Error(err))
	} else {
		c.logger.Info("Ledger initialization completed",
			zap.String("gateway", c.cfg.RPCURL))
	}
}

// doInit checks connectivity and verifies both contracts are known to the
// gateway. Each step is bounded by the configured call timeout.
func (c *Client) doInit() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	var status NetworkStatus
	if err := c.call(ctx, "status", http.MethodGet, "/status", nil, &status); err != nil {
		return fmt.Errorf("network check: %w", err)
	}
	if !status.Connected {
		return fmt.Errorf("gateway reports node not connected: %w", ErrUnavailable)
	}

	for _, addr := range []string{c.cfg.ProductNFTAddress, c.cfg.SupplyChainAddress} {
		var descriptor struct {
			Address string `json:"address"`
		}
		path := fmt.Sprintf("/contracts/%s", url.PathEscape(addr))
		if err := c.call(ctx, "verify_contract", http.MethodGet, path, nil, &descriptor); err != nil {
			return fmt.Errorf("contract %s verification: %w", addr, err)
		}
	}

	return nil
}

// call issues one bounded HTTP request against the gateway and decodes the
// JSON response into out. Transport failures are classified into ErrTimeout
// or ErrUnavailable so callers can tell a slow node from a dead one. The op
// label keeps metrics cardinality independent of token ids in paths.
func (c *Client) call(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	callStart := time.Now()
	defer func() {
		util.LedgerCallLatency.WithLabelValues(op).Observe(time.Since(callStart).Seconds())
		if err != nil {
			util.LedgerCallErrors.WithLabelValues(op, errorKind(err)).Inc()
		}
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.RPCURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Ledger call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway returned %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return fmt.Errorf("ledger call failed: %s", apiErr.Message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	return fmt.Errorf("%v: %w", err, ErrUnavailable)
}
