package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gossipstore/internal/gossip"
)

// Client pushes gossip to peers over HTTP. It implements gossip.Transport.
type Client struct {
	hc *http.Client
}

var _ gossip.Transport = (*Client)(nil)

// NewClient creates an HTTP gossip client. The per-push deadline comes from
// the context; timeout is an outer bound for calls without one.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{hc: &http.Client{Timeout: timeout}}
}

// Push posts msg to http://addr/gossip.
func (c *Client) Push(ctx context.Context, addr string, msg *gossip.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode gossip: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/gossip", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("gossip to %s: %w", addr, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("gossip to %s: unexpected status %s", addr, resp.Status)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}
