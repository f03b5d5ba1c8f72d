package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// BombClient talks to an external bomb service over a websocket.
//
// Protocol (JSON text frames, one response per request):
//
//	"GetTime"                          -> {"GetTime":{"result":"Ok","value":123.4}}
//	{"HandleStrike":{"module_id":1}}   -> {"HandleStrike":{"result":"Ok"}}
//	{"HandlePass":{"module_id":1}}     -> {"HandlePass":{"result":"Ok"}}
//
// Now() never touches the network: RunPoller refreshes the reading in the
// background and Now extrapolates from the last one.
type BombClient struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	logger      *slog.Logger
	readTimeout time.Duration

	countsUp bool

	timeMu   sync.Mutex
	lastTime float64
	lastAt   time.Time
	haveTime bool
}

// NewBombClient creates a client and establishes the initial connection.
func NewBombClient(wsURL string, countsUp bool, logger *slog.Logger, readTimeoutMS int) (*BombClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	client := &BombClient{
		url:         wsURL,
		logger:      logger,
		readTimeout: time.Duration(readTimeoutMS) * time.Millisecond,
		countsUp:    countsUp,
	}

	if err := client.connectWithRetry(); err != nil {
		return nil, err
	}
	if _, err := client.GetTime(); err != nil {
		logger.Warn("initial bomb time read failed", "error", err)
	}

	return client, nil
}

func (c *BombClient) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid ws url: %w", err)
	}

	d := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
	}

	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return err
	}

	c.conn = conn
	return nil
}

func (c *BombClient) connectWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		err := c.connect()
		if err == nil {
			c.logger.Info("connected to bomb", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("bomb connection failed; retrying...", "error", err, "attempt", attempt+1)
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("failed to connect after 10 attempts: %w", lastErr)
}

func (c *BombClient) ensureConnected() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Warn("bomb connection lost; reconnecting...")
	return c.connectWithRetry()
}

// sendAndRead sends a message and waits for its response.
func (c *BombClient) sendAndRead(v any) ([]byte, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("no websocket connection")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.conn = nil
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	defer func() {
		if c.conn != nil {
			c.conn.SetReadDeadline(time.Time{})
		}
	}()

	_, message, err := c.conn.ReadMessage()
	if err != nil {
		c.conn = nil
		return nil, err
	}

	return message, nil
}

func (c *BombClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

type bombResult struct {
	Result string  `json:"result"`
	Value  float64 `json:"value"`
}

// GetTime reads the bomb timer and caches the reading for Now.
func (c *BombClient) GetTime() (float64, error) {
	response, err := c.sendAndRead("GetTime")
	if err != nil {
		return 0, fmt.Errorf("get time: %w", err)
	}

	var resp struct {
		GetTime bombResult `json:"GetTime"`
	}
	if err := json.Unmarshal(response, &resp); err != nil {
		return 0, fmt.Errorf("parse GetTime response: %w", err)
	}
	if resp.GetTime.Result != "Ok" {
		return 0, fmt.Errorf("get time: bomb returned %q", resp.GetTime.Result)
	}

	c.timeMu.Lock()
	c.lastTime = resp.GetTime.Value
	c.lastAt = time.Now()
	c.haveTime = true
	c.timeMu.Unlock()

	return resp.GetTime.Value, nil
}

// Now extrapolates the last reading by the local time elapsed since it was taken.
func (c *BombClient) Now() float64 {
	c.timeMu.Lock()
	defer c.timeMu.Unlock()

	if !c.haveTime {
		return 0
	}
	elapsed := time.Since(c.lastAt).Seconds()
	if c.countsUp {
		return c.lastTime + elapsed
	}
	return c.lastTime - elapsed
}

func (c *BombClient) report(name string, moduleID int) error {
	cmd := map[string]any{name: map[string]int{"module_id": moduleID}}

	response, err := c.sendAndRead(cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	var resp map[string]bombResult
	if err := json.Unmarshal(response, &resp); err != nil {
		c.logger.Warn("failed to parse bomb response", "command", name, "error", err)
		return nil // Assume success
	}
	if r, ok := resp[name]; ok && r.Result != "Ok" {
		return fmt.Errorf("%s: bomb returned %q", name, r.Result)
	}

	c.logger.Debug(name, "module_id", moduleID)
	return nil
}

func (c *BombClient) ReportStrike(moduleID int) error { return c.report("HandleStrike", moduleID) }
func (c *BombClient) ReportPass(moduleID int) error   { return c.report("HandlePass", moduleID) }

// RunPoller refreshes the cached time at pollHz until ctx is canceled.
func (c *BombClient) RunPoller(ctx context.Context, pollHz int) error {
	if pollHz <= 0 {
		pollHz = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(pollHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.GetTime(); err != nil {
				c.logger.Warn("bomb time poll failed", "error", err)
			}
		}
	}
}
