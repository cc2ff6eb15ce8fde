// Package nodeclient subscribes to a node's websocket notification stream
// and feeds raw events into the ingestion pipeline. Reconnection is not
// transparent: a broken stream ends the session, and the process restarts
// to resynchronize.
package nodeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/clock"
	"github.com/dagpulse/dagpulse-backend/internal/normalizer"
)

const (
	DefaultDialTimeout   = 10 * time.Second
	DefaultDialAttempts  = 5
	DefaultDialRetryWait = 2 * time.Second

	methodBlockAdded          = "blockAdded"
	methodVirtualChainChanged = "virtualChainChanged"
)

// ErrStreamClosed reports that the notification stream ended. The session
// cannot continue; the caller resynchronizes from scratch.
var ErrStreamClosed = errors.New("node notification stream closed")

type Config struct {
	URL           string
	DialTimeout   time.Duration
	DialAttempts  int
	DialRetryWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = DefaultDialAttempts
	}
	if c.DialRetryWait <= 0 {
		c.DialRetryWait = DefaultDialRetryWait
	}
}

// notification is the envelope of one node push message.
type notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type subscribeCommand struct {
	Command string `json:"command"`
	Method  string `json:"method"`
}

type result struct {
	event normalizer.RawEvent
	err   error
}

// Client implements the ingestion event source over a websocket stream.
type Client struct {
	logger *zap.Logger
	conn   *websocket.Conn
	seq    uint64
	ch     chan result
	done   chan struct{}
}

// Dial connects to the node, subscribes to block and chain notifications,
// and starts the reader. Connection attempts are retried a bounded number
// of times; once connected, failures are fatal to the session.
func Dial(ctx context.Context, logger *zap.Logger, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}

	var conn *websocket.Conn
	var err error
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		var resp *http.Response
		conn, resp, err = dialer.DialContext(ctx, cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			break
		}
		logger.Warn("node dial failed",
			zap.String("url", cfg.URL),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == cfg.DialAttempts {
			return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
		}
		if sleepErr := clock.SleepWithContext(ctx, cfg.DialRetryWait); sleepErr != nil {
			return nil, sleepErr
		}
	}

	c := &Client{
		logger: logger,
		conn:   conn,
		ch:     make(chan result),
		done:   make(chan struct{}),
	}

	for _, method := range []string{methodBlockAdded, methodVirtualChainChanged} {
		if err := conn.WriteJSON(subscribeCommand{Command: "subscribe", Method: method}); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", method, err)
		}
	}

	go c.readLoop()
	logger.Info("node stream connected", zap.String("url", cfg.URL))
	return c, nil
}

// Next returns the next raw event with its session sequence number.
func (c *Client) Next(ctx context.Context) (normalizer.RawEvent, error) {
	select {
	case <-ctx.Done():
		return normalizer.RawEvent{}, ctx.Err()
	case res, ok := <-c.ch:
		if !ok {
			return normalizer.RawEvent{}, ErrStreamClosed
		}
		if res.err != nil {
			return normalizer.RawEvent{}, res.err
		}
		return res.event, nil
	}
}

func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// deliver hands one result to Next unless the client is closed.
func (c *Client) deliver(res result) bool {
	select {
	case c.ch <- res:
		return true
	case <-c.done:
		return false
	}
}

// readLoop pumps notifications off the socket, assigning sequence numbers
// in delivery order. Unknown methods are skipped without consuming a
// sequence number.
func (c *Client) readLoop() {
	defer close(c.ch)

	for {
		var note notification
		if err := c.conn.ReadJSON(&note); err != nil {
			c.deliver(result{err: fmt.Errorf("%w: %v", ErrStreamClosed, err)})
			return
		}

		raw, ok, err := c.decode(note)
		if err != nil {
			c.logger.Warn("malformed notification",
				zap.String("method", note.Method),
				zap.Error(err))
			continue
		}
		if !ok {
			c.logger.Debug("notification skipped", zap.String("method", note.Method))
			continue
		}

		c.seq++
		raw.Seq = c.seq
		if !c.deliver(result{event: raw}) {
			return
		}
	}
}

func (c *Client) decode(note notification) (normalizer.RawEvent, bool, error) {
	switch note.Method {
	case methodBlockAdded:
		var params struct {
			Block normalizer.RawBlock `json:"block"`
		}
		if err := json.Unmarshal(note.Params, &params); err != nil {
			return normalizer.RawEvent{}, false, fmt.Errorf("decode block added: %w", err)
		}
		return normalizer.RawEvent{BlockAdded: &params.Block}, true, nil

	case methodVirtualChainChanged:
		var params normalizer.RawChainChanged
		if err := json.Unmarshal(note.Params, &params); err != nil {
			return normalizer.RawEvent{}, false, fmt.Errorf("decode chain changed: %w", err)
		}
		return normalizer.RawEvent{ChainChanged: &params}, true, nil

	default:
		return normalizer.RawEvent{}, false, nil
	}
}
