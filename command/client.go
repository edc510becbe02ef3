// Package command maintains the authenticated console channel to the
// workload. The wire protocol carries no correlation id, so every call is
// serialized through a single-flight queue regardless of caller concurrency.
package command

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/metrics"
	"github.com/projecteru2/warden/retry"
	"github.com/projecteru2/warden/types"
)

// Result is the outcome of one console command.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

type request struct {
	cmd  string
	resp chan response
}

type response struct {
	result Result
	err    error
}

// Client owns one logical connection to the workload console port.
type Client struct {
	addr    string
	secret  string
	timeout time.Duration

	// dial is swappable for tests.
	dial func(ctx context.Context) (net.Conn, error)

	requests  chan request
	connected atomic.Bool

	// cancel and done belong to the current run; Start replaces both, so a
	// client can be stopped and started again across workload restarts.
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Client for the configured console port. Call Start to
// connect.
func New(conf config.ConsoleConfig) *Client {
	c := &Client{
		addr:     conf.Addr,
		secret:   conf.Secret,
		timeout:  time.Duration(conf.TimeoutSeconds) * time.Second,
		requests: make(chan request),
	}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", c.addr)
	}
	return c
}

// Start launches the connection manager: connect with capped exponential
// backoff, serve queued requests one at a time, reconnect on any error.
// Returns once the first connection attempt resolves, so callers learn
// immediately whether the console is reachable after boot.
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	conn, err := c.connect(ctx)
	if err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go c.run(ctx, conn, done)
	return nil
}

// Close tears the channel down. Queued callers receive ErrUnavailable.
func (c *Client) Close() error {
	c.connected.Store(false)
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return nil
}

// Available reports whether the channel currently has a live connection.
func (c *Client) Available() bool { return c.connected.Load() }

// Execute runs one console command and returns its output. During a
// reconnect window it fails fast with types.ErrUnavailable instead of
// blocking behind the backoff loop.
func (c *Client) Execute(ctx context.Context, cmd string) (Result, error) {
	if !c.connected.Load() {
		return Result{}, fmt.Errorf("execute %q: %w", cmd, types.ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := request{cmd: cmd, resp: make(chan response, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return Result{}, fmt.Errorf("execute %q: queue: %w", cmd, ctx.Err())
	}

	select {
	case resp := <-req.resp:
		if resp.err != nil {
			return Result{}, fmt.Errorf("execute %q: %w", cmd, resp.err)
		}
		return resp.result, nil
	case <-ctx.Done():
		// The worker still owns the request; its eventual response is
		// drained by the buffered channel.
		return Result{}, fmt.Errorf("execute %q: %w", cmd, ctx.Err())
	}
}

// Convenience wrappers over well-known console commands.

// Status returns the server status line.
func (c *Client) Status(ctx context.Context) (Result, error) { return c.Execute(ctx, "status") }

// Players returns the online player list.
func (c *Client) Players(ctx context.Context) (Result, error) { return c.Execute(ctx, "list") }

// Info returns the build/version banner.
func (c *Client) Info(ctx context.Context) (Result, error) { return c.Execute(ctx, "version") }

// connect dials and authenticates. The shared secret goes out in the one
// authentication frame; anything but an auth-ok reply is permanent.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial console %s: %w", c.addr, err)
	}

	deadline := time.Now().Add(c.timeout)
	_ = conn.SetDeadline(deadline)
	if err := writeFrame(conn, frameAuth, []byte(c.secret)); err != nil {
		conn.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("send auth: %w", err)
	}
	typ, _, err := readFrame(conn)
	if err != nil {
		conn.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("read auth reply: %w", err)
	}
	if typ != frameAuthOK {
		conn.Close() //nolint:errcheck,gosec
		return nil, retry.Permanent(fmt.Errorf("console rejected credentials"))
	}
	_ = conn.SetDeadline(time.Time{})

	c.connected.Store(true)
	return conn, nil
}

// run serves requests over conn until it fails, then reconnects with capped
// exponential backoff, forever, until the client is closed.
func (c *Client) run(ctx context.Context, conn net.Conn, done chan struct{}) {
	logger := log.WithFunc("command.run")
	defer close(done)

	reconnect := retry.Policy{
		MaxAttempts: 0, // unbounded; give up only when the client closes
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Jitter:      0.2,
	}

	for {
		err := c.serve(ctx, conn)
		conn.Close() //nolint:errcheck,gosec
		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		logger.Warnf(ctx, "console channel lost: %v — reconnecting", err)

		err = reconnect.Do(ctx, func() error {
			metrics.CommandRetries.Inc()
			var cerr error
			conn, cerr = c.connect(ctx)
			return cerr
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnf(ctx, "console reconnect abandoned: %v", err)
			}
			return
		}
		logger.Infof(ctx, "console channel restored")
	}
}

// serve processes requests strictly one at a time: write the command frame,
// read exactly one response frame, answer the caller, repeat.
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.requests:
			_ = conn.SetDeadline(time.Now().Add(c.timeout))
			result, err := roundTrip(conn, req.cmd)
			if err != nil {
				req.resp <- response{err: fmt.Errorf("%w: %v", types.ErrUnavailable, err)}
				return err
			}
			req.resp <- response{result: result}
		}
	}
}

func roundTrip(conn net.Conn, cmd string) (Result, error) {
	if err := writeFrame(conn, frameCommand, []byte(cmd)); err != nil {
		return Result{}, err
	}
	typ, payload, err := readFrame(conn)
	if err != nil {
		return Result{}, err
	}
	if typ != frameResponse || len(payload) < 1 {
		return Result{}, fmt.Errorf("unexpected frame type 0x%02x", typ)
	}
	return Result{Success: payload[0] == responseOK, Output: string(payload[1:])}, nil
}
