// Package proxy lets the credential-less sandboxed workload reach the
// object store. A long-lived control connection leases short-lived data
// channels; each data channel tunnels exactly one HTTP exchange, which the
// coordinator terminates against the store with its own credentials.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/metrics"
	"github.com/projecteru2/warden/objstore"
	"github.com/projecteru2/warden/utils"
)

const (
	// claimTimeout is how long a leased channel may sit unclaimed before
	// it is reaped and its slot reused.
	claimTimeout = 30 * time.Second
	// exchangeTimeout bounds one tunneled HTTP request/response cycle.
	exchangeTimeout = 5 * time.Minute
)

// controlMsg is one newline-delimited JSON message on the control channel.
type controlMsg struct {
	Op      string `json:"op"` // lease | release | grant | error
	Channel string `json:"channel,omitempty"`
	ID      int    `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type channelState int

const (
	// channel slots not present in the table are idle.
	stateAllocated channelState = iota + 1
	stateInUse
)

// channel is one leased data channel.
type channel struct {
	id       int
	token    string
	state    channelState
	leasedAt time.Time
	conn     net.Conn
}

// Mux is the storage proxy multiplexer.
type Mux struct {
	conf          config.ProxyConfig
	fw            objstore.Forwarder
	privateBucket string
	publicBucket  string

	controlLn net.Listener
	dataLn    net.Listener
	pool      *ants.Pool
	cancel    context.CancelFunc

	mu       sync.Mutex
	channels map[string]*channel // token → leased channel
	freeIDs  []int
	nextID   int
	control  net.Conn
}

// New creates a Mux routing to the given buckets through fw.
func New(conf config.ProxyConfig, store config.StoreConfig, fw objstore.Forwarder) *Mux {
	return &Mux{
		conf:          conf,
		fw:            fw,
		privateBucket: store.PrivateBucket,
		publicBucket:  store.PublicBucket,
		channels:      make(map[string]*channel),
	}
}

// Start opens both listeners and begins serving. It returns immediately;
// the mux keeps listening until Close.
func (m *Mux) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))

	var err error
	if m.pool, err = ants.NewPool(m.conf.MaxChannels); err != nil {
		return fmt.Errorf("init data channel pool: %w", err)
	}
	if m.controlLn, err = net.Listen("tcp", m.conf.ControlAddr); err != nil {
		return fmt.Errorf("listen control %s: %w", m.conf.ControlAddr, err)
	}
	if m.dataLn, err = net.Listen("tcp", m.conf.DataAddr); err != nil {
		m.controlLn.Close() //nolint:errcheck,gosec
		return fmt.Errorf("listen data %s: %w", m.conf.DataAddr, err)
	}

	go m.acceptControl(ctx)
	go m.acceptData(ctx)
	go m.reapLoop(ctx)
	return nil
}

// Close stops both listeners and severs all outstanding channels.
func (m *Mux) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.controlLn != nil {
		m.controlLn.Close() //nolint:errcheck,gosec
	}
	if m.dataLn != nil {
		m.dataLn.Close() //nolint:errcheck,gosec
	}
	m.teardownChannels()
	if m.pool != nil {
		m.pool.Release()
	}
	return nil
}

// ControlAddr returns the bound control listener address.
func (m *Mux) ControlAddr() string { return m.controlLn.Addr().String() }

// DataAddr returns the bound data listener address.
func (m *Mux) DataAddr() string { return m.dataLn.Addr().String() }

// acceptControl serves control connections. One workload, one control
// connection: a newcomer replaces (and tears down) the previous one.
func (m *Mux) acceptControl(ctx context.Context) {
	logger := log.WithFunc("proxy.acceptControl")
	for {
		conn, err := m.controlLn.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		prev := m.control
		m.control = conn
		m.mu.Unlock()
		if prev != nil {
			prev.Close() //nolint:errcheck,gosec
		}
		logger.Infof(ctx, "control connection from %s", conn.RemoteAddr())
		go m.serveControl(ctx, conn)
	}
}

// serveControl processes lease/release messages. It never blocks on a data
// channel: data exchanges run on the worker pool. Loss of the control
// connection is fatal to every outstanding channel.
func (m *Mux) serveControl(ctx context.Context, conn net.Conn) {
	logger := log.WithFunc("proxy.serveControl")
	defer func() {
		m.mu.Lock()
		mine := m.control == conn
		if mine {
			m.control = nil
		}
		m.mu.Unlock()
		conn.Close() //nolint:errcheck,gosec
		if mine {
			m.teardownChannels()
			logger.Warnf(ctx, "control connection lost, all channels severed")
		}
	}()

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg controlMsg
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			_ = enc.Encode(controlMsg{Op: "error", Error: "malformed control message"})
			continue
		}
		switch msg.Op {
		case "lease":
			ch, err := m.lease()
			if err != nil {
				_ = enc.Encode(controlMsg{Op: "error", Error: err.Error()})
				continue
			}
			_ = enc.Encode(controlMsg{Op: "grant", Channel: ch.token, ID: ch.id})
		case "release":
			m.release(msg.Channel)
		default:
			_ = enc.Encode(controlMsg{Op: "error", Error: "unknown op " + msg.Op})
		}
	}
}

// lease allocates a channel slot, reusing freed ids before minting new ones.
func (m *Mux) lease() (*channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) >= m.conf.MaxChannels {
		return nil, fmt.Errorf("channel limit %d reached", m.conf.MaxChannels)
	}
	var id int
	if n := len(m.freeIDs); n > 0 {
		id = m.freeIDs[n-1]
		m.freeIDs = m.freeIDs[:n-1]
	} else {
		id = m.nextID
		m.nextID++
	}
	ch := &channel{
		id:       id,
		token:    utils.RandomToken(),
		state:    stateAllocated,
		leasedAt: time.Now(),
	}
	m.channels[ch.token] = ch
	metrics.ProxyChannelsLeased.Set(float64(len(m.channels)))
	return ch, nil
}

// release frees a channel slot and recycles its id.
func (m *Mux) release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(token)
}

func (m *Mux) releaseLocked(token string) {
	ch, ok := m.channels[token]
	if !ok {
		return
	}
	delete(m.channels, token)
	m.freeIDs = append(m.freeIDs, ch.id)
	if ch.conn != nil {
		ch.conn.Close() //nolint:errcheck,gosec
	}
	metrics.ProxyChannelsLeased.Set(float64(len(m.channels)))
}

// claim binds a data connection to its leased channel.
func (m *Mux) claim(token string, conn net.Conn) (*channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[token]
	if !ok {
		return nil, fmt.Errorf("unknown channel token")
	}
	if ch.state != stateAllocated {
		return nil, fmt.Errorf("channel %d already in use", ch.id)
	}
	ch.state = stateInUse
	ch.conn = conn
	return ch, nil
}

// teardownChannels severs every outstanding channel.
func (m *Mux) teardownChannels() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, ch := range m.channels {
		if ch.conn != nil {
			ch.conn.Close() //nolint:errcheck,gosec
		}
		delete(m.channels, token)
		m.freeIDs = append(m.freeIDs, ch.id)
	}
	metrics.ProxyChannelsLeased.Set(0)
}

// reapLoop recycles leased channels that were never claimed.
func (m *Mux) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(claimTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-claimTimeout)
			m.mu.Lock()
			for token, ch := range m.channels {
				if ch.state == stateAllocated && ch.leasedAt.Before(cutoff) {
					m.releaseLocked(token)
				}
			}
			m.mu.Unlock()
		}
	}
}

// acceptData hands each data connection to the worker pool.
func (m *Mux) acceptData(ctx context.Context) {
	logger := log.WithFunc("proxy.acceptData")
	for {
		conn, err := m.dataLn.Accept()
		if err != nil {
			return
		}
		if err := m.pool.Submit(func() { m.serveData(ctx, conn) }); err != nil {
			logger.Warnf(ctx, "data pool saturated: %v", err)
			conn.Close() //nolint:errcheck,gosec
		}
	}
}

// serveData tunnels exactly one HTTP exchange: token line, request, signed
// forward, response, done. The channel is released whatever happens.
func (m *Mux) serveData(ctx context.Context, conn net.Conn) {
	logger := log.WithFunc("proxy.serveData")
	defer conn.Close() //nolint:errcheck

	_ = conn.SetDeadline(time.Now().Add(exchangeTimeout))

	br := bufio.NewReader(conn)
	token, err := br.ReadString('\n')
	if err != nil {
		return
	}
	token = strings.TrimSpace(token)

	ch, err := m.claim(token, conn)
	if err != nil {
		logger.Warnf(ctx, "data connection rejected: %v", err)
		return
	}
	defer m.release(token)

	req, err := http.ReadRequest(br)
	if err != nil {
		logger.Warnf(ctx, "channel %d: bad request: %v", ch.id, err)
		return
	}
	defer req.Body.Close() //nolint:errcheck

	bucket, path := m.route(req.URL.Path)
	req.URL.Path = path
	req.RequestURI = ""

	resp, err := m.fw.Forward(req.WithContext(ctx), bucket)
	if err != nil {
		logger.Warnf(ctx, "channel %d: forward: %v", ch.id, err)
		writeBadGateway(conn, err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resp.Write(conn); err != nil {
		logger.Warnf(ctx, "channel %d: relay response: %v", ch.id, err)
	}
}

// route maps a request path to its backing bucket. Paths under the public
// prefix go to the public bucket with the prefix stripped; everything else
// stays in the private bucket.
func (m *Mux) route(path string) (bucket, rest string) {
	if m.publicBucket != "" && strings.HasPrefix(path, m.conf.PublicPrefix) {
		return m.publicBucket, "/" + strings.TrimPrefix(path, m.conf.PublicPrefix)
	}
	return m.privateBucket, path
}

func writeBadGateway(conn net.Conn, err error) {
	resp := http.Response{
		StatusCode: http.StatusBadGateway,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"X-Warden-Proxy-Error": []string{err.Error()}},
	}
	_ = resp.Write(conn)
}
