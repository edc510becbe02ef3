package command

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/types"
)

// fakeConsole speaks the console wire protocol: auth frame, then echoes
// every command back as "echo:<cmd>".
type fakeConsole struct {
	ln     net.Listener
	secret string

	mu    sync.Mutex
	conns []net.Conn
}

func startFakeConsole(t *testing.T, secret string) *fakeConsole {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fc := &fakeConsole{ln: ln, secret: secret}
	go fc.acceptLoop()
	t.Cleanup(fc.stop)
	return fc
}

func (fc *fakeConsole) addr() string { return fc.ln.Addr().String() }

func (fc *fakeConsole) acceptLoop() {
	for {
		conn, err := fc.ln.Accept()
		if err != nil {
			return
		}
		fc.mu.Lock()
		fc.conns = append(fc.conns, conn)
		fc.mu.Unlock()
		go fc.handle(conn)
	}
}

func (fc *fakeConsole) handle(conn net.Conn) {
	defer conn.Close()

	typ, payload, err := readFrame(conn)
	if err != nil || typ != frameAuth {
		return
	}
	if string(payload) != fc.secret {
		_ = writeFrame(conn, frameAuthDeny, nil)
		return
	}
	if err := writeFrame(conn, frameAuthOK, nil); err != nil {
		return
	}

	for {
		typ, payload, err := readFrame(conn)
		if err != nil || typ != frameCommand {
			return
		}
		resp := append([]byte{responseOK}, []byte("echo:"+string(payload))...)
		if err := writeFrame(conn, frameResponse, resp); err != nil {
			return
		}
	}
}

// dropConns severs all live connections without stopping the listener.
func (fc *fakeConsole) dropConns() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, c := range fc.conns {
		_ = c.Close()
	}
	fc.conns = nil
}

func (fc *fakeConsole) stop() {
	_ = fc.ln.Close()
	fc.dropConns()
}

func newTestClient(addr, secret string) *Client {
	return New(config.ConsoleConfig{Addr: addr, Secret: secret, TimeoutSeconds: 5})
}

func TestExecuteEchoes(t *testing.T) {
	fc := startFakeConsole(t, "hunter2")
	c := newTestClient(fc.addr(), "hunter2")
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	res, err := c.Execute(context.Background(), "status")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "echo:status", res.Output)
}

func TestAuthRejected(t *testing.T) {
	fc := startFakeConsole(t, "hunter2")
	c := newTestClient(fc.addr(), "wrong")
	require.Error(t, c.Start(context.Background()))
	require.False(t, c.Available())
}

func TestConcurrentCallersGetOwnResponses(t *testing.T) {
	fc := startFakeConsole(t, "hunter2")
	c := newTestClient(fc.addr(), "hunter2")
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	outs := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("say hello-%d", i)
			res, err := c.Execute(context.Background(), cmd)
			errs[i] = err
			outs[i] = res.Output
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		// Each caller sees exactly its own echo, never another caller's.
		require.Equal(t, fmt.Sprintf("echo:say hello-%d", i), outs[i])
	}
}

func TestFailFastWhileDisconnected(t *testing.T) {
	fc := startFakeConsole(t, "hunter2")
	c := newTestClient(fc.addr(), "hunter2")
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	// Take the console fully away so reconnects cannot succeed.
	fc.stop()

	require.Eventually(t, func() bool {
		_, err := c.Execute(context.Background(), "poke")
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)

	_, err := c.Execute(context.Background(), "status")
	require.ErrorIs(t, err, types.ErrUnavailable)
}

func TestReconnectAfterDrop(t *testing.T) {
	fc := startFakeConsole(t, "hunter2")
	c := newTestClient(fc.addr(), "hunter2")
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	fc.dropConns()

	// The listener is still up: the client reconnects and serves again.
	require.Eventually(t, func() bool {
		res, err := c.Execute(context.Background(), "status")
		return err == nil && res.Output == "echo:status"
	}, 10*time.Second, 50*time.Millisecond)
}

func TestStartCloseCyclesReuseOneClient(t *testing.T) {
	fc := startFakeConsole(t, "hunter2")
	c := newTestClient(fc.addr(), "hunter2")

	// The daemon keeps one client across workload restarts, so every
	// stop/start cycle must leave the client fully serviceable again.
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Start(context.Background()))
		res, err := c.Execute(context.Background(), "status")
		require.NoError(t, err)
		require.Equal(t, "echo:status", res.Output)

		require.NoError(t, c.Close())
		require.False(t, c.Available())
		_, err = c.Execute(context.Background(), "status")
		require.ErrorIs(t, err, types.ErrUnavailable)
	}
}

func TestExecuteWithoutStartIsUnavailable(t *testing.T) {
	c := newTestClient("127.0.0.1:1", "secret")
	_, err := c.Execute(context.Background(), "status")
	require.ErrorIs(t, err, types.ErrUnavailable)
}
