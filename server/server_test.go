package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/warden/backup"
	"github.com/projecteru2/warden/command"
	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/coordinator"
	"github.com/projecteru2/warden/objstore"
	"github.com/projecteru2/warden/plugin"
	"github.com/projecteru2/warden/types"
)

// memStore is a minimal in-memory object store for engine wiring.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader, _ int64) (objstore.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return objstore.Object{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	return objstore.Object{Key: key, Size: int64(len(data))}, nil
}

func (s *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, types.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) GetRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, types.ErrNotFound
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func (s *memStore) Stat(_ context.Context, key string) (objstore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return objstore.Object{}, types.ErrNotFound
	}
	return objstore.Object{Key: key, Size: int64(len(data))}, nil
}

func (s *memStore) List(_ context.Context, prefix string) ([]objstore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []objstore.Object
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objstore.Object{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type fakeChannel struct{ available bool }

func (f *fakeChannel) Start(context.Context) error { f.available = true; return nil }
func (f *fakeChannel) Close() error                { f.available = false; return nil }
func (f *fakeChannel) Available() bool             { return f.available }
func (f *fakeChannel) Execute(_ context.Context, cmd string) (command.Result, error) {
	return command.Result{Success: true, Output: "ran " + cmd}, nil
}

type fakeProc struct{ pid int }

func (f *fakeProc) Boot(context.Context, []string) (int, error) { f.pid = 99; return f.pid, nil }
func (f *fakeProc) PID() int                                    { return f.pid }
func (f *fakeProc) Alive() bool                                 { return f.pid > 0 }
func (f *fakeProc) Terminate(context.Context) error             { f.pid = 0; return nil }
func (f *fakeProc) Kill(context.Context) error                  { f.pid = 0; return nil }

func newTestServer(t *testing.T) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	conf.DataDir = t.TempDir()
	conf.IdleStopMinutes = 0
	require.NoError(t, conf.EnsureDirs())
	// Data present so starts never reach for the store.
	require.NoError(t, os.WriteFile(conf.DataDir+"/level.dat", []byte("x"), 0o644))

	engine := backup.NewEngine(conf, &memStore{})
	coord := coordinator.New(conf, engine, &fakeChannel{}, &fakeProc{},
		plugin.NewTracker(conf, nil, func() bool { return false }))
	tracker := plugin.NewTracker(conf, []types.PluginSpec{
		{Filename: "dynmap.jar", DefaultEnabled: true},
	}, func() bool { return coord.State() == types.StateRunning })

	srv := New(conf, coord, tracker, engine)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, coord
}

func call(t *testing.T, ts *httptest.Server, method, path string, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestLifecycleEndpoints(t *testing.T) {
	ts, coord := newTestServer(t)

	code, env := call(t, ts, http.MethodGet, "/api/v1/workload/state", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	code, env = call(t, ts, http.MethodPost, "/api/v1/workload/start", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	require.Equal(t, types.StateRunning, coord.State())

	code, env = call(t, ts, http.MethodPost, "/api/v1/workload/command", `{"command":"list"}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	code, _ = call(t, ts, http.MethodPost, "/api/v1/workload/stop", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, types.StateStopped, coord.State())
}

func TestErrorTaxonomyMapsToStatusCodes(t *testing.T) {
	ts, _ := newTestServer(t)

	// Command while stopped: unavailable.
	code, env := call(t, ts, http.MethodPost, "/api/v1/workload/command", `{"command":"list"}`)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.False(t, env.Success)
	require.NotEmpty(t, env.Error)

	// Unknown plugin: not found.
	code, _ = call(t, ts, http.MethodGet, "/api/v1/plugins/nope.jar", "")
	require.Equal(t, http.StatusNotFound, code)

	// Env edit while running: conflict.
	_, _ = call(t, ts, http.MethodPost, "/api/v1/workload/start", "")
	code, _ = call(t, ts, http.MethodPut, "/api/v1/plugins/dynmap.jar/env", `{"key":"A","value":"1"}`)
	require.Equal(t, http.StatusConflict, code)

	// Unknown job: not found.
	code, _ = call(t, ts, http.MethodGet, "/api/v1/jobs/nope", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestPluginEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	code, env := call(t, ts, http.MethodGet, "/api/v1/plugins", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	code, env = call(t, ts, http.MethodPost, "/api/v1/plugins/dynmap.jar/disable", "")
	require.Equal(t, http.StatusOK, code)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var view plugin.View
	require.NoError(t, json.Unmarshal(data, &view))
	require.Equal(t, types.PluginDisableAfterRestart, view.Status)
}

func TestRestoreJobEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	// Restoring under a running workload would rewrite live world files.
	code, _ := call(t, ts, http.MethodPost, "/api/v1/workload/start", "")
	require.Equal(t, http.StatusOK, code)
	code, env := call(t, ts, http.MethodPost, "/api/v1/restores", "")
	require.Equal(t, http.StatusConflict, code)
	require.False(t, env.Success)

	code, _ = call(t, ts, http.MethodPost, "/api/v1/workload/stop", "")
	require.Equal(t, http.StatusOK, code)

	code, env = call(t, ts, http.MethodPost, "/api/v1/restores", "")
	require.Equal(t, http.StatusOK, code)
	jobID := env.Data.(map[string]any)["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		code, env := call(t, ts, http.MethodGet, "/api/v1/jobs/"+jobID, "")
		if code != http.StatusOK {
			return false
		}
		data, _ := json.Marshal(env.Data)
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return false
		}
		return job.State == types.JobSuccess
	}, 10*time.Second, 100*time.Millisecond)
}

func TestBackupJobEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	code, env := call(t, ts, http.MethodPost, "/api/v1/backups", "")
	require.Equal(t, http.StatusOK, code)
	jobID := env.Data.(map[string]any)["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		code, env := call(t, ts, http.MethodGet, "/api/v1/jobs/"+jobID, "")
		if code != http.StatusOK {
			return false
		}
		data, _ := json.Marshal(env.Data)
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return false
		}
		return job.Done()
	}, 10*time.Second, 100*time.Millisecond)
}
