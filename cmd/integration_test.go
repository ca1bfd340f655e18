package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/feedstack/internal/config"
)

// syncBuffer collects child process output written from the exec copier goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type feedstackProcess struct {
	cmd     *exec.Cmd
	output  *syncBuffer
	done    chan struct{}
	waitErr error
}

// buildBinary compiles the command once into dir so startup time is not
// spent inside the readiness window.
func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	bin := filepath.Join(dir, "feedstack")
	build := exec.Command("go", "build", "-o", bin, ".")
	build.Env = append(os.Environ(), "GOFLAGS=")
	out, err := build.CombinedOutput()
	require.NoErrorf(t, err, "go build failed:\n%s", out)
	return bin
}

func launch(t *testing.T, bin, configPath string, env ...string) *feedstackProcess {
	t.Helper()
	output := &syncBuffer{}
	cmd := exec.Command(bin, "-config", configPath)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = output
	cmd.Stderr = output
	require.NoError(t, cmd.Start())

	proc := &feedstackProcess{cmd: cmd, output: output, done: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()
	t.Cleanup(func() { proc.terminate(t) })
	return proc
}

func (p *feedstackProcess) terminate(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	default:
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	}
	if t.Failed() {
		t.Logf("feedstack output:\n%s", p.output.String())
	}
}

// awaitReady polls target until it answers below 500, the process exits or ctx ends.
func awaitReady(ctx context.Context, client httpDoer, target string, proc *feedstackProcess) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
		}
		select {
		case <-proc.done:
			return fmt.Errorf("feedstack exited before becoming ready: %v", proc.waitErr)
		case <-ctx.Done():
			return errors.Join(errors.New("feedstack never became ready"), ctx.Err())
		case <-ticker.C:
		}
	}
}

func writeIntegrationConfig(t *testing.T, dir, listen, upstream string) string {
	t.Helper()
	host, portText, err := net.SplitHostPort(listen)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	doc, err := yaml.Parser().Marshal(map[string]any{
		"server": map[string]any{
			"listen":  map[string]any{"address": host, "port": port},
			"logging": map[string]any{"format": "text", "level": "warn"},
		},
		"storage": map[string]any{
			"backend": "sqlite",
			"sqlite":  map[string]any{"path": filepath.Join(dir, "feedstack.db")},
		},
		"cache": map[string]any{
			"defaultTTL":      "5m",
			"janitorInterval": "1m",
		},
		"newsapi": map[string]any{
			"baseURL":  upstream,
			"retryMax": 0,
		},
	})
	require.NoError(t, err)

	path := filepath.Join(dir, "feedstack.yaml")
	require.NoError(t, os.WriteFile(path, doc, 0o600))
	return path
}

// freeAddress reserves a loopback port and releases it for the child to bind.
func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestIntegrationServerStartup(t *testing.T) {
	if os.Getenv("FEEDSTACK_INTEGRATION") == "" {
		t.Skip("set FEEDSTACK_INTEGRATION=1 to run integration tests")
	}
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	var upstreamHits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
		if r.Header.Get("X-Api-Key") != "integration-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":"error","code":"apiKeyInvalid","message":"bad key"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","totalResults":1,"articles":[{"source":{"id":null,"name":"Wire"},"title":"Integration","url":"https://example.com/integration"}]}`))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	listen := freeAddress(t)
	configPath := writeIntegrationConfig(t, dir, listen, upstream.URL)

	cfg, err := config.NewLoader("FEEDSTACK", configPath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Storage.Backend)

	proc := launch(t, buildBinary(t, dir), configPath,
		"FEEDSTACK_SERVER__LOGGING__LEVEL=debug",
		"FEEDSTACK_NEWSAPI__APIKEY=integration-key",
	)

	client := &http.Client{Timeout: 5 * time.Second}
	base := "http://" + listen
	readyCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, awaitReady(readyCtx, client, base+"/healthz", proc))

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  base,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   client,
	})

	t.Run("headlines are fetched then cached", func(t *testing.T) {
		expect.GET("/v1/headlines").Expect().Status(http.StatusOK).
			JSON().Object().Value("fromCache").Boolean().IsFalse()
		expect.GET("/v1/headlines").Expect().Status(http.StatusOK).
			JSON().Object().Value("fromCache").Boolean().IsTrue()
		require.EqualValues(t, 1, upstreamHits.Load(), "output:\n%s", proc.output.String())
	})

	t.Run("bookmarks persist in sqlite", func(t *testing.T) {
		expect.POST("/v1/bookmarks").
			WithJSON(map[string]string{"url": "https://example.com/integration", "title": "Integration"}).
			Expect().Status(http.StatusCreated)
		expect.GET("/v1/bookmarks").Expect().Status(http.StatusOK).
			JSON().Array().Length().IsEqual(1)
	})

	t.Run("request id is echoed", func(t *testing.T) {
		expect.GET("/healthz").WithHeader("X-Request-ID", "integration-trace").
			Expect().Header("X-Request-ID").IsEqual("integration-trace")
	})
}
