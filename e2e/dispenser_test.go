package main_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testTimeout        = 30 * time.Second
	healthCheckTimeout = 10 * time.Second
)

type statusBody struct {
	Size     int   `json:"size"`
	Cursor   int   `json:"cursor"`
	Multi    bool  `json:"multi"`
	Channels []int `json:"channels"`
}

type actuationsBody struct {
	Actuations []struct {
		Channel  int `json:"channel"`
		Position int `json:"position"`
	} `json:"actuations"`
}

func TestE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Run("dispense", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		serverURL := setup(ctx, t, "--hoppers", "Red=#ff0000,Green,Blue,Yellow,Multi")

		var status statusBody
		do(ctx, t, http.MethodGet, serverURL+"/status", nil, &status)
		require.Equal(t, 5, status.Size)
		require.Equal(t, 0, status.Cursor)
		require.Equal(t, []int{5}, status.Channels)

		do(ctx, t, http.MethodPost, serverURL+"/cursor/advance", nil, nil)
		do(ctx, t, http.MethodPost, serverURL+"/open", nil, nil)
		do(ctx, t, http.MethodPost, serverURL+"/close", nil, nil)

		var history actuationsBody
		do(ctx, t, http.MethodGet, serverURL+"/actuations", nil, &history)
		require.Len(t, history.Actuations, 2)
		require.Equal(t, 6, history.Actuations[0].Channel)
		require.Equal(t, 60, history.Actuations[0].Position)
		require.Equal(t, 6, history.Actuations[1].Channel)
		require.Equal(t, 0, history.Actuations[1].Position)
	})

	t.Run("multi", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		serverURL := setup(ctx, t, "--hoppers", "Red,Green,Blue,Yellow,Multi")

		do(ctx, t, http.MethodPut, serverURL+"/cursor", map[string]int{"index": -1}, nil)
		var status statusBody
		do(ctx, t, http.MethodGet, serverURL+"/status", nil, &status)
		require.Equal(t, 4, status.Cursor)
		require.True(t, status.Multi)

		do(ctx, t, http.MethodPost, serverURL+"/open", nil, nil)
		var history actuationsBody
		do(ctx, t, http.MethodGet, serverURL+"/actuations", nil, &history)
		require.Len(t, history.Actuations, 5)
		for i, a := range history.Actuations {
			require.Equal(t, i, a.Channel)
			require.Equal(t, 60, a.Position)
		}
	})
}

func setup(ctx context.Context, t testing.TB, args ...string) string {
	t.Helper()

	binaryPath := os.Getenv("HOPPERAPI_BINARY_PATH")
	if binaryPath == "" {
		cwd, err := os.Getwd()
		require.NoError(t, err, "Failed to get current working directory")
		binaryPath = filepath.Join(cwd, "..", "out", "hopperapi")
	}

	_, err := os.Stat(binaryPath)
	require.NoError(t, err, "Built binary not found at %s\nRun 'go build -o out/hopperapi .' to build the binary", binaryPath)

	serverPort, err := getFreePort()
	require.NoError(t, err, "Failed to get free port for server")

	cmd := exec.CommandContext(ctx, binaryPath, append([]string{"server",
		fmt.Sprintf("--port=%d", serverPort),
		"--actuator=memory",
	}, args...)...)

	// Capture output for debugging
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err, "Failed to create stdout pipe")

	stderr, err := cmd.StderrPipe()
	require.NoError(t, err, "Failed to create stderr pipe")

	err = cmd.Start()
	require.NoError(t, err, "Failed to start hopperapi server")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		logOutput(t, "SERVER-STDOUT", stdout)
	}()

	go func() {
		defer wg.Done()
		logOutput(t, "SERVER-STDERR", stderr)
	}()

	t.Cleanup(func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		wg.Wait()
	})

	serverURL := fmt.Sprintf("http://localhost:%d", serverPort)
	require.NoError(t, waitForServer(ctx, t, serverURL+"/status", healthCheckTimeout), "Server not ready")
	return serverURL
}

func do(ctx context.Context, t testing.TB, method, url string, body, out any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%s %s: %s", method, url, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
}

// logOutput logs process output with prefix
func logOutput(t testing.TB, prefix string, r io.Reader) {
	t.Helper()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		t.Logf("[%s] %s", prefix, scanner.Text())
	}
}

// waitForServer waits for a server to be ready
func waitForServer(ctx context.Context, t testing.TB, url string, timeout time.Duration) error {
	t.Helper()
	client := &http.Client{Timeout: time.Second}
	healthCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-healthCtx.Done():
			return healthCtx.Err()
		case <-ticker.C:
			resp, err := client.Get(url)
			if err == nil {
				_ = resp.Body.Close()
				return nil
			}
		}
	}
}

// getFreePort returns a free TCP port
func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()

	return l.Addr().(*net.TCPAddr).Port, nil
}
