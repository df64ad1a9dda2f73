package attach

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder/hopperapi/lib/hopper"
	"github.com/coder/hopperapi/lib/httpapi"
	"github.com/coder/hopperapi/lib/servo"
)

func startServer(t *testing.T, labels ...string) string {
	t.Helper()
	ring := hopper.NewRing[hopper.ID](hopper.DefaultRingConfig(servo.NewRecorder(16)))
	srv, err := httpapi.NewServer(context.Background(), httpapi.ServerConfig{
		Ring:           ring,
		AllowedHosts:   []string{"*"},
		AllowedOrigins: []string{"*"},
	})
	require.NoError(t, err)
	for _, label := range labels {
		_, err := srv.AddHopper(hopper.Hopper{ID: hopper.ID(label), Label: label}, nil)
		require.NoError(t, err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func receive(t *testing.T, ch <-chan tea.Msg) tea.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestReadEventsOverHTTP(t *testing.T) {
	url := startServer(t, "red", "green", "blue", "yellow", "multi")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch := make(chan tea.Msg, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ReadEventsOverHTTP(ctx, url+"/events", ch)
	}()

	msg := receive(t, ch)
	ring, ok := msg.(ringMsg)
	require.True(t, ok, "first event must be the ring state, got %T", msg)
	assert.Equal(t, 5, ring.state.Size)
	assert.Equal(t, 0, ring.state.Cursor)

	require.NoError(t, SendOverHTTP(ctx, url+"/cursor", http.MethodPut, map[string]int{"index": 4}))
	msg = receive(t, ch)
	ring, ok = msg.(ringMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 4, ring.state.Cursor)
	assert.True(t, ring.state.Multi)

	require.NoError(t, SendOverHTTP(ctx, url+"/open", http.MethodPost, nil))
	msg = receive(t, ch)
	act, ok := msg.(actuationMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, httpapi.ActuationKindOpen, act.body.Kind)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, act.body.Channels)

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop")
	}
}

func TestSendOverHTTP_Error(t *testing.T) {
	url := startServer(t)
	err := SendOverHTTP(context.Background(), url+"/open", http.MethodPost, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), hopper.ErrEmpty.Error())
	assert.Contains(t, err.Error(), "409")
}

func TestModel(t *testing.T) {
	type call struct {
		method string
		path   string
		body   any
	}
	var calls []call
	m := model{send: func(method, path string, body any) error {
		calls = append(calls, call{method, path, body})
		return nil
	}}

	updated, _ := m.Update(ringMsg{state: httpapi.RingState{
		Size:   2,
		Cursor: 1,
		Hoppers: []httpapi.Hopper{
			{ID: "red", Label: "Red", Index: 0},
			{ID: "green", Color: "#00ff00", Index: 1},
		},
	}})
	m = updated.(model)
	view := m.View()
	assert.Contains(t, view, "  [0] Red\n")
	assert.Contains(t, view, "> [1] green (#00ff00)\n")

	for _, key := range []string{"n", "o", "c", "3"} {
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
		require.NotNil(t, cmd, key)
		assert.Equal(t, errMsg{}, cmd())
	}
	assert.Equal(t, []call{
		{http.MethodPost, "/cursor/advance", nil},
		{http.MethodPost, "/open", nil},
		{http.MethodPost, "/close", nil},
		{http.MethodPut, "/cursor", map[string]int{"index": 3}},
	}, calls)

	updated, _ = m.Update(actuationMsg{body: httpapi.ActuationBody{Kind: httpapi.ActuationKindClose, Channels: []int{6}, Position: 0}})
	m = updated.(model)
	updated, _ = m.Update(errMsg{err: errors.New("servo stalled")})
	m = updated.(model)
	view = m.View()
	assert.Contains(t, view, "last: close channels [6] -> 0")
	assert.Contains(t, view, "error: servo stalled")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
