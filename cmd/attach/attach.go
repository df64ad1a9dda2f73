package attach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/hopperapi/lib/httpapi"
	"github.com/spf13/cobra"
	sse "github.com/tmaxmax/go-sse"
	"golang.org/x/term"
	"golang.org/x/xerrors"
)

type model struct {
	ring          httpapi.RingState
	lastActuation *httpapi.ActuationBody
	err           error
	// send issues an API request from a key press.
	send func(method, path string, body any) error
}

func (m model) Init() tea.Cmd {
	// Just return `nil`, which means "no I/O right now, please."
	return nil
}

type ringMsg struct {
	state httpapi.RingState
}

type actuationMsg struct {
	body httpapi.ActuationBody
}

type errMsg struct {
	err error
}

type finishMsg struct{}

func (m model) request(method, path string, body any) tea.Cmd {
	return func() tea.Msg {
		if err := m.send(method, path, body); err != nil {
			return errMsg{err: err}
		}
		return errMsg{}
	}
}

//lint:ignore U1000 The Update function is used by the Bubble Tea framework
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ringMsg:
		m.ring = msg.state
	case actuationMsg:
		body := msg.body
		m.lastActuation = &body
	case errMsg:
		m.err = msg.err
	case tea.KeyMsg:
		key := msg.String()
		switch {
		case key == "ctrl+c" || key == "q":
			return m, tea.Quit
		case key == "n" || key == "right":
			return m, m.request(http.MethodPost, "/cursor/advance", nil)
		case key == "o":
			return m, m.request(http.MethodPost, "/open", nil)
		case key == "c":
			return m, m.request(http.MethodPost, "/close", nil)
		case len(key) == 1 && key[0] >= '0' && key[0] <= '9':
			return m, m.request(http.MethodPut, "/cursor", map[string]int{"index": int(key[0] - '0')})
		}
	case finishMsg:
		return m, tea.Quit
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	if m.ring.Size == 0 {
		b.WriteString("No hoppers loaded.\n")
	}
	for _, h := range m.ring.Hoppers {
		marker := "  "
		if h.Index == m.ring.Cursor || m.ring.Multi {
			marker = "> "
		}
		label := h.Label
		if label == "" {
			label = h.ID
		}
		fmt.Fprintf(&b, "%s[%d] %s", marker, h.Index, label)
		if h.Color != "" {
			fmt.Fprintf(&b, " (%s)", h.Color)
		}
		b.WriteString("\n")
	}
	if m.lastActuation != nil {
		fmt.Fprintf(&b, "\nlast: %s channels %v -> %d\n",
			m.lastActuation.Kind, m.lastActuation.Channels, m.lastActuation.Position)
	}
	if m.err != nil {
		fmt.Fprintf(&b, "\nerror: %v\n", m.err)
	}
	b.WriteString("\nn next  0-9 select  o open  c close  q quit\n")
	return b.String()
}

// ReadEventsOverHTTP follows the server's event stream and forwards every
// event as a bubbletea message until the stream ends or ctx is canceled.
func ReadEventsOverHTTP(ctx context.Context, url string, ch chan<- tea.Msg) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	req.Header.Set("Accept", "text/event-stream")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return xerrors.Errorf("failed to do request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return xerrors.Errorf("failed to subscribe: %w", errors.New(res.Status))
	}

	forward := func(msg tea.Msg) error {
		select {
		case ch <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for ev, err := range sse.Read(res.Body, &sse.ReadConfig{
		// the ring state carries every hopper's label and color
		MaxEventSize: 64 * 1024,
	}) {
		if err != nil {
			return xerrors.Errorf("failed to read sse: %w", err)
		}
		switch httpapi.EventType(ev.Type) {
		case httpapi.EventTypeRingUpdate:
			var body httpapi.RingUpdateBody
			if err := json.Unmarshal([]byte(ev.Data), &body); err != nil {
				return xerrors.Errorf("failed to unmarshal ring update: %w", err)
			}
			if err := forward(ringMsg{state: body.RingState}); err != nil {
				return err
			}
		case httpapi.EventTypeActuation:
			var body httpapi.ActuationBody
			if err := json.Unmarshal([]byte(ev.Data), &body); err != nil {
				return xerrors.Errorf("failed to unmarshal actuation: %w", err)
			}
			if err := forward(actuationMsg{body: body}); err != nil {
				return err
			}
		}
	}
	return nil
}

// SendOverHTTP issues a JSON request and fails on any non-2xx response.
func SendOverHTTP(ctx context.Context, url string, method string, body any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return xerrors.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return xerrors.Errorf("failed to do request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var problem struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(res.Body).Decode(&problem); err == nil && problem.Detail != "" {
			return xerrors.Errorf("%s: %w", problem.Detail, errors.New(res.Status))
		}
		return xerrors.Errorf("request failed: %w", errors.New(res.Status))
	}
	return nil
}

func runAttach(remoteUrl string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return xerrors.New("attach needs an interactive terminal")
	}

	send := func(method, path string, body any) error {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return SendOverHTTP(reqCtx, remoteUrl+path, method, body)
	}
	p := tea.NewProgram(model{send: send}, tea.WithAltScreen())
	eventCh := make(chan tea.Msg, 64)

	readEventsErrCh := make(chan error, 1)
	go func() {
		defer close(readEventsErrCh)
		if err := ReadEventsOverHTTP(ctx, remoteUrl+"/events", eventCh); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			readEventsErrCh <- xerrors.Errorf("failed to read events: %w", err)
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-eventCh:
				p.Send(msg)
			}
		}
	}()
	pErrCh := make(chan error, 1)
	go func() {
		_, err := p.Run()
		pErrCh <- err
		close(pErrCh)
	}()

	var err error
	select {
	case err = <-readEventsErrCh:
	case err = <-pErrCh:
		return err
	case <-ctx.Done():
		err = nil
	}

	p.Send(finishMsg{})
	select {
	case <-pErrCh:
	case <-time.After(1 * time.Second):
	}

	return err
}

var remoteUrlArg string

var AttachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to a running dispenser",
	Long:  `Attach to a running dispenser and drive it from the keyboard`,
	Run: func(cmd *cobra.Command, args []string) {
		remoteUrl := remoteUrlArg
		if remoteUrl == "" {
			fmt.Fprintln(os.Stderr, "URL is required")
			os.Exit(1)
		}
		if !strings.HasPrefix(remoteUrl, "http") {
			remoteUrl = "http://" + remoteUrl
		}
		remoteUrl = strings.TrimRight(remoteUrl, "/")
		if err := runAttach(remoteUrl); err != nil {
			fmt.Fprintf(os.Stderr, "Attach failed: %+v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	AttachCmd.Flags().StringVarP(&remoteUrlArg, "url", "u", "localhost:3284", "URL of the hopperapi server to attach to. May optionally include a protocol and a path.")
}
