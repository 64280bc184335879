package jupyter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/jupyter/jupytertest"
)

func newTestManager(t *testing.T, token string) (*SessionManager, *jupytertest.Server) {
	t.Helper()
	srv := jupytertest.New(token)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, token)
	require.NoError(t, err)
	return NewSessionManager(client, nil), srv
}

func waitStatus(t *testing.T, s *Session, want domain.KernelStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com", "")
	assert.Error(t, err)

	c, err := NewClient("http://localhost:8888/lab/", "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888/lab", c.BaseURL())
	assert.Equal(t, "http://localhost:8888/lab/api/contents/a/b.ipynb", c.endpoint("api", "contents", "a", "b.ipynb"))
}

func TestWebsocketURL(t *testing.T) {
	c, err := NewClient("https://hub.example.com/user/x", "")
	require.NoError(t, err)
	u := c.websocketURL("api/kernels/k1/channels", nil)
	assert.Equal(t, "wss://hub.example.com/user/x/api/kernels/k1/channels", u)
}

func TestContentsLifecycle(t *testing.T) {
	m, srv := newTestManager(t, "secret")
	ctx := context.Background()

	model, err := m.Client().NewUntitled(ctx, "work/nb", "notebook")
	require.NoError(t, err)
	assert.Equal(t, "work/nb/Untitled1.ipynb", model.Path)

	renamed, err := m.Client().Rename(ctx, model.Path, "work/nb/t-1.ipynb")
	require.NoError(t, err)
	assert.Equal(t, "work/nb/t-1.ipynb", renamed.Path)
	assert.Equal(t, []string{"work/nb/t-1.ipynb"}, srv.Files())

	require.NoError(t, m.Client().Delete(ctx, renamed.Path))
	assert.Empty(t, srv.Files())
}

func TestBadTokenIsHTTPError(t *testing.T) {
	srv := jupytertest.New("secret")
	defer srv.Close()
	client, err := NewClient(srv.URL, "wrong")
	require.NoError(t, err)

	_, err = client.NewUntitled(context.Background(), "", "notebook")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 403, httpErr.StatusCode)
}

func TestStartNewReportsIdle(t *testing.T) {
	m, srv := newTestManager(t, "")
	ctx := context.Background()

	s, err := m.StartNew(ctx, SessionOptions{Path: "a.ipynb", Name: "a", KernelName: "python3"})
	require.NoError(t, err)
	assert.True(t, s.Owned())
	assert.NotEmpty(t, s.ID())
	assert.NotEmpty(t, s.KernelID())
	assert.Equal(t, "a.ipynb", s.Path())

	waitStatus(t, s, domain.StatusIdle)
	require.Len(t, srv.SessionRequests(), 1)
	assert.Equal(t, "python3", srv.SessionRequests()[0].KernelName)

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, domain.StatusDead, s.Status())
	assert.Equal(t, []string{s.ID()}, srv.DeletedSessions())
	assert.Zero(t, srv.KernelCount())
}

func TestStartNewFailure(t *testing.T) {
	m, srv := newTestManager(t, "")
	srv.FailNextSessions(1)

	_, err := m.StartNew(context.Background(), SessionOptions{Path: "a.ipynb", KernelName: "python3"})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 500, httpErr.StatusCode)
}

func TestConnectToIsNotOwned(t *testing.T) {
	m, srv := newTestManager(t, "")
	kernelID := srv.AddKernel("python3")

	s, err := m.ConnectTo(context.Background(), kernelID)
	require.NoError(t, err)
	assert.False(t, s.Owned())
	assert.Empty(t, s.ID())
	waitStatus(t, s, domain.StatusIdle)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 1, srv.KernelCount(), "attached kernel must survive shutdown")
}

func TestStatusListenersInOrder(t *testing.T) {
	m, srv := newTestManager(t, "")
	s, err := m.StartNew(context.Background(), SessionOptions{Path: "a.ipynb", KernelName: "python3"})
	require.NoError(t, err)
	defer s.Close()
	waitStatus(t, s, domain.StatusIdle)

	got := make(chan domain.KernelStatus, 10)
	unsubscribe := s.OnStatusChanged(func(st domain.KernelStatus) { got <- st })

	srv.PublishStatus(s.KernelID(), "busy")
	srv.PublishStatus(s.KernelID(), "idle")
	srv.PublishStatus(s.KernelID(), "autorestarting")

	assert.Equal(t, domain.StatusBusy, <-got)
	assert.Equal(t, domain.StatusIdle, <-got)
	assert.Equal(t, domain.StatusRestarting, <-got)

	unsubscribe()
	srv.PublishStatus(s.KernelID(), "idle")
	waitStatus(t, s, domain.StatusIdle)
	assert.Empty(t, got)
}

func TestDebugTransportRoundTrip(t *testing.T) {
	m, srv := newTestManager(t, "")
	srv.SetDebugHandler(func(req json.RawMessage) (json.RawMessage, []json.RawMessage) {
		reply, events := jupytertest.EchoDebugHandler(req)
		ev, _ := json.Marshal(map[string]any{
			"seq": 1, "type": "event", "event": "stopped",
			"body": map[string]any{"reason": "breakpoint", "threadId": 1},
		})
		return reply, append(events, ev)
	})

	s, err := m.StartNew(context.Background(), SessionOptions{Path: "a.ipynb", KernelName: "python3"})
	require.NoError(t, err)
	defer s.Close()

	tr := s.DebugTransport()
	assert.Same(t, tr, s.DebugTransport())

	req := &dap.ThreadsRequest{Request: dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: 7, Type: "request"},
		Command:         "threads",
	}}
	require.NoError(t, tr.Send(req))

	msg, err := tr.Receive()
	require.NoError(t, err)
	resp, ok := msg.(*dap.ThreadsResponse)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 7, resp.RequestSeq)

	msg, err = tr.Receive()
	require.NoError(t, err)
	ev, ok := msg.(*dap.StoppedEvent)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 1, ev.Body.ThreadId)

	require.NoError(t, tr.Close())
	_, err = tr.Receive()
	assert.Error(t, err)
	assert.Error(t, tr.Send(req))
}
