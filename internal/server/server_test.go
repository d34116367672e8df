package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/notify"
	"github.com/audiolibrelab/speakcapture/internal/service"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

// fakeService records actions and serves scripted state
type fakeService struct {
	mu      sync.Mutex
	actions []service.Action
	doErr   error
	snap    session.Snapshot
	updates chan session.Snapshot
	feed    *notify.Feed
	events  []notify.Event
}

func newFakeService() *fakeService {
	return &fakeService{
		snap:    session.Snapshot{AttemptID: "att-1", Phase: session.PhaseIdle, Total: 2, Submitted: []int{}},
		updates: make(chan session.Snapshot, 4),
		feed:    notify.NewFeed(),
	}
}

func (f *fakeService) Run(ctx context.Context) error { return nil }
func (f *fakeService) Close()                        {}

func (f *fakeService) Do(action service.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doErr != nil {
		return f.doErr
	}
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeService) Actions() []service.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.Action(nil), f.actions...)
}

func (f *fakeService) Snapshot() session.Snapshot { return f.snap }

func (f *fakeService) Updates() (<-chan session.Snapshot, func()) {
	return f.updates, func() {}
}

func (f *fakeService) Toasts() (<-chan notify.Toast, func()) {
	return f.feed.Subscribe()
}

func (f *fakeService) GetConfig() *config.Config { return &config.Config{Part: "part2"} }
func (f *fakeService) GetLastError() string      { return "upload failed" }

func (f *fakeService) RecentTelemetry(ctx context.Context, limit int) ([]notify.Event, error) {
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func TestHandleStatus(t *testing.T) {
	srv := New(newFakeService(), "127.0.0.1:0")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "part2", resp.Part)
	assert.Equal(t, "upload failed", resp.LastError)
	assert.Equal(t, session.PhaseIdle, resp.Session.Phase)
	assert.Equal(t, 2, resp.Session.Total)
}

func TestHandleStatus_MethodNotAllowed(t *testing.T) {
	srv := New(newFakeService(), "127.0.0.1:0")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestActionRoutes(t *testing.T) {
	svc := newFakeService()
	srv := New(svc, "127.0.0.1:0")

	for path, action := range actionRoutes {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusAccepted, rec.Code, path)

		actions := svc.Actions()
		require.NotEmpty(t, actions)
		assert.Equal(t, action, actions[len(actions)-1], path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submit", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAction_SessionClosed(t *testing.T) {
	svc := newFakeService()
	svc.doErr = session.ErrClosed
	srv := New(svc, "127.0.0.1:0")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/record/start", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "session controller closed")
}

func TestHandleTelemetry(t *testing.T) {
	svc := newFakeService()
	svc.events = []notify.Event{{ID: "e1", Name: session.EventSubmitSuccess}, {ID: "e2", Name: session.EventRecordStop}}
	srv := New(svc, "127.0.0.1:0")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool           `json:"success"`
		Events  []notify.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "e1", resp.Events[0].ID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIndex(t *testing.T) {
	srv := New(newFakeService(), "127.0.0.1:0")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/record/start")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStream(t *testing.T) {
	svc := newFakeService()
	ts := httptest.NewServer(New(svc, "127.0.0.1:0").Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	svc.updates <- session.Snapshot{Phase: session.PhaseRecording, ElapsedMs: 400}
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, session.PhaseRecording, msg.Snapshot.Phase)

	// the toast subscription exists once the first frame went out
	svc.feed.Toast(session.ToastInfo, "Time is up.")
	msg = StreamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "toast", msg.Type)
	require.NotNil(t, msg.Toast)
	assert.Equal(t, "Time is up.", msg.Toast.Message)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: service.ActionStop}))
	require.Eventually(t, func() bool {
		actions := svc.Actions()
		return len(actions) == 1 && actions[0] == service.ActionStop
	}, 2*time.Second, 5*time.Millisecond)
}
