package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.GatewayConfig{BaseURL: srv.URL, Token: "secret", Timeout: 2 * time.Second})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func answer() *session.Artifact {
	return &session.Artifact{Data: []byte("opus-bytes"), MimeType: "audio/ogg", Path: "/tmp/answer-1.ogg"}
}

func TestSubmitAnswer_SendsMultipart(t *testing.T) {
	type received struct {
		path, auth, requestID, question, filename, contentType, audio string
	}
	got := make(chan received, 1)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)

		got <- received{
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			requestID:   r.Header.Get("X-Request-ID"),
			question:    r.FormValue("question_number"),
			filename:    header.Filename,
			contentType: header.Header.Get("Content-Type"),
			audio:       string(data),
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true})
	})

	res := client.SubmitAnswer(context.Background(), "att-9", 3, answer())
	require.True(t, res.OK, "unexpected failure: %s", res.Message)

	r := <-got
	assert.Equal(t, "/attempts/att-9/answers", r.path)
	assert.Equal(t, "Bearer secret", r.auth)
	assert.Equal(t, "3", r.question)
	assert.Equal(t, "question-3.ogg", r.filename)
	assert.Equal(t, "audio/ogg", r.contentType)
	assert.Equal(t, "opus-bytes", r.audio)
	_, err := uuid.Parse(r.requestID)
	assert.NoError(t, err, "request id should be a uuid")
}

func TestSubmitAnswer_ValidationMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "error": "recording too short"})
	})

	res := client.SubmitAnswer(context.Background(), "att-1", 1, answer())
	assert.False(t, res.OK)
	assert.Equal(t, session.ErrorKindValidation, res.Kind)
	assert.Equal(t, "recording too short", res.Message)
}

func TestSubmitAnswer_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	})

	res := client.SubmitAnswer(context.Background(), "att-1", 1, answer())
	assert.False(t, res.OK)
	assert.Equal(t, session.ErrorKindServer, res.Kind)
	assert.Contains(t, res.Message, "503")
	assert.Contains(t, res.Message, "database unavailable")
}

func TestSubmitAnswer_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(config.GatewayConfig{BaseURL: url, Timeout: time.Second})
	res := client.SubmitAnswer(context.Background(), "att-1", 1, answer())
	assert.False(t, res.OK)
	assert.Equal(t, session.ErrorKindNetwork, res.Kind)
}

func TestSubmitAnswer_EmptyArtifact(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	res := client.SubmitAnswer(context.Background(), "att-1", 1, &session.Artifact{})
	assert.False(t, res.OK)
	assert.Equal(t, session.ErrorKindValidation, res.Kind)
}

func TestFinishAttempt(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/attempts/att-5/finish", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"finalized_attempt_id": "final-77"})
	})

	res := client.FinishAttempt(context.Background(), "att-5")
	require.True(t, res.OK, "unexpected failure: %s", res.Message)
	assert.Equal(t, "final-77", res.Value.AttemptID)
}

func TestFinishAttempt_Conflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"message": "answers missing for question 2"})
	})

	res := client.FinishAttempt(context.Background(), "att-5")
	assert.False(t, res.OK)
	assert.Equal(t, session.ErrorKindValidation, res.Kind)
	assert.Equal(t, "answers missing for question 2", res.Message)
}
