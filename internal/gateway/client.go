package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

// Client submits recorded answers to the grading service
type Client struct {
	http *resty.Client
}

// apiError is the error body returned by the grading service
type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

func New(cfg config.GatewayConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Client{http: client}
}

// SubmitAnswer uploads one answer as multipart form data
func (c *Client) SubmitAnswer(ctx context.Context, attemptID string, questionNumber int, artifact *session.Artifact) session.Result[struct{}] {
	if artifact == nil || len(artifact.Data) == 0 {
		return session.Fail[struct{}](session.ErrorKindValidation, "no recording to submit")
	}

	requestID := uuid.New().String()
	filename := answerFilename(questionNumber, artifact)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetPathParam("id", attemptID).
		SetFormData(map[string]string{"question_number": strconv.Itoa(questionNumber)}).
		SetMultipartField("audio", filename, artifact.MimeType, bytes.NewReader(artifact.Data)).
		SetError(&apiError{}).
		Post("/attempts/{id}/answers")
	if err != nil {
		slog.Error("Answer upload failed", "attempt", attemptID, "question", questionNumber, "request_id", requestID, "error", err)
		return session.Fail[struct{}](session.ErrorKindNetwork, fmt.Sprintf("network error: %v", err))
	}
	if kind, msg, failed := classify(resp); failed {
		slog.Error("Answer rejected", "attempt", attemptID, "question", questionNumber, "request_id", requestID, "status", resp.StatusCode(), "message", msg)
		return session.Fail[struct{}](kind, msg)
	}

	slog.Debug("Answer uploaded", "attempt", attemptID, "question", questionNumber, "request_id", requestID, "size", len(artifact.Data))
	return session.Ok(struct{}{})
}

// FinishAttempt finalizes the attempt once every answer is in
func (c *Client) FinishAttempt(ctx context.Context, attemptID string) session.Result[session.Finalized] {
	var out session.Finalized
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.New().String()).
		SetPathParam("id", attemptID).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/attempts/{id}/finish")
	if err != nil {
		slog.Error("Finish request failed", "attempt", attemptID, "error", err)
		return session.Fail[session.Finalized](session.ErrorKindNetwork, fmt.Sprintf("network error: %v", err))
	}
	if kind, msg, failed := classify(resp); failed {
		slog.Error("Finish rejected", "attempt", attemptID, "status", resp.StatusCode(), "message", msg)
		return session.Fail[session.Finalized](kind, msg)
	}
	if out.AttemptID == "" {
		out.AttemptID = attemptID
	}

	slog.Debug("Attempt finalized", "attempt", attemptID, "finalized", out.AttemptID)
	return session.Ok(out)
}

// classify maps a response status to a failure kind and message
func classify(resp *resty.Response) (session.ErrorKind, string, bool) {
	status := resp.StatusCode()
	if status < http.StatusBadRequest {
		return "", "", false
	}

	msg := ""
	if e, ok := resp.Error().(*apiError); ok && e != nil {
		msg = e.text()
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	if msg == "" || strings.HasPrefix(msg, "<") {
		msg = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		return session.ErrorKindServer, fmt.Sprintf("server error (%d): %s", status, msg), true
	}
	return session.ErrorKindValidation, msg, true
}

func answerFilename(questionNumber int, artifact *session.Artifact) string {
	ext := filepath.Ext(artifact.Path)
	if ext == "" {
		ext = ".ogg"
	}
	return fmt.Sprintf("question-%d%s", questionNumber, ext)
}
