package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

type tokenTable map[string]string

func (t tokenTable) ParseToken(token string) (string, error) {
	if user, ok := t[token]; ok {
		return user, nil
	}
	return "", errors.New("bad token")
}

type jobTable map[uuid.UUID]*models.Job

func (j jobTable) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if job, ok := j[id]; ok {
		return job, nil
	}
	return nil, models.ErrJobNotFound
}

func newTestHub(t *testing.T) (*Hub, *models.Job, *httptest.Server) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	job := &models.Job{
		ID:          uuid.New(),
		RequestedBy: "alice",
		Status:      models.JobTranscribing,
		Chunks: []models.ChunkDescriptor{
			{Stage: models.StageExtraction, Seq: 0, Status: models.ChunkDone},
			{Stage: models.StageTranscription, Seq: 0, Status: models.ChunkRunning},
		},
	}
	hub := NewHub(tokenTable{"a": "alice", "b": "bob"}, jobTable{job.ID: job}, log)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, job, srv
}

func wsURL(srv *httptest.Server, token string, jobID uuid.UUID) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token + "&job_id=" + jobID.String()
}

func readMessage(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg models.WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubSendsSnapshotThenEvents(t *testing.T) {
	hub, job, srv := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "a", job.ID), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, models.EventStatusUpdate, first.Type)
	payload := first.Payload.(map[string]interface{})
	assert.Equal(t, "transcribing", payload["status"])
	assert.EqualValues(t, 1, payload["chunks_done"])
	assert.EqualValues(t, 2, payload["chunks_total"])

	require.Eventually(t, func() bool { return hub.Watchers(job.ID) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), job.ID, models.WSMessage{
		Type:    models.EventChunkDone,
		Payload: models.ChunkEvent{JobID: job.ID, Stage: models.StageTranscription, Seq: 0, Attempts: 1},
	}))
	// Events for other jobs are not delivered.
	require.NoError(t, hub.Publish(context.Background(), uuid.New(), models.WSMessage{Type: models.EventError}))

	next := readMessage(t, conn)
	assert.Equal(t, models.EventChunkDone, next.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Watchers(job.ID) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubRejectsBadRequests(t *testing.T) {
	_, job, srv := newTestHub(t)

	tests := []struct {
		name   string
		token  string
		jobID  uuid.UUID
		status int
	}{
		{"bad token", "x", job.ID, http.StatusUnauthorized},
		{"unknown job", "a", uuid.New(), http.StatusNotFound},
		{"someone else's job", "b", job.ID, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tc.token, tc.jobID), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
