package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/worker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type TokenParser interface {
	ParseToken(token string) (string, error)
}

type JobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// client serialises writes; gorilla connections allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Hub streams job events to websocket clients watching a job. Events arrive
// either in-process through Publish or from Redis through Run.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]map[*client]struct{}
	auth        TokenParser
	jobs        JobGetter
	log         logrus.FieldLogger
}

func NewHub(auth TokenParser, jobs JobGetter, log logrus.FieldLogger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]map[*client]struct{}),
		auth:        auth,
		jobs:        jobs,
		log:         log,
	}
}

// HandleWebSocket serves GET /ws?token=...&job_id=...
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := h.auth.ParseToken(q.Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID, err := uuid.Parse(q.Get("job_id"))
	if err != nil {
		http.Error(w, "Invalid job_id", http.StatusBadRequest)
		return
	}
	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.RequestedBy != "" && job.RequestedBy != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	h.register(jobID, c)

	// Late subscribers get the current state first.
	if data, err := json.Marshal(snapshot(job)); err == nil {
		c.write(websocket.TextMessage, data)
	}

	done := make(chan struct{})
	go h.pingLoop(c, done)
	go func() {
		defer func() {
			close(done)
			h.unregister(jobID, c)
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func snapshot(job *models.Job) models.WSMessage {
	done, total := job.Progress()
	return models.WSMessage{
		Type: models.EventStatusUpdate,
		Payload: models.StatusUpdate{
			JobID:       job.ID,
			Status:      job.Status,
			ChunksDone:  done,
			ChunksTotal: total,
		},
	}
}

func (h *Hub) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(jobID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[jobID] == nil {
		h.connections[jobID] = make(map[*client]struct{})
	}
	h.connections[jobID][c] = struct{}{}
	h.log.WithFields(logrus.Fields{"job_id": jobID, "watchers": len(h.connections[jobID])}).Debug("WebSocket connected")
}

func (h *Hub) unregister(jobID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()
	delete(h.connections[jobID], c)
	if len(h.connections[jobID]) == 0 {
		delete(h.connections, jobID)
	}
	h.log.WithField("job_id", jobID).Debug("WebSocket disconnected")
}

// Watchers returns the number of open connections for a job.
func (h *Hub) Watchers(jobID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[jobID])
}

// Publish delivers msg to local watchers of the job. It satisfies
// pipeline.Publisher for single-process deployments.
func (h *Hub) Publish(_ context.Context, jobID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.broadcast(jobID, data)
	return nil
}

// Run relays job events published on Redis to local watchers until ctx is done.
func (h *Hub) Run(ctx context.Context, rdb *redis.Client) {
	pubsub := rdb.PSubscribe(ctx, worker.JobChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			jobID, ok := worker.JobIDFromChannel(msg.Channel)
			if !ok {
				continue
			}
			h.broadcast(jobID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(jobID uuid.UUID, data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.connections[jobID]))
	for c := range h.connections[jobID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.log.WithError(err).WithField("job_id", jobID).Debug("WebSocket write failed")
		}
	}
}
