package worker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// JobChannel is the Redis pub/sub channel carrying events for one job.
func JobChannel(jobID uuid.UUID) string {
	return jobChannelPrefix + jobID.String()
}

const jobChannelPrefix = "job_updates:"

// JobChannelPattern matches every job channel.
const JobChannelPattern = jobChannelPrefix + "*"

// JobIDFromChannel parses the job id out of a job channel name.
func JobIDFromChannel(channel string) (uuid.UUID, bool) {
	if !strings.HasPrefix(channel, jobChannelPrefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(channel, jobChannelPrefix))
	return id, err == nil
}

// RedisPublisher sends job events over Redis pub/sub so every API node's
// websocket hub sees them.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, jobID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, JobChannel(jobID), string(data)).Err()
}
