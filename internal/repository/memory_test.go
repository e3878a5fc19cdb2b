package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreQueryBooks(t *testing.T) {
	runQueryContract(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := newJob(models.JobPlanned)
	require.NoError(t, s.CreateJob(ctx, job))

	loaded, err := s.LoadJob(ctx, job.ID)
	require.NoError(t, err)
	loaded.Status = models.JobFailed
	loaded.Chunks[0].Status = models.ChunkFailed

	again, err := s.LoadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPlanned, again.Status)
	assert.Equal(t, models.ChunkPending, again.Chunks[0].Status)
}

func TestMemoryStoreErrorInjection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newJob(models.JobPlanned)
	require.NoError(t, s.CreateJob(ctx, job))

	s.ConflictsBeforeSave = 1
	err := s.SaveJob(ctx, job)
	var conflict *models.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	require.NoError(t, s.SaveJob(ctx, job))
	assert.Equal(t, 1, s.Saves())

	boom := errors.New("disk full")
	s.SaveJobErr = boom
	assert.ErrorIs(t, s.SaveJob(ctx, job), boom)
}
