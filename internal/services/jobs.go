package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatbot-backend/internal/models"
	"chatbot-backend/internal/repository"
)

// JobQueue records a job and hands it to the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

type RedisJobQueue struct {
	jobRepo *repository.JobRepo
	redis   *redis.Client
}

func NewRedisJobQueue(jobRepo *repository.JobRepo, redisClient *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{jobRepo: jobRepo, redis: redisClient}
}

func QueueName(jobType string) string {
	return "queue:" + jobType
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if err := q.jobRepo.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.LPush(ctx, QueueName(job.Type), string(jobBytes)).Err(); err != nil {
		_ = q.jobRepo.UpdateStatus(ctx, job.ID, models.JobStatusFailed)
		return fmt.Errorf("failed to enqueue %s job %s: %w", job.Type, job.ID, err)
	}
	return nil
}
