package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/models"
	"chatbot-backend/internal/services"
)

const (
	maxAttempts = 3
	popTimeout  = 5 * time.Second
	lockTTL     = 10 * time.Minute
	jobTimeout  = 2 * time.Minute
)

// HandlerFunc runs one job. A returned error schedules a retry.
type HandlerFunc func(ctx context.Context, job *models.Job) error

type jobStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}

type Pool struct {
	redis       *redis.Client
	jobs        jobStore
	handlers    map[string]HandlerFunc
	workerCount int
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// requeue puts a failed job back after a delay.
	requeue func(job *models.Job, delay time.Duration)
}

func NewPool(redisClient *redis.Client, jobs jobStore, workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	p := &Pool{
		redis:       redisClient,
		jobs:        jobs,
		handlers:    make(map[string]HandlerFunc),
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
	p.requeue = p.requeueRedis
	return p
}

// Handle registers the handler for a job type. Call before Start.
func (p *Pool) Handle(jobType string, h HandlerFunc) {
	p.handlers[jobType] = h
}

func (p *Pool) queues() []string {
	out := make([]string, 0, len(p.handlers))
	for jobType := range p.handlers {
		out = append(out, services.QueueName(jobType))
	}
	return out
}

func (p *Pool) Start() {
	queues := p.queues()
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, queues)
	}

	log.Info().Int("workers", p.workerCount).Strs("queues", queues).Msg("worker pool started")
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Pool) worker(id int, queues []string) {
	defer p.wg.Done()
	logger := log.With().Int("worker", id).Logger()

	for {
		select {
		case <-p.stopChan:
			logger.Debug().Msg("worker shutting down")
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, queues...).Result()
		if err != nil {
			if err != redis.Nil {
				logger.Warn().Err(err).Msg("queue pop failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			logger.Error().Err(err).Str("queue", result[0]).Msg("failed to parse job")
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil || !locked {
			continue
		}

		p.Execute(ctx, &job)

		p.redis.Del(ctx, lockKey)
	}
}

// Execute runs a single job through its handler and records the outcome.
func (p *Pool) Execute(ctx context.Context, job *models.Job) {
	logger := log.With().Str("job_id", job.ID.String()).Str("type", job.Type).Logger()
	logger.Info().Int("attempt", job.RetryCount+1).Msg("processing job")

	if err := p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
		logger.Warn().Err(err).Msg("failed to mark job processing")
	}

	var processErr error
	h, ok := p.handlers[job.Type]
	if !ok {
		processErr = fmt.Errorf("unknown job type: %s", job.Type)
	} else {
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		processErr = h(jobCtx, job)
		cancel()
	}

	if processErr != nil {
		p.handleFailure(ctx, job, processErr)
		return
	}
	if err := p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusCompleted); err != nil {
		logger.Warn().Err(err).Msg("failed to mark job completed")
	}
	logger.Info().Msg("job completed")
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()
	logger := log.With().Str("job_id", job.ID.String()).Str("type", job.Type).Int("attempt", job.RetryCount).Logger()

	p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

	if job.RetryCount < maxAttempts {
		logger.Warn().Str("error", errMsg).Msg("job failed, retrying")
		p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusPending)

		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		p.requeue(job, backoff)
		return
	}

	logger.Error().Str("error", errMsg).Msg("job failed permanently")
	p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusFailed)
}

func (p *Pool) requeueRedis(job *models.Job, delay time.Duration) {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return
	}
	time.AfterFunc(delay, func() {
		if err := p.redis.LPush(context.Background(), services.QueueName(job.Type), string(jobBytes)).Err(); err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to requeue job")
		}
	})
}
