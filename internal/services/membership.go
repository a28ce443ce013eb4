package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/models"
	"chatbot-backend/internal/repository"
)

const membershipPollInterval = 1 * time.Hour

type expiredMembershipStore interface {
	DowngradeExpired(ctx context.Context) ([]repository.ExpiredMembership, error)
}

// MembershipScheduler closes premium periods that have run out.
type MembershipScheduler struct {
	users     expiredMembershipStore
	jobs      JobQueue
	publisher Publisher
	interval  time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMembershipScheduler(users expiredMembershipStore, jobs JobQueue, publisher Publisher) *MembershipScheduler {
	return &MembershipScheduler{
		users:     users,
		jobs:      jobs,
		publisher: publisher,
		interval:  membershipPollInterval,
		stopChan:  make(chan struct{}),
	}
}

func (s *MembershipScheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	log.Info().Dur("interval", s.interval).Msg("membership scheduler started")
}

// Stop ends the loop and waits for a running pass to finish.
func (s *MembershipScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *MembershipScheduler) loop() {
	defer s.wg.Done()

	// Run on startup as well as by interval.
	s.RunOnce(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce downgrades every lapsed membership and notifies its owner.
// It returns how many users were downgraded.
func (s *MembershipScheduler) RunOnce(ctx context.Context) int {
	expired, err := s.users.DowngradeExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("membership: failed to downgrade expired users")
		return 0
	}

	for _, m := range expired {
		logger := log.With().Str("user_id", m.ID.String()).Logger()
		logger.Info().Time("premium_until", m.PremiumUntil).Msg("premium membership expired")

		until := m.PremiumUntil
		s.publisher.Publish(ctx, m.ID, models.WSMessage{
			Type: "membership_update",
			Payload: models.MembershipEvent{
				UserType:     models.UserTypeRegular,
				PremiumUntil: &until,
			},
		})

		cfg, err := json.Marshal(models.EmailJobConfig{
			Kind:         models.EmailKindPremiumExpired,
			To:           m.Email,
			PremiumUntil: &until,
		})
		if err != nil {
			continue
		}
		job := &models.Job{
			UserID:      m.ID,
			Type:        models.JobTypeEmail,
			ReferenceID: m.ID,
			ConfigJSON:  cfg,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			logger.Warn().Err(err).Msg("membership: failed to enqueue expiry email")
		}
	}
	return len(expired)
}
