package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic background sync attempts for a Client, honoring
// the retry backoff the Sync State Manager computes after a failure.
type Scheduler struct {
	client   *Client
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a Scheduler that attempts a full sync every interval
// (falling back to the client's recorded retry delay after a failure).
func NewScheduler(c *Client, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{client: c, interval: interval, ctx: ctx, cancel: cancel}
}

// Start launches the background sync loop. Stop must be called to release it.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	log := logging.For("syncclient.scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.attempt(log)
		}
	}
}

func (s *Scheduler) attempt(log zerolog.Logger) {
	md := s.client.state.Metadata()
	if md.SyncInProgress {
		return
	}
	if md.NextRetryTime != nil && time.Now().UTC().Before(*md.NextRetryTime) {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.client.cfg.Timeout)
	defer cancel()

	resp, err := s.client.FullSync(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("scheduled sync failed")
		return
	}
	log.Debug().Int("entities", len(resp.Changes)).Int("conflicts", len(resp.Conflicts)).Msg("scheduled sync completed")
}
