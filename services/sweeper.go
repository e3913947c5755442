package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"bounty-session-service/metric"
	"bounty-session-service/store"
)

const sweepBatchSize = 100

// StartExpirySweeper schedules a periodic sweep that seals sessions past their
// deadline. The lazy checks on the request paths remain the source of truth;
// the sweep only keeps long-abandoned sessions from lingering as "active" to
// external observers.
func (s *SessionService) StartExpirySweeper(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.SweepExpired(ctx) }),
	); err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

// SweepExpired runs one sweep pass, expiring each overdue session in its own
// transaction so one failure does not block the rest of the batch.
func (s *SessionService) SweepExpired(ctx context.Context) {
	now := time.Now()
	ids, err := s.Store.ExpiredSessionIDs(ctx, now, sweepBatchSize)
	if err != nil {
		log.Printf("[sweeper] DB error: %v", err)
		return
	}

	for _, id := range ids {
		err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
			sess, err := tx.GetSession(id)
			if err != nil {
				return err
			}
			// A lazy check may have sealed it between the listing and here.
			if sess.State.Terminal() || now.Before(sess.ExpiresAt) {
				return nil
			}
			expireSession(sess, now, s.Cfg.CooldownWindow)
			if err := tx.SaveSession(sess); err != nil {
				return err
			}
			return closeUserSession(tx, sess.UserID, sess.ID, sess.CooldownUntil)
		})
		if err != nil {
			log.Printf("[sweeper] failed to expire session %s: %v", id, err)
			continue
		}
		metric.SessionsExpired.Inc()
		log.Printf("[sweeper] expired session %s", id)
	}
}
