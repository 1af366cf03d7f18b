package worker

import (
	"context"
	"fmt"
	stdlog "log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"antow-bot/internal/channel"
	"antow-bot/internal/lifecycle"
	"antow-bot/internal/store"
)

const (
	dailyLockKey  = "sweep:daily:lock"
	weeklyLockKey = "sweep:weekly:lock"
	lockTTL       = 10 * time.Minute
)

// Sweeper runs the daily expiry sweep and the weekly stats sweep. Cron's
// SkipIfStillRunning chain prevents in-process overlap; the Redis lock
// prevents two process instances from running the revoke path at once.
type Sweeper struct {
	subs       store.Subscribers
	notifier   channel.Notifier
	engine     lifecycle.Engine
	redis      *redis.Client
	adminID    int64
	unitPrice  int
	dailySpec  string
	weeklySpec string
	now        func() time.Time
	cron       *cron.Cron
}

func NewSweeper(subs store.Subscribers, notifier channel.Notifier, engine lifecycle.Engine, rdb *redis.Client, adminID int64, unitPrice int, dailySpec, weeklySpec string) *Sweeper {
	return &Sweeper{
		subs:       subs,
		notifier:   notifier,
		engine:     engine,
		redis:      rdb,
		adminID:    adminID,
		unitPrice:  unitPrice,
		dailySpec:  dailySpec,
		weeklySpec: weeklySpec,
		now:        time.Now,
	}
}

func (s *Sweeper) Start() error {
	cronLogger := cron.PrintfLogger(stdlog.New(log.Logger, "", 0))
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	if _, err := s.cron.AddFunc(s.dailySpec, func() {
		s.withLock(dailyLockKey, func(ctx context.Context) {
			failed := s.RunDaily(ctx)
			if failed > 0 {
				log.Warn().Int("failed", failed).Msg("Daily sweep finished with failures")
			}
		})
	}); err != nil {
		return fmt.Errorf("failed to schedule daily sweep: %w", err)
	}

	if _, err := s.cron.AddFunc(s.weeklySpec, func() {
		s.withLock(weeklyLockKey, func(ctx context.Context) {
			if err := s.RunWeekly(ctx); err != nil {
				log.Error().Err(err).Msg("Weekly sweep failed")
			}
		})
	}); err != nil {
		return fmt.Errorf("failed to schedule weekly sweep: %w", err)
	}

	s.cron.Start()
	log.Info().Str("daily", s.dailySpec).Str("weekly", s.weeklySpec).Msg("Sweep scheduler started")
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// withLock serializes a sweep across process instances. If Redis is
// unreachable the sweep still runs: a missed revoke is worse than a
// double-sent reminder.
func (s *Sweeper) withLock(key string, fn func(ctx context.Context)) {
	ctx := context.Background()
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, key, "1", lockTTL).Result()
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Sweep lock unavailable, running unlocked")
		} else if !ok {
			log.Info().Str("key", key).Msg("Sweep already running elsewhere, skipping")
			return
		} else {
			defer s.redis.Del(ctx, key)
		}
	}
	fn(ctx)
}

// RunDaily scans every subscriber the store reports as expiring or expired,
// re-reads each one, and applies the engine's decision. A failure for one
// subscriber never aborts the rest.
func (s *Sweeper) RunDaily(ctx context.Context) int {
	now := s.now()
	log.Info().Msg("Running daily subscription sweep")

	batch := make(map[int64]struct{})
	expiring, err := s.subs.ListExpiringWithin(ctx, s.engine.ReminderDays)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expiring subscribers")
	}
	for _, sub := range expiring {
		batch[sub.TelegramID] = struct{}{}
	}
	expired, err := s.subs.ListExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired subscribers")
	}
	for _, sub := range expired {
		batch[sub.TelegramID] = struct{}{}
	}

	failed := 0
	for telegramID := range batch {
		if err := s.sweepOne(ctx, telegramID, now); err != nil {
			failed++
			log.Error().Err(err).Int64("user_id", telegramID).Msg("Sweep failed for subscriber")
		}
	}
	log.Info().Int("scanned", len(batch)).Int("failed", failed).Msg("Daily sweep finished")
	return failed
}

func (s *Sweeper) sweepOne(ctx context.Context, telegramID int64, now time.Time) error {
	// Fresh read: the listing may be stale by the time this row is reached.
	sub, err := s.subs.Get(ctx, telegramID)
	if err != nil {
		return err
	}

	d := s.engine.Decide(sub, now)
	switch d.Action {
	case lifecycle.ActionRevoke:
		return s.revoke(ctx, telegramID)
	case lifecycle.ActionGrant:
		if d.Remind && sub.SubscriptionExpiresAt != nil {
			s.remind(ctx, telegramID, *sub.SubscriptionExpiresAt)
		}
	}
	return nil
}

func (s *Sweeper) remind(ctx context.Context, telegramID int64, expiresAt time.Time) {
	err := s.notifier.Notify(ctx, telegramID, fmt.Sprintf(
		"Ваша подписка истекает %s. Пожалуйста, продлите подписку, чтобы сохранить доступ.",
		expiresAt.Format("02.01.2006")), nil)
	if err != nil {
		// Best effort: tomorrow's sweep re-evaluates and re-sends.
		log.Error().Err(err).Int64("user_id", telegramID).Msg("Failed to send expiry reminder")
		return
	}
	log.Info().Int64("user_id", telegramID).Msg("Sent expiry reminder")
}

// revoke corrects the stale record first, then evicts. The state correction
// stands even when the eviction fails; a failed eviction is escalated to the
// admin instead of leaving the user marked as subscribed.
func (s *Sweeper) revoke(ctx context.Context, telegramID int64) error {
	if err := s.subs.SetSubscription(ctx, telegramID, false, nil); err != nil {
		return err
	}
	log.Info().Int64("user_id", telegramID).Msg("Subscription expired, access revoked")

	if err := s.notifier.Evict(ctx, telegramID); err != nil {
		log.Error().Err(err).Int64("user_id", telegramID).Msg("Failed to evict expired subscriber")
		if nerr := s.notifier.Notify(ctx, s.adminID,
			fmt.Sprintf("Ошибка при удалении пользователя %d из канала: %v", telegramID, err), nil); nerr != nil {
			log.Error().Err(nerr).Msg("Failed to alert admin about eviction failure")
		}
		return nil
	}

	err := s.notifier.Notify(ctx, telegramID,
		"Ваша подписка истекла. Пожалуйста, оплатите подписку снова для доступа к каналу.", nil)
	if err != nil {
		log.Error().Err(err).Int64("user_id", telegramID).Msg("Failed to notify user about expiry")
	}
	return nil
}

// RunWeekly reports aggregate subscription stats to the administrator.
func (s *Sweeper) RunWeekly(ctx context.Context) error {
	log.Info().Msg("Running weekly stats sweep")
	counts, err := s.subs.AggregateCounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute weekly stats")
		if nerr := s.notifier.Notify(ctx, s.adminID,
			fmt.Sprintf("Ошибка при отправке статистики: %v", err), nil); nerr != nil {
			log.Error().Err(nerr).Msg("Failed to alert admin about stats failure")
		}
		return err
	}

	text := "📊 Еженедельная статистика:\n" + StatsMessage(counts, s.unitPrice)
	if err := s.notifier.Notify(ctx, s.adminID, text, nil); err != nil {
		log.Error().Err(err).Msg("Failed to send weekly stats to admin")
		return err
	}
	return nil
}

// StatsMessage renders aggregate counts; shared with the on-demand /a command.
func StatsMessage(c store.Counts, unitPrice int) string {
	nonSubscribers := c.Total - c.Active
	income := c.Active * int64(unitPrice)
	return fmt.Sprintf(
		"Всего пользователей: %d\nАктивные подписчики: %d\nБез подписки: %d\nОценочный месячный доход: %d₽",
		c.Total, c.Active, nonSubscribers, income)
}
