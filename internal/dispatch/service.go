// Package dispatch fans a rendered notification out to every active
// subscriber whose preferences include the topic. Deliveries are isolated
// per recipient: one blocked or slow chat never stops the rest.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"ipuwatch/internal/render"
	"ipuwatch/internal/source"
	"ipuwatch/internal/storage"
	kit "ipuwatch/internal/transport"
	"ipuwatch/internal/watch"
	"ipuwatch/pkg/logx"
)

type Config struct {
	Workers    int
	RatePerSec int
	// SendTimeout bounds a single delivery attempt so one hung send cannot
	// stall a worker indefinitely.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		// Telegram allows ~30 broadcast messages per second; stay under it.
		c.RatePerSec = 25
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Outcome aggregates one broadcast for observability.
type Outcome struct {
	Topic       source.Kind
	Total       int // active subscribers considered
	Skipped     int // preference opted out
	Delivered   int
	Failed      int // transient failures, recipient retained
	Deactivated int // permanent failures, recipient pruned
}

type Service struct {
	cfg     Config
	store   storage.Store
	adapter kit.Adapter
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg Config, store storage.Store, adapter kit.Adapter, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		adapter: adapter,
		log:     log,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:     time.Now,
	}
}

// NotifyChange renders and broadcasts a change notification. It implements
// watch.Notifier.
func (s *Service) NotifyChange(ctx context.Context, p source.Profile, items []watch.Item) (int, error) {
	body := render.ChangeNotification(p, items, s.now())
	out, err := s.Broadcast(ctx, p.Kind, body)
	return out.Delivered, err
}

// Broadcast sends body to all active subscribers opted in to topic and
// returns the aggregated outcome. Delivery order across subscribers is
// unspecified. The only subscriber mutation it ever performs is flipping
// active off on a permanent delivery failure.
func (s *Service) Broadcast(ctx context.Context, topic source.Kind, body string) (Outcome, error) {
	out := Outcome{Topic: topic}

	subs, err := s.store.ListActiveSubscribers(ctx)
	if err != nil {
		return out, fmt.Errorf("list subscribers: %w", err)
	}
	out.Total = len(subs)

	targets := make([]storage.Subscriber, 0, len(subs))
	for _, sub := range subs {
		if !sub.Prefs.Wants(topic) {
			out.Skipped++
			continue
		}
		targets = append(targets, sub)
	}
	if len(targets) == 0 {
		s.log.Info("broadcast had no recipients",
			logx.String("topic", string(topic)),
			logx.Int("skipped", out.Skipped))
		return out, nil
	}

	start := s.now()
	workers := s.cfg.Workers
	if workers > len(targets) {
		workers = len(targets)
	}

	var delivered, failed, deactivated atomic.Int64
	jobs := make(chan storage.Subscriber)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for sub := range jobs {
				switch s.sendOne(ctx, topic, sub, body) {
				case sendDelivered:
					delivered.Add(1)
				case sendDeactivated:
					deactivated.Add(1)
				default:
					failed.Add(1)
				}
			}
		}()
	}

feed:
	for _, sub := range targets {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- sub:
		}
	}
	close(jobs)
	wg.Wait()

	out.Delivered = int(delivered.Load())
	out.Failed = int(failed.Load())
	out.Deactivated = int(deactivated.Load())

	fields := []logx.Field{
		logx.String("topic", string(topic)),
		logx.Int("delivered", out.Delivered),
		logx.Int("skipped", out.Skipped),
		logx.Int("failed", out.Failed),
		logx.Int("deactivated", out.Deactivated),
		logx.Duration("dur", s.now().Sub(start)),
	}
	if out.Failed > 0 || out.Deactivated > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}
	return out, ctx.Err()
}

type sendResult int

const (
	sendDelivered sendResult = iota
	sendFailed
	sendDeactivated
)

func (s *Service) sendOne(ctx context.Context, topic source.Kind, sub storage.Subscriber, body string) sendResult {
	if err := s.limiter.Wait(ctx); err != nil {
		return sendFailed
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	_, err := s.adapter.SendText(sctx, kit.ChatTarget{ChatID: sub.ChatID}, body, &kit.SendOptions{
		ParseMode: kit.ParseModeHTML,
	})
	if err == nil {
		return sendDelivered
	}

	if kit.IsPermanent(err) {
		// Recipient can never be reached again; prune so future broadcasts
		// stop burning rate budget on it. Preferences are left as-is.
		if derr := s.store.SetSubscriberActive(context.WithoutCancel(ctx), sub.ChatID, false); derr != nil {
			s.log.Error("failed to deactivate subscriber",
				logx.Int64("chat_id", sub.ChatID), logx.Err(derr))
			return sendFailed
		}
		s.log.Info("subscriber deactivated (unreachable)",
			logx.Int64("chat_id", sub.ChatID),
			logx.String("topic", string(topic)))
		return sendDeactivated
	}

	s.log.Warn("delivery failed (transient)",
		logx.Int64("chat_id", sub.ChatID),
		logx.String("topic", string(topic)),
		logx.Err(err))
	return sendFailed
}
