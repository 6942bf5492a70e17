// Package bot routes incoming Telegram updates to command and callback
// handlers: subscription management, preference toggles, and on-demand
// listings. It owns the subscriber-facing surface; the detection pipeline
// never talks to users directly.
package bot

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"ipuwatch/internal/source"
	"ipuwatch/internal/storage"
	kit "ipuwatch/internal/transport"
	"ipuwatch/internal/watch"
	"ipuwatch/pkg/logx"
)

// handlerTimeout bounds one update's handling, including any on-demand
// page fetch it triggers.
const handlerTimeout = 45 * time.Second

type Service struct {
	adapter  kit.Adapter
	store    storage.Store
	fetcher  *watch.Fetcher
	registry *source.Registry
	log      logx.Logger

	updates chan kit.Update

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(adapter kit.Adapter, store storage.Store, fetcher *watch.Fetcher, registry *source.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		adapter:  adapter,
		store:    store,
		fetcher:  fetcher,
		registry: registry,
		log:      log,
		updates:  make(chan kit.Update, 256),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.adapter.Start(runCtx, s.updates); err != nil {
		return err
	}

	if mu, ok := s.adapter.(kit.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(runCtx, menuCommands()); err != nil {
			s.log.Warn("command menu update failed", logx.Err(err))
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(runCtx)
	}()

	s.log.Info("bot started")
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = s.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("bot stop timed out")
	}
}

func (s *Service) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-s.updates:
			s.handle(ctx, up)
		}
	}
}

func (s *Service) handle(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in update handler",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			s.handleMessage(hctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			s.handleCallback(hctx, up.Callback)
		}
	}
}

func menuCommands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "Subscribe and pick notification topics"},
		{Command: "results", Description: "Latest exam results"},
		{Command: "datesheet", Description: "Latest datesheets"},
		{Command: "circular", Description: "Latest circulars and notices"},
		{Command: "status", Description: "Monitor status"},
		{Command: "stop", Description: "Unsubscribe from notifications"},
	}
}
