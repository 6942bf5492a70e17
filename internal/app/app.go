// Package app wires configuration, storage, the Telegram adapter, and the
// pipeline services into one lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"ipuwatch/internal/bot"
	"ipuwatch/internal/config"
	"ipuwatch/internal/dispatch"
	"ipuwatch/internal/httpapi"
	"ipuwatch/internal/scheduler"
	"ipuwatch/internal/source"
	"ipuwatch/internal/storage"
	"ipuwatch/internal/transport/telegram"
	"ipuwatch/internal/watch"
	"ipuwatch/pkg/logx"
)

type App struct {
	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter

	watcher *watch.Service
	bot     *bot.Service
	sched   *scheduler.Service
	http    *httpapi.Server

	httpEnabled bool
	errCh       chan error
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	registry, err := source.NewRegistry(cfg.Sources)
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := config.ParseDurationOrDefault("watch.fetch_timeout", cfg.Watch.FetchTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	retryDelay, err := config.ParseDurationOrDefault("watch.retry_delay", cfg.Watch.RetryDelay, 2*time.Second)
	if err != nil {
		return nil, err
	}
	retryMax := 0 // resolves to the fetcher default
	if cfg.Watch.RetryMax != nil {
		retryMax = *cfg.Watch.RetryMax
		if retryMax == 0 {
			retryMax = watch.RetryDisabled
		}
	}
	fetcher := watch.NewFetcher(watch.FetchConfig{
		Timeout:    fetchTimeout,
		RetryMax:   retryMax,
		RetryDelay: retryDelay,
	}, log.With(logx.String("comp", "fetch")))

	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		RatePerSec:  cfg.Dispatch.RatePerSec,
		SendTimeout: sendTimeout,
	}, store, adapter, log.With(logx.String("comp", "dispatch")))

	detector := watch.NewDetector(store, log.With(logx.String("comp", "detector")))
	watcher := watch.NewService(registry, fetcher, detector, dispatcher,
		log.With(logx.String("comp", "watch")))

	passTimeout, err := config.ParseDurationOrDefault("scheduler.pass_timeout", cfg.Scheduler.PassTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Spec:        cfg.Scheduler.Spec,
		Timezone:    cfg.Scheduler.Timezone,
		PassTimeout: passTimeout,
	}, log.With(logx.String("comp", "scheduler")), func(ctx context.Context) {
		watcher.RunPass(ctx)
	})

	botSvc := bot.New(adapter, store, fetcher, registry, log.With(logx.String("comp", "bot")))

	a := &App{
		log:         log,
		logs:        logSvc,
		store:       store,
		adapter:     adapter,
		watcher:     watcher,
		bot:         botSvc,
		sched:       sched,
		httpEnabled: cfg.HTTP.Enabled,
		errCh:       make(chan error, 1),
	}

	if cfg.HTTP.Enabled {
		readTimeout, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		writeTimeout, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 3*time.Minute)
		if err != nil {
			return nil, err
		}
		a.http = httpapi.New(httpapi.Config{
			Addr:         cfg.HTTP.Addr,
			APIKey:       cfg.HTTP.APIKey,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			PassTimeout:  passTimeout,
		}, watcher, store, log.With(logx.String("comp", "http")))
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.bot.Start(ctx); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if a.http != nil {
		a.http.Start(a.errCh)
	}
	a.log.Info("started")
	return nil
}

// Err reports fatal background errors (currently only the HTTP listener).
func (a *App) Err() <-chan error { return a.errCh }

func (a *App) Stop(ctx context.Context) {
	a.sched.Stop(ctx)
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			a.log.Warn("http shutdown error", logx.Err(err))
		}
	}
	a.bot.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close error", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
}
