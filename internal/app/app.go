package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"mailbot/internal/config"
	"mailbot/internal/dispatch"
	"mailbot/internal/flow"
	"mailbot/internal/storage"
	"mailbot/internal/transport"
	"mailbot/internal/transport/telegram"
	logx "mailbot/pkg/logx"
)

// App wires config, logging, storage, transport, and the conversation engine.
type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter transport.Adapter
	engine  *flow.Engine

	updates chan transport.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	senderToken := strings.TrimSpace(cfg.Telegram.SenderToken)
	if senderToken == "" {
		senderToken = cfg.Telegram.Token
	}
	client, err := telegram.NewSenderClient(senderToken, logSvc.Logger().With(logx.String("comp", "sender")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pace, err := config.ParseDurationField("dispatch.pace", cfg.Dispatch.Pace)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := dispatch.New(client, pace, logSvc.Logger().With(logx.String("comp", "dispatch")))

	engine := flow.NewEngine(store, ad, disp, logSvc.Logger().With(logx.String("comp", "flow")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		engine:  engine,
		updates: make(chan transport.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.adapter.Start(ctx, a.updates); err != nil {
		a.cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.engine.Run(ctx, a.updates)
	}()

	// Config hot reload: only the logging section is live-applied; everything
	// else needs a restart.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	sub := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-sub:
				if cfg == nil {
					continue
				}
				a.logs.Apply(mapLoggingConfig(cfg.Logging))
				a.log.Info("logging config applied")
			}
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	_ = a.adapter.Stop(ctx)
	a.wg.Wait()

	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

func mapLoggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}
