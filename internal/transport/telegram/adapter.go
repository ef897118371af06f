package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter bridges telebot long polling to the transport.Update channel.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot      *tele.Bot
	out      atomic.Value // stores (chan<- transport.Update)
	runMu    sync.Mutex
	running  bool
	done     chan struct{}
	stopOnce sync.Once

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		a.forward(m, m.Text, true)
		return nil
	})

	// Anything without a text payload still reaches the engine, which resets
	// the conversation rather than ignoring the operator.
	for _, ev := range []string{tele.OnMedia, tele.OnSticker, tele.OnContact, tele.OnLocation} {
		a.bot.Handle(ev, func(c tele.Context) error {
			m := c.Message()
			if m == nil {
				return nil
			}
			a.forward(m, "", false)
			return nil
		})
	}
}

func (a *Adapter) forward(m *tele.Message, text string, hasText bool) {
	up := transport.Update{
		MessageID: m.ID,
		ChatID:    m.Chat.ID,
		Text:      text,
		HasText:   hasText,
	}
	if m.Sender != nil {
		up.FromID = m.Sender.ID
		up.FromUsername = m.Sender.Username
	}

	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.done = make(chan struct{})
	done := a.done
	a.runMu.Unlock()

	go func() {
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()

	// Stop telebot when the context is cancelled, and report drops on the way.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.stopBot()
				return
			case <-done:
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	if a.done != nil {
		close(a.done)
		a.done = nil
	}
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.stopBot()
	return nil
}

// stopBot halts long polling exactly once. telebot's Stop performs an
// unbuffered send-and-confirm with the poll loop, so a second call after the
// loop exited would block forever. Both shutdown paths (context cancellation
// and Stop) land here; whichever comes second waits for the first and
// returns. The confirm wait is bounded in case the poller is stuck mid-poll.
func (a *Adapter) stopBot() {
	a.stopOnce.Do(func() {
		confirmed := make(chan struct{})
		go func() {
			a.bot.Stop()
			close(confirmed)
		}()
		select {
		case <-confirmed:
		case <-time.After(5 * time.Second):
			a.log.Warn("poller did not confirm stop in time")
		}
	})
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	_ = ctx
	_, err := a.bot.Send(tele.ChatID(to.ChatID), text, replyMarkup(opt))
	return err
}

// replyMarkup renders suggested replies as a one-row reply keyboard; with no
// options the previous keyboard is removed, mirroring how each prompt in the
// dialogue fully replaces the last one.
func replyMarkup(opt *transport.SendOptions) *tele.ReplyMarkup {
	if opt == nil || len(opt.ReplyOptions) == 0 {
		return &tele.ReplyMarkup{RemoveKeyboard: true}
	}
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	row := make(tele.Row, 0, len(opt.ReplyOptions))
	for _, o := range opt.ReplyOptions {
		row = append(row, rm.Text(o))
	}
	rm.Reply(row)
	return rm
}
