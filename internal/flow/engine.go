package flow

import (
	"context"
	"strconv"
	"sync"

	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

// Dispatcher delivers a confirmed mailing. Progress and completion texts are
// reported through notify; the returned error is dispatch-level (session open
// failed), not per-recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, operator string, recipients []string, body string, notify func(text string)) error
}

const inboxSize = 16

// Engine consumes transport updates and drives one Machine step per event.
//
// Events for the same chat are handled strictly sequentially by a dedicated
// worker; different chats proceed in parallel. Every record mutation is
// flushed to the store before any prompt for that transition is sent.
type Engine struct {
	store      storage.Store
	adapter    transport.Adapter
	dispatcher Dispatcher
	machine    *Machine
	log        logx.Logger

	mu      sync.Mutex
	inboxes map[int64]chan transport.Update
	wg      sync.WaitGroup
}

func NewEngine(store storage.Store, adapter transport.Adapter, dispatcher Dispatcher, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:      store,
		adapter:    adapter,
		dispatcher: dispatcher,
		machine:    NewMachine(),
		log:        log,
		inboxes:    map[int64]chan transport.Update{},
	}
}

// Run routes updates to per-chat workers until ctx is done or updates is
// closed, then shuts the workers down and waits for in-flight events to
// finish. Run is single-shot: once it returns the engine is spent.
func (e *Engine) Run(ctx context.Context, updates <-chan transport.Update) error {
	defer e.wg.Wait()
	defer e.closeInboxes()
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			e.route(ctx, up)
		}
	}
}

func (e *Engine) closeInboxes() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, inbox := range e.inboxes {
		close(inbox)
		delete(e.inboxes, id)
	}
}

func (e *Engine) route(ctx context.Context, up transport.Update) {
	e.mu.Lock()
	inbox, ok := e.inboxes[up.ChatID]
	if !ok {
		inbox = make(chan transport.Update, inboxSize)
		e.inboxes[up.ChatID] = inbox
		e.wg.Add(1)
		go e.worker(ctx, inbox)
	}
	e.mu.Unlock()

	select {
	case inbox <- up:
	default:
		// The operator is typing faster than we persist; losing an event is
		// recoverable (the next one re-prompts), blocking the router is not.
		e.log.Warn("conversation inbox full; dropping update", logx.Int64("chat", up.ChatID))
	}
}

func (e *Engine) worker(ctx context.Context, inbox <-chan transport.Update) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-inbox:
			if !ok {
				return
			}
			if err := e.HandleUpdate(ctx, up); err != nil {
				e.log.Error("event not committed", logx.Int64("chat", up.ChatID), logx.Err(err))
				// The transition did not commit; tell the operator instead of
				// silently swallowing it.
				e.send(ctx, up.ChatID, Prompt{Text: "Something went wrong, your last input was not saved. Please try again."})
			}
		}
	}
}

// HandleUpdate processes a single inbound event: load record, step the
// machine, flush the mutation, then emit prompts and (for send) dispatch.
// A store failure is returned and no prompt of that transition is emitted.
func (e *Engine) HandleUpdate(ctx context.Context, up transport.Update) error {
	key := strconv.FormatInt(up.ChatID, 10)

	rec, found, err := e.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		rec = storage.NewRecord()
	}

	var res Result
	if !up.Resolved() || !up.HasText {
		res = e.machine.Fallback(rec)
	} else {
		res = e.machine.Step(rec, up.Text)
	}

	if err := e.store.Put(ctx, key, res.Record); err != nil {
		return err
	}

	for _, p := range res.Prompts {
		e.send(ctx, up.ChatID, p)
	}

	if res.Dispatch != nil {
		operator := strconv.FormatInt(up.FromID, 10)
		notify := func(text string) {
			e.send(ctx, up.ChatID, Prompt{Text: text})
		}
		if err := e.dispatcher.Dispatch(ctx, operator, res.Dispatch.Recipients, res.Dispatch.Body, notify); err != nil {
			e.log.Error("mailing failed", logx.Int64("chat", up.ChatID), logx.Err(err))
			e.send(ctx, up.ChatID, Prompt{Text: "The mailing failed: " + err.Error()})
		}
	}
	return nil
}

func (e *Engine) send(ctx context.Context, chatID int64, p Prompt) {
	opt := &transport.SendOptions{ReplyOptions: p.ReplyOptions}
	if err := e.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, p.Text, opt); err != nil {
		e.log.Warn("prompt send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
