package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mailbot/internal/dispatch"
	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

// ---- fakes ----

type memStore struct {
	mu     sync.Mutex
	data   map[string]storage.Record
	putErr error
	puts   int
}

func newMemStore() *memStore { return &memStore{data: map[string]storage.Record{}} }

func (s *memStore) Get(_ context.Context, key string) (storage.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		return storage.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *memStore) Put(_ context.Context, key string, rec storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.data[key] = rec.Clone()
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) record(t *testing.T, key string) storage.Record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		t.Fatalf("no record for key %s", key)
	}
	return rec
}

type sentMsg struct {
	chat    int64
	text    string
	options []string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                           { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := sentMsg{chat: to.ChatID, text: text}
	if opt != nil {
		m.options = opt.ReplyOptions
	}
	a.sent = append(a.sent, m)
	return nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	for i, m := range a.sent {
		out[i] = m.text
	}
	return out
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ string, _ []string, _ string, _ func(string)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

type fakeSession struct {
	mu    sync.Mutex
	sends []string
	fail  map[string]error
	open  bool
}

func (s *fakeSession) Send(_ context.Context, recipient, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, recipient)
	if err, ok := s.fail[recipient]; ok {
		return err
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

type fakeClient struct {
	sess    *fakeSession
	openErr error
}

func (c *fakeClient) OpenSession(context.Context, string) (dispatch.Session, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.sess.open = true
	return c.sess, nil
}

// gateStore parks the first Put for gateKey until release is closed; all
// other writes pass straight through to the underlying store.
type gateStore struct {
	*memStore
	gateKey string
	release chan struct{}
	once    sync.Once
}

func (s *gateStore) Put(ctx context.Context, key string, rec storage.Record) error {
	if key == s.gateKey {
		s.once.Do(func() { <-s.release })
	}
	return s.memStore.Put(ctx, key, rec)
}

// ---- helpers ----

func textUpdate(chat int64, text string) transport.Update {
	return transport.Update{ChatID: chat, FromID: chat, Text: text, HasText: true}
}

func step(t *testing.T, e *Engine, up transport.Update) {
	t.Helper()
	if err := e.HandleUpdate(context.Background(), up); err != nil {
		t.Fatalf("HandleUpdate(%q): %v", up.Text, err)
	}
}

// ---- tests ----

func TestEngineFirstEventPersistsStartRecord(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	ad := &fakeAdapter{}
	e := NewEngine(store, ad, &fakeDispatcher{}, logx.Nop())

	step(t, e, textUpdate(10, "hello"))

	rec := store.record(t, "10")
	if rec.State != string(StateStart) {
		t.Fatalf("state = %q, want start", rec.State)
	}
	if len(rec.Attrs) != 0 {
		t.Fatalf("attrs = %v, want empty", rec.Attrs)
	}
	if len(ad.texts()) == 0 {
		t.Fatal("expected an unrecognized-input prompt")
	}
}

func TestEnginePutFailureSuppressesPrompts(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.putErr = errors.New("disk full")
	ad := &fakeAdapter{}
	disp := &fakeDispatcher{}
	e := NewEngine(store, ad, disp, logx.Nop())

	err := e.HandleUpdate(context.Background(), textUpdate(10, "new mailing"))
	if err == nil {
		t.Fatal("expected persistence failure to propagate")
	}
	if got := ad.texts(); len(got) != 0 {
		t.Fatalf("prompts emitted for an uncommitted transition: %v", got)
	}
	if disp.calls != 0 {
		t.Fatal("dispatcher must not run for an uncommitted transition")
	}
}

func TestEngineResetsOnMissingText(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	rec := storage.NewRecord()
	rec.State = string(StateCollectMessage)
	rec.SetRecipients([]string{"alice"})
	store.data["10"] = rec

	ad := &fakeAdapter{}
	e := NewEngine(store, ad, &fakeDispatcher{}, logx.Nop())

	step(t, e, transport.Update{ChatID: 10, FromID: 10, HasText: false})

	got := store.record(t, "10")
	if got.State != string(StateStart) {
		t.Fatalf("state = %q, want start", got.State)
	}
}

func TestEngineResetsOnUnresolvedSender(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	rec := storage.NewRecord()
	rec.State = string(StateConfirmSend)
	store.data["10"] = rec

	ad := &fakeAdapter{}
	e := NewEngine(store, ad, &fakeDispatcher{}, logx.Nop())

	step(t, e, transport.Update{ChatID: 10, FromID: 0, Text: "send", HasText: true})

	got := store.record(t, "10")
	if got.State != string(StateStart) {
		t.Fatalf("state = %q, want start", got.State)
	}
}

func TestEngineDispatchErrorInformsOperator(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	rec := storage.NewRecord()
	rec.State = string(StateConfirmSend)
	rec.SetRecipients([]string{"alice"})
	rec.SetMessage("hi")
	store.data["10"] = rec

	ad := &fakeAdapter{}
	disp := &fakeDispatcher{err: errors.New("login required")}
	e := NewEngine(store, ad, disp, logx.Nop())

	step(t, e, textUpdate(10, "send"))

	texts := ad.texts()
	var informed bool
	for _, s := range texts {
		if strings.Contains(s, "mailing failed") {
			informed = true
		}
	}
	if !informed {
		t.Fatalf("operator was not told about the failure: %v", texts)
	}
}

func TestEngineMailingEndToEnd(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	ad := &fakeAdapter{}
	sess := &fakeSession{}
	d := dispatch.New(&fakeClient{sess: sess}, 1, logx.Nop())
	e := NewEngine(store, ad, d, logx.Nop())

	step(t, e, textUpdate(10, "new mailing"))
	step(t, e, textUpdate(10, "alice\nbob"))
	step(t, e, textUpdate(10, "hello"))
	step(t, e, textUpdate(10, "send"))

	// One delivery attempt per recipient, in order.
	if len(sess.sends) != 2 || sess.sends[0] != "alice" || sess.sends[1] != "bob" {
		t.Fatalf("deliveries = %v, want [alice bob]", sess.sends)
	}
	if sess.open {
		t.Fatal("session left open after dispatch")
	}

	// Exactly two progress notifications, in order, then one completion.
	var progress []string
	var completions int
	for _, s := range ad.texts() {
		if strings.HasPrefix(s, "Sending the message to ") {
			progress = append(progress, strings.TrimPrefix(s, "Sending the message to "))
		}
		if strings.HasPrefix(s, "Mailing finished") {
			completions++
		}
	}
	if len(progress) != 2 || progress[0] != "alice" || progress[1] != "bob" {
		t.Fatalf("progress = %v, want [alice bob]", progress)
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}

	// Final record: back at start with list and message retained.
	rec := store.record(t, "10")
	if rec.State != string(StateStart) {
		t.Fatalf("state = %q, want start", rec.State)
	}
	users, _ := rec.Recipients()
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("recipients = %v", users)
	}
	if msg, _ := rec.Message(); msg != "hello" {
		t.Fatalf("message = %q", msg)
	}
}

func TestEngineSecondCycleOffersReuse(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	ad := &fakeAdapter{}
	sess := &fakeSession{}
	d := dispatch.New(&fakeClient{sess: sess}, 1, logx.Nop())
	e := NewEngine(store, ad, d, logx.Nop())

	// First full cycle.
	step(t, e, textUpdate(10, "new mailing"))
	step(t, e, textUpdate(10, "alice\nbob"))
	step(t, e, textUpdate(10, "hello"))
	step(t, e, textUpdate(10, "send"))

	// Second cycle: the stored list must be offered for reuse.
	step(t, e, textUpdate(10, "new mailing"))
	rec := store.record(t, "10")
	if rec.State != string(StateConfirmReuse) {
		t.Fatalf("state = %q, want confirm_reuse_list", rec.State)
	}

	// Declining must route to list collection, not reuse the old list.
	step(t, e, textUpdate(10, "no"))
	rec = store.record(t, "10")
	if rec.State != string(StateCollectList) {
		t.Fatalf("state = %q, want collect_list", rec.State)
	}
	step(t, e, textUpdate(10, "carol"))
	rec = store.record(t, "10")
	users, _ := rec.Recipients()
	if len(users) != 1 || users[0] != "carol" {
		t.Fatalf("recipients = %v, want [carol]", users)
	}
}

func waitForState(t *testing.T, s *memStore, key, state string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		rec, ok := s.data[key]
		s.mu.Unlock()
		if ok && rec.State == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("chat %s never reached state %s", key, state)
}

// Events for one chat are applied strictly in arrival order even when the
// chat's worker is stalled mid-write, and a stalled chat must not hold up
// the dialogue of another chat.
func TestEngineRunSequencesPerChat(t *testing.T) {
	t.Parallel()
	store := &gateStore{memStore: newMemStore(), gateKey: "1", release: make(chan struct{})}
	ad := &fakeAdapter{}
	e := NewEngine(store, ad, &fakeDispatcher{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan transport.Update, 16)
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx, updates) }()

	// Chat 1's first write is gated; chat 2's updates interleave with it.
	updates <- textUpdate(1, "new mailing")
	updates <- textUpdate(2, "new mailing")
	updates <- textUpdate(1, "alice")
	updates <- textUpdate(2, "bob")
	updates <- textUpdate(1, "hi from one")
	updates <- textUpdate(2, "hi from two")

	// Chat 2 runs its whole dialogue while chat 1 is still parked on its
	// first flush.
	waitForState(t, store.memStore, "2", string(StateConfirmSend))
	store.memStore.mu.Lock()
	_, committed := store.memStore.data["1"]
	store.memStore.mu.Unlock()
	if committed {
		t.Fatal("chat 1 committed while its write was gated")
	}

	close(store.release)
	waitForState(t, store.memStore, "1", string(StateConfirmSend))

	// Reaching confirm_send with these exact attributes requires the three
	// queued events to have been applied in order.
	for key, want := range map[string]struct{ user, msg string }{
		"1": {"alice", "hi from one"},
		"2": {"bob", "hi from two"},
	} {
		rec := store.memStore.record(t, key)
		users, _ := rec.Recipients()
		if len(users) != 1 || users[0] != want.user {
			t.Fatalf("chat %s recipients = %v, want [%s]", key, users, want.user)
		}
		if msg, _ := rec.Message(); msg != want.msg {
			t.Fatalf("chat %s message = %q, want %q", key, msg, want.msg)
		}
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// Closing the update channel shuts the engine down even with a live context;
// the pending event is still applied before the workers exit.
func TestEngineRunReturnsWhenUpdatesClosed(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	e := NewEngine(store, &fakeAdapter{}, &fakeDispatcher{}, logx.Nop())

	updates := make(chan transport.Update, 1)
	updates <- textUpdate(10, "new mailing")
	close(updates)

	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(context.Background(), updates) }()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the update channel closed")
	}

	rec := store.record(t, "10")
	if rec.State != string(StateCollectList) {
		t.Fatalf("state = %q, want collect_list", rec.State)
	}
}

func TestEngineConversationSurvivesRestart(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	ad := &fakeAdapter{}
	e := NewEngine(store, ad, &fakeDispatcher{}, logx.Nop())

	step(t, e, textUpdate(10, "new mailing"))
	step(t, e, textUpdate(10, "alice"))

	// A fresh engine over the same store picks the dialogue up mid-flow.
	e2 := NewEngine(store, &fakeAdapter{}, &fakeDispatcher{}, logx.Nop())
	step(t, e2, textUpdate(10, "hello after restart"))

	rec := store.record(t, "10")
	if rec.State != string(StateConfirmSend) {
		t.Fatalf("state = %q, want confirm_send", rec.State)
	}
	if msg, _ := rec.Message(); msg != "hello after restart" {
		t.Fatalf("message = %q", msg)
	}
}
