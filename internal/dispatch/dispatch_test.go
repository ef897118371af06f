package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logx "mailbot/pkg/logx"
)

type stubSession struct {
	sends  []string
	fail   map[string]error
	closed bool
}

func (s *stubSession) Send(_ context.Context, recipient, _ string) error {
	s.sends = append(s.sends, recipient)
	if err, ok := s.fail[recipient]; ok {
		return err
	}
	return nil
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

type stubClient struct {
	sess    *stubSession
	openErr error
	opens   int
}

func (c *stubClient) OpenSession(context.Context, string) (Session, error) {
	c.opens++
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.sess, nil
}

func TestRunDeliversInOrder(t *testing.T) {
	t.Parallel()
	sess := &stubSession{}
	d := New(&stubClient{sess: sess}, time.Millisecond, logx.Nop())

	var notes []string
	rep, err := d.Run(context.Background(), "op", []string{"alice", "bob", "carol"}, "hi", func(s string) {
		notes = append(notes, s)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"alice", "bob", "carol"}
	if len(sess.sends) != len(want) {
		t.Fatalf("sends = %v, want %v", sess.sends, want)
	}
	for i := range want {
		if sess.sends[i] != want[i] {
			t.Fatalf("sends[%d] = %q, want %q", i, sess.sends[i], want[i])
		}
	}
	if !sess.closed {
		t.Fatal("session not closed")
	}
	if rep.Total != 3 || rep.Failed != 0 || len(rep.Outcomes) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.ID == "" {
		t.Fatal("report has no id")
	}

	// A progress note per recipient, then one completion.
	if len(notes) != 4 {
		t.Fatalf("notes = %v", notes)
	}
	for i, r := range want {
		if !strings.Contains(notes[i], r) {
			t.Fatalf("notes[%d] = %q, want mention of %q", i, notes[i], r)
		}
	}
	if notes[3] != "Mailing finished." {
		t.Fatalf("completion = %q", notes[3])
	}
}

func TestRunContinuesAfterRecipientFailure(t *testing.T) {
	t.Parallel()
	sess := &stubSession{fail: map[string]error{"bob": errors.New("blocked")}}
	d := New(&stubClient{sess: sess}, time.Millisecond, logx.Nop())

	rep, err := d.Run(context.Background(), "op", []string{"alice", "bob", "carol"}, "hi", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sess.sends) != 3 {
		t.Fatalf("sends = %v, want every recipient attempted", sess.sends)
	}
	if rep.Failed != 1 {
		t.Fatalf("failed = %d, want 1", rep.Failed)
	}
	if rep.Outcomes[1].Recipient != "bob" || rep.Outcomes[1].Err == nil {
		t.Fatalf("outcomes = %+v", rep.Outcomes)
	}
	if rep.Outcomes[0].Err != nil || rep.Outcomes[2].Err != nil {
		t.Fatalf("unexpected failures: %+v", rep.Outcomes)
	}
	if !sess.closed {
		t.Fatal("session not closed after partial failure")
	}
}

func TestRunFailureCompletionMentionsCount(t *testing.T) {
	t.Parallel()
	sess := &stubSession{fail: map[string]error{"bob": errors.New("blocked")}}
	d := New(&stubClient{sess: sess}, time.Millisecond, logx.Nop())

	var notes []string
	_, err := d.Run(context.Background(), "op", []string{"alice", "bob"}, "hi", func(s string) {
		notes = append(notes, s)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	last := notes[len(notes)-1]
	if !strings.Contains(last, "1 of 2") {
		t.Fatalf("completion = %q, want failure count", last)
	}
}

func TestRunSessionOpenFailureIsAtomic(t *testing.T) {
	t.Parallel()
	sess := &stubSession{}
	cl := &stubClient{sess: sess, openErr: errors.New("interactive login required")}
	d := New(cl, time.Millisecond, logx.Nop())

	var notes []string
	rep, err := d.Run(context.Background(), "op", []string{"alice", "bob"}, "hi", func(s string) {
		notes = append(notes, s)
	})
	if err == nil {
		t.Fatal("expected a dispatch-level error")
	}
	if cl.opens != 1 {
		t.Fatalf("opens = %d, want 1", cl.opens)
	}
	if len(sess.sends) != 0 {
		t.Fatalf("sends = %v, want none", sess.sends)
	}
	if sess.closed {
		t.Fatal("close called on a session that never opened")
	}
	if len(notes) != 0 {
		t.Fatalf("notes = %v, want none before the session exists", notes)
	}
	if len(rep.Outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none", rep.Outcomes)
	}
}

func TestRunPacesBetweenSends(t *testing.T) {
	t.Parallel()
	sess := &stubSession{}
	pace := 20 * time.Millisecond
	d := New(&stubClient{sess: sess}, pace, logx.Nop())

	start := time.Now()
	if _, err := d.Run(context.Background(), "op", []string{"a", "b", "c"}, "hi", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Three sends through a 20ms limiter take at least two intervals.
	if elapsed := time.Since(start); elapsed < 2*pace {
		t.Fatalf("elapsed = %v, want >= %v", elapsed, 2*pace)
	}
}
