package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "mailbot/pkg/logx"
)

// Client opens delivery sessions against the recipient-messaging network.
type Client interface {
	// OpenSession may require out-of-band setup the first time an operator
	// identity is used; its failure is fatal for the whole dispatch.
	OpenSession(ctx context.Context, operator string) (Session, error)
}

// Session is a scoped delivery resource. Close is always called, whether the
// run completes or fails partway.
type Session interface {
	Send(ctx context.Context, recipient, body string) error
	Close() error
}

// Outcome is the result of one recipient's delivery attempt.
type Outcome struct {
	Recipient string
	Err       error
}

// Report summarizes one dispatch run.
type Report struct {
	ID       string
	Total    int
	Failed   int
	Outcomes []Outcome
}

const defaultPace = 50 * time.Millisecond

// Dispatcher performs sequential best-effort fan-out with a fixed pacing
// delay between consecutive sends.
type Dispatcher struct {
	client  Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(client Client, pace time.Duration, log logx.Logger) *Dispatcher {
	if pace <= 0 {
		pace = defaultPace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(pace), 1),
		log:     log,
	}
}

// Dispatch runs the mailing and reports progress through notify. It satisfies
// the conversation engine's dispatcher contract.
func (d *Dispatcher) Dispatch(ctx context.Context, operator string, recipients []string, body string, notify func(text string)) error {
	_, err := d.Run(ctx, operator, recipients, body, notify)
	return err
}

// Run delivers body to every recipient in order and returns the per-recipient
// outcomes. The returned error is non-nil only when the session could not be
// opened; in that case no recipient was attempted.
func (d *Dispatcher) Run(ctx context.Context, operator string, recipients []string, body string, notify func(text string)) (Report, error) {
	rep := Report{ID: uuid.NewString(), Total: len(recipients)}
	if notify == nil {
		notify = func(string) {}
	}

	sess, err := d.client.OpenSession(ctx, operator)
	if err != nil {
		d.log.Error("session open failed", logx.String("job", rep.ID), logx.String("operator", operator), logx.Err(err))
		return rep, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			d.log.Warn("session close failed", logx.String("job", rep.ID), logx.Err(cerr))
		}
	}()

	d.log.Info("mailing started", logx.String("job", rep.ID), logx.Int("recipients", len(recipients)))

	for _, r := range recipients {
		notify("Sending the message to " + r)
		if err := d.limiter.Wait(ctx); err != nil {
			// Context gone; record the rest as not attempted.
			rep.Outcomes = append(rep.Outcomes, Outcome{Recipient: r, Err: err})
			rep.Failed++
			continue
		}
		err := sess.Send(ctx, r, body)
		rep.Outcomes = append(rep.Outcomes, Outcome{Recipient: r, Err: err})
		if err != nil {
			rep.Failed++
			d.log.Warn("delivery failed", logx.String("job", rep.ID), logx.String("recipient", r), logx.Err(err))
		}
	}

	if rep.Failed > 0 {
		notify(fmt.Sprintf("Mailing finished: %d of %d failed.", rep.Failed, rep.Total))
	} else {
		notify("Mailing finished.")
	}
	d.log.Info("mailing finished", logx.String("job", rep.ID), logx.Int("total", rep.Total), logx.Int("failed", rep.Failed))
	return rep, nil
}
