package flow

import (
	"strings"

	"mailbot/internal/storage"
)

// Request asks the dispatcher to deliver Body to every recipient, in order.
type Request struct {
	Recipients []string
	Body       string
}

// Result is the outcome of one machine step: the next record to persist,
// the prompts to emit once the record is durable, and an optional dispatch
// request for the confirm_send -> send transition.
type Result struct {
	Record   storage.Record
	Prompts  []Prompt
	Dispatch *Request
}

type handlerFunc func(rec storage.Record, raw, norm string) Result

// Machine is the deterministic conversation state machine. It has no
// dependencies and no side effects; the engine persists the returned record
// and performs the emitted effects.
type Machine struct {
	handlers map[State]handlerFunc
}

func NewMachine() *Machine {
	m := &Machine{}
	m.handlers = map[State]handlerFunc{
		StateStart:          m.onStart,
		StateConfirmReuse:   m.onConfirmReuse,
		StateCollectList:    m.onCollectList,
		StateCollectMessage: m.onCollectMessage,
		StateConfirmSend:    m.onConfirmSend,
	}
	return m
}

// Step consumes one inbound text in the context of rec and returns the next
// record plus effects. It is total: any text in any state maps to exactly one
// outcome. Unknown state tags (e.g. from a corrupt record) reset.
func (m *Machine) Step(rec storage.Record, text string) Result {
	raw := text
	norm := strings.ToLower(strings.TrimSpace(text))

	// Commands are recognized in every state.
	switch norm {
	case cmdStart:
		next := rec.Clone()
		next.State = string(StateStart)
		return Result{Record: next, Prompts: []Prompt{promptWelcome}}
	case cmdCancel:
		return Result{Record: Reset(rec), Prompts: []Prompt{promptReset, promptWelcome}}
	}

	h, ok := m.handlers[State(rec.State)]
	if !ok {
		return Result{Record: Reset(rec), Prompts: []Prompt{promptReset, promptWelcome}}
	}
	return h(rec, raw, norm)
}

// Fallback handles events no state rule can consume (no text, unresolved
// sender): reset to start.
func (m *Machine) Fallback(rec storage.Record) Result {
	return Result{Record: Reset(rec), Prompts: []Prompt{promptReset, promptWelcome}}
}

// Reset returns rec rewound to the initial state.
//
// The recipient list from a completed cycle survives the reset: the reuse
// offer on the next "new mailing" would be pointless otherwise. The draft
// message does not survive.
func Reset(rec storage.Record) storage.Record {
	next := storage.NewRecord()
	if users, ok := rec.Recipients(); ok {
		next.SetRecipients(users)
	}
	return next
}

func (m *Machine) onStart(rec storage.Record, _, norm string) Result {
	if norm != wordNewMailing {
		next := rec.Clone()
		next.State = string(StateStart)
		return Result{Record: next, Prompts: []Prompt{promptUnrecognizedCommand, promptWelcome}}
	}

	next := rec.Clone()
	if users, ok := rec.Recipients(); ok {
		next.State = string(StateConfirmReuse)
		return Result{Record: next, Prompts: []Prompt{promptReuseList(users)}}
	}
	next.State = string(StateCollectList)
	return Result{Record: next, Prompts: []Prompt{promptNoPreviousList, promptEnterList}}
}

func (m *Machine) onConfirmReuse(rec storage.Record, _, norm string) Result {
	next := rec.Clone()
	switch norm {
	case wordYes:
		next.State = string(StateCollectMessage)
		return Result{Record: next, Prompts: []Prompt{promptEnterMessage}}
	case wordNo:
		next.State = string(StateCollectList)
		return Result{Record: next, Prompts: []Prompt{promptEnterList}}
	default:
		return Result{Record: next, Prompts: []Prompt{promptUnrecognizedYesNo}}
	}
}

func (m *Machine) onCollectList(rec storage.Record, raw, _ string) Result {
	next := rec.Clone()
	users := ParseRecipients(raw)
	if len(users) == 0 {
		return Result{Record: next, Prompts: []Prompt{promptBadList}}
	}
	next.SetRecipients(users)
	next.State = string(StateCollectMessage)
	return Result{Record: next, Prompts: []Prompt{promptListEcho(users), promptEnterMessage}}
}

func (m *Machine) onCollectMessage(rec storage.Record, raw, _ string) Result {
	next := rec.Clone()
	if strings.TrimSpace(raw) == "" {
		return Result{Record: next, Prompts: []Prompt{promptBadMessage}}
	}
	next.SetMessage(raw)
	next.State = string(StateConfirmSend)
	return Result{Record: next, Prompts: []Prompt{promptMessageEcho(raw), promptConfirmSend}}
}

func (m *Machine) onConfirmSend(rec storage.Record, _, norm string) Result {
	switch norm {
	case wordSend:
		users, okU := rec.Recipients()
		body, okM := rec.Message()
		if !okU || !okM {
			// Record lost its attributes (should not happen); start over.
			return Result{Record: Reset(rec), Prompts: []Prompt{promptReset, promptWelcome}}
		}
		next := rec.Clone()
		next.State = string(StateStart)
		return Result{
			Record:   next,
			Prompts:  []Prompt{promptSending},
			Dispatch: &Request{Recipients: users, Body: body},
		}
	case wordCancel:
		next := rec.Clone()
		next.State = string(StateStart)
		return Result{Record: next, Prompts: []Prompt{promptCancelled}}
	default:
		next := rec.Clone()
		return Result{Record: next, Prompts: []Prompt{promptUnrecognizedConfirm}}
	}
}
