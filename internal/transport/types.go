package transport

import "context"

// Update is one inbound event from the messaging platform.
//
// Identity resolution failure is modeled as data, not as an error: an update
// whose sender could not be determined has FromID == 0. Likewise a non-text
// update (sticker, photo, ...) arrives with HasText == false. Both are
// routine conditions the conversation engine handles by resetting.
type Update struct {
	MessageID    int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	HasText      bool
}

// Resolved reports whether the sender identity of the update is known.
func (u Update) Resolved() bool { return u.FromID != 0 }

// ChatTarget addresses an outbound message.
type ChatTarget struct {
	ChatID int64
}

// SendOptions carries per-send rendering hints.
//
// ReplyOptions is a list of suggested replies; the Telegram adapter renders
// them as a one-time reply keyboard. An empty list removes any previously
// shown keyboard.
type SendOptions struct {
	ReplyOptions []string
}

// Adapter is the message-transport gateway: it receives inbound text from an
// identity and sends outbound text back to that identity. How it connects or
// authenticates is its own business.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
