package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"mailbot/internal/dispatch"
	logx "mailbot/pkg/logx"
)

// SenderClient opens outbound mailing sessions. Each session is a dedicated
// telebot instance: constructing it validates the token against the API, so
// a bad credential fails the dispatch before any recipient is attempted.
type SenderClient struct {
	token string
	log   logx.Logger
}

func NewSenderClient(token string, log logx.Logger) (*SenderClient, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("sender token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SenderClient{token: token, log: log}, nil
}

func (c *SenderClient) OpenSession(ctx context.Context, operator string) (dispatch.Session, error) {
	_ = ctx
	b, err := tele.NewBot(tele.Settings{Token: c.token})
	if err != nil {
		return nil, err
	}
	c.log.Debug("mailing session opened", logx.String("operator", operator))
	return &senderSession{bot: b, log: c.log}, nil
}

type senderSession struct {
	bot *tele.Bot
	log logx.Logger
}

func (s *senderSession) Send(ctx context.Context, recipient, body string) error {
	_ = ctx
	if s.bot == nil {
		return errors.New("session closed")
	}
	to, err := resolveRecipient(recipient)
	if err != nil {
		return err
	}
	_, err = s.bot.Send(to, body)
	return err
}

func (s *senderSession) Close() error {
	// The bot was never started polling and its HTTP client needs no
	// teardown; dropping the reference ends the session.
	s.bot = nil
	return nil
}

// resolveRecipient maps a recipient identifier to a telebot recipient:
// numeric identifiers address chats directly, everything else is treated as
// a public @username.
func resolveRecipient(id string) (tele.Recipient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("empty recipient")
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tele.ChatID(n), nil
	}
	if !strings.HasPrefix(id, "@") {
		id = "@" + id
	}
	return username(id), nil
}

type username string

func (u username) Recipient() string { return string(u) }
